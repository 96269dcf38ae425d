// Package payments exposes the payment resources of the API on top of the
// request pipeline, the response cache and the event channel.
package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vitwit/cryptopay/cache"
	"github.com/vitwit/cryptopay/clients"
	"github.com/vitwit/cryptopay/events"
	"github.com/vitwit/cryptopay/logger"
	"github.com/vitwit/cryptopay/metrics"
	"github.com/vitwit/cryptopay/types"
	"github.com/vitwit/cryptopay/utils"
)

// HeaderIdempotencyKey makes mutating calls safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

// Topics on the event channel.
const (
	TopicAllPayments   = "payments"
	topicPaymentPrefix = "payments/"
)

// Subscriber is the part of the event channel the manager uses.
type Subscriber interface {
	Subscribe(topic string, handler events.Handler) (unsubscribe func())
}

// EventHandler receives decoded payment events.
type EventHandler func(event *types.PaymentEvent)

// Manager performs payment operations.
type Manager struct {
	requester clients.Requester
	cache     *cache.Cache[*types.Payment]
	events    Subscriber
	logger    logger.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

type Option func(*Manager)

// WithCache caches payments read or written through the manager.
func WithCache(c *cache.Cache[*types.Payment]) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

func WithEvents(s Subscriber) Option {
	return func(m *Manager) {
		m.events = s
	}
}

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(requester clients.Requester, opts ...Option) *Manager {
	m := &Manager{
		requester: requester,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		m.cache = cache.New[*types.Payment]()
	}
	m.logger = logger.OrNoop(m.logger)
	m.metrics = metrics.OrNoop(m.metrics)
	return m
}

// Create validates req locally and creates the payment. Validation failures
// are returned before any request is sent.
func (m *Manager) Create(ctx context.Context, req *types.CreatePaymentRequest) (*types.Payment, error) {
	if err := utils.ValidateCreatePaymentRequest(req); err != nil {
		return nil, err
	}

	var payment types.Payment
	err := m.requester.Request(ctx, http.MethodPost, "/payments", req, &payment,
		clients.WithHeader(HeaderIdempotencyKey, uuid.NewString()))
	if err != nil {
		return nil, err
	}

	m.store(&payment)
	m.logger.Info("payment created", map[string]any{
		"payment_id": payment.ID,
		"currency":   string(payment.Currency),
		"amount":     payment.Amount.String(),
	})
	return &payment, nil
}

// Get returns a payment, from the cache when possible.
func (m *Manager) Get(ctx context.Context, id string) (*types.Payment, error) {
	if id == "" {
		return nil, types.NewValidationError("payment id is required")
	}

	if cached, ok := m.cache.Get(id); ok {
		m.metrics.IncCounter(metrics.CacheHit, map[string]string{"outcome": "payment"})
		return clone(cached), nil
	}
	m.metrics.IncCounter(metrics.CacheMiss, map[string]string{"outcome": "payment"})

	var payment types.Payment
	if err := m.requester.Request(ctx, http.MethodGet, paymentPath(id), nil, &payment); err != nil {
		return nil, notFoundAsPayment(err, id)
	}

	m.store(&payment)
	return &payment, nil
}

// GetStatus returns the current status of a payment.
func (m *Manager) GetStatus(ctx context.Context, id string) (types.PaymentStatus, error) {
	payment, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return payment.Status, nil
}

// List returns a page of payments. Listed payments are not cached.
func (m *Manager) List(ctx context.Context, params *types.ListPaymentsParams) (*types.PaymentList, error) {
	query := url.Values{}
	if params != nil {
		if params.Limit < 0 {
			return nil, types.NewValidationError("limit cannot be negative")
		}
		if params.Status != "" {
			query.Set("status", string(params.Status))
		}
		if params.Currency != "" {
			query.Set("currency", string(params.Currency))
		}
		if params.Limit > 0 {
			query.Set("limit", strconv.Itoa(params.Limit))
		}
		if params.Cursor != "" {
			query.Set("cursor", params.Cursor)
		}
	}

	path := "/payments"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var list types.PaymentList
	if err := m.requester.Request(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Cancel cancels a payment that has not expired.
func (m *Manager) Cancel(ctx context.Context, id string) (*types.Payment, error) {
	current, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IsExpired(m.now()) {
		return nil, types.NewPaymentExpiredError(id)
	}

	var payment types.Payment
	err = m.requester.Request(ctx, http.MethodPost, paymentPath(id)+"/cancel", nil, &payment,
		clients.WithHeader(HeaderIdempotencyKey, uuid.NewString()))
	m.cache.Delete(id)
	if err != nil {
		return nil, notFoundAsPayment(err, id)
	}

	m.logger.Info("payment cancelled", map[string]any{"payment_id": id})
	return &payment, nil
}

// EstimateFee asks the API for a fee quote.
func (m *Manager) EstimateFee(ctx context.Context, req *types.FeeEstimateRequest) (*types.FeeEstimate, error) {
	if req == nil {
		return nil, types.NewValidationError("fee estimate request is required")
	}
	if err := utils.ValidateCurrency(req.Currency); err != nil {
		return nil, err
	}
	if err := utils.ValidatePositive(req.Amount); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("currency", string(req.Currency))
	query.Set("amount", req.Amount.String())
	if req.Priority != "" {
		query.Set("priority", string(req.Priority))
	}

	var estimate types.FeeEstimate
	if err := m.requester.Request(ctx, http.MethodGet, "/fees/estimate?"+query.Encode(), nil, &estimate); err != nil {
		return nil, err
	}
	return &estimate, nil
}

// Subscribe delivers events for one payment.
func (m *Manager) Subscribe(id string, handler EventHandler) (unsubscribe func(), err error) {
	if id == "" {
		return nil, types.NewValidationError("payment id is required")
	}
	return m.subscribe(topicPaymentPrefix+id, handler)
}

// SubscribeAll delivers events for every payment of the account.
func (m *Manager) SubscribeAll(handler EventHandler) (unsubscribe func(), err error) {
	return m.subscribe(TopicAllPayments, handler)
}

func (m *Manager) subscribe(topic string, handler EventHandler) (func(), error) {
	if m.events == nil {
		return nil, types.NewValidationError("event channel is not configured")
	}
	if handler == nil {
		return nil, types.NewValidationError("event handler is required")
	}

	return m.events.Subscribe(topic, func(data json.RawMessage) {
		var event types.PaymentEvent
		if err := json.Unmarshal(data, &event); err != nil {
			m.logger.Warn("dropping undecodable payment event", map[string]any{
				"topic": topic,
				"error": err.Error(),
			})
			return
		}
		m.apply(&event)
		handler(&event)
	}), nil
}

// apply keeps the cache in step with pushed updates.
func (m *Manager) apply(event *types.PaymentEvent) {
	if event.Payment != nil && event.Payment.ID != "" {
		m.store(event.Payment)
		return
	}
	if event.PaymentID == "" || event.Status == "" {
		return
	}
	if cached, ok := m.cache.Get(event.PaymentID); ok {
		updated := clone(cached)
		updated.Status = event.Status
		m.cache.Set(event.PaymentID, updated)
	}
}

func (m *Manager) store(p *types.Payment) {
	if p.ID == "" {
		return
	}
	m.cache.Set(p.ID, clone(p))
}

func paymentPath(id string) string {
	return "/payments/" + url.PathEscape(id)
}

func notFoundAsPayment(err error, id string) error {
	if types.IsKind(err, types.KindNotFound) {
		nf := types.NewPaymentNotFoundError(id)
		nf.Err = err
		return nf
	}
	return err
}

func clone(p *types.Payment) *types.Payment {
	c := *p
	return &c
}
