package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state reported by the payment API.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusConfirming PaymentStatus = "confirming"
	StatusConfirmed  PaymentStatus = "confirmed"
	StatusExpired    PaymentStatus = "expired"
	StatusFailed     PaymentStatus = "failed"
	StatusCancelled  PaymentStatus = "cancelled"
)

// IsFinal reports whether no further status transitions are expected.
func (s PaymentStatus) IsFinal() bool {
	switch s {
	case StatusConfirmed, StatusExpired, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Payment is a payment as returned by the API.
type Payment struct {
	ID            string            `json:"id"`
	Status        PaymentStatus     `json:"status"`
	Amount        decimal.Decimal   `json:"amount"`
	AmountPaid    decimal.Decimal   `json:"amountPaid"`
	Currency      Currency          `json:"currency"`
	Network       Network           `json:"network"`
	Address       string            `json:"address"`
	Recipient     string            `json:"recipient,omitempty"`
	TxHash        string            `json:"txHash,omitempty"`
	Confirmations int               `json:"confirmations"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	ExpiresAt     time.Time         `json:"expiresAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// IsExpired reports whether the payment is expired either by status or by
// its deadline.
func (p *Payment) IsExpired(now time.Time) bool {
	if p.Status == StatusExpired {
		return true
	}
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt) && !p.Status.IsFinal()
}

// CreatePaymentRequest is the body of POST /payments.
type CreatePaymentRequest struct {
	Amount      decimal.Decimal   `json:"amount"`
	Currency    Currency          `json:"currency" validate:"required"`
	Recipient   string            `json:"recipient" validate:"required"`
	Description string            `json:"description,omitempty" validate:"max=512"`
	CallbackURL string            `json:"callbackUrl,omitempty" validate:"omitempty,url"`
	ExpiresIn   int               `json:"expiresIn,omitempty" validate:"gte=0"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ListPaymentsParams filters GET /payments.
type ListPaymentsParams struct {
	Status   PaymentStatus `json:"status,omitempty"`
	Currency Currency      `json:"currency,omitempty"`
	Limit    int           `json:"limit,omitempty"`
	Cursor   string        `json:"cursor,omitempty"`
}

// PaymentList is a page of payments.
type PaymentList struct {
	Payments   []Payment `json:"payments"`
	NextCursor string    `json:"nextCursor,omitempty"`
	HasMore    bool      `json:"hasMore"`
}

// FeeEstimateRequest asks the API for the network fee of a transfer.
type FeeEstimateRequest struct {
	Currency Currency        `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Priority PriorityLevel   `json:"priority,omitempty"`
}

// FeeEstimate is the API's fee quote.
type FeeEstimate struct {
	Currency  Currency        `json:"currency"`
	Fee       decimal.Decimal `json:"fee"`
	Total     decimal.Decimal `json:"total"`
	Priority  PriorityLevel   `json:"priority"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// PriorityLevel represents transaction priority
type PriorityLevel string

const (
	PriorityLow    PriorityLevel = "low"
	PriorityMedium PriorityLevel = "medium"
	PriorityHigh   PriorityLevel = "high"
	PriorityUrgent PriorityLevel = "urgent"
)

// PaymentEvent is the payload pushed on payment topics.
type PaymentEvent struct {
	Type      string          `json:"type"`
	PaymentID string          `json:"paymentId"`
	Status    PaymentStatus   `json:"status"`
	Payment   *Payment        `json:"payment,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Extra     json.RawMessage `json:"extra,omitempty"`
}

// WebhookEvent is the body of a webhook delivered by the payment API.
type WebhookEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

// Defaults applied by Config.WithDefaults.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultCacheTTL     = 60 * time.Second
	DefaultCacheMaxSize = 1000
	DefaultLogLevel     = "info"
)

// Config contains the configuration of a payment API client.
type Config struct {
	APIKey        string        `json:"apiKey" env:"API_KEY" validate:"required"`
	Network       Network       `json:"network,omitempty" env:"NETWORK" validate:"omitempty,oneof=mainnet testnet"`
	BaseURL       string        `json:"baseUrl,omitempty" env:"BASE_URL" validate:"omitempty,url"`
	Timeout       time.Duration `json:"timeout,omitempty" env:"TIMEOUT" validate:"gte=0"`
	MaxRetries    int           `json:"maxRetries,omitempty" env:"MAX_RETRIES" validate:"gte=0,lte=10"`
	CacheTTL      time.Duration `json:"cacheTtl,omitempty" env:"CACHE_TTL" validate:"gte=0"`
	CacheMaxSize  int           `json:"cacheMaxSize,omitempty" env:"CACHE_MAX_SIZE" validate:"gte=0"`
	WebhookSecret string        `json:"webhookSecret,omitempty" env:"WEBHOOK_SECRET"`
	LogLevel      string        `json:"logLevel,omitempty" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics bool          `json:"enableMetrics,omitempty" env:"ENABLE_METRICS"`
}

// WithDefaults returns a copy of the config with zero values replaced by
// library defaults.
func (c Config) WithDefaults() Config {
	if c.Network == "" {
		c.Network = NetworkMainnet
	}
	if c.BaseURL == "" {
		c.BaseURL = c.Network.BaseURL()
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.CacheMaxSize <= 0 {
		c.CacheMaxSize = DefaultCacheMaxSize
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	return c
}
