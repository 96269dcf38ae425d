// Package cryptopay is a client for the cryptopay payment API. It bundles
// the request pipeline, the payment cache, the event channel and webhook
// verification behind one Client.
package cryptopay

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vitwit/cryptopay/cache"
	"github.com/vitwit/cryptopay/clients"
	"github.com/vitwit/cryptopay/events"
	"github.com/vitwit/cryptopay/logger"
	"github.com/vitwit/cryptopay/metrics"
	"github.com/vitwit/cryptopay/payments"
	"github.com/vitwit/cryptopay/types"
	"github.com/vitwit/cryptopay/utils"
	"github.com/vitwit/cryptopay/verification"
)

// Client is the entry point of the library.
type Client struct {
	config types.Config

	http     *clients.HTTPClient
	cache    *cache.Cache[*types.Payment]
	events   *events.Channel
	payments *payments.Manager
	webhooks *verification.WebhookVerifier

	logger     logger.Logger
	metrics    metrics.Recorder
	httpClient *http.Client
	dialer     events.Dialer
	registerer prometheus.Registerer
}

// New validates cfg and wires a Client. Zero config fields take library
// defaults.
func New(cfg *types.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, &types.Error{
			Kind:    types.KindValidation,
			Code:    types.ErrConfigError,
			Message: "config is required",
		}
	}

	c := &Client{config: cfg.WithDefaults()}
	for _, opt := range opts {
		opt(c)
	}

	if err := utils.ValidateConfig(&c.config); err != nil {
		return nil, err
	}

	if c.logger == nil {
		c.logger = logger.NewZapLogger(c.config.LogLevel)
	}
	if c.metrics == nil && c.config.EnableMetrics {
		recorder, err := metrics.NewPrometheusRecorder(c.registerer)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		c.metrics = recorder
	}
	c.metrics = metrics.OrNoop(c.metrics)

	wsURL, err := types.WebsocketURL(c.config.BaseURL)
	if err != nil {
		return nil, &types.Error{
			Kind:    types.KindValidation,
			Code:    types.ErrConfigError,
			Message: err.Error(),
			Err:     err,
		}
	}

	c.http = clients.NewHTTPClient(clients.HTTPConfig{
		BaseURL:    c.config.BaseURL,
		APIKey:     c.config.APIKey,
		Timeout:    c.config.Timeout,
		MaxRetries: c.config.MaxRetries,
		HTTPClient: c.httpClient,
		Logger:     c.logger,
		Metrics:    c.metrics,
	})

	c.cache = cache.New[*types.Payment](
		cache.WithTTL(c.config.CacheTTL),
		cache.WithMaxSize(c.config.CacheMaxSize),
	)

	header := http.Header{}
	header.Set(clients.HeaderAPIKey, c.config.APIKey)
	header.Set(clients.HeaderClientName, clients.ClientName)
	header.Set(clients.HeaderClientVersion, clients.ClientVersion)

	channelOpts := []events.Option{
		events.WithHeader(header),
		events.WithLogger(c.logger),
		events.WithMetrics(c.metrics),
	}
	if c.dialer != nil {
		channelOpts = append(channelOpts, events.WithDialer(c.dialer))
	}
	c.events = events.NewChannel(wsURL, channelOpts...)

	c.payments = payments.NewManager(c.http,
		payments.WithCache(c.cache),
		payments.WithEvents(c.events),
		payments.WithLogger(c.logger),
		payments.WithMetrics(c.metrics),
	)

	c.webhooks = verification.NewWebhookVerifier(c.config.WebhookSecret, c.logger)

	c.logger.Debug("cryptopay client initialised", map[string]any{
		"network":  c.config.Network.String(),
		"base_url": c.config.BaseURL,
	})
	return c, nil
}

// Payments returns the payment resource manager.
func (c *Client) Payments() *payments.Manager {
	return c.payments
}

// Webhooks returns the verifier configured with the webhook secret.
func (c *Client) Webhooks() *verification.WebhookVerifier {
	return c.webhooks
}

// Events returns the shared event channel.
func (c *Client) Events() *events.Channel {
	return c.events
}

// HTTP returns the request pipeline for endpoints not covered by a manager.
func (c *Client) HTTP() clients.Requester {
	return c.http
}

// Config returns the effective configuration.
func (c *Client) Config() types.Config {
	return c.config
}

// Close drops every subscription, closes the event connection and empties
// the cache.
func (c *Client) Close() {
	c.events.CloseAll()
	c.cache.Clear()

	if s, ok := c.logger.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

// Version information
const (
	Version    = clients.ClientVersion
	APIVersion = "v1"
)

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version": Version,
		"api_version":     APIVersion,
		"networks": []string{
			string(types.NetworkMainnet), string(types.NetworkTestnet),
		},
		"supported_currencies": []string{
			string(types.CurrencyBTC), string(types.CurrencyETH),
			string(types.CurrencyUSDC), string(types.CurrencyUSDT),
			string(types.CurrencyMATIC), string(types.CurrencySOL),
		},
	}
}
