package cryptopay

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vitwit/cryptopay/events"
	"github.com/vitwit/cryptopay/logger"
	"github.com/vitwit/cryptopay/metrics"
)

type Option func(*Client)

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) {
		c.metrics = r
	}
}

// WithRegisterer sets where the Prometheus collectors are registered when
// metrics are enabled in the config.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.registerer = reg
	}
}

func WithTimeout(t time.Duration) Option {
	return func(c *Client) {
		c.config.Timeout = t
	}
}

// WithHTTPClient replaces the transport of the request pipeline.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithDialer(d events.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}
