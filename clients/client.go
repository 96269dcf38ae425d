package clients

import (
	"context"
	"net/http"
)

// Requester is the request surface the resource managers depend on.
type Requester interface {
	Request(ctx context.Context, method, path string, body, out any, opts ...RequestOption) error
	BaseURL() string
}

var _ Requester = (*HTTPClient)(nil)

// RequestOption customises a single logical request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	header     http.Header
	maxRetries *int
}

// WithHeader adds a header to every attempt of the request.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		o.header.Set(key, value)
	}
}

// WithMaxRetries overrides the client retry budget for one request.
func WithMaxRetries(n int) RequestOption {
	return func(o *requestOptions) {
		o.maxRetries = &n
	}
}
