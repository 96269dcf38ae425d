package metrics

import "time"

// Recorder receives counters and latencies from the client components.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counter and histogram names emitted by the library.
const (
	HTTPRequest = "http_request"
	HTTPRetry   = "http_retry"
	WSReconnect = "ws_reconnect"
	WSMessage   = "ws_message"
	WSDropped   = "ws_dropped"
	CacheHit    = "cache_hit"
	CacheMiss   = "cache_miss"
)

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
