package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errDropped = errors.New("connection dropped")

// fakeConn is an in-memory Conn driven by the test.
type fakeConn struct {
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once

	mu     sync.Mutex
	writes []controlMessage
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.incoming:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errDropped
	}
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	msg, ok := v.(controlMessage)
	if !ok {
		return errors.New("unexpected message type")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, msg)
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) Drop() { f.Close() }

func (f *fakeConn) Deliver(t *testing.T, topic string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"channel": topic, "data": data})
	require.NoError(t, err)
	f.incoming <- raw
}

func (f *fakeConn) Writes() []controlMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]controlMessage(nil), f.writes...)
}

func (f *fakeConn) subscribed(topic string) bool {
	for _, w := range f.Writes() {
		if w.Type == "subscribe" && w.Channel == topic {
			return true
		}
	}
	return false
}

// fakeDialer hands out fakeConns, or fails while fail is set.
type fakeDialer struct {
	mu     sync.Mutex
	conns  []*fakeConn
	dials  int
	fail   bool
	header http.Header
	gate   chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.header = header
	if d.fail {
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) Conns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) SetFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func newTestChannel(d *fakeDialer, opts ...Option) *Channel {
	opts = append([]Option{
		WithDialer(d),
		WithBackoff(time.Millisecond, 4*time.Millisecond),
	}, opts...)
	return NewChannel("ws://example.test/v1/ws", opts...)
}

func waitOpen(t *testing.T, c *Channel) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == StateOpen }, waitFor, tick)
}

func TestChannel_LazyConnect(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(d)
	defer c.CloseAll()

	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 0, d.Dials())

	c.Subscribe("payments/pay_1", func(json.RawMessage) {})
	waitOpen(t, c)

	assert.Equal(t, 1, d.Dials())
	require.Eventually(t, func() bool { return d.Conn(0).subscribed("payments/pay_1") }, waitFor, tick)
}

func TestChannel_FanOutAndUnsubscribe(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(d)
	defer c.CloseAll()

	var mu sync.Mutex
	var got1, got2 []string
	unsub1 := c.Subscribe("payments/pay_1", func(data json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		got1 = append(got1, string(data))
	})
	c.Subscribe("payments/pay_1", func(data json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		got2 = append(got2, string(data))
	})
	waitOpen(t, c)

	conn := d.Conn(0)
	conn.Deliver(t, "payments/pay_1", map[string]string{"status": "confirming"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got1) == 1 && len(got2) == 1
	}, waitFor, tick)
	mu.Lock()
	assert.JSONEq(t, `{"status":"confirming"}`, got1[0])
	assert.Equal(t, got1[0], got2[0])
	mu.Unlock()

	unsub1()
	unsub1()
	conn.Deliver(t, "payments/pay_1", map[string]string{"status": "confirmed"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got2) == 2
	}, waitFor, tick)
	mu.Lock()
	assert.Len(t, got1, 1)
	mu.Unlock()

	// Topic is still held by the second handler.
	assert.Equal(t, []string{"payments/pay_1"}, c.Topics())
	for _, w := range conn.Writes() {
		assert.NotEqual(t, "unsubscribe", w.Type)
	}
}

func TestChannel_LastUnsubscribeSendsControlMessage(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(d)
	defer c.CloseAll()

	unsub := c.Subscribe("payments", func(json.RawMessage) {})
	waitOpen(t, c)

	unsub()

	assert.Empty(t, c.Topics())
	require.Eventually(t, func() bool {
		for _, w := range d.Conn(0).Writes() {
			if w.Type == "unsubscribe" && w.Channel == "payments" {
				return true
			}
		}
		return false
	}, waitFor, tick)
}

func TestChannel_SubscribeWhileOpenSendsImmediately(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(d)
	defer c.CloseAll()

	c.Subscribe("a", func(json.RawMessage) {})
	waitOpen(t, c)

	c.Subscribe("b", func(json.RawMessage) {})
	assert.True(t, d.Conn(0).subscribed("b"))
	assert.Equal(t, 1, d.Dials())
}

func TestChannel_HandlerPanicIsolated(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(d)
	defer c.CloseAll()

	var calls atomic.Int32
	c.Subscribe("t", func(json.RawMessage) { panic("boom") })
	c.Subscribe("t", func(json.RawMessage) { calls.Add(1) })
	waitOpen(t, c)

	conn := d.Conn(0)
	conn.Deliver(t, "t", 1)
	conn.Deliver(t, "t", 2)

	require.Eventually(t, func() bool { return calls.Load() == 2 }, waitFor, tick)
	assert.Equal(t, StateOpen, c.State())
}

func TestChannel_MalformedMessageDropped(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(d)
	defer c.CloseAll()

	var calls atomic.Int32
	c.Subscribe("t", func(json.RawMessage) { calls.Add(1) })
	waitOpen(t, c)

	conn := d.Conn(0)
	conn.incoming <- []byte("not json")
	conn.incoming <- []byte(`{"data":1}`)
	conn.Deliver(t, "t", "ok")

	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestChannel_ReconnectResubscribesAllTopics(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(d)
	defer c.CloseAll()

	c.Subscribe("payments/pay_1", func(json.RawMessage) {})
	c.Subscribe("payments/pay_2", func(json.RawMessage) {})
	waitOpen(t, c)

	d.Conn(0).Drop()

	require.Eventually(t, func() bool { return d.Conns() == 2 }, waitFor, tick)
	waitOpen(t, c)

	second := d.Conn(1)
	require.Eventually(t, func() bool {
		return second.subscribed("payments/pay_1") && second.subscribed("payments/pay_2")
	}, waitFor, tick)
	assert.Equal(t, 0, c.ReconnectAttempts())
}

func TestChannel_DeliveryAfterReconnect(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(d)
	defer c.CloseAll()

	got := make(chan string, 1)
	c.Subscribe("t", func(data json.RawMessage) { got <- string(data) })
	waitOpen(t, c)

	d.Conn(0).Drop()
	require.Eventually(t, func() bool { return d.Conns() == 2 }, waitFor, tick)
	waitOpen(t, c)

	d.Conn(1).Deliver(t, "t", "after")
	select {
	case v := <-got:
		assert.Equal(t, `"after"`, v)
	case <-time.After(waitFor):
		t.Fatal("message not delivered after reconnect")
	}
}

func TestChannel_StopsAfterMaxReconnects(t *testing.T) {
	d := &fakeDialer{fail: true}
	c := newTestChannel(d)
	defer c.CloseAll()

	c.Subscribe("t", func(json.RawMessage) {})

	require.Eventually(t, func() bool {
		return errors.Is(c.Err(), ErrReconnectExhausted)
	}, waitFor, tick)

	// Initial dial plus five reconnects.
	assert.Equal(t, 1+DefaultMaxReconnects, d.Dials())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1+DefaultMaxReconnects, d.Dials())
	assert.Equal(t, StateDisconnected, c.State())

	// Further subscriptions do not dial again.
	c.Subscribe("u", func(json.RawMessage) {})
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1+DefaultMaxReconnects, d.Dials())
}

func TestChannel_OpenResetsAttempts(t *testing.T) {
	d := &fakeDialer{fail: true}
	c := newTestChannel(d, WithBackoff(20*time.Millisecond, 40*time.Millisecond))
	defer c.CloseAll()

	c.Subscribe("t", func(json.RawMessage) {})
	require.Eventually(t, func() bool { return d.Dials() >= 3 }, waitFor, tick)
	require.NoError(t, c.Err())

	d.SetFail(false)
	waitOpen(t, c)
	assert.Equal(t, 0, c.ReconnectAttempts())
	assert.NoError(t, c.Err())
	require.Eventually(t, func() bool { return d.Conn(0).subscribed("t") }, waitFor, tick)
}

func TestChannel_CloseAll(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(d)

	c.Subscribe("t", func(json.RawMessage) {})
	waitOpen(t, c)
	conn := d.Conn(0)

	c.CloseAll()
	c.CloseAll()

	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, c.Topics())
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection was not closed")
	}

	// The explicit close does not trigger a reconnect.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.Dials())
}

func TestChannel_CloseAllWithoutConnection(t *testing.T) {
	c := newTestChannel(&fakeDialer{})
	assert.NotPanics(t, func() {
		c.CloseAll()
		c.CloseAll()
	})
	assert.Equal(t, StateDisconnected, c.State())
}

func TestChannel_CloseAllCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(d, WithBackoff(50*time.Millisecond, 50*time.Millisecond))

	c.Subscribe("t", func(json.RawMessage) {})
	waitOpen(t, c)

	d.Conn(0).Drop()
	require.Eventually(t, func() bool { return c.ReconnectAttempts() == 1 }, waitFor, tick)

	c.CloseAll()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, d.Dials())
}

func TestChannel_SubscribeWhileConnectingIsSentOnOpen(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDialer{gate: gate}
	c := newTestChannel(d)
	defer c.CloseAll()

	c.Subscribe("a", func(json.RawMessage) {})
	assert.Equal(t, StateConnecting, c.State())
	c.Subscribe("b", func(json.RawMessage) {})

	close(gate)
	waitOpen(t, c)

	require.Eventually(t, func() bool {
		conn := d.Conn(0)
		return conn.subscribed("a") && conn.subscribed("b")
	}, waitFor, tick)
	assert.Equal(t, 1, d.Dials())
}

func TestChannel_HeaderPassedToDialer(t *testing.T) {
	d := &fakeDialer{}
	h := http.Header{}
	h.Set("X-API-Key", "secret")
	c := newTestChannel(d, WithHeader(h))
	defer c.CloseAll()

	c.Subscribe("t", func(json.RawMessage) {})
	waitOpen(t, c)

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, "secret", d.header.Get("X-API-Key"))
}

func TestChannel_WebsocketDialer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan controlMessage, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var msg controlMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			subscribed <- msg
			if msg.Type == "subscribe" {
				_ = conn.WriteJSON(map[string]any{
					"channel": msg.Channel,
					"data":    map[string]string{"status": "confirmed"},
				})
			}
		}
	}))
	defer srv.Close()

	h := http.Header{}
	h.Set("X-API-Key", "secret")
	c := NewChannel("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", WithHeader(h))
	defer c.CloseAll()

	got := make(chan string, 1)
	c.Subscribe("payments/pay_1", func(data json.RawMessage) { got <- string(data) })

	select {
	case msg := <-subscribed:
		assert.Equal(t, controlMessage{Type: "subscribe", Channel: "payments/pay_1"}, msg)
	case <-time.After(waitFor):
		t.Fatal("server did not receive subscribe")
	}

	select {
	case data := <-got:
		assert.JSONEq(t, `{"status":"confirmed"}`, data)
	case <-time.After(waitFor):
		t.Fatal("handler not invoked")
	}
}
