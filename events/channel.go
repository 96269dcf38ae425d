// Package events multiplexes topic subscriptions over a single websocket
// connection to the payment API and keeps them alive across reconnects.
//
// A subscription is a durable intent: the topic set survives any number of
// reconnects and is re-sent every time a connection opens.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/vitwit/cryptopay/logger"
	"github.com/vitwit/cryptopay/metrics"
	"github.com/vitwit/cryptopay/retry"
)

const (
	DefaultMaxReconnects = 5
	DefaultBaseDelay     = 1 * time.Second
	DefaultMaxDelay      = 30 * time.Second
	DefaultDialTimeout   = 10 * time.Second
)

// ErrReconnectExhausted is reported by Err once the channel gave up
// reconnecting. A new client is required to recover.
var ErrReconnectExhausted = errors.New("events: reconnect attempts exhausted")

// State is the connection state of a Channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handler receives the data of every message published on a topic.
type Handler func(data json.RawMessage)

// controlMessage is sent to (un)subscribe a topic.
type controlMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// inboundMessage is a delivery on a topic.
type inboundMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Channel owns one event connection and its subscription table.
type Channel struct {
	url    string
	header http.Header
	dialer Dialer

	maxReconnects int
	baseDelay     time.Duration
	maxDelay      time.Duration
	dialTimeout   time.Duration

	logger  logger.Logger
	metrics metrics.Recorder

	mu        sync.Mutex
	state     State
	conn      Conn
	gen       uint64
	attempts  int
	timer     *time.Timer
	exhausted bool
	topics    map[string]map[uint64]Handler
	nextID    uint64

	// writeMu serialises writes on the live connection.
	writeMu sync.Mutex
}

type Option func(*Channel)

func WithDialer(d Dialer) Option {
	return func(c *Channel) {
		c.dialer = d
	}
}

func WithHeader(h http.Header) Option {
	return func(c *Channel) {
		c.header = h.Clone()
	}
}

func WithMaxReconnects(n int) Option {
	return func(c *Channel) {
		c.maxReconnects = n
	}
}

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Channel) {
		c.baseDelay = base
		c.maxDelay = maxDelay
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Channel) {
		c.dialTimeout = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Channel) {
		c.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Channel) {
		c.metrics = r
	}
}

// NewChannel creates a disconnected channel for the given websocket URL.
// Nothing is dialed until the first Subscribe.
func NewChannel(url string, opts ...Option) *Channel {
	c := &Channel{
		url:           url,
		header:        make(http.Header),
		maxReconnects: DefaultMaxReconnects,
		baseDelay:     DefaultBaseDelay,
		maxDelay:      DefaultMaxDelay,
		dialTimeout:   DefaultDialTimeout,
		topics:        make(map[string]map[uint64]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWebsocketDialer(c.dialTimeout)
	}
	c.logger = logger.OrNoop(c.logger)
	c.metrics = metrics.OrNoop(c.metrics)
	return c
}

// Subscribe registers handler for topic and returns a function that removes
// it. The connection is opened on demand. Calling the returned function more
// than once has no further effect.
func (c *Channel) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	c.mu.Lock()

	handlers, ok := c.topics[topic]
	if !ok {
		handlers = make(map[uint64]Handler)
		c.topics[topic] = handlers
	}
	c.nextID++
	id := c.nextID
	handlers[id] = handler

	var conn Conn
	switch {
	case c.state == StateOpen:
		if !ok {
			conn = c.conn
		}
	case c.exhausted:
		c.logger.Warn("event channel is not reconnecting, subscription is inactive", map[string]any{
			"topic": topic,
		})
	case c.state == StateDisconnected && c.timer == nil:
		c.startConnectLocked()
	}
	c.mu.Unlock()

	if conn != nil {
		c.send(conn, controlMessage{Type: "subscribe", Channel: topic})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.unsubscribe(topic, id)
		})
	}
}

func (c *Channel) unsubscribe(topic string, id uint64) {
	c.mu.Lock()
	handlers, ok := c.topics[topic]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(handlers, id)
	if len(handlers) > 0 {
		c.mu.Unlock()
		return
	}

	delete(c.topics, topic)
	var conn Conn
	if c.state == StateOpen {
		conn = c.conn
	}
	c.mu.Unlock()

	if conn != nil {
		c.send(conn, controlMessage{Type: "unsubscribe", Channel: topic})
	}
}

// CloseAll cancels any pending reconnect, closes the live connection and
// drops every subscription. It is safe to call repeatedly.
func (c *Channel) CloseAll() {
	c.mu.Lock()
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.topics = make(map[string]map[uint64]Handler)
	c.attempts = 0
	if conn != nil {
		c.state = StateClosing
	} else {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}

	if err := conn.Close(); err != nil {
		c.logger.Debug("error closing event connection", map[string]any{"error": err.Error()})
	}

	c.mu.Lock()
	if c.state == StateClosing && c.conn == nil {
		c.state = StateDisconnected
		// A Subscribe that raced with the shutdown still needs a connection.
		if len(c.topics) > 0 && !c.exhausted && c.timer == nil {
			c.startConnectLocked()
		}
	}
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempts returns the number of reconnects since the last open.
func (c *Channel) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Topics returns the subscribed topics in sorted order.
func (c *Channel) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topicsLocked()
}

// Err returns ErrReconnectExhausted once the channel stopped reconnecting.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exhausted {
		return ErrReconnectExhausted
	}
	return nil
}

func (c *Channel) topicsLocked() []string {
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (c *Channel) startConnectLocked() {
	c.state = StateConnecting
	go c.connect(c.gen)
}

func (c *Channel) connect(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	conn, err := c.dialer.Dial(ctx, c.url, c.header)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		// Shut down while dialing.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		c.logger.Warn("event channel connection failed", map[string]any{
			"url":   c.url,
			"error": err.Error(),
		})
		c.handleCloseLocked(gen)
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	topics := c.topicsLocked()
	c.mu.Unlock()

	c.logger.Info("event channel connected", map[string]any{
		"url":    c.url,
		"topics": len(topics),
	})

	for _, topic := range topics {
		c.send(conn, controlMessage{Type: "subscribe", Channel: topic})
	}

	go c.readLoop(gen, conn)
}

func (c *Channel) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onClose(gen, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) onClose(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}

	c.logger.Warn("event channel closed", map[string]any{
		"error": err.Error(),
	})
	c.conn = nil
	c.handleCloseLocked(gen)
}

// handleCloseLocked moves to Disconnected and schedules the next reconnect
// or gives up once the attempt ceiling is passed.
func (c *Channel) handleCloseLocked(gen uint64) {
	c.state = StateDisconnected
	c.attempts++

	if c.attempts > c.maxReconnects {
		c.exhausted = true
		c.logger.Error("event channel reconnect attempts exhausted", map[string]any{
			"attempts": c.attempts - 1,
		})
		c.metrics.IncCounter(metrics.WSReconnect, map[string]string{"outcome": "exhausted"})
		return
	}

	delay := retry.Backoff(c.baseDelay, c.maxDelay, c.attempts-1)
	c.logger.Info("scheduling event channel reconnect", map[string]any{
		"attempt": c.attempts,
		"delay":   delay.String(),
	})
	c.metrics.IncCounter(metrics.WSReconnect, map[string]string{"outcome": "scheduled"})

	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen {
			return
		}
		c.timer = nil
		c.startConnectLocked()
	})
}

func (c *Channel) dispatch(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Channel == "" {
		c.logger.Warn("dropping malformed event message", map[string]any{
			"size": len(data),
		})
		c.metrics.IncCounter(metrics.WSDropped, map[string]string{"outcome": "malformed"})
		return
	}

	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.topics[msg.Channel]))
	ids := make([]uint64, 0, len(c.topics[msg.Channel]))
	for id := range c.topics[msg.Channel] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		handlers = append(handlers, c.topics[msg.Channel][id])
	}
	c.mu.Unlock()

	c.metrics.IncCounter(metrics.WSMessage, map[string]string{"outcome": "delivered"})
	for _, h := range handlers {
		c.invoke(msg.Channel, h, msg.Data)
	}
}

func (c *Channel) invoke(topic string, h Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", map[string]any{
				"topic": topic,
				"panic": fmt.Sprint(r),
			})
		}
	}()
	h(data)
}

func (c *Channel) send(conn Conn, msg controlMessage) {
	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Warn("failed to send event control message", map[string]any{
			"type":    msg.Type,
			"channel": msg.Channel,
			"error":   err.Error(),
		})
	}
}
