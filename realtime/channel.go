package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	goerrors "github.com/goliatone/go-errors"
	"github.com/gorilla/websocket"
)

const (
	DefaultConnectTimeout       = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultBaseDelay            = time.Second
	DefaultMaxDelay             = 30 * time.Second

	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
)

const (
	TextCodeChannelTimeout = "CHANNEL_TIMEOUT"
	TextCodeChannelClosed  = "CHANNEL_CLOSED"
	TextCodeNoToken        = "NO_TOKEN"
)

// ErrChannelTimeout is returned when the socket does not open in time.
var ErrChannelTimeout = goerrors.New("websocket connection timeout", goerrors.CategoryOperation).
	WithTextCode(TextCodeChannelTimeout).
	WithCode(goerrors.CodeInternal)

// ErrChannelClosed is returned once Disconnect has been called.
var ErrChannelClosed = goerrors.New("channel is closed", goerrors.CategoryOperation).
	WithTextCode(TextCodeChannelClosed).
	WithCode(goerrors.CodeConflict)

// ErrNoToken is returned when no access token is available to connect.
var ErrNoToken = goerrors.New("no authentication token available", goerrors.CategoryAuth).
	WithTextCode(TextCodeNoToken).
	WithCode(goerrors.CodeUnauthorized)

// Metrics receives channel counters. metrics.Collector implements it.
type Metrics interface {
	ConnectAttempt()
	Connected()
	Reconnect(attempt int)
	MaxReconnectReached()
	NotificationReceived(kind string)
}

type noopMetrics struct{}

func (noopMetrics) ConnectAttempt() {}

func (noopMetrics) Connected() {}

func (noopMetrics) Reconnect(int) {}

func (noopMetrics) MaxReconnectReached() {}

func (noopMetrics) NotificationReceived(string) {}

// TokenSource supplies the token for reconnects.
type TokenSource func(ctx context.Context) (string, error)

// Event is delivered to listeners. Which fields are set depends on Name.
type Event struct {
	Name           string
	Frame          *Frame
	Notification   *Notification
	NotificationID string
	Code           int
	Reason         string
	Attempt        int
	Err            error
}

// Listener handles channel events.
type Listener func(Event)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Status is a point in time view of the channel.
type Status struct {
	Connected            bool
	Closed               bool
	ReconnectAttempts    int
	MaxReconnectAttempts int
	Topics               []string
}

type attempt struct {
	done chan struct{}
	err  error
}

// Channel is a reconnecting websocket that demultiplexes JSON frames to
// listeners and keeps a notification history.
type Channel struct {
	endpoint       string
	dialer         *websocket.Dialer
	logger         authclient.Logger
	metrics        Metrics
	history        *History
	tokenSource    TokenSource
	connectTimeout time.Duration
	baseDelay      time.Duration
	maxDelay       time.Duration
	maxAttempts    int
	now            func() time.Time

	mu         sync.Mutex
	conn       *websocket.Conn
	pending    *attempt
	token      string
	attempts   int
	closed     bool
	maxReached bool
	timer      *time.Timer
	topics     []string
	listeners  map[string][]listenerEntry
	nextID     uint64

	writeMu sync.Mutex
}

// Option customizes a Channel.
type Option func(*Channel)

// WithDialer overrides the websocket dialer
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Channel) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger authclient.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(c *Channel) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithHistory sets where notifications are kept.
func WithHistory(history *History) Option {
	return func(c *Channel) {
		if history != nil {
			c.history = history
		}
	}
}

// WithTokenSource makes reconnects fetch a fresh token instead of reusing
// the one given to Connect. An empty token from the source fails the
// attempt with ErrNoToken.
func WithTokenSource(source TokenSource) Option {
	return func(c *Channel) {
		c.tokenSource = source
	}
}

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithBackoff sets the reconnect delay, min(base*2^(n-1), max).
func WithBackoff(base, max time.Duration) Option {
	return func(c *Channel) {
		if base > 0 {
			c.baseDelay = base
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

func WithMaxReconnectAttempts(n int) Option {
	return func(c *Channel) {
		if n >= 0 {
			c.maxAttempts = n
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(c *Channel) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewChannel returns a channel for the websocket endpoint, e.g.
// ws://localhost:8080/ws. The token is added as a query parameter.
func NewChannel(endpoint string, opts ...Option) *Channel {
	c := &Channel{
		endpoint:       endpoint,
		dialer:         websocket.DefaultDialer,
		logger:         authclient.DefaultLogger(),
		metrics:        noopMetrics{},
		connectTimeout: DefaultConnectTimeout,
		baseDelay:      DefaultBaseDelay,
		maxDelay:       DefaultMaxDelay,
		maxAttempts:    DefaultMaxReconnectAttempts,
		now:            time.Now,
		listeners:      map[string][]listenerEntry{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.history == nil {
		c.history = NewHistory(nil, WithHistoryLogger(c.logger))
	}

	return c
}

// History returns the notification history.
func (c *Channel) History() *History {
	return c.history
}

// Connect opens the socket. It is idempotent: while a connection is open
// it returns nil, and while one is being opened every caller waits on the
// same attempt. An empty token is fetched from the TokenSource when one is
// configured, otherwise the last token used is reused.
func (c *Channel) Connect(ctx context.Context, token string) error {
	return c.connect(ctx, token, false)
}

// connect backs Connect and the reconnect timer. A reconnect that cannot
// get a token counts as a failed attempt and arms the next one.
func (c *Channel) connect(ctx context.Context, token string, reconnect bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	a := c.pending
	if a == nil {
		a = &attempt{done: make(chan struct{})}
		c.pending = a
		c.mu.Unlock()

		resolved, err := c.resolveToken(ctx, token)
		if err != nil {
			c.logger.Warn("Channel could not resolve token", "error", err)
			c.finish(a, nil, err)
			c.emit(Event{Name: EventError, Err: err})
			if reconnect {
				c.scheduleReconnect()
			}
			return err
		}

		c.metrics.ConnectAttempt()
		go c.dial(a, resolved)
	} else {
		c.mu.Unlock()
	}

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveToken never falls back to the cached token when a TokenSource is
// set: an empty source means the session is gone.
func (c *Channel) resolveToken(ctx context.Context, token string) (string, error) {
	fromSource := false
	if token == "" && c.tokenSource != nil {
		t, err := c.tokenSource(ctx)
		if err != nil {
			return "", err
		}
		token = t
		fromSource = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if token == "" && !fromSource {
		token = c.token
	}
	if token == "" {
		return "", ErrNoToken
	}
	c.token = token
	return token, nil
}

func (c *Channel) dial(a *attempt, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.connectTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(ctx, c.url(token), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = ErrChannelTimeout.Clone().WithMetadata(map[string]any{
				"timeout": c.connectTimeout.String(),
			})
		}
		c.logger.Warn("Channel connect failed", "error", err)
		c.finish(a, nil, err)
		c.emit(Event{Name: EventError, Err: err})
		c.scheduleReconnect()
		return
	}

	c.finish(a, conn, nil)
}

// finish settles a pending attempt.
func (c *Channel) finish(a *attempt, conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.pending == a {
		c.pending = nil
	}
	if conn != nil && c.closed {
		err = ErrChannelClosed
	}
	if conn != nil && err == nil {
		c.conn = conn
		c.attempts = 0
		c.maxReached = false
	}
	topics := append([]string(nil), c.topics...)
	c.mu.Unlock()

	if conn != nil && err != nil {
		conn.Close()
		conn = nil
	}

	a.err = err
	close(a.done)

	if conn == nil {
		return
	}

	conn.SetReadLimit(maxMessageSize)
	go c.readLoop(conn)

	c.metrics.Connected()
	c.logger.Info("Channel connected")
	if len(topics) > 0 {
		c.Send(Frame{Type: FrameSubscribe, Topics: topics})
	}
	c.emit(Event{Name: EventConnected})
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	closed := c.closed
	c.mu.Unlock()

	conn.Close()

	code := websocket.CloseAbnormalClosure
	reason := err.Error()
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
		reason = closeErr.Text
	}

	c.logger.Info("Channel disconnected", "code", code, "reason", reason)
	c.emit(Event{Name: EventDisconnected, Code: code, Reason: reason})

	if code != websocket.CloseNormalClosure && !closed {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the next reconnect, or emits
// maxReconnectAttemptsReached once the attempts are exhausted.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || c.maxReached || c.timer != nil {
		c.mu.Unlock()
		return
	}

	if c.attempts >= c.maxAttempts {
		c.maxReached = true
		attempts := c.attempts
		c.mu.Unlock()

		c.logger.Error("Channel max reconnection attempts reached", "attempts", attempts)
		c.metrics.MaxReconnectReached()
		c.emit(Event{Name: EventMaxReconnectReached, Attempt: attempts})
		return
	}

	c.attempts++
	n := c.attempts
	delay := c.backoff(n)
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.timer = nil
		c.mu.Unlock()

		c.metrics.Reconnect(n)
		if err := c.connect(context.Background(), "", true); err != nil {
			c.logger.Debug("Channel reconnect attempt failed", "attempt", n, "error", err)
		}
	})
	c.mu.Unlock()

	c.logger.Info(fmt.Sprintf("Channel reconnecting in %s (attempt %d/%d)", delay, n, c.maxAttempts))
}

func (c *Channel) backoff(n int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

// Disconnect is terminal: no further reconnects happen and the socket is
// closed with the normal closure code.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.attempts = c.maxAttempts
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(c.now().Add(writeWait))
	err := conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Client disconnect"),
	)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Debug("Channel close frame failed", "error", err)
	}
	conn.Close()

	c.emit(Event{Name: EventDisconnected, Code: websocket.CloseNormalClosure, Reason: "Client disconnect"})
}

// Send writes v as a JSON text frame. It reports false when not connected
// or when the write fails.
func (c *Channel) Send(v any) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.logger.Warn("Channel is not connected, message not sent")
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(c.now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		c.logger.Error("Channel write error", "error", err)
		return false
	}
	return true
}

// Heartbeat sends a HEARTBEAT frame.
func (c *Channel) Heartbeat() bool {
	return c.Send(Frame{Type: FrameHeartbeat, Timestamp: c.now().UTC().Format(time.RFC3339)})
}

// Subscribe records topics and requests them from the server. Recorded
// topics are requested again after every reconnect. It reports whether the
// request was sent now.
func (c *Channel) Subscribe(topics ...string) bool {
	if len(topics) == 0 {
		return false
	}

	c.mu.Lock()
	seen := map[string]struct{}{}
	for _, t := range c.topics {
		seen[t] = struct{}{}
	}
	for _, t := range topics {
		if _, ok := seen[t]; !ok && t != "" {
			c.topics = append(c.topics, t)
			seen[t] = struct{}{}
		}
	}
	c.mu.Unlock()

	return c.Send(Frame{Type: FrameSubscribe, Topics: topics})
}

// SubscribeUser subscribes to the notifications of one user.
func (c *Channel) SubscribeUser(userID string) bool {
	return c.Subscribe(UserTopic(userID))
}

// SubscribeRole subscribes to the notifications of a role.
func (c *Channel) SubscribeRole(role authclient.UserRole) bool {
	return c.Subscribe(RoleTopic(role))
}

// SubscribeToUpdates registers fn for every live update frame type and
// requests the update topics. The returned func removes fn.
func (c *Channel) SubscribeToUpdates(fn Listener) func() {
	offs := make([]func(), 0, len(UpdateFrameTypes))
	for _, t := range UpdateFrameTypes {
		offs = append(offs, c.On(t, fn))
	}
	c.Subscribe(UpdateTopics...)

	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// On registers fn for event (a lifecycle event or a frame type) and returns
// a func that removes it.
func (c *Channel) On(event string, fn Listener) func() {
	if fn == nil {
		return func() {}
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[event] = append(c.listeners[event], listenerEntry{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.off(event, id) })
	}
}

func (c *Channel) off(event string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.listeners[event]
	for i, e := range entries {
		if e.id == id {
			c.listeners[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(c.listeners[event]) == 0 {
		delete(c.listeners, event)
	}
}

// MarkAsRead flags a notification as read locally, tells the server when
// connected and emits notification-read. Unknown ids are ignored.
func (c *Channel) MarkAsRead(ctx context.Context, id string) error {
	found, err := c.history.MarkAsRead(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if c.IsConnected() {
		c.Send(Frame{Type: FrameMarkRead, NotificationID: id})
	}

	c.emit(Event{Name: EventNotificationRead, NotificationID: id})
	return nil
}

// IsConnected reports whether a socket is open.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	topics := append([]string(nil), c.topics...)
	sort.Strings(topics)
	return Status{
		Connected:            c.conn != nil,
		Closed:               c.closed,
		ReconnectAttempts:    c.attempts,
		MaxReconnectAttempts: c.maxAttempts,
		Topics:               topics,
	}
}

func (c *Channel) dispatch(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn("Channel invalid message format", "error", err)
		return
	}

	if frame.IsNotification() {
		n, err := notificationFromFrame(data, frame, c.now())
		if err != nil {
			c.logger.Warn("Channel invalid notification payload", "error", err)
			return
		}

		if err := c.history.Add(context.Background(), n); err != nil {
			c.logger.Error("Channel failed to store notification", "error", err)
		}
		c.metrics.NotificationReceived(n.Type)

		c.emit(Event{Name: EventNotification, Frame: &frame, Notification: &n})
		if n.Type != EventNotification {
			c.emit(Event{Name: n.Type, Frame: &frame, Notification: &n})
		}
		return
	}

	name := frame.Type
	if name == "" {
		name = FrameMessage
	}
	c.emit(Event{Name: name, Frame: &frame})
}

func (c *Channel) emit(event Event) {
	c.mu.Lock()
	entries := append([]listenerEntry(nil), c.listeners[event.Name]...)
	c.mu.Unlock()

	for _, e := range entries {
		c.safeCall(e.fn, event)
	}
}

func (c *Channel) safeCall(fn Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(fmt.Sprintf("Channel listener for %s panicked: %v", event.Name, r))
		}
	}()
	fn(event)
}

func (c *Channel) url(token string) string {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return c.endpoint
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
