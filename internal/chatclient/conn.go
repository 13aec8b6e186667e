// Package chatclient is the client side of the support conversation channel:
// one authenticated event channel per session with bounded reconnection,
// the local room set, conversation views, typing presence, read receipts
// and the unread counter. All session-local state is owned by a single
// loop goroutine (see Session).
package chatclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/supportdesk/internal/chaterr"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/wire"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateExhausted:
		return "exhausted"
	default:
		return "disconnected"
	}
}

// Transport is one live event channel.
type Transport interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a Transport. Rejected credentials must come back as *chaterr.AuthError.
type Dialer interface {
	Dial(ctx context.Context, token string) (Transport, error)
}

type ConnEventKind int

const (
	EventFrame ConnEventKind = iota
	EventDropped
	EventReconnected
	EventConnectionExhausted
	EventAuthFailed
	EventSuperseded
)

// ConnEvent is everything the connection manager reports upward.
// Frame is set only for EventFrame.
type ConnEvent struct {
	Kind  ConnEventKind
	Frame wire.Outbound
	Err   error
}

type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, MaxAttempts: 5}
}

// Delay is the wait before reconnect attempt n, counting from 1:
// doubling from InitialDelay, capped at MaxDelay.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Conn is the connection manager. It keeps at most one authoritative
// transport; connecting again closes the previous one.
type Conn struct {
	dialer  Dialer
	policy  ReconnectPolicy
	sleep   func(ctx context.Context, d time.Duration) error
	onEvent func(ConnEvent)

	mu          sync.Mutex
	state       State
	token       string
	tr          Transport
	gen         uint64
	cancelRetry context.CancelFunc
}

type ConnOption func(*Conn)

// WithSleep replaces the wait between reconnect attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ConnOption {
	return func(c *Conn) { c.sleep = fn }
}

// NewConn creates a disconnected manager. onEvent is called from the
// transport's reader goroutine and from the retry loop.
func NewConn(d Dialer, policy ReconnectPolicy, onEvent func(ConnEvent), opts ...ConnOption) *Conn {
	c := &Conn{dialer: d, policy: policy, sleep: sleepCtx, onEvent: onEvent}
	for _, o := range opts {
		o(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials with token, replacing any existing channel.
func (c *Conn) Connect(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return &chaterr.AuthError{Reason: "token required"}
	}
	c.mu.Lock()
	c.stopLocked()
	c.token = token
	c.state = StateConnecting
	c.mu.Unlock()

	tr, err := c.dialer.Dial(ctx, token)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.state == StateConnecting {
			c.state = StateDisconnected
		}
		if chaterr.IsAuth(err) || chaterr.IsTransient(err) {
			return err
		}
		return &chaterr.TransientError{Op: "connect", Err: err}
	}
	if c.state != StateConnecting {
		tr.Close()
		return &chaterr.TransientError{Op: "connect", Err: fmt.Errorf("disconnected while dialing")}
	}
	c.installLocked(tr)
	return nil
}

// EnsureConnected is a no-op on a live channel, otherwise it connects with
// the last token given to Connect.
func (c *Conn) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	state, token := c.state, c.token
	c.mu.Unlock()
	if state == StateConnected {
		return nil
	}
	if token == "" {
		return &chaterr.AuthError{Reason: "not authenticated"}
	}
	return c.Connect(ctx, token)
}

// Disconnect closes the channel and stops a running retry loop at once.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.state = StateDisconnected
}

// Send writes one frame. Writes are serialized.
func (c *Conn) Send(frame wire.Inbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateExhausted {
		return fmt.Errorf("send %s: %w", frame.Type, chaterr.ErrConnectionExhausted)
	}
	if c.state != StateConnected || c.tr == nil {
		return &chaterr.TransientError{Op: "send " + string(frame.Type)}
	}
	if err := c.tr.WriteJSON(frame); err != nil {
		return &chaterr.TransientError{Op: "send " + string(frame.Type), Err: err}
	}
	return nil
}

func (c *Conn) stopLocked() {
	if c.cancelRetry != nil {
		c.cancelRetry()
		c.cancelRetry = nil
	}
	if c.tr != nil {
		c.tr.Close()
		c.tr = nil
	}
	c.gen++
}

func (c *Conn) installLocked(tr Transport) {
	c.tr = tr
	c.gen++
	c.state = StateConnected
	go c.readLoop(tr, c.gen)
}

func (c *Conn) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Conn) readLoop(tr Transport, gen uint64) {
	for {
		var f wire.Outbound
		if err := tr.ReadJSON(&f); err != nil {
			c.dropped(gen, err)
			return
		}
		if !c.current(gen) {
			return
		}
		c.emit(ConnEvent{Kind: EventFrame, Frame: f})
	}
}

func (c *Conn) dropped(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.tr.Close()
	c.tr = nil
	if websocket.IsCloseError(err, wire.CloseSuperseded) {
		c.state = StateDisconnected
		c.mu.Unlock()
		logger.Warnf("connection superseded by a newer one")
		c.emit(ConnEvent{Kind: EventSuperseded, Err: err})
		return
	}
	if websocket.IsCloseError(err, wire.CloseRevoked) {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.emit(ConnEvent{Kind: EventAuthFailed, Err: &chaterr.AuthError{Reason: "session revoked", Err: err}})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelRetry = cancel
	c.state = StateReconnecting
	token := c.token
	c.mu.Unlock()

	logger.Warnf("connection lost: %v", err)
	c.emit(ConnEvent{Kind: EventDropped, Err: &chaterr.TransientError{Op: "read", Err: err}})
	go c.reconnect(ctx, token)
}

func (c *Conn) reconnect(ctx context.Context, token string) {
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := c.sleep(ctx, c.policy.Delay(attempt)); err != nil {
			return
		}
		tr, err := c.dialer.Dial(ctx, token)
		if err == nil {
			c.mu.Lock()
			if ctx.Err() != nil {
				c.mu.Unlock()
				tr.Close()
				return
			}
			c.finishRetryLocked()
			c.installLocked(tr)
			c.mu.Unlock()
			logger.Infof("reconnected after %d attempt(s)", attempt)
			c.emit(ConnEvent{Kind: EventReconnected})
			return
		}
		if chaterr.IsAuth(err) {
			if c.endRetry(ctx, StateDisconnected) {
				c.emit(ConnEvent{Kind: EventAuthFailed, Err: err})
			}
			return
		}
		logger.Warnf("reconnect attempt %d/%d: %v", attempt, c.policy.MaxAttempts, err)
	}
	if c.endRetry(ctx, StateExhausted) {
		logger.Errorf("reconnect gave up after %d attempts", c.policy.MaxAttempts)
		c.emit(ConnEvent{Kind: EventConnectionExhausted, Err: chaterr.ErrConnectionExhausted})
	}
}

// endRetry moves a retry loop that was not cancelled into its final state.
func (c *Conn) endRetry(ctx context.Context, final State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	c.finishRetryLocked()
	c.state = final
	return true
}

func (c *Conn) finishRetryLocked() {
	if c.cancelRetry != nil {
		c.cancelRetry()
		c.cancelRetry = nil
	}
}

func (c *Conn) emit(ev ConnEvent) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

// WSDialer dials the server's /ws endpoint with gorilla/websocket.
type WSDialer struct {
	URL          string
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// NewWSDialer derives the event channel URL from the REST base URL.
func NewWSDialer(serverURL string) (*WSDialer, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("chatclient: server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("chatclient: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return &WSDialer{
		URL:          u.String(),
		Dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  90 * time.Second,
	}, nil
}

func (d *WSDialer) Dial(ctx context.Context, token string) (Transport, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	conn, resp, err := d.Dialer.DialContext(ctx, d.URL, h)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, &chaterr.AuthError{Reason: "handshake rejected: " + resp.Status, Err: err}
			}
		}
		return nil, &chaterr.TransientError{Op: "dial", Err: err}
	}
	t := &wsTransport{conn: conn, writeTimeout: d.WriteTimeout, readTimeout: d.ReadTimeout}
	t.extendRead()
	conn.SetPingHandler(func(data string) error {
		t.extendRead()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(t.writeTimeout))
	})
	return t, nil
}

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration
}

func (t *wsTransport) extendRead() {
	if t.readTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	}
}

func (t *wsTransport) ReadJSON(v any) error {
	return t.conn.ReadJSON(v)
}

func (t *wsTransport) WriteJSON(v any) error {
	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return t.conn.Close()
}
