package chatclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/wire"
)

// fakeScheduler is a virtual clock. Timers fire only inside Advance.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now + d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	for {
		var next *fakeTimer
		for _, t := range s.timers {
			if t.stopped || t.fired || t.at > target {
				continue
			}
			if next == nil || t.at < next.at {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		s.now = next.at
		s.mu.Unlock()
		next.fn()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

var errClosed = errors.New("use of closed network connection")

type fakeTransport struct {
	in     chan wire.Outbound
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	readErr error
	sent    []wire.Inbound
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan wire.Outbound), closed: make(chan struct{})}
}

func (t *fakeTransport) ReadJSON(v any) error {
	select {
	case f := <-t.in:
		*(v.(*wire.Outbound)) = f
		return nil
	case <-t.closed:
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.readErr != nil {
			return t.readErr
		}
		return errClosed
	}
}

func (t *fakeTransport) WriteJSON(v any) error {
	select {
	case <-t.closed:
		return errClosed
	default:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, v.(wire.Inbound))
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// drop makes the pending read fail with err, as a broken connection would.
func (t *fakeTransport) drop(err error) {
	t.mu.Lock()
	t.readErr = err
	t.mu.Unlock()
	t.Close()
}

// push hands f to the reader. Once it returns, every earlier frame has
// already been passed on by the connection manager.
func (t *fakeTransport) push(tb testing.TB, f wire.Outbound) {
	tb.Helper()
	select {
	case t.in <- f:
	case <-time.After(2 * time.Second):
		tb.Fatalf("frame %s not consumed", f.Type)
	}
}

func (t *fakeTransport) frames(typ wire.EventType) []wire.Inbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []wire.Inbound
	for _, f := range t.sent {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (t *fakeTransport) all() []wire.Inbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]wire.Inbound, len(t.sent))
	copy(out, t.sent)
	return out
}

// fakeDialer succeeds with a fresh transport unless a scripted or default error applies.
type fakeDialer struct {
	mu         sync.Mutex
	script     []error
	failAll    error
	dials      int
	tokens     []string
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, token string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.tokens = append(d.tokens, token)
	if len(d.script) > 0 {
		err := d.script[0]
		d.script = d.script[1:]
		if err != nil {
			return nil, err
		}
	} else if d.failAll != nil {
		return nil, d.failAll
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) setScript(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = errs
}

func (d *fakeDialer) failWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAll = err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

type fakeAPI struct {
	mu        sync.Mutex
	details   map[string]*model.ConversationDetail
	list      []model.Conversation
	listCalls int
	created   *model.Conversation
	createErr error
	unread    int
	posted    []model.Message
	readCalls []string
	gets      int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{details: make(map[string]*model.ConversationDetail)}
}

func (a *fakeAPI) addConversation(c model.Conversation, msgs ...model.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.details[c.ID] = &model.ConversationDetail{Conversation: c, Messages: msgs}
	a.list = append(a.list, c)
	sort.Slice(a.list, func(i, j int) bool { return a.list[i].ID < a.list[j].ID })
}

func (a *fakeAPI) ListConversations(ctx context.Context, f model.ListFilter) ([]model.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listCalls++
	out := make([]model.Conversation, len(a.list))
	copy(out, a.list)
	return out, nil
}

func (a *fakeAPI) GetConversation(ctx context.Context, id string) (*model.ConversationDetail, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gets++
	d, ok := a.details[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *d
	cp.Messages = append([]model.Message(nil), d.Messages...)
	return &cp, nil
}

func (a *fakeAPI) CreateConversation(ctx context.Context, subject, firstMessage string) (*model.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return nil, a.createErr
	}
	return a.created, nil
}

// store appends m to the conversation's history as if the relay persisted it.
func (a *fakeAPI) store(m model.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.details[m.ConversationID]
	d.Messages = append(d.Messages, m)
}

func (a *fakeAPI) getCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gets
}

func (a *fakeAPI) SendMessage(ctx context.Context, conversationID, text string) (*model.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.details[conversationID]
	if !ok {
		return nil, errors.New("not found")
	}
	m := model.Message{
		ID:             fmt.Sprintf("rest-%d", len(a.posted)+1),
		ConversationID: conversationID,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
	d.Messages = append(d.Messages, m)
	a.posted = append(a.posted, m)
	return &m, nil
}

func (a *fakeAPI) MarkRead(ctx context.Context, conversationID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readCalls = append(a.readCalls, conversationID)
	return 0, nil
}

func (a *fakeAPI) markReadCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.readCalls...)
}

func (a *fakeAPI) UnreadCount(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unread, nil
}

func (a *fakeAPI) setUnread(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unread = n
}

func (a *fakeAPI) listCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listCalls
}
