package chatclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/supportdesk/internal/chaterr"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/wire"
)

var ErrSessionClosed = errors.New("chatclient: session closed")

const (
	inboxSize      = 256
	updatesSize    = 64
	refreshTimeout = 10 * time.Second
)

type SessionOptions struct {
	Identity     model.Identity
	Policy       ReconnectPolicy
	TypingIdle   time.Duration
	PollInterval time.Duration // <= 0 disables the unread poller
	Scheduler    Scheduler
	ConnOptions  []ConnOption
}

type UpdateKind int

const (
	UpdateMessages UpdateKind = iota
	UpdateTyping
	UpdateDirectory
	UpdateUnread
	UpdateConnection
)

// Update tells an observer which part of the session state changed.
// Read the new state through the Session accessors.
type Update struct {
	Kind           UpdateKind
	ConversationID string
	State          State
	Err            error
}

type sendResult struct {
	msg *model.Message
	err error
}

type waiter struct {
	conversationID string
	ch             chan sendResult
}

// Session is one client's view of the channel. A single loop goroutine owns
// every field below the marker: inbound frames, timer callbacks, poll results
// and public calls are run there one at a time. Public methods must not be
// called from an Update consumer that blocks the loop.
type Session struct {
	self  model.Identity
	api   API
	conn  *Conn
	sched Scheduler
	idle  time.Duration

	inbox      chan func()
	quit       chan struct{}
	done       chan struct{}
	updates    chan Update
	closeOnce  sync.Once
	wg         sync.WaitGroup
	life       context.Context // cancelled by Close; parent of background work
	stop       context.CancelFunc

	// loop-owned
	rooms     *Rooms
	views     map[string]*ConversationView
	typing    map[string]*TypingCoordinator
	presence  *PresenceBoard
	directory *Directory
	unread    UnreadCounter
	focused   string
	waiters   map[string]waiter
}

func NewSession(d Dialer, api API, opts SessionOptions) *Session {
	if opts.Scheduler == nil {
		opts.Scheduler = RealScheduler
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = DefaultReconnectPolicy()
	}
	s := &Session{
		self:      opts.Identity,
		api:       api,
		sched:     opts.Scheduler,
		idle:      opts.TypingIdle,
		inbox:     make(chan func(), inboxSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		updates:   make(chan Update, updatesSize),
		rooms:     NewRooms(),
		views:     make(map[string]*ConversationView),
		typing:    make(map[string]*TypingCoordinator),
		presence:  NewPresenceBoard(),
		directory: NewDirectory(opts.Identity.IsAdmin()),
		waiters:   make(map[string]waiter),
	}
	s.life, s.stop = context.WithCancel(context.Background())
	s.conn = NewConn(d, opts.Policy, s.onConnEvent, opts.ConnOptions...)
	go s.run()

	if opts.PollInterval > 0 {
		s.wg.Add(1)
		go s.poll(s.life, opts.PollInterval)
	}
	return s
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.quit:
			return
		}
	}
}

func (s *Session) post(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (s *Session) call(fn func()) error {
	finished := make(chan struct{})
	if !s.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrSessionClosed
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) notify(u Update) {
	select {
	case s.updates <- u:
	default:
		logger.Debugf("update dropped kind=%d conversation=%s", u.Kind, u.ConversationID)
	}
}

// Updates delivers change notifications. Slow observers miss updates, never block the loop.
func (s *Session) Updates() <-chan Update { return s.updates }

func (s *Session) Identity() model.Identity { return s.self }

func (s *Session) State() State { return s.conn.State() }

// Connect authenticates the channel and re-joins any rooms still open locally.
func (s *Session) Connect(ctx context.Context, token string) error {
	if err := s.conn.Connect(ctx, token); err != nil {
		return err
	}
	return s.connected(ctx)
}

func (s *Session) ensureConnected(ctx context.Context) error {
	if s.conn.State() == StateConnected {
		return nil
	}
	if err := s.conn.EnsureConnected(ctx); err != nil {
		return err
	}
	return s.connected(ctx)
}

// connected re-joins the open rooms and catches up on what the relay stored
// while the channel was down.
func (s *Session) connected(ctx context.Context) error {
	s.notify(Update{Kind: UpdateConnection, State: StateConnected})
	var ids []string
	if err := s.call(func() { ids = s.rejoin() }); err != nil {
		return err
	}
	s.resync(ctx, ids)
	return nil
}

// resync reloads the history of the given rooms and pulls the unread count.
// Failures are logged; live events keep flowing meanwhile.
func (s *Session) resync(ctx context.Context, ids []string) {
	for _, id := range ids {
		d, err := s.api.GetConversation(ctx, id)
		if err != nil {
			logger.Warnf("resync %s: %v", id, err)
			continue
		}
		if err := s.call(func() { s.reloaded(d) }); err != nil {
			return
		}
	}
	if err := s.PullUnread(ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
		logger.Warnf("%v", err)
	}
}

func (s *Session) resyncAsync(ids []string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.life, refreshTimeout)
		defer cancel()
		s.resync(ctx, ids)
	}()
}

// reloaded merges fresh history into a view that stayed open across a gap.
func (s *Session) reloaded(d *model.ConversationDetail) {
	v, ok := s.views[d.ID]
	if !ok {
		return
	}
	v.Load(d.Messages)
	if s.focused == d.ID {
		s.markRead(d.ID, false)
	}
	s.notify(Update{Kind: UpdateMessages, ConversationID: d.ID})
}

// Disconnect drops the channel and stops reconnecting. Pending sends fail,
// typing bursts and peer presence are cleared. Open rooms and their loaded
// messages stay and are re-joined by the next Connect.
func (s *Session) Disconnect() {
	s.conn.Disconnect()
	_ = s.call(func() {
		s.failWaiters(&chaterr.TransientError{Op: "send", Err: errors.New("disconnected")})
		for id, t := range s.typing {
			t.Stop()
			delete(s.typing, id)
		}
		for _, id := range s.rooms.IDs() {
			s.presence.Clear(id)
		}
	})
	s.notify(Update{Kind: UpdateConnection, State: StateDisconnected})
}

// Close ends the session: typing bursts are closed, the poller and the loop
// stop, then the channel is torn down.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.call(func() {
			for id, t := range s.typing {
				t.Stop()
				delete(s.typing, id)
			}
		})
		s.stop()
		close(s.quit)
		<-s.done
		s.wg.Wait()
		s.conn.Disconnect()
	})
}

// Open enters a conversation: joins its room, loads history and marks it read.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	_, err := s.open(ctx, conversationID)
	return err
}

func (s *Session) open(ctx context.Context, conversationID string) (*model.ConversationDetail, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}
	var (
		joinErr error
		added   bool
	)
	if err := s.call(func() { added, joinErr = s.join(conversationID) }); err != nil {
		return nil, err
	}
	if joinErr != nil {
		return nil, joinErr
	}
	detail, err := s.api.GetConversation(ctx, conversationID)
	if err != nil {
		_ = s.Leave(conversationID)
		return nil, fmt.Errorf("open conversation %s: %w", conversationID, err)
	}
	if err := s.call(func() { s.loaded(detail, added) }); err != nil {
		return nil, err
	}
	return detail, nil
}

// join reports whether the room was newly added.
func (s *Session) join(id string) (bool, error) {
	if !s.rooms.Add(id) {
		return false, nil
	}
	if err := s.conn.Send(wire.Join(id)); err != nil {
		s.rooms.Remove(id)
		return false, err
	}
	s.views[id] = NewConversationView(id)
	return true, nil
}

// loaded installs history after Open. Only entering a room sends the
// unconditional receipt; reopening an open room marks read only what is new.
func (s *Session) loaded(d *model.ConversationDetail, entering bool) {
	v, ok := s.views[d.ID]
	if !ok {
		return
	}
	v.Load(d.Messages)
	s.focused = d.ID
	s.markRead(d.ID, entering)
	s.notify(Update{Kind: UpdateMessages, ConversationID: d.ID})
}

// Leave closes a conversation locally and on the server. Its typing burst
// ends and later events for it are ignored.
func (s *Session) Leave(conversationID string) error {
	return s.call(func() { s.leave(conversationID) })
}

func (s *Session) leave(id string) {
	if t, ok := s.typing[id]; ok {
		t.Stop()
		delete(s.typing, id)
	}
	if !s.rooms.Remove(id) {
		return
	}
	delete(s.views, id)
	s.presence.Clear(id)
	if s.focused == id {
		s.focused = ""
	}
	for clientID, w := range s.waiters {
		if w.conversationID == id {
			delete(s.waiters, clientID)
			w.ch <- sendResult{err: &chaterr.RejectedError{ConversationID: id, Reason: "conversation left"}}
		}
	}
	if err := s.conn.Send(wire.Leave(id)); err != nil {
		logger.Debugf("leave %s: %v", id, err)
	}
	s.notify(Update{Kind: UpdateMessages, ConversationID: id})
}

// Focus marks which open conversation is on screen; its new messages are
// read on arrival instead of counting as unread.
func (s *Session) Focus(conversationID string) error {
	return s.call(func() {
		if !s.rooms.Has(conversationID) {
			s.focused = ""
			return
		}
		s.focused = conversationID
		s.markRead(conversationID, false)
	})
}

// Keystroke feeds the typing state machine of an open conversation.
func (s *Session) Keystroke(conversationID string) error {
	var err error
	if cerr := s.call(func() {
		if !s.rooms.Has(conversationID) {
			err = notOpen(conversationID)
			return
		}
		s.coordinator(conversationID).Keystroke()
	}); cerr != nil {
		return cerr
	}
	return err
}

func (s *Session) coordinator(id string) *TypingCoordinator {
	if t, ok := s.typing[id]; ok {
		return t
	}
	t := NewTypingCoordinator(s.sched, s.idle, func(on bool) bool {
		if err := s.conn.Send(wire.Typing(id, on)); err != nil {
			logger.Debugf("typing %s: %v", id, err)
			return false
		}
		return true
	}, func(fn func()) { s.post(fn) })
	s.typing[id] = t
	return t
}

func notOpen(id string) error {
	return &chaterr.ValidationError{Field: "conversationId", Reason: "conversation " + id + " is not open"}
}

// Send renders text optimistically and waits for the relay's echo.
// Empty text fails locally; a refusal comes back as *chaterr.RejectedError.
func (s *Session) Send(ctx context.Context, conversationID, text string) (*model.Message, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}
	clientID := uuid.NewString()
	ch := make(chan sendResult, 1)
	var err error
	if cerr := s.call(func() { err = s.submit(conversationID, text, clientID, ch) }); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		s.post(func() { s.abandon(clientID) })
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSessionClosed
	}
}

func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return &chaterr.ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(text) > wire.MaxMessageLength {
		return &chaterr.ValidationError{Field: "message", Reason: fmt.Sprintf("longer than %d characters", wire.MaxMessageLength)}
	}
	return nil
}

// Post sends text through the REST fallback of the relay, for when the event
// channel is exhausted. The stored message is merged into the open view; the
// relay's broadcast of it is deduplicated by messageId.
func (s *Session) Post(ctx context.Context, conversationID, text string) (*model.Message, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}
	var open bool
	if err := s.call(func() {
		open = s.rooms.Has(conversationID)
		if t, ok := s.typing[conversationID]; ok && open {
			t.Stop()
		}
	}); err != nil {
		return nil, err
	}
	if !open {
		return nil, notOpen(conversationID)
	}
	m, err := s.api.SendMessage(ctx, conversationID, text)
	if err != nil {
		return nil, fmt.Errorf("post to %s: %w", conversationID, err)
	}
	_ = s.call(func() {
		if v, ok := s.views[conversationID]; ok && v.Apply(*m, "") {
			s.notify(Update{Kind: UpdateMessages, ConversationID: conversationID})
		}
	})
	return m, nil
}

func (s *Session) submit(id, text, clientID string, ch chan sendResult) error {
	v, ok := s.views[id]
	if !ok {
		return notOpen(id)
	}
	if t, ok := s.typing[id]; ok {
		t.Stop()
	}
	v.AddPending(model.Message{
		ConversationID: id,
		SenderID:       s.self.UserID,
		SenderName:     s.self.Name,
		Text:           text,
		ClientID:       clientID,
		CreatedAt:      time.Now().UTC(),
	})
	if err := s.conn.Send(wire.Send(id, text, clientID)); err != nil {
		v.DropPending(clientID)
		return err
	}
	s.waiters[clientID] = waiter{conversationID: id, ch: ch}
	s.notify(Update{Kind: UpdateMessages, ConversationID: id})
	return nil
}

func (s *Session) abandon(clientID string) {
	w, ok := s.waiters[clientID]
	if !ok {
		return
	}
	delete(s.waiters, clientID)
	if v := s.views[w.conversationID]; v != nil && v.DropPending(clientID) {
		s.notify(Update{Kind: UpdateMessages, ConversationID: w.conversationID})
	}
}

func (s *Session) failWaiters(err error) {
	for clientID, w := range s.waiters {
		delete(s.waiters, clientID)
		if v := s.views[w.conversationID]; v != nil {
			v.DropPending(clientID)
		}
		w.ch <- sendResult{err: err}
	}
}

// MarkRead marks the other participant's messages read. Already read-to-date
// conversations emit nothing.
func (s *Session) MarkRead(conversationID string) (int, error) {
	var n int
	err := s.call(func() { n = s.markRead(conversationID, false) })
	return n, err
}

func (s *Session) markRead(id string, entering bool) int {
	v, ok := s.views[id]
	if !ok {
		return 0
	}
	n := v.MarkOthersRead(s.self.UserID)
	if n == 0 && !entering {
		return 0
	}
	if err := s.conn.Send(wire.Read(id)); err != nil {
		logger.Debugf("read receipt %s over channel: %v", id, err)
		s.markReadREST(id)
	}
	if n > 0 {
		s.unread.MarkedRead(n)
		s.notify(Update{Kind: UpdateUnread})
	}
	return n
}

// markReadREST marks id read through the REST endpoint when the receipt
// could not go out on the channel. The server broadcasts the receipt itself.
func (s *Session) markReadREST(id string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.life, refreshTimeout)
		defer cancel()
		if _, err := s.api.MarkRead(ctx, id); err != nil {
			logger.Warnf("mark read %s: %v", id, err)
		}
	}()
}

// StartConversation opens a new conversation, or the caller's existing open
// one when the server reports a conflict.
func (s *Session) StartConversation(ctx context.Context, subject, firstMessage string) (*model.Conversation, error) {
	conv, err := s.api.CreateConversation(ctx, subject, firstMessage)
	if c, ok := chaterr.AsConflict(err); ok {
		logger.Infof("conversation %s already open, reusing it", c.ExistingID)
		detail, err := s.open(ctx, c.ExistingID)
		if err != nil {
			return nil, err
		}
		existing := detail.Conversation
		s.remember(existing)
		return &existing, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.open(ctx, conv.ID); err != nil {
		return nil, err
	}
	s.remember(*conv)
	return conv, nil
}

func (s *Session) remember(c model.Conversation) {
	if s.self.IsAdmin() {
		return
	}
	_ = s.call(func() {
		s.directory.Replace([]model.Conversation{c})
		s.notify(Update{Kind: UpdateDirectory})
	})
}

// RefreshDirectory reloads the authoritative conversation list.
func (s *Session) RefreshDirectory(ctx context.Context) error {
	list, err := s.api.ListConversations(ctx, model.ListFilter{})
	if err != nil {
		return fmt.Errorf("refresh directory: %w", err)
	}
	return s.call(func() {
		s.directory.Replace(list)
		s.notify(Update{Kind: UpdateDirectory})
	})
}

func (s *Session) refreshDirectoryAsync() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.life, refreshTimeout)
		defer cancel()
		if err := s.RefreshDirectory(ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
			logger.Warnf("%v", err)
		}
	}()
}

// PullUnread fetches the authoritative unread count.
func (s *Session) PullUnread(ctx context.Context) error {
	n, err := s.api.UnreadCount(ctx)
	if err != nil {
		return fmt.Errorf("pull unread: %w", err)
	}
	return s.call(func() {
		s.unread.ApplyPull(n)
		s.notify(Update{Kind: UpdateUnread})
	})
}

func (s *Session) poll(ctx context.Context, every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.PullUnread(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("%v", err)
			}
		}
	}
}

func (s *Session) SetQuery(q string) error {
	return s.call(func() {
		s.directory.SetQuery(q)
		s.notify(Update{Kind: UpdateDirectory})
	})
}

// Conversations is the filtered directory.
func (s *Session) Conversations() []model.Conversation {
	var out []model.Conversation
	_ = s.call(func() { out = s.directory.Filtered() })
	return out
}

// Conversation looks up a conversation in the directory.
func (s *Session) Conversation(id string) (model.Conversation, bool) {
	var (
		c  model.Conversation
		ok bool
	)
	_ = s.call(func() { c, ok = s.directory.Find(id) })
	return c, ok
}

func (s *Session) Messages(conversationID string) []model.Message {
	var out []model.Message
	_ = s.call(func() {
		if v, ok := s.views[conversationID]; ok {
			out = v.Messages()
		}
	})
	return out
}

func (s *Session) Typer(conversationID string) (model.TypingSignal, bool) {
	var (
		sig model.TypingSignal
		ok  bool
	)
	_ = s.call(func() { sig, ok = s.presence.Typer(conversationID) })
	return sig, ok
}

func (s *Session) Joined() []string {
	var out []string
	_ = s.call(func() { out = s.rooms.IDs() })
	return out
}

func (s *Session) UnreadCount() int {
	var n int
	_ = s.call(func() { n = s.unread.Count() })
	return n
}

func (s *Session) UnreadLabel(limit int) string {
	var l string
	_ = s.call(func() { l = s.unread.Label(limit) })
	return l
}

func (s *Session) onConnEvent(ev ConnEvent) {
	s.post(func() { s.handleConnEvent(ev) })
}

func (s *Session) handleConnEvent(ev ConnEvent) {
	switch ev.Kind {
	case EventFrame:
		s.handleFrame(ev.Frame)
		return
	case EventDropped:
		s.failWaiters(ev.Err)
		for _, t := range s.typing {
			t.Stop()
		}
		s.notify(Update{Kind: UpdateConnection, State: StateReconnecting, Err: ev.Err})
	case EventReconnected:
		s.resyncAsync(s.rejoin())
		s.notify(Update{Kind: UpdateConnection, State: StateConnected})
	case EventConnectionExhausted:
		s.failWaiters(&chaterr.TransientError{Op: "send", Err: ev.Err})
		s.notify(Update{Kind: UpdateConnection, State: StateExhausted, Err: ev.Err})
	case EventAuthFailed, EventSuperseded:
		s.failWaiters(&chaterr.TransientError{Op: "send", Err: ev.Err})
		s.notify(Update{Kind: UpdateConnection, State: StateDisconnected, Err: ev.Err})
	}
}

// rejoin re-sends join for every open room and returns their ids.
func (s *Session) rejoin() []string {
	ids := s.rooms.IDs()
	for _, id := range ids {
		if err := s.conn.Send(wire.Join(id)); err != nil {
			logger.Warnf("rejoin %s: %v", id, err)
		}
	}
	return ids
}

func (s *Session) handleFrame(f wire.Outbound) {
	switch f.Type {
	case wire.EventError:
		s.handleError(f)
		return
	case wire.EventNewConversation:
		if s.self.IsAdmin() {
			s.refreshDirectoryAsync()
		}
		return
	case wire.EventJoined, wire.EventLeft:
		logger.Debugf("%s %s", f.Type, f.ConversationID)
		return
	}
	if !f.Scoped() || !s.rooms.Has(f.ConversationID) {
		logger.Debugf("drop %s for conversation %s", f.Type, f.ConversationID)
		return
	}
	switch f.Type {
	case wire.EventNewMessage:
		s.handleMessage(f)
	case wire.EventTyping:
		if f.UserID == s.self.UserID {
			return
		}
		s.presence.Apply(model.TypingSignal{
			ConversationID: f.ConversationID,
			UserID:         f.UserID,
			UserName:       f.UserName,
			IsTyping:       f.IsTyping != nil && *f.IsTyping,
		})
		s.notify(Update{Kind: UpdateTyping, ConversationID: f.ConversationID})
	case wire.EventReadReceipt:
		if f.ReaderID == s.self.UserID {
			return
		}
		if s.views[f.ConversationID].ApplyReceipt(f.ReaderID) > 0 {
			s.notify(Update{Kind: UpdateMessages, ConversationID: f.ConversationID})
		}
	}
}

func (s *Session) handleMessage(f wire.Outbound) {
	if f.Message == nil {
		return
	}
	m := *f.Message
	id := f.ConversationID
	added := s.views[id].Apply(m, f.ClientMsgID)
	if w, ok := s.waiters[f.ClientMsgID]; ok && f.ClientMsgID != "" {
		delete(s.waiters, f.ClientMsgID)
		w.ch <- sendResult{msg: &m}
	}
	if !added {
		return
	}
	s.presence.ClearUser(id, m.SenderID)
	if m.SenderID != s.self.UserID {
		s.unread.ApplyPush()
		if id == s.focused {
			s.markRead(id, false)
		}
		s.notify(Update{Kind: UpdateUnread})
	}
	s.notify(Update{Kind: UpdateMessages, ConversationID: id})
}

func (s *Session) handleError(f wire.Outbound) {
	err := frameError(f)
	if w, ok := s.waiters[f.ClientMsgID]; ok && f.ClientMsgID != "" {
		delete(s.waiters, f.ClientMsgID)
		if v := s.views[w.conversationID]; v != nil {
			v.DropPending(f.ClientMsgID)
		}
		w.ch <- sendResult{err: err}
		s.notify(Update{Kind: UpdateMessages, ConversationID: w.conversationID})
		return
	}
	logger.Warnf("server error code=%s conversation=%s: %s", f.Code, f.ConversationID, f.Error)
	if (f.Code == wire.CodeForbidden || f.Code == wire.CodeNotFound) && s.rooms.Remove(f.ConversationID) {
		delete(s.views, f.ConversationID)
		if t, ok := s.typing[f.ConversationID]; ok {
			t.Stop()
			delete(s.typing, f.ConversationID)
		}
		s.presence.Clear(f.ConversationID)
		if s.focused == f.ConversationID {
			s.focused = ""
		}
		s.notify(Update{Kind: UpdateMessages, ConversationID: f.ConversationID, Err: err})
	}
}

func frameError(f wire.Outbound) error {
	switch f.Code {
	case wire.CodeValidation, wire.CodeBadRequest:
		return &chaterr.ValidationError{Field: "message", Reason: f.Error}
	case wire.CodeInternal:
		return &chaterr.TransientError{Op: "send", Err: errors.New(f.Error)}
	default:
		return &chaterr.RejectedError{ConversationID: f.ConversationID, Reason: f.Error}
	}
}
