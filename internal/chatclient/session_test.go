package chatclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supportdesk/internal/chaterr"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/wire"
)

var (
	employee = model.Identity{UserID: "emp-1", Name: "Alice Able", Role: model.RoleEmployee}
	operator = model.Identity{UserID: "adm-1", Name: "Support", Role: model.RoleAdmin}
)

type sessionEnv struct {
	s      *Session
	dialer *fakeDialer
	api    *fakeAPI
	sched  *fakeScheduler
}

func newSessionEnv(t *testing.T, self model.Identity) *sessionEnv {
	t.Helper()
	e := &sessionEnv{dialer: &fakeDialer{}, api: newFakeAPI(), sched: &fakeScheduler{}}
	e.s = NewSession(e.dialer, e.api, SessionOptions{
		Identity:    self,
		TypingIdle:  3 * time.Second,
		Scheduler:   e.sched,
		ConnOptions: []ConnOption{WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })},
	})
	t.Cleanup(e.s.Close)
	require.NoError(t, e.s.Connect(context.Background(), "tok"))
	return e
}

func (e *sessionEnv) tr() *fakeTransport { return e.dialer.last() }

// flush returns once every frame pushed before it has been handled by the session.
func (e *sessionEnv) flush(t *testing.T) {
	t.Helper()
	e.tr().push(t, wire.Joined("flush"))
	e.s.Joined()
}

func (e *sessionEnv) open(t *testing.T, c model.Conversation, msgs ...model.Message) {
	t.Helper()
	e.api.addConversation(c, msgs...)
	require.NoError(t, e.s.Open(context.Background(), c.ID))
}

func newMessageFrame(m model.Message, clientMsgID string) wire.Outbound {
	return wire.NewMessage(&m, clientMsgID)
}

func waitFrame(t *testing.T, tr *fakeTransport, typ wire.EventType, n int) []wire.Inbound {
	t.Helper()
	require.Eventually(t, func() bool { return len(tr.frames(typ)) >= n }, 2*time.Second, 2*time.Millisecond)
	return tr.frames(typ)
}

type sendOutcome struct {
	msg *model.Message
	err error
}

func sendAsync(s *Session, conversationID, text string) <-chan sendOutcome {
	out := make(chan sendOutcome, 1)
	go func() {
		m, err := s.Send(context.Background(), conversationID, text)
		out <- sendOutcome{m, err}
	}()
	return out
}

func await(t *testing.T, ch <-chan sendOutcome) sendOutcome {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("send did not complete")
		return sendOutcome{}
	}
}

func TestSendEchoRendersOnce(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID})
	require.Len(t, e.tr().frames(wire.EventJoinConversation), 1)

	res := sendAsync(e.s, "c1", "hello")
	sent := waitFrame(t, e.tr(), wire.EventSendMessage, 1)[0]
	assert.Equal(t, "hello", sent.Message)
	require.NotEmpty(t, sent.ClientMsgID)

	pending := e.s.Messages("c1")
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Pending)

	echo := model.Message{ID: "m1", ConversationID: "c1", SenderID: employee.UserID, Text: "hello", CreatedAt: time.Now()}
	e.tr().push(t, newMessageFrame(echo, sent.ClientMsgID))
	r := await(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, "m1", r.msg.ID)

	// the same message again through the broadcast path
	e.tr().push(t, newMessageFrame(echo, ""))
	e.flush(t)

	got := e.s.Messages("c1")
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
	assert.False(t, got[0].Pending)
}

func TestSendValidationIsLocal(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID})

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := e.s.Send(context.Background(), "c1", text)
		assert.True(t, chaterr.IsValidation(err), "%q", text)
	}
	_, err := e.s.Send(context.Background(), "c9", "hi")
	assert.True(t, chaterr.IsValidation(err), "conversation not open")

	assert.Empty(t, e.tr().frames(wire.EventSendMessage))
	assert.Empty(t, e.s.Messages("c1"))
}

func TestSendRejectedByServer(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID})

	res := sendAsync(e.s, "c1", "anyone?")
	sent := waitFrame(t, e.tr(), wire.EventSendMessage, 1)[0]
	e.tr().push(t, wire.Error(wire.CodeRejected, "c1", sent.ClientMsgID, "conversation is closed"))

	r := await(t, res)
	assert.True(t, chaterr.IsRejected(r.err), "got %v", r.err)
	assert.Empty(t, e.s.Messages("c1"), "optimistic copy removed")
	assert.Len(t, e.tr().frames(wire.EventSendMessage), 1, "rejections are not retried")
}

func TestSendWhileDisconnected(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID})
	e.s.Disconnect()

	_, err := e.s.Send(context.Background(), "c1", "hello")
	assert.True(t, chaterr.IsTransient(err), "got %v", err)
	assert.Empty(t, e.s.Messages("c1"))
}

func TestConnectionDropFailsSendAndRejoins(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID})
	first := e.tr()

	res := sendAsync(e.s, "c1", "hello")
	waitFrame(t, first, wire.EventSendMessage, 1)
	first.drop(errors.New("connection reset"))

	r := await(t, res)
	assert.True(t, chaterr.IsTransient(r.err), "got %v", r.err)

	require.Eventually(t, func() bool { return e.tr() != first }, 2*time.Second, 2*time.Millisecond)
	joins := waitFrame(t, e.tr(), wire.EventJoinConversation, 1)
	assert.Equal(t, "c1", joins[0].ConversationID)
	require.Eventually(t, func() bool { return e.s.State() == StateConnected }, 2*time.Second, 2*time.Millisecond)
}

func TestEventsForOtherConversationsAreDropped(t *testing.T) {
	e := newSessionEnv(t, operator)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: "emp-1"})
	e.api.setUnread(0)
	require.NoError(t, e.s.PullUnread(context.Background()))

	e.tr().push(t, newMessageFrame(model.Message{ID: "x1", ConversationID: "c2", SenderID: "emp-2", Text: "psst"}, ""))
	e.tr().push(t, wire.TypingSignal(model.TypingSignal{ConversationID: "c2", UserID: "emp-2", UserName: "Bob", IsTyping: true}))
	e.tr().push(t, wire.Receipt(model.ReadReceipt{ConversationID: "c2", ReaderID: "emp-2"}))
	e.flush(t)

	assert.Nil(t, e.s.Messages("c2"))
	_, typing := e.s.Typer("c2")
	assert.False(t, typing)
	assert.Zero(t, e.s.UnreadCount())
	assert.Empty(t, e.s.Messages("c1"))
}

func TestOpenMarksReadExactlyOnce(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.api.setUnread(5)
	require.NoError(t, e.s.PullUnread(context.Background()))

	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID},
		model.Message{ID: "m1", ConversationID: "c1", SenderID: "adm-1", Text: "hi"},
		model.Message{ID: "m2", ConversationID: "c1", SenderID: "adm-1", Text: "how can I help"},
		model.Message{ID: "m3", ConversationID: "c1", SenderID: employee.UserID, Text: "vpn"},
	)
	assert.Len(t, e.tr().frames(wire.EventReadReceipt), 1)
	assert.Equal(t, 3, e.s.UnreadCount())

	before := e.s.Messages("c1")
	n, err := e.s.MarkRead("c1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, e.tr().frames(wire.EventReadReceipt), 1, "read-to-date conversation emits nothing")
	assert.Equal(t, before, e.s.Messages("c1"))
	assert.Equal(t, 3, e.s.UnreadCount())

	for _, m := range before {
		assert.Equal(t, m.SenderID != employee.UserID, m.IsRead, m.ID)
	}
}

func TestReceiptFlipsOwnMessagesOnly(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID},
		model.Message{ID: "m1", ConversationID: "c1", SenderID: employee.UserID, Text: "q1"},
		model.Message{ID: "m2", ConversationID: "c1", SenderID: employee.UserID, Text: "q2", IsRead: true},
	)

	e.tr().push(t, wire.Receipt(model.ReadReceipt{ConversationID: "c1", ReaderID: "adm-1"}))
	e.tr().push(t, newMessageFrame(model.Message{ID: "m3", ConversationID: "c1", SenderID: employee.UserID, Text: "q3"}, ""))
	e.flush(t)

	got := e.s.Messages("c1")
	require.Len(t, got, 3)
	assert.True(t, got[0].IsRead)
	assert.True(t, got[1].IsRead)
	assert.False(t, got[2].IsRead)

	// own receipt echo and duplicates never unmark anything
	e.tr().push(t, wire.Receipt(model.ReadReceipt{ConversationID: "c1", ReaderID: employee.UserID}))
	e.tr().push(t, wire.Receipt(model.ReadReceipt{ConversationID: "c1", ReaderID: "adm-1"}))
	e.tr().push(t, wire.Receipt(model.ReadReceipt{ConversationID: "c1", ReaderID: "adm-1"}))
	e.flush(t)
	for _, m := range e.s.Messages("c1") {
		assert.True(t, m.IsRead, m.ID)
	}
}

func TestPushBumpsUnreadUntilNextPull(t *testing.T) {
	e := newSessionEnv(t, operator)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: "emp-1"})
	e.open(t, model.Conversation{ID: "c2", EmployeeID: "emp-2"})

	e.api.setUnread(4)
	require.NoError(t, e.s.PullUnread(context.Background()))
	assert.Equal(t, 4, e.s.UnreadCount())

	// c2 is focused; c1 is joined in the background
	e.tr().push(t, newMessageFrame(model.Message{ID: "m1", ConversationID: "c1", SenderID: "emp-1", Text: "ping"}, ""))
	e.flush(t)
	assert.Equal(t, 5, e.s.UnreadCount())
	assert.Equal(t, "5", e.s.UnreadLabel(9))

	receipts := len(e.tr().frames(wire.EventReadReceipt))
	e.tr().push(t, newMessageFrame(model.Message{ID: "m2", ConversationID: "c2", SenderID: "emp-2", Text: "hello"}, ""))
	e.flush(t)
	assert.Equal(t, 5, e.s.UnreadCount(), "focused conversation is read on arrival")
	assert.Len(t, e.tr().frames(wire.EventReadReceipt), receipts+1)

	e.api.setUnread(2)
	require.NoError(t, e.s.PullUnread(context.Background()))
	assert.Equal(t, 2, e.s.UnreadCount())
}

func TestStartConversationReusesExisting(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.api.addConversation(model.Conversation{ID: "c7", EmployeeID: employee.UserID, Status: model.ConversationOpen})
	e.api.createErr = &chaterr.ConflictError{ExistingID: "c7"}

	c, err := e.s.StartConversation(context.Background(), "vpn", "")
	require.NoError(t, err)
	assert.Equal(t, "c7", c.ID)
	assert.Equal(t, []string{"c7"}, e.s.Joined())

	joins := e.tr().frames(wire.EventJoinConversation)
	require.Len(t, joins, 1)
	assert.Equal(t, "c7", joins[0].ConversationID)
	assert.Equal(t, []string{"c7"}, ids(e.s.Conversations()))
}

func TestStartConversationCreates(t *testing.T) {
	e := newSessionEnv(t, employee)
	created := model.Conversation{ID: "c8", EmployeeID: employee.UserID, Status: model.ConversationOpen}
	e.api.addConversation(created)
	e.api.created = &created

	c, err := e.s.StartConversation(context.Background(), "printer", "")
	require.NoError(t, err)
	assert.Equal(t, "c8", c.ID)
	assert.Equal(t, []string{"c8"}, e.s.Joined())
}

func TestTypingThroughSession(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID})

	require.NoError(t, e.s.Keystroke("c1"))
	e.sched.Advance(200 * time.Millisecond)
	require.NoError(t, e.s.Keystroke("c1"))
	typing := e.tr().frames(wire.EventTyping)
	require.Len(t, typing, 1)
	assert.True(t, *typing[0].IsTyping)

	e.sched.Advance(3 * time.Second)
	typing = waitFrame(t, e.tr(), wire.EventTyping, 2)
	assert.False(t, *typing[1].IsTyping)

	// sending ends a burst before the message goes out
	require.NoError(t, e.s.Keystroke("c1"))
	sendAsync(e.s, "c1", "done")
	waitFrame(t, e.tr(), wire.EventSendMessage, 1)
	all := e.tr().all()
	last := all[len(all)-2:]
	assert.Equal(t, wire.EventTyping, last[0].Type)
	assert.False(t, *last[0].IsTyping)
	assert.Equal(t, wire.EventSendMessage, last[1].Type)

	assert.True(t, chaterr.IsValidation(e.s.Keystroke("c9")))
}

func TestLeaveCancelsTypingAndScope(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID})

	require.NoError(t, e.s.Keystroke("c1"))
	require.NoError(t, e.s.Leave("c1"))

	all := e.tr().all()
	tail := all[len(all)-2:]
	assert.Equal(t, wire.EventTyping, tail[0].Type)
	assert.False(t, *tail[0].IsTyping)
	assert.Equal(t, wire.EventLeaveConversation, tail[1].Type)

	e.tr().push(t, newMessageFrame(model.Message{ID: "m1", ConversationID: "c1", SenderID: "adm-1", Text: "late"}, ""))
	e.flush(t)
	assert.Nil(t, e.s.Messages("c1"))
	assert.Empty(t, e.s.Joined())

	e.sched.Advance(10 * time.Second)
	e.flush(t)
	assert.Len(t, e.tr().frames(wire.EventTyping), 2)

	require.NoError(t, e.s.Leave("c1"))
	assert.Len(t, e.tr().frames(wire.EventLeaveConversation), 1, "leave is idempotent")
}

func TestJoinIsIdempotent(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID})
	require.NoError(t, e.s.Open(context.Background(), "c1"))
	assert.Len(t, e.tr().frames(wire.EventJoinConversation), 1)
}

func TestPeerTypingPresence(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID})

	e.tr().push(t, wire.TypingSignal(model.TypingSignal{ConversationID: "c1", UserID: "adm-1", UserName: "Support", IsTyping: true}))
	e.flush(t)
	s, ok := e.s.Typer("c1")
	require.True(t, ok)
	assert.Equal(t, "Support", s.UserName)

	e.tr().push(t, newMessageFrame(model.Message{ID: "m1", ConversationID: "c1", SenderID: "adm-1", Text: "here"}, ""))
	e.flush(t)
	_, ok = e.s.Typer("c1")
	assert.False(t, ok)
}

func TestNewConversationRefreshesAdminDirectory(t *testing.T) {
	e := newSessionEnv(t, operator)
	e.api.addConversation(model.Conversation{ID: "c1", EmployeeName: "Alice"})
	require.NoError(t, e.s.RefreshDirectory(context.Background()))
	require.Equal(t, 1, e.api.listCount())

	e.api.addConversation(model.Conversation{ID: "c2", EmployeeName: "Bob"})
	e.tr().push(t, wire.NewConversation(&model.Conversation{ID: "c2"}))
	require.Eventually(t, func() bool { return len(e.s.Conversations()) == 2 }, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, 2, e.api.listCount())

	require.NoError(t, e.s.SetQuery("bo"))
	assert.Equal(t, []string{"c2"}, ids(e.s.Conversations()))
}

func TestNewConversationIgnoredByEmployee(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.tr().push(t, wire.NewConversation(&model.Conversation{ID: "c2"}))
	e.flush(t)
	assert.Zero(t, e.api.listCount())
}

func TestForbiddenJoinDropsRoom(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: "someone-else"})
	e.tr().push(t, wire.Error(wire.CodeForbidden, "c1", "", "forbidden"))
	e.flush(t)
	assert.Empty(t, e.s.Joined())
}

func TestClosedSessionRefusesCalls(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.s.Close()
	_, err := e.s.Send(context.Background(), "c1", "hi")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, e.s.Leave("c1"), ErrSessionClosed)
}

func TestReconnectCatchesUpOnMissedMessages(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID},
		model.Message{ID: "m1", ConversationID: "c1", SenderID: "adm-1", Text: "hi"})
	first := e.tr()

	// stored by the relay while this client is cut off
	e.api.store(model.Message{ID: "m2", ConversationID: "c1", SenderID: "adm-1", Text: "still there?"})
	e.api.setUnread(3)
	first.drop(errors.New("connection reset"))

	require.Eventually(t, func() bool { return e.tr() != first }, 2*time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return len(e.s.Messages("c1")) == 2 }, 2*time.Second, 2*time.Millisecond)

	e.tr().push(t, newMessageFrame(model.Message{ID: "m3", ConversationID: "c1", SenderID: "adm-1", Text: "ok"}, ""))
	e.flush(t)

	var ids []string
	for _, m := range e.s.Messages("c1") {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)
	require.Eventually(t, func() bool { return e.s.UnreadCount() == 3 }, 2*time.Second, 2*time.Millisecond)
}

func TestConnectAfterDisconnectReloadsOpenRooms(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID},
		model.Message{ID: "m1", ConversationID: "c1", SenderID: "adm-1", Text: "hi"})
	e.s.Disconnect()
	e.api.store(model.Message{ID: "m2", ConversationID: "c1", SenderID: "adm-1", Text: "bye"})

	require.NoError(t, e.s.Connect(context.Background(), "tok"))
	assert.Len(t, e.s.Messages("c1"), 2)
	assert.Equal(t, "c1", waitFrame(t, e.tr(), wire.EventJoinConversation, 1)[0].ConversationID)
}

func TestReopenSendsNoSecondReceipt(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID},
		model.Message{ID: "m1", ConversationID: "c1", SenderID: "adm-1", Text: "hi"})
	require.NoError(t, e.s.Open(context.Background(), "c1"))
	require.NoError(t, e.s.Open(context.Background(), "c1"))
	assert.Len(t, e.tr().frames(wire.EventReadReceipt), 1)
}

func TestTypingBurstStartedOfflineIsSentAfterConnect(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID})
	e.s.Disconnect()

	require.NoError(t, e.s.Keystroke("c1"))
	require.NoError(t, e.s.Connect(context.Background(), "tok"))
	require.NoError(t, e.s.Keystroke("c1"))

	typing := waitFrame(t, e.tr(), wire.EventTyping, 1)
	require.NotNil(t, typing[0].IsTyping)
	assert.True(t, *typing[0].IsTyping)
}

func TestPostGoesThroughREST(t *testing.T) {
	e := newSessionEnv(t, employee)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: employee.UserID})

	_, err := e.s.Post(context.Background(), "c1", "  ")
	assert.True(t, chaterr.IsValidation(err), "got %v", err)
	_, err = e.s.Post(context.Background(), "c9", "hello")
	assert.True(t, chaterr.IsValidation(err), "got %v", err)

	m, err := e.s.Post(context.Background(), "c1", "sent over http")
	require.NoError(t, err)
	assert.Equal(t, "rest-1", m.ID)
	assert.Empty(t, e.tr().frames(wire.EventSendMessage))

	// the relay's broadcast of the same message is not rendered twice
	e.tr().push(t, newMessageFrame(*m, ""))
	e.flush(t)
	got := e.s.Messages("c1")
	require.Len(t, got, 1)
	assert.Equal(t, "sent over http", got[0].Text)
}

func TestReadReceiptFallsBackToREST(t *testing.T) {
	e := newSessionEnv(t, operator)
	e.open(t, model.Conversation{ID: "c1", EmployeeID: "emp-1"})
	e.open(t, model.Conversation{ID: "c2", EmployeeID: "emp-2"})

	e.tr().push(t, newMessageFrame(model.Message{ID: "m1", ConversationID: "c1", SenderID: "emp-1", Text: "ping"}, ""))
	e.flush(t)
	e.s.Disconnect()

	require.NoError(t, e.s.Focus("c1"))
	require.Eventually(t, func() bool { return len(e.api.markReadCalls()) == 1 }, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{"c1"}, e.api.markReadCalls())
}

func TestConversationLookup(t *testing.T) {
	e := newSessionEnv(t, operator)
	e.api.addConversation(model.Conversation{ID: "c1", EmployeeID: "emp-1", EmployeeName: "Alice"})
	require.NoError(t, e.s.RefreshDirectory(context.Background()))

	c, ok := e.s.Conversation("c1")
	require.True(t, ok)
	assert.Equal(t, "Alice", c.EmployeeName)
	_, ok = e.s.Conversation("c9")
	assert.False(t, ok)
}
