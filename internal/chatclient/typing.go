package chatclient

import (
	"time"

	"github.com/supportdesk/internal/model"
)

const DefaultTypingIdle = 3 * time.Second

type TypingState int

const (
	TypingIdle TypingState = iota
	TypingActive
)

// TypingCoordinator is the local Idle/Typing state machine of one conversation.
// One on-signal per burst; one off-signal when the burst ends by idle
// timeout, send or leave. emit reports whether the signal went out; a burst
// whose on-signal could not be sent stays Idle so the next keystroke retries.
// It is not safe for concurrent use: timer callbacks are handed to post,
// which must run them on the owning goroutine.
type TypingCoordinator struct {
	sched Scheduler
	idle  time.Duration
	emit  func(isTyping bool) bool
	post  func(func())

	state TypingState
	timer Timer
	gen   uint64
}

func NewTypingCoordinator(sched Scheduler, idle time.Duration, emit func(bool) bool, post func(func())) *TypingCoordinator {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingCoordinator{sched: sched, idle: idle, emit: emit, post: post}
}

func (t *TypingCoordinator) State() TypingState { return t.state }

// Keystroke starts a burst or extends the current one.
func (t *TypingCoordinator) Keystroke() {
	if t.state == TypingIdle {
		if !t.emit(true) {
			return
		}
		t.state = TypingActive
	}
	t.arm()
}

// Stop ends the burst, emitting the off-signal if one is owed.
func (t *TypingCoordinator) Stop() {
	t.disarm()
	if t.state == TypingActive {
		t.state = TypingIdle
		t.emit(false)
	}
}

func (t *TypingCoordinator) arm() {
	t.disarm()
	gen := t.gen
	t.timer = t.sched.AfterFunc(t.idle, func() {
		t.post(func() { t.expire(gen) })
	})
}

func (t *TypingCoordinator) disarm() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *TypingCoordinator) expire(gen uint64) {
	if gen != t.gen {
		return
	}
	t.timer = nil
	t.Stop()
}

// PresenceBoard holds the current remote typer per conversation, last write wins.
type PresenceBoard struct {
	current map[string]model.TypingSignal
}

func NewPresenceBoard() *PresenceBoard {
	return &PresenceBoard{current: make(map[string]model.TypingSignal)}
}

func (p *PresenceBoard) Apply(s model.TypingSignal) {
	if !s.IsTyping {
		delete(p.current, s.ConversationID)
		return
	}
	p.current[s.ConversationID] = s
}

// ClearUser drops userID's indicator, e.g. once their message arrives.
func (p *PresenceBoard) ClearUser(conversationID, userID string) {
	if s, ok := p.current[conversationID]; ok && s.UserID == userID {
		delete(p.current, conversationID)
	}
}

func (p *PresenceBoard) Clear(conversationID string) {
	delete(p.current, conversationID)
}

func (p *PresenceBoard) Typer(conversationID string) (model.TypingSignal, bool) {
	s, ok := p.current[conversationID]
	return s, ok
}
