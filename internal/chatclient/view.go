package chatclient

import "github.com/supportdesk/internal/model"

// ConversationView is the ordered message list of one open conversation.
// Messages keep receipt order; a messageId is never rendered twice.
type ConversationView struct {
	ConversationID string

	messages []model.Message
	byID     map[string]int
	pending  map[string]int // clientMsgId -> index of optimistic copy
}

func NewConversationView(conversationID string) *ConversationView {
	return &ConversationView{
		ConversationID: conversationID,
		byID:           make(map[string]int),
		pending:        make(map[string]int),
	}
}

// Load installs fetched history, oldest first. Messages received live
// before the history arrived stay after it; a read flag is never cleared.
func (v *ConversationView) Load(history []model.Message) {
	live := v.messages
	known := make(map[string]bool, len(live))
	for _, m := range live {
		if !m.Pending && m.IsRead {
			known[m.ID] = true
		}
	}
	merged := make([]model.Message, 0, len(history)+len(live))
	inHistory := make(map[string]bool, len(history))
	for _, m := range history {
		if inHistory[m.ID] {
			continue
		}
		inHistory[m.ID] = true
		m.IsRead = m.IsRead || known[m.ID]
		merged = append(merged, m)
	}
	for _, m := range live {
		if !m.Pending && inHistory[m.ID] {
			continue
		}
		merged = append(merged, m)
	}
	v.messages = merged
	v.reindex()
}

// AddPending renders an optimistic copy until the relay echoes it back.
func (v *ConversationView) AddPending(m model.Message) {
	m.Pending = true
	v.pending[m.ClientID] = len(v.messages)
	v.messages = append(v.messages, m)
}

// Apply adds an authoritative message. A known messageId is discarded;
// a matching clientMsgId replaces the optimistic copy in place.
// It reports whether the view changed.
func (v *ConversationView) Apply(m model.Message, clientMsgID string) bool {
	if _, ok := v.byID[m.ID]; ok {
		if clientMsgID != "" {
			v.DropPending(clientMsgID)
		}
		return false
	}
	m.Pending = false
	if i, ok := v.pending[clientMsgID]; ok && clientMsgID != "" {
		delete(v.pending, clientMsgID)
		m.ClientID = clientMsgID
		v.messages[i] = m
		v.byID[m.ID] = i
		return true
	}
	v.byID[m.ID] = len(v.messages)
	v.messages = append(v.messages, m)
	return true
}

// DropPending removes an optimistic copy the relay refused.
func (v *ConversationView) DropPending(clientMsgID string) bool {
	i, ok := v.pending[clientMsgID]
	if !ok {
		return false
	}
	v.messages = append(v.messages[:i], v.messages[i+1:]...)
	v.reindex()
	return true
}

func (v *ConversationView) reindex() {
	clear(v.byID)
	clear(v.pending)
	for i, m := range v.messages {
		if m.Pending {
			v.pending[m.ClientID] = i
			continue
		}
		v.byID[m.ID] = i
	}
}

// MarkOthersRead flips every unread message not sent by self and returns how many changed.
func (v *ConversationView) MarkOthersRead(selfID string) int {
	n := 0
	for i := range v.messages {
		m := &v.messages[i]
		if m.Pending || m.SenderID == selfID || m.IsRead {
			continue
		}
		m.IsRead = true
		n++
	}
	return n
}

// ApplyReceipt marks read every message readerID did not send. Never unmarks.
func (v *ConversationView) ApplyReceipt(readerID string) int {
	return v.MarkOthersRead(readerID)
}

func (v *ConversationView) Messages() []model.Message {
	out := make([]model.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

func (v *ConversationView) Len() int { return len(v.messages) }
