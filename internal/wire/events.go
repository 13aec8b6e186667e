// Package wire defines the frames exchanged over the event channel.
// Every frame is a flat JSON object with a "type" discriminator.
package wire

import "github.com/supportdesk/internal/model"

type EventType string

const (
	// client -> server
	EventJoinConversation  EventType = "join_conversation"
	EventLeaveConversation EventType = "leave_conversation"
	EventSendMessage       EventType = "send_message"

	// both directions
	EventTyping      EventType = "typing"
	EventReadReceipt EventType = "read_receipt"

	// server -> client
	EventNewMessage      EventType = "new_message"
	EventNewConversation EventType = "new_conversation"
	EventJoined          EventType = "joined"
	EventLeft            EventType = "left"
	EventError           EventType = "error"
)

// CloseSuperseded is the websocket close code of a connection replaced by a
// newer one for the same user. Clients must not reconnect after it.
const CloseSuperseded = 4001

// CloseRevoked closes a connection whose bearer token was revoked. The client
// must re-authenticate instead of reconnecting.
const CloseRevoked = 4002

// MaxMessageLength is the longest accepted message body, in runes.
const MaxMessageLength = 4000

type ErrorCode string

const (
	CodeValidation ErrorCode = "validation"
	CodeRejected   ErrorCode = "rejected"
	CodeForbidden  ErrorCode = "forbidden"
	CodeNotFound   ErrorCode = "not_found"
	CodeBadRequest ErrorCode = "bad_request"
	CodeInternal   ErrorCode = "internal"
)

// Inbound is what the client sends to the server.
type Inbound struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	Message        string    `json:"message,omitempty"`
	ClientMsgID    string    `json:"clientMsgId,omitempty"`
	IsTyping       *bool     `json:"isTyping,omitempty"`
}

// Outbound is what the server sends to the client.
type Outbound struct {
	Type           EventType           `json:"type"`
	ConversationID string              `json:"conversationId,omitempty"`
	Message        *model.Message      `json:"message,omitempty"`
	ClientMsgID    string              `json:"clientMsgId,omitempty"`
	IsTyping       *bool               `json:"isTyping,omitempty"`
	UserID         string              `json:"userId,omitempty"`
	UserName       string              `json:"userName,omitempty"`
	ReaderID       string              `json:"readerId,omitempty"`
	Conversation   *model.Conversation `json:"conversation,omitempty"`
	Code           ErrorCode           `json:"code,omitempty"`
	Error          string              `json:"error,omitempty"`
}

// Scoped reports whether the frame belongs to a single conversation room.
func (o Outbound) Scoped() bool {
	switch o.Type {
	case EventNewMessage, EventTyping, EventReadReceipt:
		return true
	}
	return false
}

func Bool(b bool) *bool { return &b }

func Join(conversationID string) Inbound {
	return Inbound{Type: EventJoinConversation, ConversationID: conversationID}
}

func Leave(conversationID string) Inbound {
	return Inbound{Type: EventLeaveConversation, ConversationID: conversationID}
}

func Send(conversationID, text, clientMsgID string) Inbound {
	return Inbound{Type: EventSendMessage, ConversationID: conversationID, Message: text, ClientMsgID: clientMsgID}
}

func Typing(conversationID string, on bool) Inbound {
	return Inbound{Type: EventTyping, ConversationID: conversationID, IsTyping: Bool(on)}
}

func Read(conversationID string) Inbound {
	return Inbound{Type: EventReadReceipt, ConversationID: conversationID}
}

func NewMessage(m *model.Message, clientMsgID string) Outbound {
	return Outbound{Type: EventNewMessage, ConversationID: m.ConversationID, Message: m, ClientMsgID: clientMsgID}
}

func TypingSignal(s model.TypingSignal) Outbound {
	return Outbound{Type: EventTyping, ConversationID: s.ConversationID, IsTyping: Bool(s.IsTyping), UserID: s.UserID, UserName: s.UserName}
}

func Receipt(r model.ReadReceipt) Outbound {
	return Outbound{Type: EventReadReceipt, ConversationID: r.ConversationID, ReaderID: r.ReaderID}
}

func NewConversation(c *model.Conversation) Outbound {
	return Outbound{Type: EventNewConversation, Conversation: c}
}

func Joined(conversationID string) Outbound {
	return Outbound{Type: EventJoined, ConversationID: conversationID}
}

func Left(conversationID string) Outbound {
	return Outbound{Type: EventLeft, ConversationID: conversationID}
}

func Error(code ErrorCode, conversationID, clientMsgID, text string) Outbound {
	return Outbound{Type: EventError, Code: code, ConversationID: conversationID, ClientMsgID: clientMsgID, Error: text}
}
