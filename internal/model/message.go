package model

import "time"

// Message is immutable once relayed, except IsRead which only goes false -> true.
type Message struct {
	ID             string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	Text           string    `json:"text"`
	IsRead         bool      `json:"isRead"`
	CreatedAt      time.Time `json:"createdAt"`

	// Client-side bookkeeping for optimistic rendering.
	ClientID string `json:"-"`
	Pending  bool   `json:"-"`
}

// TypingSignal is ephemeral presence; never persisted.
type TypingSignal struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}

// ReadReceipt says every message not sent by ReaderID in the conversation is now read.
type ReadReceipt struct {
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId,omitempty"`
}
