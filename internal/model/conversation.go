package model

import "time"

type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation is a support thread between one employee and, once assigned, one admin.
type Conversation struct {
	ID            string             `json:"id"`
	EmployeeID    string             `json:"employeeId"`
	EmployeeName  string             `json:"employeeName"`
	EmployeeEmail string             `json:"employeeEmail"`
	AdminID       *string            `json:"adminId,omitempty"`
	Subject       string             `json:"subject"`
	Status        ConversationStatus `json:"status"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`

	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int      `json:"unreadCount"`
}

// IsParticipant reports whether the identity may see the conversation.
// Admins see every conversation.
func (c *Conversation) IsParticipant(id Identity) bool {
	if id.IsAdmin() {
		return true
	}
	return c.EmployeeID == id.UserID
}

// ConversationDetail is a conversation with its message history, oldest first.
type ConversationDetail struct {
	Conversation
	Messages []Message `json:"messages"`
}

// ListFilter narrows a conversation listing. Zero values mean "no filter".
type ListFilter struct {
	Status     ConversationStatus
	Search     string
	Limit      int
	EmployeeID string
}
