package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/supportdesk/internal/model"
)

var ErrNotFound = errors.New("not found")

// ExistsError is returned by CreateConversation when the employee already has an
// open conversation. The unique open-conversation index decides between
// concurrent creators; the loser receives the winner's id here.
type ExistsError struct {
	ExistingID string
}

func (e *ExistsError) Error() string {
	return "open conversation already exists: " + e.ExistingID
}

const defaultListLimit = 50

// Repository is the durable store behind the chat channel.
// Implementations: PGRepository (pgx) and SQLiteRepository (modernc.org/sqlite).
type Repository interface {
	ListConversations(ctx context.Context, viewer model.Identity, f model.ListFilter) ([]model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	FindOpenConversation(ctx context.Context, employeeID string) (*model.Conversation, error)
	CreateConversation(ctx context.Context, c *model.Conversation) error
	AssignAdmin(ctx context.Context, conversationID, adminID string) error
	CloseConversation(ctx context.Context, conversationID string) error

	CreateMessage(ctx context.Context, m *model.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	LastMessage(ctx context.Context, conversationID string) (*model.Message, error)
	// MarkRead flips is_read on messages not sent by readerID and returns how many changed.
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
	UnreadCount(ctx context.Context, viewer model.Identity) (int, error)

	Close() error
}

type rowScanner interface {
	Scan(dest ...any) error
}

const conversationColumns = `c.id, c.employee_id, c.employee_name, c.employee_email, c.admin_id, c.subject, c.status, c.created_at, c.updated_at`

func scanConversation(row rowScanner, c *model.Conversation, extra ...any) error {
	dest := []any{&c.ID, &c.EmployeeID, &c.EmployeeName, &c.EmployeeEmail, &c.AdminID,
		&c.Subject, &c.Status, &c.CreatedAt, &c.UpdatedAt}
	return row.Scan(append(dest, extra...)...)
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.sender_name, m.body, m.is_read, m.created_at`

func scanMessage(row rowScanner, m *model.Message) error {
	return row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Text, &m.IsRead, &m.CreatedAt)
}

func normalizeLimit(limit, max int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > max {
		return max
	}
	return limit
}

func normalizeSearch(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// reverse turns a newest-first page into oldest-first order.
func reverse(msgs []model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func utcNow() time.Time { return time.Now().UTC() }
