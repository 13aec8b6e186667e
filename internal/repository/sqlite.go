package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/migrations"
	_ "modernc.org/sqlite"
)

// SQLiteRepository implements Repository on a single SQLite file.
// Use ":memory:" for an in-memory database.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	scripts, err := migrations.Scripts("sqlite")
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, s := range scripts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// unreadPredicate selects messages unread by viewer: for admins, those sent by the
// conversation's employee; for employees, those sent by anyone else.
func unreadPredicate(viewer model.Identity) (string, []any) {
	if viewer.IsAdmin() {
		return `m.is_read = 0 AND m.sender_id = c.employee_id`, nil
	}
	return `m.is_read = 0 AND m.sender_id <> ?`, []any{viewer.UserID}
}

func (r *SQLiteRepository) ListConversations(ctx context.Context, viewer model.Identity, f model.ListFilter) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("sqlite.ListConversations", time.Now())()
	if !viewer.IsAdmin() {
		f.EmployeeID = viewer.UserID
	}

	pred, args := unreadPredicate(viewer)
	var b strings.Builder
	b.WriteString(`SELECT ` + conversationColumns + `,
		(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id AND ` + pred + `)
		 FROM conversations c WHERE 1 = 1`)
	if f.EmployeeID != "" {
		b.WriteString(` AND c.employee_id = ?`)
		args = append(args, f.EmployeeID)
	}
	if f.Status != "" {
		b.WriteString(` AND c.status = ?`)
		args = append(args, string(f.Status))
	}
	if q := normalizeSearch(f.Search); q != "" {
		b.WriteString(` AND lower(c.employee_name) LIKE '%' || ? || '%'`)
		args = append(args, q)
	}
	b.WriteString(` ORDER BY c.updated_at DESC, c.created_at DESC LIMIT ?`)
	args = append(args, normalizeLimit(f.Limit, 200))

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite.ListConversations query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := scanConversation(rows, &c, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("sqlite.ListConversations scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite.ListConversations rows: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) getConversation(ctx context.Context, op, where string, arg string) (*model.Conversation, error) {
	c := &model.Conversation{}
	err := scanConversation(r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE `+where, arg), c)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite.%s: %w", op, err)
	}
	return c, nil
}

func (r *SQLiteRepository) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("sqlite.GetConversation", time.Now())()
	return r.getConversation(ctx, "GetConversation", `c.id = ?`, id)
}

func (r *SQLiteRepository) FindOpenConversation(ctx context.Context, employeeID string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("sqlite.FindOpenConversation", time.Now())()
	return r.getConversation(ctx, "FindOpenConversation", `c.employee_id = ? AND c.status = 'open'`, employeeID)
}

func (r *SQLiteRepository) CreateConversation(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("sqlite.CreateConversation", time.Now())()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversations (id, employee_id, employee_name, employee_email, admin_id, subject, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.EmployeeID, c.EmployeeName, c.EmployeeEmail, c.AdminID, c.Subject, string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		existing, ferr := r.FindOpenConversation(ctx, c.EmployeeID)
		if ferr != nil {
			return fmt.Errorf("sqlite.CreateConversation after conflict: %w", ferr)
		}
		return &ExistsError{ExistingID: existing.ID}
	}
	if err != nil {
		return fmt.Errorf("sqlite.CreateConversation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) updateConversation(ctx context.Context, op, set string, args ...any) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("sqlite.%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite.%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) AssignAdmin(ctx context.Context, conversationID, adminID string) error {
	defer logger.DeferLogDuration("sqlite.AssignAdmin", time.Now())()
	return r.updateConversation(ctx, "AssignAdmin", `admin_id = ?, updated_at = ?`, adminID, utcNow(), conversationID)
}

func (r *SQLiteRepository) CloseConversation(ctx context.Context, conversationID string) error {
	defer logger.DeferLogDuration("sqlite.CloseConversation", time.Now())()
	return r.updateConversation(ctx, "CloseConversation", `status = 'closed', updated_at = ?`, utcNow(), conversationID)
}

func (r *SQLiteRepository) CreateMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("sqlite.CreateMessage", time.Now())()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite.CreateMessage begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, sender_name, body, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.SenderName, m.Text, m.IsRead, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("sqlite.CreateMessage insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, m.CreatedAt, m.ConversationID,
	); err != nil {
		return fmt.Errorf("sqlite.CreateMessage touch: %w", err)
	}
	return tx.Commit()
}

func (r *SQLiteRepository) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("sqlite.ListMessages", time.Now())()
	limit = normalizeLimit(limit, 500)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages m
		 WHERE m.conversation_id = ?
		 ORDER BY m.seq DESC
		 LIMIT ?`, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite.ListMessages query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("sqlite.ListMessages scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite.ListMessages rows: %w", err)
	}
	reverse(msgs)
	return msgs, nil
}

func (r *SQLiteRepository) LastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	defer logger.DeferLogDuration("sqlite.LastMessage", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages m
		 WHERE m.conversation_id = ? ORDER BY m.seq DESC LIMIT 1`, conversationID), m)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite.LastMessage: %w", err)
	}
	return m, nil
}

func (r *SQLiteRepository) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	defer logger.DeferLogDuration("sqlite.MarkRead", time.Now())()
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1
		 WHERE conversation_id = ? AND sender_id <> ? AND is_read = 0`,
		conversationID, readerID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite.MarkRead: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) UnreadCount(ctx context.Context, viewer model.Identity) (int, error) {
	defer logger.DeferLogDuration("sqlite.UnreadCount", time.Now())()
	pred, args := unreadPredicate(viewer)
	q := `SELECT COUNT(*) FROM messages m JOIN conversations c ON c.id = m.conversation_id WHERE ` + pred
	if !viewer.IsAdmin() {
		q += ` AND c.employee_id = ?`
		args = append(args, viewer.UserID)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite.UnreadCount: %w", err)
	}
	return n, nil
}
