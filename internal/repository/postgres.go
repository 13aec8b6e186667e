package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/model"
)

const pgUniqueViolation = "23505"

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PGRepository) ListConversations(ctx context.Context, viewer model.Identity, f model.ListFilter) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("pg.ListConversations", time.Now())()
	if !viewer.IsAdmin() {
		f.EmployeeID = viewer.UserID
	}

	sql := `SELECT ` + conversationColumns + `,
		(SELECT COUNT(*) FROM messages m
		  WHERE m.conversation_id = c.id AND m.is_read = false
		    AND (($1::boolean AND m.sender_id = c.employee_id) OR (NOT $1::boolean AND m.sender_id <> $2))) AS unread
		 FROM conversations c WHERE true`
	args := []any{viewer.IsAdmin(), viewer.UserID}
	if f.EmployeeID != "" {
		args = append(args, f.EmployeeID)
		sql += ` AND c.employee_id = $` + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		sql += ` AND c.status = $` + strconv.Itoa(len(args))
	}
	if q := normalizeSearch(f.Search); q != "" {
		args = append(args, q)
		sql += ` AND c.employee_name ILIKE '%' || $` + strconv.Itoa(len(args)) + ` || '%'`
	}
	args = append(args, normalizeLimit(f.Limit, 200))
	sql += ` ORDER BY c.updated_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pg.ListConversations query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := scanConversation(rows, &c, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("pg.ListConversations scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg.ListConversations rows: %w", err)
	}
	return out, nil
}

func (r *PGRepository) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("pg.GetConversation", time.Now())()
	c := &model.Conversation{}
	err := scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, id), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg.GetConversation: %w", err)
	}
	return c, nil
}

func (r *PGRepository) FindOpenConversation(ctx context.Context, employeeID string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("pg.FindOpenConversation", time.Now())()
	c := &model.Conversation{}
	err := scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c
		 WHERE c.employee_id = $1 AND c.status = 'open'`, employeeID), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg.FindOpenConversation: %w", err)
	}
	return c, nil
}

func (r *PGRepository) CreateConversation(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("pg.CreateConversation", time.Now())()
	existing, err := r.FindOpenConversation(ctx, c.EmployeeID)
	if err == nil {
		return &ExistsError{ExistingID: existing.ID}
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO conversations (id, employee_id, employee_name, employee_email, admin_id, subject, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.EmployeeID, c.EmployeeName, c.EmployeeEmail, c.AdminID, c.Subject, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		// Lost the race against a concurrent create for the same employee.
		existing, ferr := r.FindOpenConversation(ctx, c.EmployeeID)
		if ferr != nil {
			return fmt.Errorf("pg.CreateConversation after conflict: %w", ferr)
		}
		return &ExistsError{ExistingID: existing.ID}
	}
	if err != nil {
		return fmt.Errorf("pg.CreateConversation: %w", err)
	}
	return nil
}

func (r *PGRepository) AssignAdmin(ctx context.Context, conversationID, adminID string) error {
	defer logger.DeferLogDuration("pg.AssignAdmin", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET admin_id = $1, updated_at = $2 WHERE id = $3`,
		adminID, utcNow(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("pg.AssignAdmin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) CloseConversation(ctx context.Context, conversationID string) error {
	defer logger.DeferLogDuration("pg.CloseConversation", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET status = 'closed', updated_at = $1 WHERE id = $2`,
		utcNow(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("pg.CloseConversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) CreateMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("pg.CreateMessage", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, sender_id, sender_name, body, is_read, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.ID, m.ConversationID, m.SenderID, m.SenderName, m.Text, m.IsRead, m.CreatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`, m.CreatedAt, m.ConversationID)
		return err
	})
	if err != nil {
		return fmt.Errorf("pg.CreateMessage: %w", err)
	}
	return nil
}

func (r *PGRepository) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("pg.ListMessages", time.Now())()
	limit = normalizeLimit(limit, 500)
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages m
		 WHERE m.conversation_id = $1
		 ORDER BY m.seq DESC
		 LIMIT $2`, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pg.ListMessages query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("pg.ListMessages scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg.ListMessages rows: %w", err)
	}
	reverse(msgs)
	return msgs, nil
}

func (r *PGRepository) LastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	defer logger.DeferLogDuration("pg.LastMessage", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages m
		 WHERE m.conversation_id = $1 ORDER BY m.seq DESC LIMIT 1`, conversationID), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pg.LastMessage: %w", err)
	}
	return m, nil
}

func (r *PGRepository) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	defer logger.DeferLogDuration("pg.MarkRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = true
		 WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = false`,
		conversationID, readerID,
	)
	if err != nil {
		return 0, fmt.Errorf("pg.MarkRead: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) UnreadCount(ctx context.Context, viewer model.Identity) (int, error) {
	defer logger.DeferLogDuration("pg.UnreadCount", time.Now())()
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE m.is_read = false
		   AND (($1::boolean AND m.sender_id = c.employee_id)
		     OR (NOT $1::boolean AND c.employee_id = $2 AND m.sender_id <> $2))`,
		viewer.IsAdmin(), viewer.UserID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pg.UnreadCount: %w", err)
	}
	return n, nil
}
