package middleware

import (
	"context"

	"github.com/supportdesk/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity кладёт identity в контекст (BearerAuth, тесты).
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity возвращает identity из контекста (устанавливается BearerAuth).
func GetIdentity(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey).(model.Identity)
	return id, ok
}

func GetUserID(ctx context.Context) string {
	id, _ := GetIdentity(ctx)
	return id.UserID
}
