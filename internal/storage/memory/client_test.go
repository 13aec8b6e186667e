package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/storage"
)

func TestPutIdentityRevoke(t *testing.T) {
	ctx := context.Background()
	c := New()
	id := model.Identity{UserID: "u1", Name: "Alice", Role: model.RoleEmployee}

	require.NoError(t, c.Put(ctx, "tok", id, 0))
	got, err := c.Identity(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, id, *got)

	require.NoError(t, c.Revoke(ctx, "tok"))
	_, err = c.Identity(ctx, "tok")
	assert.ErrorIs(t, err, storage.ErrUnknownToken)
}

func TestExpiredTokenIsUnknown(t *testing.T) {
	ctx := context.Background()
	c := New()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(ctx, "tok", model.Identity{UserID: "u1"}, time.Minute))
	now = now.Add(2 * time.Minute)

	_, err := c.Identity(ctx, "tok")
	assert.ErrorIs(t, err, storage.ErrUnknownToken)
}
