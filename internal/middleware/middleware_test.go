package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/storage/memory"
)

func whoami(w http.ResponseWriter, r *http.Request) {
	id, _ := GetIdentity(r.Context())
	_, _ = w.Write([]byte(id.UserID))
}

func TestBearerAuth(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Put(context.Background(), "good-token", model.Identity{UserID: "u1"}, 0))
	h := BearerAuth(store)(http.HandlerFunc(whoami))

	cases := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{name: "header", header: "Bearer good-token", status: http.StatusOK, body: "u1"},
		{name: "lowercase scheme", header: "bearer good-token", status: http.StatusOK, body: "u1"},
		{name: "query", query: "?token=good-token", status: http.StatusOK, body: "u1"},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "unknown", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good-token", status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/x"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestRateLimitPerUser(t *testing.T) {
	h := RateLimit(1, 2)(http.HandlerFunc(whoami))
	call := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		req = req.WithContext(WithIdentity(req.Context(), model.Identity{UserID: user}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusTooManyRequests, call("a"))
	assert.Equal(t, http.StatusOK, call("b"), "limits are per user")
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("short"))
	assert.Equal(t, "abcd***", MaskToken("abcdefghijkl"))
}
