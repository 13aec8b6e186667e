package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/storage"
)

// BearerToken извлекает токен из "Authorization: Bearer ..." или из ?token= (браузерный WebSocket не умеет заголовки).
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// BearerAuth resolves the bearer token to an identity or answers 401.
func BearerAuth(store storage.TokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			id, err := store.Identity(r.Context(), token)
			if err != nil {
				if !errors.Is(err, storage.ErrUnknownToken) {
					logger.Errorf("auth: token store token=%s: %v", MaskToken(token), err)
				}
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), *id)))
		})
	}
}
