package handler

import (
	"net/http"

	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/middleware"
	"github.com/supportdesk/internal/storage"
	"github.com/supportdesk/internal/ws"
)

// AuthHandler отдаёт текущую identity и отзывает токен (logout).
// Токены выдаёт внешний сервис авторизации.
// После отзыва токена живой канал событий пользователя закрывается с кодом 4002.
type AuthHandler struct {
	store storage.TokenStore
	hub   *ws.Hub
}

func NewAuthHandler(store storage.TokenStore, hub *ws.Hub) *AuthHandler {
	return &AuthHandler{store: store, hub: hub}
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	who, ok := identity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, who)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	who, ok := identity(w, r)
	if !ok {
		return
	}
	token := middleware.BearerToken(r)
	if err := h.store.Revoke(r.Context(), token); err != nil {
		logger.Errorf("logout token=%s: %v", middleware.MaskToken(token), err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	if h.hub != nil {
		h.hub.DisconnectUser(who.UserID, ws.CloseRevoked, "session revoked")
	}
	w.WriteHeader(http.StatusNoContent)
}
