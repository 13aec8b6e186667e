package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/repository"
	"github.com/supportdesk/internal/ws"
)

type MessageHandler struct {
	repo repository.Repository
	hub  *ws.Hub
}

func NewMessageHandler(repo repository.Repository, hub *ws.Hub) *MessageHandler {
	return &MessageHandler{repo: repo, hub: hub}
}

type SendMessageRequest struct {
	Message     string `json:"message"`
	ClientMsgID string `json:"clientMsgId,omitempty"`
}

// Send is the REST fallback of the relay: same validation, ordering and broadcast.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.SendMessage", time.Now())()
	who, ok := identity(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.hub.Relay(r.Context(), who, chi.URLParam(r, "id"), req.Message, req.ClientMsgID)
	if err != nil {
		writeDomainError(w, "send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.MarkRead", time.Now())()
	who, ok := identity(w, r)
	if !ok {
		return
	}
	n, err := h.hub.MarkRead(r.Context(), who, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "mark read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

func (h *MessageHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.UnreadCount", time.Now())()
	who, ok := identity(w, r)
	if !ok {
		return
	}
	n, err := h.repo.UnreadCount(r.Context(), who)
	if err != nil {
		writeDomainError(w, "unread count", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}
