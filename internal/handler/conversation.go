package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/repository"
	"github.com/supportdesk/internal/ws"
)

const historyLimit = 200

type ConversationHandler struct {
	repo repository.Repository
	hub  *ws.Hub
}

func NewConversationHandler(repo repository.Repository, hub *ws.Hub) *ConversationHandler {
	return &ConversationHandler{repo: repo, hub: hub}
}

type CreateConversationRequest struct {
	Subject string `json:"subject"`
	Message string `json:"message,omitempty"`
}

// List: админ видит все диалоги, сотрудник только свои.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.ListConversations", time.Now())()
	viewer, ok := identity(w, r)
	if !ok {
		return
	}
	f := model.ListFilter{
		Status: model.ConversationStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
		Limit:  queryInt(r, "limit", 0),
	}
	if f.Status != "" && f.Status != model.ConversationOpen && f.Status != model.ConversationClosed {
		writeError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}

	convs, err := h.repo.ListConversations(r.Context(), viewer, f)
	if err != nil {
		writeDomainError(w, "list conversations", err)
		return
	}
	for i := range convs {
		last, err := h.repo.LastMessage(r.Context(), convs[i].ID)
		if err != nil {
			logger.Errorf("last message conversation=%s: %v", convs[i].ID, err)
			continue
		}
		convs[i].LastMessage = last
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.GetConversation", time.Now())()
	viewer, ok := identity(w, r)
	if !ok {
		return
	}
	conv, err := h.repo.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "get conversation", err)
		return
	}
	if !conv.IsParticipant(viewer) {
		writeDomainError(w, "get conversation", ws.ErrForbidden)
		return
	}
	limit := queryInt(r, "limit", historyLimit)
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}
	msgs, err := h.repo.ListMessages(r.Context(), conv.ID, limit)
	if err != nil {
		writeDomainError(w, "list messages", err)
		return
	}
	writeJSON(w, http.StatusOK, model.ConversationDetail{Conversation: *conv, Messages: msgs})
}

// Create открывает диалог сотрудника. Если открытый уже есть, отвечает 409 с его id.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.CreateConversation", time.Now())()
	who, ok := identity(w, r)
	if !ok {
		return
	}
	if who.IsAdmin() {
		writeError(w, http.StatusForbidden, "admins cannot open conversations")
		return
	}
	var req CreateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:            uuid.NewString(),
		EmployeeID:    who.UserID,
		EmployeeName:  who.Name,
		EmployeeEmail: who.Email,
		Subject:       strings.TrimSpace(req.Subject),
		Status:        model.ConversationOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.repo.CreateConversation(r.Context(), conv); err != nil {
		writeDomainError(w, "create conversation", err)
		return
	}
	if strings.TrimSpace(req.Message) != "" {
		m, err := h.hub.Relay(r.Context(), who, conv.ID, req.Message, "")
		if err != nil {
			logger.Errorf("first message conversation=%s: %v", conv.ID, err)
		} else {
			conv.LastMessage = m
		}
	}
	h.hub.NotifyNewConversation(conv)
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) Assign(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, "assign conversation", func(id string, admin model.Identity) error {
		return h.repo.AssignAdmin(r.Context(), id, admin.UserID)
	})
}

// Close закрывает диалог; дальнейшие отправки отклоняются.
func (h *ConversationHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, "close conversation", func(id string, _ model.Identity) error {
		return h.repo.CloseConversation(r.Context(), id)
	})
}

func (h *ConversationHandler) adminAction(w http.ResponseWriter, r *http.Request, op string, fn func(id string, admin model.Identity) error) {
	defer logger.DeferLogDuration("handler."+op, time.Now())()
	who, ok := identity(w, r)
	if !ok {
		return
	}
	if !who.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}
	id := chi.URLParam(r, "id")
	if err := fn(id, who); err != nil {
		writeDomainError(w, op, err)
		return
	}
	conv, err := h.repo.GetConversation(r.Context(), id)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
