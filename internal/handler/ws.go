package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/middleware"
	"github.com/supportdesk/internal/ws"
)

// WSHandler upgrades /ws to the event channel. Identity is resolved by BearerAuth
// before the upgrade, so a bad token is answered with 401 during the handshake.
type WSHandler struct {
	hub      *ws.Hub
	anyOrig  bool
	origins  map[string]struct{}
	upgrader websocket.Upgrader
}

// NewWSHandler принимает тот же список origin, что и CORS: пустой список или "*" разрешают любой.
func NewWSHandler(hub *ws.Hub, allowedOrigins []string) *WSHandler {
	h := &WSHandler{hub: hub, origins: make(map[string]struct{}, len(allowedOrigins))}
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			h.anyOrig = true
		}
		if o != "" {
			h.origins[o] = struct{}{}
		}
	}
	h.anyOrig = h.anyOrig || len(h.origins) == 0
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

// originAllowed passes requests without Origin: native clients do not send one.
func (h *WSHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || h.anyOrig {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	who, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.originAllowed(r) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.Warnf("ws upgrade user=%s: %v", who.UserID, err)
		return
	}

	// The connection outlives the request, so it gets its own context.
	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, who)
	h.hub.Register(client)
	client.Start(ctx, cancel)
}
