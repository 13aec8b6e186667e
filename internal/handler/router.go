package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/supportdesk/internal/middleware"
	"github.com/supportdesk/internal/repository"
	"github.com/supportdesk/internal/storage"
	"github.com/supportdesk/internal/ws"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Repo        repository.Repository
	Hub         *ws.Hub
	Tokens      storage.TokenStore
	CORSOrigins []string
	RateRPS     float64
	RateBurst   int
}

// NewRouter wires the REST endpoints and the /ws event channel.
func NewRouter(d Deps) http.Handler {
	convH := NewConversationHandler(d.Repo, d.Hub)
	msgH := NewMessageHandler(d.Repo, d.Hub)
	authH := NewAuthHandler(d.Tokens, d.Hub)
	wsH := NewWSHandler(d.Hub, d.CORSOrigins)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(d.Tokens))
		r.Use(middleware.RateLimit(d.RateRPS, d.RateBurst))

		r.Get("/api/me", authH.Me)
		r.Delete("/api/session", authH.Logout)

		r.Get("/api/conversations", convH.List)
		r.Post("/api/conversations", convH.Create)
		r.Get("/api/conversations/{id}", convH.Get)
		r.Post("/api/conversations/{id}/messages", msgH.Send)
		r.Post("/api/conversations/{id}/read", msgH.MarkRead)
		r.Post("/api/conversations/{id}/assign", convH.Assign)
		r.Post("/api/conversations/{id}/close", convH.Close)
		r.Get("/api/unread-count", msgH.UnreadCount)

		r.Get("/ws", wsH.ServeWS)
	})
	return r
}
