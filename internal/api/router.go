package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/logger"
)

func NewRouter(apiHandler *APIHandler, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(logger.RequestLogger(log))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes live under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			// Retrieval-augmented chat
			r.Post("/chat/rag", apiHandler.ChatRAGHandler)

			// Document lifecycle
			r.Get("/docs", apiHandler.ListDocsHandler)
			r.Post("/docs/upload", apiHandler.UploadDocHandler)
			r.Post("/docs/reset", apiHandler.ResetDocsHandler)

			// Profile (embedding credential)
			r.Get("/profile", apiHandler.GetProfileHandler)
			r.Put("/profile", apiHandler.PutProfileHandler)

			// Conversations
			r.Post("/conversations", apiHandler.CreateConversationHandler)
			r.Get("/conversations", apiHandler.ListConversationsHandler)
			r.Get("/conversations/{conversationID}", apiHandler.GetConversationHandler)
			r.Post("/conversations/{conversationID}/messages", apiHandler.PostMessageHandler)
			r.Post("/generate-title", apiHandler.GenerateTitleHandler)
		})
	})

	return r
}
