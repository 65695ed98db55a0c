package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// Stored media is public by URL; paths embed the owner and resource ids.
	mediaServer := http.StripPrefix("/media/", http.FileServer(http.Dir(apiHandler.blobStore.Root())))
	r.Get("/media/*", mediaServer.ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
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

			// Conversation routes
			r.Post("/chat", apiHandler.ChatStreamHandler)
			r.Get("/chat/sessions", apiHandler.ListSessionsHandler)
			r.Get("/chat/greeting", apiHandler.GreetingHandler)
			r.Get("/chat/{sessionID}/messages", apiHandler.SessionMessagesHandler)

			// Resource upload
			r.Post("/upload", apiHandler.UploadHandler)
		})
	})

	return r
}
