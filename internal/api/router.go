package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler, staticDir string, debugEndpoints bool) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Chat routes
		r.Post("/chat/new", apiHandler.NewThreadHandler)
		r.Post("/chat", apiHandler.ChatHandler)
		r.Get("/chat/history", apiHandler.HistoryHandler)
		r.Get("/chat/list", apiHandler.ListThreadsHandler)
		r.Get("/chat/threads/{threadID}/messages", apiHandler.ThreadMessagesHandler)
		r.Delete("/chat/threads/{threadID}", apiHandler.DeleteThreadHandler)
		r.Post("/chat/summarize", apiHandler.SummarizeHandler)

		// File routes
		r.Post("/files/upload", apiHandler.UploadFileHandler)
		r.Delete("/files/{fileID}", apiHandler.DeleteFileHandler)
		r.Get("/files/*", apiHandler.DownloadFileHandler) // storage keys contain slashes

		if debugEndpoints {
			r.Get("/debug/files", apiHandler.DebugFilesHandler)
		}
	})

	// Everything else falls through to the static UI assets.
	fileServer := http.FileServer(http.Dir(staticDir))
	r.NotFound(fileServer.ServeHTTP)

	return r
}
