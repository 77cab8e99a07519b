package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"kno-canvas/internal/middleware"
)

// SetupRoutes wires the handlers. metrics and live may be nil.
func SetupRoutes(h *Handler, metrics http.Handler, live http.HandlerFunc, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()

	// Learning: Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware(logger))
	r.Use(middleware.ErrorRecoveryMiddleware(logger))
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", h.Health).Methods("GET")

	// Canvas documents
	api.HandleFunc("/canvases", h.ListCanvases).Methods("GET")
	api.HandleFunc("/canvases", h.CreateCanvas).Methods("POST")
	api.HandleFunc("/canvases/{id}", h.GetCanvas).Methods("GET")
	api.HandleFunc("/canvases/{id}", h.RenameCanvas).Methods("PATCH")
	api.HandleFunc("/canvases/{id}", h.DeleteCanvas).Methods("DELETE")
	api.HandleFunc("/canvases/{id}/activate", h.ActivateCanvas).Methods("POST")
	api.HandleFunc("/canvases/{id}/restore", h.RestoreCanvas).Methods("POST")

	// Active canvas
	api.HandleFunc("/canvas", h.View).Methods("GET")
	api.HandleFunc("/canvas/commands", h.Command).Methods("POST")
	api.HandleFunc("/canvas/undo", h.Undo).Methods("POST")
	api.HandleFunc("/canvas/redo", h.Redo).Methods("POST")
	api.HandleFunc("/canvas/export.md", h.ExportMarkdown).Methods("GET")
	api.HandleFunc("/canvas/export.png", h.ExportPNG).Methods("GET")

	// Note library
	api.HandleFunc("/notes", h.ListNotes).Methods("GET")
	api.HandleFunc("/notes", h.CreateNote).Methods("POST")
	api.HandleFunc("/notes/{id}", h.GetNote).Methods("GET")
	api.HandleFunc("/notes/{id}/links", h.NoteLinks).Methods("GET")

	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}
	if live != nil {
		r.HandleFunc("/ws/canvas", live)
	}

	return r
}
