// Package api exposes scanning and the contact book over HTTP and MCP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tapping/internal/directory"
	"github.com/kalambet/tapping/internal/scan"
	"github.com/kalambet/tapping/internal/storage"
)

// Deps are the collaborators of the HTTP handler.
type Deps struct {
	Store     *storage.Store
	Directory *directory.Directory
	// Scan configures the controller built for each scan request. A nil
	// Scan.Store defaults to Store and a nil Scan.Profiles to Directory.
	Scan   scan.Deps
	Token  string
	Logger *slog.Logger
}

type handler struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandler returns the HTTP API. /health is unauthenticated; every other
// route requires the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	if deps.Scan.Store == nil && deps.Store != nil {
		deps.Scan.Store = deps.Store
	}
	if deps.Scan.Profiles == nil && deps.Directory != nil {
		deps.Scan.Profiles = deps.Directory
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Scan.Logger == nil {
		deps.Scan.Logger = logger
	}
	h := &handler{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Post("/scans", h.handleScan)
		r.Post("/scans/image", h.handleEnqueueImage)
		r.Get("/scans/jobs/{id}", h.handleGetJob)

		r.Get("/contacts", h.handleListContacts)
		r.Post("/contacts", h.handleSaveContact)
		r.Get("/contacts/{id}", h.handleGetContact)
		r.Delete("/contacts/{id}", h.handleDeleteContact)
		r.Get("/contacts/{id}/vcard", h.handleExportVCard)
		r.Put("/contacts/{id}/tags", h.handleSetTags)

		r.Get("/profiles/{id}", h.handleGetProfile)
		r.Put("/profiles/{id}", h.handlePublishProfile)

		r.Post("/tags/decode", handleDecodeTag)
		r.Post("/tags/encode", handleEncodeTag)
		r.Get("/tags/{id}/interactions", h.handleTagInteractions)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
