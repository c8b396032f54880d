package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tapping/internal/contact"
	"github.com/kalambet/tapping/internal/storage"
	"github.com/kalambet/tapping/internal/vcard"
)

func (h *handler) handleListContacts(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20, 100)
	offset := parseIntParam(r, "offset", 0, 0)

	contacts, err := h.deps.Store.ListContacts(limit, offset)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to list contacts: %v", err)
		return
	}
	total, err := h.deps.Store.CountContacts()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to count contacts: %v", err)
		return
	}

	if contacts == nil {
		contacts = []contact.Contact{}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	writeJSON(w, http.StatusOK, contacts)
}

// handleSaveContact stores a contact built by an earlier scan whose save
// failed. The contact is stored as given once its timestamps are ordered.
func (h *handler) handleSaveContact(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var c contact.Contact
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if c.ID == "" || c.Name == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "id and name are required")
		return
	}
	if c.CreatedAt > c.UpdatedAt {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "createdAt %d is after updatedAt %d", c.CreatedAt, c.UpdatedAt)
		return
	}
	if c.SocialLinks == nil {
		c.SocialLinks = []contact.SocialLink{}
	}
	if err := h.deps.Store.SaveContact(c); err != nil {
		httpError(w, http.StatusServiceUnavailable, "api_error", "failed to save contact: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *handler) contactByID(w http.ResponseWriter, r *http.Request) (contact.Contact, bool) {
	id := chi.URLParam(r, "id")
	c, err := h.deps.Store.GetContact(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "contact not found")
		return contact.Contact{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get contact: %v", err)
		return contact.Contact{}, false
	}
	return c, true
}

func (h *handler) handleGetContact(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contactByID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	err := h.deps.Store.DeleteContact(chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "contact not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to delete contact: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (h *handler) handleExportVCard(w http.ResponseWriter, r *http.Request) {
	c, ok := h.contactByID(w, r)
	if !ok {
		return
	}
	name := strings.Trim(unsafeFilename.ReplaceAllString(c.Name, "_"), "_")
	if name == "" {
		name = "contact"
	}
	w.Header().Set("Content-Type", "text/vcard; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.vcf"`)
	w.Write([]byte(vcard.EncodeContact(c)))
}

func (h *handler) handleSetTags(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var body struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	id := chi.URLParam(r, "id")
	err := h.deps.Store.UpdateContactTags(id, body.Tags, time.Now().UnixMilli())
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "contact not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to update tags: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.deps.Store.GetProfile(chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "profile not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) handlePublishProfile(w http.ResponseWriter, r *http.Request) {
	if h.deps.Directory == nil {
		httpError(w, http.StatusNotImplemented, "api_error", "profile directory not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	// A profile published without isActive is live.
	var body struct {
		contact.Profile
		IsActive *bool `json:"isActive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	p := body.Profile
	p.IsActive = body.IsActive == nil || *body.IsActive
	p.ID = chi.URLParam(r, "id")
	if p.Name == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
		return
	}
	if p.SocialLinks == nil {
		p.SocialLinks = []contact.SocialLink{}
	}
	if err := h.deps.Directory.Publish(p); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to publish profile: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "published", "id": p.ID})
}
