package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tapping/internal/contact"
	"github.com/kalambet/tapping/internal/storage"
	"github.com/kalambet/tapping/internal/tag"
)

// TagDecodeResponse describes a decoded tag payload.
type TagDecodeResponse struct {
	Type    tag.Type `json:"type"`
	Content any      `json:"content"`
}

func handleDecodeTag(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var body struct {
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	d := tag.Decode(body.Payload)
	writeJSON(w, http.StatusOK, TagDecodeResponse{Type: d.Type(), Content: tag.Content(d)})
}

// TagEncodeResponse is the record to write to a tag. Payload is the record
// text: the envelope for profile and contact, the URL for url.
type TagEncodeResponse struct {
	Payload string     `json:"payload"`
	Record  tag.Record `json:"record"`
}

func handleEncodeTag(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var body struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	typ, err := tag.ParseType(body.Type)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	v, err := decodeTagData(typ, body.Data)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid %s data: %v", typ, err)
		return
	}
	rec, err := tag.Encode(typ, v)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}

	var text string
	if rec.Type == tag.RecordTypeURI {
		text = tag.URIFromPayload(rec.Payload)
	} else if text, err = tag.TextFromPayload(rec.Payload); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, TagEncodeResponse{Payload: text, Record: rec})
}

func decodeTagData(typ tag.Type, data json.RawMessage) (any, error) {
	switch typ {
	case tag.TypeProfile:
		var p contact.Profile
		err := json.Unmarshal(data, &p)
		return p, err
	case tag.TypeContact:
		var info contact.ContactInfo
		err := json.Unmarshal(data, &info)
		return info, err
	}
	var u string
	err := json.Unmarshal(data, &u)
	return u, err
}

func (h *handler) handleTagInteractions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50, 500)

	entries, err := h.deps.Store.ListTagInteractions(chi.URLParam(r, "id"), limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to list tag interactions: %v", err)
		return
	}
	if entries == nil {
		entries = []storage.TagInteraction{}
	}
	writeJSON(w, http.StatusOK, entries)
}
