package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kalambet/tapping/internal/contact"
	"github.com/kalambet/tapping/internal/directory"
	"github.com/kalambet/tapping/internal/scan"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxImageBodySize = 10 << 20  // 10MB

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// scanFailureBody is returned for a failed scan. Contact is set when the
// contact was built but could not be stored; POST it to /contacts to retry.
type scanFailureBody struct {
	Error   scanFailureDetail `json:"error"`
	Contact *contact.Contact  `json:"contact,omitempty"`
}

type scanFailureDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeScanFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, scan.ErrScanInProgress) {
		httpError(w, http.StatusConflict, "conflict", "%v", err)
		return
	}
	f, ok := scan.AsFailure(err)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "%s", scan.ReasonInternal)
		return
	}
	writeJSON(w, failureStatus(f), scanFailureBody{
		Error:   scanFailureDetail{Message: f.Reason, Type: f.Kind.String()},
		Contact: f.Contact,
	})
}

func failureStatus(f *scan.Failure) int {
	switch f.Kind {
	case scan.FailureNoData:
		return http.StatusBadRequest
	case scan.FailureClassificationUnknown, scan.FailureParseMalformed, scan.FailureExtraction:
		return http.StatusUnprocessableEntity
	case scan.FailureProfileLookup:
		if errors.Is(f, directory.ErrProfileNotFound) {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case scan.FailureTagUnavailable, scan.FailurePersistence:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
