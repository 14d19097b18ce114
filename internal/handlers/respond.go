package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tendant/simple-resize-pipeline/internal/resize"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a response: validation problems are 400 with
// their details, oversized bodies 413 and everything else 500.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var verr *resize.ValidationError
	if errors.As(err, &verr) {
		logger.Warn().Err(err).Msg("Rejected request")
		writeJSON(w, http.StatusBadRequest, verr.Details())
		return
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		logger.Warn().Int64("limit", tooLarge.Limit).Msg("Request body too large")
		http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		return
	}

	logger.Error().Err(err).Msg("Request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func notSupported(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusBadRequest, resize.NewValidationError(resize.LocationQuery, "route", "Not Supported").Details())
}
