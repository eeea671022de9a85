package router

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/mohammed-shakir/polluted-cities/internal/aggregate"
	"github.com/mohammed-shakir/polluted-cities/internal/cache/keys"
	"github.com/mohammed-shakir/polluted-cities/internal/core/apperr"
	"github.com/mohammed-shakir/polluted-cities/internal/core/model"
)

const successMessage = "Successfully Fetched Data"

type successEnvelope struct {
	Status  int          `json:"status"`
	Message string       `json:"message"`
	Data    model.Page   `json:"data"`
	Source  model.Source `json:"source"`
}

type errorEnvelope struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeSuccess(w http.ResponseWriter, r *http.Request, logger *slog.Logger, res aggregate.Result) {
	body, err := json.Marshal(successEnvelope{
		Status:  http.StatusOK,
		Message: successMessage,
		Data:    res.Page,
		Source:  res.Source,
	})
	if err != nil {
		WriteError(w, r, logger, err, 0)
		return
	}

	// the source tag differs per tier, so the tag hashes the page only
	data, _ := json.Marshal(res.Page)
	etag := `"` + keys.Fingerprint(data) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// WriteError renders err as the error envelope. Internal faults are logged.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, authStatus int) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind, authStatus)
	if status >= http.StatusInternalServerError || kind == apperr.UpstreamAuthFailure {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	WriteStatus(w, status, apperr.Message(err))
}

// WriteStatus renders the error envelope for an explicit status.
func WriteStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Status:  status,
		Error:   apperr.StatusName(status),
		Message: msg,
	})
}
