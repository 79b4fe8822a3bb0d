package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/analysis"
	"github.com/sells-group/underwriter/internal/fetcher"
	"github.com/sells-group/underwriter/internal/params"
	"github.com/sells-group/underwriter/internal/recalc"
	"github.com/sells-group/underwriter/internal/settings"
	"github.com/sells-group/underwriter/internal/store"
)

var errBadBody = eris.New("api: invalid request body")

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// fail maps engine errors onto status codes. Unexpected errors are logged
// and reported without detail.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadBody),
		errors.Is(err, recalc.ErrInvalidRequest),
		errors.Is(err, params.ErrInvalidOverride),
		errors.Is(err, settings.ErrUnknownParam),
		errors.Is(err, settings.ErrInvalidValue),
		errors.Is(err, settings.ErrInvalidPreset),
		errors.Is(err, fetcher.ErrNoHeader),
		errors.Is(err, analysis.ErrNoExtraction):
		return http.StatusBadRequest
	case errors.Is(err, fetcher.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return eris.Wrap(errBadBody, "empty body")
		}
		return eris.Wrapf(errBadBody, "%v", err)
	}
	return nil
}
