package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/corpaction-cli/internal/admin"
	"github.com/sells-group/corpaction-cli/internal/auth"
	"github.com/sells-group/corpaction-cli/internal/ingest"
	"github.com/sells-group/corpaction-cli/internal/lookup"
	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/resilience"
	"github.com/sells-group/corpaction-cli/internal/store"
)

// errBadRequest marks malformed query parameters and bodies.
var errBadRequest = errors.New("api: bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusOf maps service errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, lookup.ErrEmptyIdentifier),
		errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, admin.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ingest.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, lookup.ErrOverloaded), errors.Is(err, resilience.ErrBreakerOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, lookup.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Internal errors are logged and
// answered with a generic message.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusGatewayTimeout {
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return eris.Wrapf(errBadRequest, "invalid body: %v", err)
	}
	return nil
}

// intParam reads a non-negative integer query parameter, or def when absent.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Wrapf(errBadRequest, "%s must be a non-negative integer", name)
	}
	return n, nil
}

func page(r *http.Request) (limit, offset int, err error) {
	if limit, err = intParam(r, "limit", 50); err != nil {
		return 0, 0, err
	}
	if limit > 500 {
		limit = 500
	}
	if offset, err = intParam(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}
