package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"crewfleet.hub/internal/core/domain"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRaw writes a body that is already JSON, such as a worker response.
func writeRaw(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeError(w http.ResponseWriter, err error) {
	writeDetail(w, statusFor(err), detailFor(err))
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var remote *domain.RemoteError
	switch {
	case errors.As(err, &remote):
		return remote.StatusCode
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrAgentPaused),
		errors.Is(err, domain.ErrAgentStopping):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrUnknownAction),
		errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnreachable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrBadGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// detailFor returns the caller-facing message. Remote bodies pass through
// verbatim.
func detailFor(err error) string {
	var remote *domain.RemoteError
	if errors.As(err, &remote) {
		return remote.Body
	}
	return err.Error()
}

// decodeJSON decodes a request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return domain.WrapError(domain.ErrValidation, "failed to read body", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return domain.WrapError(domain.ErrValidation, "Invalid JSON", err)
	}
	return nil
}

// readObject reads a body that must be a JSON object, or empty.
func readObject(r *http.Request) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.WrapError(domain.ErrValidation, "failed to read body", err)
	}
	if len(data) == 0 {
		return json.RawMessage("{}"), nil
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, domain.WrapError(domain.ErrValidation, "body must be a JSON object", err)
	}
	return json.RawMessage(data), nil
}

// queryInt parses a positive integer query parameter, clamped to max.
func queryInt(r *http.Request, key string, def, max int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, domain.NewError(domain.ErrValidation, key+" must be a positive integer")
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}
