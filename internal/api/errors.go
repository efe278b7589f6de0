package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/matheus3301/messenger/internal/auth"
	"github.com/matheus3301/messenger/internal/blob"
	"github.com/matheus3301/messenger/internal/chat"
	"github.com/matheus3301/messenger/internal/docstore"
	"github.com/matheus3301/messenger/internal/message"
	"github.com/matheus3301/messenger/internal/session"
)

// errBadRequest marks client input the daemon cannot act on.
var errBadRequest = errors.New("bad request")

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var partial *chat.PartialError
	switch {
	case errors.As(err, &partial):
		return http.StatusMultiStatus
	case errors.Is(err, session.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrUserNotFound),
		errors.Is(err, chat.ErrConversationNotFound),
		errors.Is(err, chat.ErrFetchFailed),
		errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, docstore.ErrInvalidPath),
		errors.Is(err, auth.ErrInvalidProfile),
		errors.Is(err, message.ErrMalformedRecord):
		return http.StatusBadRequest
	case errors.Is(err, blob.ErrUploadFailed),
		errors.Is(err, blob.ErrReferenceResolutionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error()})
}

const maxJSONBody = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}
