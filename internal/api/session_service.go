package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/matheus3301/messenger/internal/auth"
	"github.com/matheus3301/messenger/internal/session"
	"github.com/matheus3301/messenger/internal/status"
)

// SessionService serves the login lifecycle of the daemon's profile.
type SessionService struct {
	profile   string
	startedAt time.Time
	machine   *status.Machine
	flow      *auth.Flow
	cache     *session.Cache
}

// NewSessionService creates a new session service.
func NewSessionService(profile string, machine *status.Machine, flow *auth.Flow, cache *session.Cache) *SessionService {
	return &SessionService{
		profile:   profile,
		startedAt: time.Now(),
		machine:   machine,
		flow:      flow,
		cache:     cache,
	}
}

// Register mounts the session routes on r.
func (s *SessionService) Register(r *mux.Router) {
	r.HandleFunc("/v1/session", s.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/session", s.logout).Methods(http.MethodDelete)
	r.HandleFunc("/v1/session/login", s.login).Methods(http.MethodPost)
}

func (s *SessionService) getStatus(w http.ResponseWriter, _ *http.Request) {
	resp := SessionView{
		Profile:  s.profile,
		Status:   string(s.machine.Current()),
		UptimeMS: time.Since(s.startedAt).Milliseconds(),
	}
	if id, err := s.cache.Current(); err == nil {
		resp.Identity = identityToView(id)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *SessionService) login(w http.ResponseWriter, r *http.Request) {
	var p auth.Profile
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.flow.Complete(r.Context(), p)
	if err != nil {
		if errors.Is(err, status.ErrInvalidTransition) {
			writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identityToView(id))
}

func (s *SessionService) logout(w http.ResponseWriter, _ *http.Request) {
	if err := s.flow.Logout(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
