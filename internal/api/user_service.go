package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/matheus3301/messenger/internal/chat"
	"github.com/matheus3301/messenger/internal/session"
)

// UserService serves the user directory.
type UserService struct {
	store *chat.Store
	cache *session.Cache
}

// NewUserService creates a new user service.
func NewUserService(store *chat.Store, cache *session.Cache) *UserService {
	return &UserService{store: store, cache: cache}
}

// Register mounts the directory routes on r.
func (s *UserService) Register(r *mux.Router) {
	r.HandleFunc("/v1/users", s.list).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/search", s.search).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{address}/exists", s.exists).Methods(http.MethodGet)
}

func (s *UserService) list(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(users))
}

func (s *UserService) search(w http.ResponseWriter, r *http.Request) {
	me, err := s.cache.Current()
	if err != nil {
		writeError(w, err)
		return
	}
	users, err := s.store.SearchUsers(r.Context(), me, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(users))
}

func (s *UserService) exists(w http.ResponseWriter, r *http.Request) {
	ok, err := s.store.UserExists(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExistsResponse{Exists: ok})
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
