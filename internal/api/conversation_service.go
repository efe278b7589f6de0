package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/matheus3301/messenger/internal/chat"
	"github.com/matheus3301/messenger/internal/identity"
	"github.com/matheus3301/messenger/internal/media"
	"github.com/matheus3301/messenger/internal/message"
	"github.com/matheus3301/messenger/internal/session"
	"go.uber.org/zap"
)

const (
	maxPhotoBytes = 25 << 20
	maxVideoBytes = 512 << 20
)

// ConversationService serves conversation creation, sends and deletes.
type ConversationService struct {
	store  *chat.Store
	media  *media.Sender
	cache  *session.Cache
	spool  string
	logger *zap.Logger
	now    func() time.Time
}

// NewConversationService creates a new conversation service. Uploaded
// videos are spooled under spoolDir, or the system temp dir when empty.
func NewConversationService(store *chat.Store, sender *media.Sender, cache *session.Cache, spoolDir string, logger *zap.Logger) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{
		store:  store,
		media:  sender,
		cache:  cache,
		spool:  spoolDir,
		logger: logger.Named("api"),
		now:    time.Now,
	}
}

// Register mounts the conversation routes on r.
func (s *ConversationService) Register(r *mux.Router) {
	r.HandleFunc("/v1/conversations", s.create).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations/with/{address}", s.with).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{id}", s.remove).Methods(http.MethodDelete)
	r.HandleFunc("/v1/conversations/{id}/orphans", s.orphans).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{id}/messages", s.sendText).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations/{id}/photos", s.sendPhoto).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations/{id}/videos", s.sendVideo).Methods(http.MethodPost)
}

func (s *ConversationService) create(w http.ResponseWriter, r *http.Request) {
	me, err := s.cache.Current()
	if err != nil {
		writeError(w, err)
		return
	}
	var req CreateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.OtherAddress == "" || strings.TrimSpace(req.Text) == "" {
		writeError(w, fmt.Errorf("%w: other_address and text are required", errBadRequest))
		return
	}

	otherID := identity.SafeID(req.OtherAddress)
	at := s.now()
	first := message.Text(message.NewID(otherID, me.SafeID(), at), me.Sender(), at, req.Text)
	id, err := s.store.CreateConversation(r.Context(), me, otherID, req.DisplayName, first)
	if err != nil {
		var partial *chat.PartialError
		if errors.As(err, &partial) {
			writeJSON(w, http.StatusMultiStatus, CreateConversationResponse{
				ID: id, MessageID: first.ID, Steps: partial.Steps, Error: err.Error(),
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateConversationResponse{ID: id, MessageID: first.ID})
}

func (s *ConversationService) with(w http.ResponseWriter, r *http.Request) {
	me, err := s.cache.Current()
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := s.store.ConversationExists(r.Context(), me, mux.Vars(r)["address"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationRef{ID: id})
}

func (s *ConversationService) remove(w http.ResponseWriter, r *http.Request) {
	me, err := s.cache.Current()
	if err != nil {
		writeError(w, err)
		return
	}
	removed, err := s.store.DeleteConversation(r.Context(), me, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Removed: removed})
}

func (s *ConversationService) orphans(w http.ResponseWriter, r *http.Request) {
	me, err := s.cache.Current()
	if err != nil {
		writeError(w, err)
		return
	}
	other := r.URL.Query().Get("other_id")
	if other == "" {
		writeError(w, fmt.Errorf("%w: other_id is required", errBadRequest))
		return
	}
	report, err := s.store.Orphans(r.Context(), me, mux.Vars(r)["id"], other)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *ConversationService) sendText(w http.ResponseWriter, r *http.Request) {
	me, err := s.cache.Current()
	if err != nil {
		writeError(w, err)
		return
	}
	var req SendTextRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.OtherID == "" || strings.TrimSpace(req.Text) == "" {
		writeError(w, fmt.Errorf("%w: other_id and text are required", errBadRequest))
		return
	}
	at := s.now()
	msg := message.Text(message.NewID(req.OtherID, me.SafeID(), at), me.Sender(), at, req.Text)
	report, err := s.store.SendMessage(r.Context(), me, mux.Vars(r)["id"], req.OtherID, req.DisplayName, msg)
	writeSend(w, report, err)
}

func (s *ConversationService) sendPhoto(w http.ResponseWriter, r *http.Request) {
	me, other, name, err := s.mediaTarget(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPhotoBytes))
	if err != nil {
		writeError(w, errors.Join(errBadRequest, err))
		return
	}
	if len(data) == 0 {
		writeError(w, fmt.Errorf("%w: empty photo", errBadRequest))
		return
	}
	report, err := s.media.SendPhoto(r.Context(), me, mux.Vars(r)["id"], other, name, data)
	writeSend(w, report, err)
}

func (s *ConversationService) sendVideo(w http.ResponseWriter, r *http.Request) {
	me, other, name, err := s.mediaTarget(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tmp, err := os.CreateTemp(s.spool, "video-*.mov")
	if err != nil {
		writeError(w, fmt.Errorf("spool video: %w", err))
		return
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	n, err := io.Copy(tmp, http.MaxBytesReader(w, r.Body, maxVideoBytes))
	if err != nil {
		writeError(w, errors.Join(errBadRequest, err))
		return
	}
	if n == 0 {
		writeError(w, fmt.Errorf("%w: empty video", errBadRequest))
		return
	}
	if err := tmp.Close(); err != nil {
		writeError(w, fmt.Errorf("spool video: %w", err))
		return
	}
	s.logger.Debug("video spooled", zap.String("path", tmp.Name()), zap.Int64("bytes", n))
	report, err := s.media.SendVideo(r.Context(), me, mux.Vars(r)["id"], other, name, tmp.Name())
	writeSend(w, report, err)
}

func (s *ConversationService) mediaTarget(r *http.Request) (session.Identity, string, string, error) {
	me, err := s.cache.Current()
	if err != nil {
		return session.Identity{}, "", "", err
	}
	q := r.URL.Query()
	other := q.Get("other_id")
	if other == "" {
		return session.Identity{}, "", "", fmt.Errorf("%w: other_id is required", errBadRequest)
	}
	return me, other, q.Get("display_name"), nil
}

func writeSend(w http.ResponseWriter, report chat.SendReport, err error) {
	if err != nil {
		var partial *chat.PartialError
		if errors.As(err, &partial) {
			writeJSON(w, http.StatusMultiStatus, SendResponse{MessageID: report.MessageID, Steps: report.Steps, Error: err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SendResponse{MessageID: report.MessageID, Steps: report.Steps})
}
