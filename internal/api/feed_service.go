package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/messenger/internal/chat"
	"github.com/matheus3301/messenger/internal/feed"
	"github.com/matheus3301/messenger/internal/metrics"
	"github.com/matheus3301/messenger/internal/session"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// FeedService streams conversation and message feeds over WebSockets, one
// JSON Frame per snapshot.
type FeedService struct {
	store    *chat.Store
	cache    *session.Cache
	metrics  *metrics.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewFeedService creates a new feed service.
func NewFeedService(store *chat.Store, cache *session.Cache, m *metrics.Metrics, logger *zap.Logger) *FeedService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedService{
		store:   store,
		cache:   cache,
		metrics: m,
		logger:  logger.Named("feeds"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Clients reach the daemon over its private socket only.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the feed routes on r.
func (s *FeedService) Register(r *mux.Router) {
	r.HandleFunc("/v1/feeds/conversations", s.conversations).Methods(http.MethodGet)
	r.HandleFunc("/v1/feeds/conversations/{id}/messages", s.messages).Methods(http.MethodGet)
}

func (s *FeedService) conversations(w http.ResponseWriter, r *http.Request) {
	me, err := s.cache.Current()
	if err != nil {
		writeError(w, err)
		return
	}
	f, err := s.store.FetchConversations(r.Context(), me.SafeID())
	if err != nil {
		writeError(w, err)
		return
	}
	serve(s, w, r, "conversations", f, func(c chat.Conversation) chat.Conversation { return c })
}

func (s *FeedService) messages(w http.ResponseWriter, r *http.Request) {
	if _, err := s.cache.Current(); err != nil {
		writeError(w, err)
		return
	}
	f, err := s.store.FetchMessages(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	serve(s, w, r, "messages", f, messageToView)
}

func serve[T, V any](s *FeedService, w http.ResponseWriter, r *http.Request, name string, f *feed.Feed[T], view func(T) V) {
	defer f.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("feed", name), zap.Error(err))
		return
	}
	defer conn.Close()
	defer s.metrics.FeedOpened(name)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.readPump(conn, name, cancel)

	log := s.logger.With(zap.String("feed", name), zap.String("path", f.Path()))
	if err := f.Start(ctx); err != nil {
		log.Error("feed not started", zap.Error(err))
		closeConn(conn, websocket.CloseInternalServerErr, err.Error())
		return
	}
	log.Debug("feed attached")

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug("feed detached")
			return
		case snap, ok := <-f.Updates():
			if !ok {
				closeConn(conn, websocket.CloseNormalClosure, "")
				return
			}
			frame := Frame[V]{Items: make([]V, 0, len(snap.Items)), At: snap.At}
			for _, item := range snap.Items {
				frame.Items = append(frame.Items, view(item))
			}
			if snap.Err != nil {
				frame.Error = snap.Err.Error()
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				log.Debug("frame not written", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so control frames are processed, and
// cancels the feed once the peer goes away.
func (s *FeedService) readPump(conn *websocket.Conn, name string, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket error", zap.String("feed", name), zap.Error(err))
			}
			return
		}
	}
}

func closeConn(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
