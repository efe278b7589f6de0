package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/matheus3301/messenger/internal/api"
	"github.com/matheus3301/messenger/internal/auth"
	"github.com/matheus3301/messenger/internal/blob"
	"github.com/matheus3301/messenger/internal/bus"
	"github.com/matheus3301/messenger/internal/chat"
	"github.com/matheus3301/messenger/internal/config"
	"github.com/matheus3301/messenger/internal/docstore"
	"github.com/matheus3301/messenger/internal/docstore/natskv"
	"github.com/matheus3301/messenger/internal/docstore/sqlite"
	"github.com/matheus3301/messenger/internal/lock"
	"github.com/matheus3301/messenger/internal/logging"
	"github.com/matheus3301/messenger/internal/media"
	"github.com/matheus3301/messenger/internal/metrics"
	"github.com/matheus3301/messenger/internal/session"
	"github.com/matheus3301/messenger/internal/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
}

func (p Params) socket() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return session.SocketPath(p.Profile)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideMetrics,
			provideLock,
			provideDocuments,
			provideChatStore,
			provideBlobs,
			provideCache,
			provideFlow,
			provideMediaSender,
			provideRouter,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile, p.Config.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.LockPath(p.Profile), lock.Owner{Profile: p.Profile, Socket: p.socket()})
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideDocuments opens the configured backend. It depends on the lock so
// two daemons never share one profile's database.
func provideDocuments(p Params, _ *lock.Lock, b *bus.Bus, logger *zap.Logger) (*docstore.Store, error) {
	var backend docstore.Backend
	switch p.Config.Store.Backend {
	case config.BackendSQLite:
		path := session.DocumentsPath(p.Profile)
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		result, err := db.Migrate()
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if result.Changed {
			logger.Info("migrations applied", zap.Uint("version", result.Version))
		} else {
			logger.Info("migrations up to date", zap.Uint("version", result.Version))
		}
		logger.Info("document store initialized", zap.String("backend", "sqlite"), zap.String("path", path))
		backend = sqlite.NewBackend(db, b, logger)
	case config.BackendNATS:
		n := p.Config.Store.NATS
		ctx, cancel := context.WithTimeout(context.Background(), n.ConnectTimeout+5*time.Second)
		defer cancel()
		kv, err := natskv.Open(ctx, natskv.Options{
			URL:             n.URL,
			Bucket:          n.Bucket,
			ConflictRetries: n.ConflictRetries,
			ConnectTimeout:  n.ConnectTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		backend = kv
	case config.BackendMemory:
		logger.Warn("documents kept in memory only")
		backend = docstore.NewMemory(b, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", p.Config.Store.Backend)
	}
	return docstore.New(backend, logger), nil
}

func provideChatStore(docs *docstore.Store, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *chat.Store {
	return chat.New(docs, b, m, logger)
}

func provideBlobs(p Params, logger *zap.Logger) (blob.Gateway, error) {
	c := p.Config.Blob
	switch c.Backend {
	case config.BlobS3:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return blob.NewS3(ctx, blob.S3Options{
			Bucket:        c.S3.Bucket,
			Region:        c.S3.Region,
			Endpoint:      c.S3.Endpoint,
			AccessKey:     c.S3.AccessKey,
			SecretKey:     c.S3.SecretKey,
			PathStyle:     c.S3.PathStyle,
			PublicBaseURL: c.S3.PublicBaseURL,
		}, logger)
	default:
		dir := c.Dir
		if dir == "" {
			dir = session.BlobDir(p.Profile)
		}
		return blob.NewDir(dir, logger)
	}
}

func provideCache(p Params) (*session.Cache, error) {
	return session.LoadCache(session.IdentityPath(p.Profile))
}

func provideFlow(store *chat.Store, blobs blob.Gateway, cache *session.Cache, m *status.Machine, logger *zap.Logger) *auth.Flow {
	return auth.NewFlow(store, blobs, cache, m, &http.Client{Timeout: 30 * time.Second}, logger)
}

func provideMediaSender(store *chat.Store, blobs blob.Gateway, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *media.Sender {
	return media.NewSender(store, blobs, b, m, logger)
}

func provideRouter(p Params, store *chat.Store, sender *media.Sender, flow *auth.Flow, cache *session.Cache, machine *status.Machine, m *metrics.Metrics, logger *zap.Logger) http.Handler {
	return api.NewRouter(logger, m,
		api.NewSessionService(p.Profile, machine, flow, cache),
		api.NewUserService(store, cache),
		api.NewConversationService(store, sender, cache, session.Dir(p.Profile), logger),
		api.NewFeedService(store, cache, m, logger),
	)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, docs *docstore.Store, flow *auth.Flow, b *bus.Bus, logger *zap.Logger) {
	activity := newActivityLog(b, logger)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			activity.Start()

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			if !flow.Restore() {
				logger.Info("no cached identity, login required")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			activity.Stop()
			if err := docs.Close(); err != nil {
				logger.Warn("error closing document store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
