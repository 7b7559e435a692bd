package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/extractflow/cmd/extractflow/ui"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/broadcast"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/config"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/flow"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/ledger"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/observability"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/remote"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/storage"
)

// session bundles a controller with the optional archive and broadcast it reports to.
type session struct {
	id         string
	controller *flow.Controller
	store      *storage.Store
	publisher  *broadcast.RedisPublisher
	observers  *observerMux
	logger     *observability.Logger
}

// observerMux lets a command swap the step observer while a controller is alive.
type observerMux struct {
	mu sync.Mutex
	fn flow.Observer
}

func (m *observerMux) set(fn flow.Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

func (m *observerMux) observe(evt flow.StepEvent) {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	if fn != nil {
		fn(evt)
	}
}

// openSession wires a controller to the configured API, archive and broadcast.
func openSession(ctx context.Context, cfg *config.Config, log *observability.Logger) (*session, error) {
	client, err := newClient(cfg, log)
	if err != nil {
		return nil, err
	}

	s := &session{
		id:        uuid.New().String(),
		observers: &observerMux{},
		logger:    log,
	}

	l := ledger.New(ledger.Config{MaxEntries: cfg.Ledger.MaxEntries}, log)
	opts := []flow.Option{
		flow.WithSettings(flowSettings(cfg)),
		flow.WithObserver(s.observers.observe),
	}

	store, err := openArchive(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if store != nil {
		sess, err := store.BeginSession(ctx)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("begin session: %w", err)
		}
		s.id = sess.ID
		s.store = store
		sink := store.LedgerSink(sess.ID)
		l.AddSink(sink)
		opts = append(opts, flow.WithRegistry(sink))
	}

	s.logger = log.WithSession(s.id)

	if cfg.Broadcast.Enabled {
		pub, err := broadcast.NewRedisPublisher(redisConfig(cfg), s.logger)
		if err != nil {
			// broadcast is best effort
			s.logger.Warn().Err(err).Msg("broadcast disabled")
		} else {
			s.publisher = pub
			l.AddSink(pub.Sink(cfg.Broadcast.Redis.Channel, s.id))
		}
	}

	opts = append(opts, flow.WithLogger(s.logger))
	s.controller = flow.NewController(client, l, opts...)
	return s, nil
}

// Close releases the archive and broadcast connections.
func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close archive")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close broadcast")
		}
	}
}

func newClient(cfg *config.Config, log *observability.Logger) (*remote.Client, error) {
	token, err := cfg.APIToken()
	if err != nil {
		return nil, err
	}
	return remote.NewClient(remote.ClientConfig{
		BaseURL: cfg.Remote.BaseURL,
		Token:   token,
		Timeout: cfg.Remote.RequestTimeout,
		Logger:  log,
	})
}

// openArchive returns nil when no archive driver is configured.
func openArchive(ctx context.Context, cfg *config.Config, log *observability.Logger) (*storage.Store, error) {
	if cfg.Archive.Driver == "" {
		return nil, nil
	}

	maxOpen := cfg.Archive.SQLite.MaxOpenConns
	if cfg.Archive.Driver == "postgres" {
		maxOpen = cfg.Archive.Postgres.MaxOpenConns
	}

	store, err := storage.Open(ctx, storage.Config{
		Driver:       cfg.Archive.Driver,
		DSN:          cfg.ArchiveDSN(),
		MaxOpenConns: maxOpen,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return store, nil
}

func redisConfig(cfg *config.Config) broadcast.RedisConfig {
	return broadcast.RedisConfig{
		Addr:     cfg.Broadcast.Redis.Addr,
		Password: cfg.Broadcast.Redis.Password,
		DB:       cfg.Broadcast.Redis.DB,
		Prefix:   cfg.Broadcast.Redis.Prefix,
	}
}

func flowSettings(cfg *config.Config) flow.Settings {
	return flow.Settings{
		PromptTemplate:     cfg.Extraction.PromptTemplate,
		ProcessingMode:     cfg.Extraction.ProcessingMode,
		DataType:           cfg.Extraction.DataType,
		AutoCleanupOrphans: cfg.Extraction.AutoCleanupOrphans,
	}
}

// readFiles resolves and loads user-supplied paths.
func readFiles(paths []string) ([]flow.UploadedFile, error) {
	resolved := make([]string, 0, len(paths))
	for _, p := range paths {
		path, err := ui.ExpandPath(p)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, path)
	}
	return flow.ReadFiles(resolved)
}
