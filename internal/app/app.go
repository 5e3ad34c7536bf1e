package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/qbank/internal/adapters/events"
	"github.com/atvirokodosprendimai/qbank/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/qbank/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/qbank/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/qbank/internal/core/ports"
	"github.com/atvirokodosprendimai/qbank/internal/core/usecase"
	"github.com/atvirokodosprendimai/qbank/internal/core/validation"
	"github.com/atvirokodosprendimai/qbank/internal/metrics"
	"github.com/atvirokodosprendimai/qbank/migrations"
)

// App holds the migrated database and the services built on top of it.
type App struct {
	DB        *gormsqlite.DB
	Store     *sqliteadapter.DocumentStore
	Outbox    *sqliteadapter.OutboxRepository
	Questions *usecase.QuestionService
	Imports   *usecase.ImportService
	Auth      *usecase.AuthService
	Audit     *usecase.AuditService
	Codec     *usecase.EventCodec

	log zerolog.Logger
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

const slowQueryThreshold = 200 * time.Millisecond

// Open opens and migrates the SQLite file named by cfg and wires the services.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*App, error) {
	db, err := gormsqlite.Open(cfg.DBPath, gormsqlite.WithLogger(log, slowQueryThreshold))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	version, err := migrations.Up(migrateCtx, writeSQLDB)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug().Str("db_path", cfg.DBPath).Int64("schema_version", version).Msg("database ready")

	store := sqliteadapter.NewDocumentStore(db)
	questions := usecase.NewQuestionService(store, validation.NewValidator(store, cfg.Categories), log)

	return &App{
		DB:        db,
		Store:     store,
		Outbox:    sqliteadapter.NewOutboxRepository(db),
		Questions: questions,
		Imports:   usecase.NewImportService(questions, store, log),
		Auth:      usecase.NewAuthService(sqliteadapter.NewAPIKeyRepository(db)),
		Audit:     usecase.NewAuditService(sqliteadapter.NewAuditTrailRepository(db)),
		Codec:     usecase.NewEventCodec(),
		log:       log,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// Publisher delivers outbox events to the configured webhook, or to the log when
// no webhook is set.
func (a *App) Publisher(cfg Config) ports.EventPublisher {
	if cfg.WebhookURL != "" {
		return events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 0)
	}
	return events.NewLogPublisher(a.log)
}

// NewDispatcher builds an outbox dispatcher for the configured publisher. The caller
// starts and closes it.
func (a *App) NewDispatcher(cfg Config) *usecase.OutboxDispatcher {
	return usecase.NewOutboxDispatcher(a.Outbox, a.Publisher(cfg), cfg.DispatchInterval, cfg.DispatchBatchSize, a.log, usecase.WithEventCodec(a.Codec))
}

// NewServer opens the application and returns an HTTP server with a running outbox
// dispatcher. Closing the returned closer stops the dispatcher and the database.
func NewServer(ctx context.Context, cfg Config, log zerolog.Logger) (*http.Server, io.Closer, error) {
	a, err := Open(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	if cfg.BootstrapAPIKey != "" {
		bootstrapCtx, bootstrapCancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.Auth.Register(bootstrapCtx, cfg.BootstrapKeyName, cfg.BootstrapAPIKey)
		bootstrapCancel()
		if err != nil {
			_ = a.Close()
			return nil, nil, fmt.Errorf("bootstrap api key: %w", err)
		}
	}

	dispatcher := a.NewDispatcher(cfg)
	dispatcher.Start(context.Background())

	reg := metrics.NewRegistry(metrics.Sources{
		Questions:  a.Questions,
		Imports:    a.Imports,
		Dispatcher: dispatcher,
		Outbox:     a.Outbox,
	})
	handler := httpapi.NewHandler(a.Questions, a.Imports, a.Auth, a.Audit, log).WithMetrics(reg)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server, resourceCloser{closers: []io.Closer{dispatcher, a}}, nil
}
