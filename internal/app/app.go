// Package app builds and runs the filing service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rlorentegh/tramitador/internal/adapter"
	"github.com/rlorentegh/tramitador/internal/api"
	gcsartifacts "github.com/rlorentegh/tramitador/internal/artifacts/gcs"
	localartifacts "github.com/rlorentegh/tramitador/internal/artifacts/local"
	memoryartifacts "github.com/rlorentegh/tramitador/internal/artifacts/memory"
	"github.com/rlorentegh/tramitador/internal/casedb"
	"github.com/rlorentegh/tramitador/internal/claim"
	"github.com/rlorentegh/tramitador/internal/clock/system"
	"github.com/rlorentegh/tramitador/internal/config"
	"github.com/rlorentegh/tramitador/internal/engine"
	"github.com/rlorentegh/tramitador/internal/filing"
	"github.com/rlorentegh/tramitador/internal/id/uuid"
	"github.com/rlorentegh/tramitador/internal/metrics"
	"github.com/rlorentegh/tramitador/internal/orchestrator"
	memorypublisher "github.com/rlorentegh/tramitador/internal/publisher/memory"
	gcppublisher "github.com/rlorentegh/tramitador/internal/publisher/pubsub"
	memorystore "github.com/rlorentegh/tramitador/internal/store/memory"
	pgstore "github.com/rlorentegh/tramitador/internal/store/postgres"
	"github.com/rlorentegh/tramitador/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	tasks  filing.TaskStore
	auths  filing.AuthorizationStore
	orch   *orchestrator.Orchestrator
	work   *worker.Worker
	server *api.Server

	pool          *pgxpool.Pool
	caseDB        *casedb.DB
	storageClient *storage.Client
	pubsubClient  *pubsub.Client
	gcpPublisher  *gcppublisher.Publisher
	engineClose   func()
}

// New wires every subsystem from the configuration.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	clock := system.New()
	idGen := uuid.New()

	if err := a.buildStores(ctx, clock, idGen); err != nil {
		a.closeInfrastructure()
		return nil, err
	}

	session, err := claim.NewSession(claim.SessionConfig{
		LoginURL:    cfg.Session.LoginURL,
		Username:    cfg.Session.Username,
		Password:    cfg.Session.Password,
		LoginMarker: cfg.Session.LoginMarker,
		Timeout:     time.Duration(cfg.Session.TimeoutSeconds) * time.Second,
	}, logger.Named("session"))
	if err != nil {
		a.closeInfrastructure()
		return nil, fmt.Errorf("build session: %w", err)
	}
	claims, err := claim.New(claim.Config{
		Endpoint:    cfg.Claim.Endpoint,
		Identity:    cfg.Session.Username,
		MaxAttempts: cfg.Claim.MaxAttempts,
		BackoffBase: time.Duration(cfg.Claim.BackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.Claim.BackoffMaxMs) * time.Millisecond,
	}, session, logger.Named("claim"))
	if err != nil {
		a.closeInfrastructure()
		return nil, fmt.Errorf("build claim client: %w", err)
	}

	registry, err := a.buildRegistry(ctx, session, claims)
	if err != nil {
		a.closeInfrastructure()
		return nil, err
	}

	a.orch, err = orchestrator.New(
		orchestrator.Config{Interval: cfg.OrchestratorInterval()},
		registry, a.tasks, a.auths, clock, logger.Named("orchestrator"),
	)
	if err != nil {
		a.closeInfrastructure()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	eng, err := a.buildEngine()
	if err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	blobs, err := a.buildArtifacts(ctx)
	if err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	pub, err := a.buildPublisher(ctx)
	if err != nil {
		a.closeInfrastructure()
		return nil, err
	}

	a.work, err = worker.New(
		worker.Config{IdleSleep: cfg.WorkerIdleSleep(), Topic: cfg.Worker.Topic},
		a.tasks, eng, blobs, pub, clock, logger.Named("worker"),
	)
	if err != nil {
		a.closeInfrastructure()
		return nil, fmt.Errorf("build worker: %w", err)
	}

	a.server = api.NewServer(a.tasks, a.auths, a.orch, logger.Named("api"), cfg)
	return a, nil
}

// Run starts the orchestrator, the worker and the HTTP server, blocking until
// the context is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := a.orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("orchestrator exited", zap.Error(err))
			stop()
		}
	}()
	go func() {
		if err := a.work.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("worker exited", zap.Error(err))
			stop()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close()
}

// Cycle runs a single refill cycle without starting the long-running loops.
func (a *App) Cycle(ctx context.Context) error {
	return a.orch.RunCycle(ctx)
}

// Tasks exposes the task store for CLI commands.
func (a *App) Tasks() filing.TaskStore {
	return a.tasks
}

// Close gracefully shuts down the application.
func (a *App) Close() error {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.engineClose != nil {
		a.engineClose()
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close error", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("storage client close error", zap.Error(err))
		}
	}
	if a.caseDB != nil {
		if err := a.caseDB.Close(); err != nil {
			a.logger.Warn("case database close error", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) buildStores(ctx context.Context, clock filing.Clock, idGen filing.IDGenerator) error {
	if a.cfg.Store.Memory {
		tasks := memorystore.NewTaskStore(idGen, clock)
		a.tasks = tasks
		a.auths = memorystore.NewAuthorizationStore(tasks, idGen, clock)
		return nil
	}

	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:      a.cfg.Store.DSN,
		MaxConns: int32(a.cfg.Store.MaxConns),
	})
	if err != nil {
		return fmt.Errorf("build store pool: %w", err)
	}
	a.pool = pool

	tasks, err := pgstore.NewTaskStore(pool, idGen, clock)
	if err != nil {
		return fmt.Errorf("build task store: %w", err)
	}
	if err := tasks.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate task store: %w", err)
	}
	auths, err := pgstore.NewAuthorizationStore(pool, idGen, clock)
	if err != nil {
		return fmt.Errorf("build authorization store: %w", err)
	}
	if err := auths.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate authorization store: %w", err)
	}
	a.tasks = tasks
	a.auths = auths
	return nil
}

func (a *App) buildRegistry(ctx context.Context, session *claim.Session, claims filing.ClaimClient) (*adapter.Registry, error) {
	var enricher adapter.Enricher
	if a.cfg.Enrichment.Endpoint != "" {
		enricher = adapter.NewHTTPEnricher(
			a.cfg.Enrichment.Endpoint,
			time.Duration(a.cfg.Enrichment.TimeoutSeconds)*time.Second,
		)
	}

	adapterLogger := a.logger.Named("adapter")
	entries := make(map[filing.SourceID]adapter.Entry, len(a.cfg.Sources))
	for name, src := range a.cfg.Sources {
		source := filing.SourceID(name)
		var (
			site filing.SiteAdapter
			err  error
		)
		switch src.Mode {
		case "sql":
			if a.caseDB == nil {
				a.caseDB, err = casedb.Connect(ctx, casedb.Config{
					DSN:          a.cfg.CaseDB.DSN,
					MaxOpenConns: a.cfg.CaseDB.MaxOpenConns,
					MaxIdleConns: a.cfg.CaseDB.MaxIdleConns,
				})
				if err != nil {
					return nil, fmt.Errorf("connect case database: %w", err)
				}
			}
			site, err = adapter.NewSQLAdapter(adapter.SQLAdapterConfig{
				Source:   source,
				CaseType: src.CaseType,
				Protocol: filing.ProtocolTag(src.Protocol),
			}, a.caseDB, claims, enricher, adapterLogger)
		case "web":
			site, err = adapter.NewWebAdapter(adapter.WebAdapterConfig{
				Source:   source,
				ListURL:  src.ListURL,
				Protocol: filing.ProtocolTag(src.Protocol),
			}, session, claims, enricher, adapterLogger)
		default:
			err = fmt.Errorf("unknown source mode %q", src.Mode)
		}
		if err != nil {
			return nil, fmt.Errorf("build adapter for source %s: %w", name, err)
		}
		entries[source] = adapter.Entry{
			Adapter: site,
			Config: filing.AdapterConfig{
				Rank:             src.Rank,
				TargetQueueDepth: src.TargetQueueDepth,
				MaxRefillBatch:   src.MaxRefillBatch,
			},
		}
	}
	return adapter.NewRegistry(entries)
}

func (a *App) buildEngine() (filing.Engine, error) {
	switch a.cfg.Engine.Mode {
	case "chromedp":
		urls := make(map[filing.ProtocolTag]string, len(a.cfg.Engine.PortalURLs))
		for protocol, url := range a.cfg.Engine.PortalURLs {
			urls[filing.ProtocolTag(protocol)] = url
		}
		eng, err := engine.NewChromedp(engine.Config{
			PortalURLs:        urls,
			NavigationTimeout: time.Duration(a.cfg.Engine.NavTimeoutSeconds) * time.Second,
			SuccessMarker:     a.cfg.Engine.SuccessMarker,
			ErrorMarker:       a.cfg.Engine.ErrorMarker,
		})
		if err != nil {
			return nil, fmt.Errorf("build chromedp engine: %w", err)
		}
		a.engineClose = eng.Close
		return eng, nil
	default:
		return engine.NewNoop(), nil
	}
}

func (a *App) buildArtifacts(ctx context.Context) (filing.BlobStore, error) {
	switch a.cfg.Artifacts.Mode {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("build storage client: %w", err)
		}
		a.storageClient = client
		store, err := gcsartifacts.New(client, gcsartifacts.Config{Bucket: a.cfg.Artifacts.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("build gcs artifact store: %w", err)
		}
		return store, nil
	case "local":
		store, err := localartifacts.New(localartifacts.Config{BaseDir: a.cfg.Artifacts.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("build local artifact store: %w", err)
		}
		return store, nil
	default:
		return memoryartifacts.New(), nil
	}
}

func (a *App) buildPublisher(ctx context.Context) (filing.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	a.pubsubClient = client
	pub, err := gcppublisher.New(client)
	if err != nil {
		return nil, fmt.Errorf("build pubsub publisher: %w", err)
	}
	a.gcpPublisher = pub
	return pub, nil
}
