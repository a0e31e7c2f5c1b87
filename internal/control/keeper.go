package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/perpkeeper/internal/api"
	"github.com/vietddude/perpkeeper/internal/core/config"
	"github.com/vietddude/perpkeeper/internal/core/worker"
	"github.com/vietddude/perpkeeper/internal/funding"
	"github.com/vietddude/perpkeeper/internal/indexing/gateway"
	"github.com/vietddude/perpkeeper/internal/indexing/health"
	"github.com/vietddude/perpkeeper/internal/indexing/ingest"
	"github.com/vietddude/perpkeeper/internal/infra/chain/evm"
	"github.com/vietddude/perpkeeper/internal/infra/notify"
	redisclient "github.com/vietddude/perpkeeper/internal/infra/redis"
	"github.com/vietddude/perpkeeper/internal/infra/storage"
	"github.com/vietddude/perpkeeper/internal/infra/storage/memory"
	"github.com/vietddude/perpkeeper/internal/infra/storage/postgres"
)

// Deps are the external systems the keeper talks to.
type Deps struct {
	Store    storage.PriceStore
	Cache    storage.LatestCache // optional
	Notifier notify.Notifier
	Ledger   funding.Ledger
	Heads    worker.HeadSource // optional
	Dial     ingest.Dialer
}

// Keeper wires the funding scheduler, the ingestion pipeline and the query
// surface together and runs them until shutdown.
type Keeper struct {
	cfg       *config.AppConfig
	gateway   *gateway.Gateway
	scheduler *funding.Scheduler
	pipeline  *ingest.Pipeline
	heads     *worker.HeadTracker
	monitor   *health.Monitor
	api       *api.Server
	grpc      *health.GRPCServer
	log       *slog.Logger

	db      *postgres.DB
	closers []func()
}

// NewKeeper connects to every configured backend and builds the keeper.
// Misconfiguration and an unreachable database or node fail here.
func NewKeeper(ctx context.Context, cfg *config.AppConfig) (*Keeper, error) {
	log := slog.Default()
	var (
		deps    Deps
		closers []func()
		db      *postgres.DB
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// 1. Storage
	if cfg.UseDatabase() {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		closers = append(closers, func() { db.Close() })

		if err := db.Migrate(ctx); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		deps.Store = postgres.NewPriceRepo(db)
		log.Info("Using PostgreSQL storage")
	} else {
		deps.Store = memory.NewPriceStore()
		log.Info("Using Memory storage")
	}

	// 2. Latest price cache
	if cfg.UseRedis() {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, latest price cache disabled", "error", err)
		} else {
			deps.Cache = client
			closers = append(closers, func() {
				if err := client.Close(); err != nil {
					log.Warn("Failed to close Redis", "error", err)
				}
			})
		}
	}

	// 3. Notifications
	notifiers := notify.Multi{notify.NewLog(log)}
	if cfg.Notify.Enabled() {
		notifiers = append(notifiers, notify.NewBrevo(cfg.Notify, log))
		log.Info("Mail notifications enabled", "receiver", cfg.Notify.Receiver)
	}
	deps.Notifier = notifiers

	// 4. Chain
	ledger, err := evm.NewLedger(ctx, cfg.Chain, log)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to init ledger: %w", err)
	}
	closers = append(closers, ledger.Close)
	deps.Ledger = ledger
	deps.Heads = ledger
	deps.Dial = func(ctx context.Context) (ingest.Stream, error) {
		s, err := evm.DialStream(ctx, cfg.Chain, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	log.Info("Keeper account loaded", "address", ledger.Keeper().Hex())

	k := New(cfg, deps, log)
	k.db = db
	k.closers = closers
	return k, nil
}

// New builds a keeper from ready dependencies.
func New(cfg *config.AppConfig, deps Deps, log *slog.Logger) *Keeper {
	if log == nil {
		log = slog.Default()
	}

	gwOpts := []gateway.Option{gateway.WithLogger(log)}
	if deps.Cache != nil {
		gwOpts = append(gwOpts, gateway.WithCache(deps.Cache))
	}
	gw := gateway.New(deps.Store, deps.Notifier, gwOpts...)

	scheduler := funding.New(cfg.Funding, deps.Ledger, deps.Notifier, funding.WithLogger(log))
	pipeline := ingest.New(cfg.Ingest, deps.Dial, gw, deps.Notifier, ingest.WithLogger(log))

	var heads *worker.HeadTracker
	var headFetcher health.HeadFetcher
	if deps.Heads != nil {
		heads = worker.NewHeadTracker(deps.Heads, 0, log)
		headFetcher = heads
	}
	monitor := health.NewMonitor(gw, headFetcher, scheduler, pipeline)

	k := &Keeper{
		cfg:       cfg,
		gateway:   gw,
		scheduler: scheduler,
		pipeline:  pipeline,
		heads:     heads,
		monitor:   monitor,
		api:       api.NewServer(cfg.Server.Port, gw, monitor, log),
		log:       log.With("component", "keeper"),
	}
	if cfg.Server.GRPCPort != 0 {
		k.grpc = health.NewGRPCServer(monitor, cfg.Server.GRPCPort, log)
	}
	return k
}

// Run starts every component and blocks until ctx is done or the HTTP
// server fails. A terminated scheduler or pipeline does not stop the rest.
func (k *Keeper) Run(ctx context.Context) error {
	defer k.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return supervise(ctx, k.log, "funding", k.scheduler.Run)
	})
	g.Go(func() error {
		return supervise(ctx, k.log, "ingest", k.pipeline.Run)
	})
	g.Go(func() error {
		return k.api.Start(ctx)
	})
	if k.grpc != nil {
		g.Go(func() error {
			return k.grpc.Start(ctx)
		})
	}
	if k.heads != nil {
		g.Go(func() error {
			k.heads.Start(ctx)
			return nil
		})
	}
	if k.db != nil {
		k.db.StartMetricsCollector(ctx)
	}

	k.log.Info("Keeper started", "port", k.cfg.Server.Port, "grpc_port", k.cfg.Server.GRPCPort)
	err := g.Wait()
	k.log.Info("Keeper stopped")
	return err
}

// supervise runs a component and absorbs its terminal states: shutdown and
// spent restart budgets are not errors for the process.
func supervise(ctx context.Context, log *slog.Logger, name string, run func(context.Context) error) error {
	err := run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, funding.ErrTerminated), errors.Is(err, ingest.ErrTerminated):
		log.Error("Component terminated, manual intervention required", "component", name, "error", err)
		return nil
	default:
		return fmt.Errorf("%s: %w", name, err)
	}
}

// Close releases backend connections.
func (k *Keeper) Close() {
	for i := len(k.closers) - 1; i >= 0; i-- {
		k.closers[i]()
	}
	k.closers = nil
}

func (k *Keeper) Scheduler() *funding.Scheduler { return k.scheduler }
func (k *Keeper) Pipeline() *ingest.Pipeline    { return k.pipeline }
func (k *Keeper) Gateway() *gateway.Gateway     { return k.gateway }
func (k *Keeper) Monitor() *health.Monitor      { return k.monitor }
