package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/wabridge/internal/account"
	"github.com/matheus3301/wabridge/internal/ai"
	"github.com/matheus3301/wabridge/internal/api"
	"github.com/matheus3301/wabridge/internal/bus"
	"github.com/matheus3301/wabridge/internal/config"
	"github.com/matheus3301/wabridge/internal/creds"
	"github.com/matheus3301/wabridge/internal/dispatch"
	"github.com/matheus3301/wabridge/internal/httpapi"
	"github.com/matheus3301/wabridge/internal/ingest"
	"github.com/matheus3301/wabridge/internal/lock"
	"github.com/matheus3301/wabridge/internal/logging"
	"github.com/matheus3301/wabridge/internal/manager"
	"github.com/matheus3301/wabridge/internal/status"
	"github.com/matheus3301/wabridge/internal/store"
	"github.com/matheus3301/wabridge/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Params holds the resolved account configuration passed to the fx module.
type Params struct {
	AccountName string
	SocketPath  string // optional override for testing; empty = use default
	Config      *config.Config
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
			provideLock,
			provideStore,
			provideCredentials,
			provideDialer,
			provideAI,
			provideBridge,
			provideService,
			provideHTTP,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(account.LogPath(p.AccountName), p.AccountName, p.Config.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := account.EnsureDir(p.AccountName); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.AccountName))
	l, err := lock.Acquire(account.Dir(p.AccountName))
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired")
	return l, nil
}

// provideStore depends on the lock so no second daemon touches the databases.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := account.AppDBPath(p.AccountName)
	db, err := store.Open(dbPath)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials(p Params, _ *lock.Lock, logger *zap.Logger) (*creds.SQLStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return creds.Open(ctx, account.CredentialsDBPath(p.AccountName), logging.WALogger(logger, "store"))
}

func provideDialer(p Params, devices *creds.SQLStore, logger *zap.Logger) *wa.Dialer {
	b := p.Config.Bridge
	return wa.NewDialer(devices, logger.Named("wa"), wa.Options{
		ConnectTimeout: b.ConnectTimeout.Duration,
		SendTimeout:    b.SendTimeout.Duration,
		DeviceName:     b.DeviceName,
	})
}

type aiResult struct {
	fx.Out

	Responder ai.Responder
	Extractor ai.EventExtractor
}

func provideAI(p Params, logger *zap.Logger) (aiResult, error) {
	r, x, err := ai.New(context.Background(), p.Config.AI)
	if err != nil {
		return aiResult{}, err
	}
	provider := p.Config.AI.Provider
	if r == nil {
		provider = "none"
	}
	logger.Info("ai configured", zap.String("provider", provider), zap.Bool("extract_events", x != nil))
	return aiResult{Responder: r, Extractor: x}, nil
}

// ingestorFunc adapts a function to manager.Ingestor.
type ingestorFunc func(*wa.InboundMessage)

func (f ingestorFunc) Submit(msg *wa.InboundMessage) { f(msg) }

type bridgeParams struct {
	fx.In

	Params    Params
	Store     *creds.SQLStore
	Dialer    *wa.Dialer
	DB        *store.DB
	Bus       *bus.Bus
	Machine   *status.Machine
	Logger    *zap.Logger
	Responder ai.Responder
	Extractor ai.EventExtractor
}

type bridgeResult struct {
	fx.Out

	Manager    *manager.Manager
	Dispatcher *dispatch.Dispatcher
	Pipeline   *ingest.Pipeline
}

// provideBridge builds the manager, dispatcher and ingest pipeline together:
// the pipeline replies through the dispatcher, which sends through the
// manager, which feeds the pipeline.
func provideBridge(in bridgeParams) bridgeResult {
	cfg := in.Params.Config

	dial := func(ctx context.Context, c *creds.Credentials) (manager.Session, error) {
		s, err := in.Dialer.Dial(ctx, c)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	var pipeline *ingest.Pipeline
	mgr := manager.New(in.Store, dial, in.Machine, in.Logger.Named("manager"), manager.Options{
		ConnectTimeout: cfg.Bridge.ConnectTimeout.Duration,
		Reconnect: manager.ReconnectPolicy{
			InitialInterval: cfg.Bridge.Reconnect.InitialInterval.Duration,
			MaxInterval:     cfg.Bridge.Reconnect.MaxInterval.Duration,
			Multiplier:      cfg.Bridge.Reconnect.Multiplier,
			MaxAttempts:     cfg.Bridge.Reconnect.MaxAttempts,
		},
	}, manager.WithIngestor(ingestorFunc(func(msg *wa.InboundMessage) {
		// Messages only arrive after Connect, long after construction.
		pipeline.Submit(msg)
	})))

	dispatcher := dispatch.New(in.DB, mgr, in.Bus, in.Logger.Named("dispatch"))

	var opts []ingest.Option
	if in.Responder != nil {
		opts = append(opts, ingest.WithResponder(in.Responder))
	}
	if in.Extractor != nil {
		opts = append(opts, ingest.WithExtractor(in.Extractor))
	}
	pipeline = ingest.New(in.DB, dispatcher, in.Bus, in.Logger.Named("ingest"), ingest.Options{
		SystemPrompt:  cfg.AI.SystemPrompt,
		HistoryTurns:  cfg.AI.HistoryTurns,
		ReplyTimeout:  cfg.AI.Timeout.Duration,
		ReplyToGroups: cfg.Bridge.ReplyToGroups,
	}, opts...)

	return bridgeResult{Manager: mgr, Dispatcher: dispatcher, Pipeline: pipeline}
}

func provideService(p Params, mgr *manager.Manager, dispatcher *dispatch.Dispatcher, db *store.DB, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.AccountName, mgr, dispatcher, db, b, logger.Named("api"))
}

// provideHTTP returns nil when the HTTP surface is disabled.
func provideHTTP(p Params, mgr *manager.Manager, dispatcher *dispatch.Dispatcher, db *store.DB, logger *zap.Logger) *httpapi.Server {
	addr := p.Config.HTTP.Listen
	if addr == "" {
		return nil
	}
	return httpapi.NewServer(addr, mgr, dispatcher, db, logger.Named("http"))
}

type lifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Server    *Server
	HTTP      *httpapi.Server
	Lock      *lock.Lock
	Creds     *creds.SQLStore
	DB        *store.DB
	Manager   *manager.Manager
	Pipeline  *ingest.Pipeline
	Logger    *zap.Logger
}

func registerLifecycle(in lifecycleParams) {
	logger := in.Logger
	in.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := in.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			if in.HTTP != nil {
				go func() {
					if err := in.HTTP.Start(); err != nil {
						logger.Error("http server error", zap.Error(err))
					}
				}()
			}

			// Reconnects in the background when the account is already paired.
			in.Manager.Resume(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			var g errgroup.Group
			g.Go(func() error {
				in.Server.Stop(ctx)
				return nil
			})
			if in.HTTP != nil {
				g.Go(func() error { return in.HTTP.Shutdown(ctx) })
			}
			if err := g.Wait(); err != nil {
				logger.Warn("error stopping servers", zap.Error(err))
			}

			// The session goes first so no message enters a stopped pipeline.
			in.Manager.Shutdown()
			in.Pipeline.Stop(ctx)

			if err := in.Creds.Close(); err != nil {
				logger.Warn("error closing credentials store", zap.Error(err))
			}
			if err := in.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := in.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
