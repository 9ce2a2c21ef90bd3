package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/blockmon/internal/core/config"
	"github.com/vietddude/blockmon/internal/core/domain"
	"github.com/vietddude/blockmon/internal/core/state"
	"github.com/vietddude/blockmon/internal/indexing/health"
	"github.com/vietddude/blockmon/internal/indexing/ingest"
	"github.com/vietddude/blockmon/internal/infra/chain"
	"github.com/vietddude/blockmon/internal/infra/chain/evm"
	redisclient "github.com/vietddude/blockmon/internal/infra/redis"
	"github.com/vietddude/blockmon/internal/infra/rpc/provider"
)

const shutdownTimeout = 5 * time.Second

// Watcher owns every component of a running monitor and its lifecycle.
type Watcher struct {
	cfg *config.AppConfig
	log *slog.Logger

	state        *state.MonitorState
	provider     *provider.HTTPProvider
	adapter      chain.Fetcher
	subscriber   *evm.Subscriber
	redisClient  *redisclient.Client
	healthServer *health.Server

	mu       sync.Mutex
	cancel   context.CancelFunc
	fatalErr error
}

// NewWatcher creates a new Watcher instance with all dependencies initialized.
// cfg must already be validated.
func NewWatcher(cfg *config.AppConfig, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}

	st, err := state.New(cfg.Monitor.BlockFrequency)
	if err != nil {
		return nil, &config.Error{Err: err}
	}

	w := &Watcher{
		cfg:   cfg,
		log:   log.With("component", "watcher"),
		state: st,
	}

	w.provider = provider.NewHTTPProvider("http", cfg.RPC.HTTPURL, cfg.RPC.Timeout)
	w.adapter = evm.NewEVMAdapter(w.provider)

	if cfg.Mode() == domain.IngestModePush {
		w.subscriber, err = evm.NewSubscriber(evm.SubscriberConfig{
			URL:            cfg.RPC.WSURL,
			InitialBackoff: cfg.Subscriber.InitialBackoff,
			MaxBackoff:     cfg.Subscriber.MaxBackoff,
			PingInterval:   cfg.Subscriber.PingInterval,
			ReadTimeout:    cfg.Subscriber.ReadTimeout,
			MaxReconnects:  cfg.Subscriber.MaxReconnects,
			Logger:         log,
		})
		if err != nil {
			return nil, &config.Error{Err: err}
		}
	}

	if cfg.RedisEnabled() {
		w.redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
	}

	monitor := health.NewMonitor(st, cfg.Mode(), w.provider)
	w.healthServer = health.NewServer(monitor, cfg.Server.Listen, w.fatal)

	return w, nil
}

// Run serves HTTP and ingests blocks until ctx is cancelled or a fatal error
// occurs. It returns nil on a clean shutdown.
func (w *Watcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	defer w.close()

	ing, err := w.newIngester(ctx)
	if err != nil {
		return err
	}

	w.log.Info("Starting watcher",
		"mode", ing.Mode(),
		"rpc", w.cfg.RPC.HTTPURL,
		"listen", w.cfg.Server.Listen,
		"block_frequency", w.cfg.Monitor.BlockFrequency,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := w.healthServer.Start(); err != nil {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return ing.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return w.healthServer.Stop(shutdownCtx)
	})

	err = g.Wait()

	w.mu.Lock()
	fatalErr := w.fatalErr
	w.mu.Unlock()

	if fatalErr != nil {
		return fatalErr
	}
	return err
}

func (w *Watcher) newIngester(ctx context.Context) (*ingest.Ingester, error) {
	cfg := ingest.Config{
		State:  w.state,
		Logger: w.log,
	}
	if w.redisClient != nil {
		cfg.Publisher = w.redisClient
	}

	if w.subscriber != nil {
		stream, err := w.subscriber.Subscribe(ctx)
		if err != nil {
			return nil, fmt.Errorf("subscribe: %w", err)
		}
		cfg.Source = ingest.NewPusher(stream)
		cfg.Reconciler = ingest.NewReconciler(w.adapter, w.log)
	} else {
		cfg.Source = ingest.NewPoller(w.adapter, ingest.NewScheduler(w.cfg.Monitor.BlockFrequency))
	}

	return ingest.NewIngester(cfg)
}

// fatal records an unrecoverable error reported outside the ingestion loop
// and stops the watcher.
func (w *Watcher) fatal(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fatalErr == nil {
		w.fatalErr = err
		w.log.Error("Fatal error, shutting down", "error", err)
	}
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Watcher) close() {
	if w.subscriber != nil {
		_ = w.subscriber.Close()
	}
	if w.redisClient != nil {
		if err := w.redisClient.Close(); err != nil {
			w.log.Warn("Failed to close Redis", "error", err)
		}
	}
	_ = w.provider.Close()
	w.log.Info("Watcher stopped")
}
