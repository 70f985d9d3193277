package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonhpyo/MyHTS/internal/api"
	"github.com/jonhpyo/MyHTS/internal/engine"
	"github.com/jonhpyo/MyHTS/internal/event"
	"github.com/jonhpyo/MyHTS/internal/execution"
	"github.com/jonhpyo/MyHTS/internal/infra"
	"github.com/jonhpyo/MyHTS/internal/marketdata"
	"github.com/jonhpyo/MyHTS/internal/storage"
)

const busSize = 4096

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config  *infra.Config
	Store   *storage.Store
	Bus     *event.Bus
	Hub     *api.Hub
	Service *execution.Service
	Server  *api.Server

	poller  *marketdata.Poller
	kafka   *event.KafkaSink
	closers []func()
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap(cfg *infra.Config) *Bootstrap {
	return &Bootstrap{Config: cfg}
}

// Initialize opens the store and builds every component. Nothing is started.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	cfg := b.Config
	slog.Info("🚀 Bootstrapping MyHTS...", slog.String("driver", cfg.Database.Driver))

	// 1. Store (schema migration on open)
	dsn := cfg.Database.DSN
	if cfg.Database.Driver == "sqlite" && dsn == "" {
		workDir := infra.GetWorkspaceDir()
		if err := infra.EnsureDir(workDir); err != nil {
			return fmt.Errorf("failed to create workspace dir: %w", err)
		}
		// 같은 임베디드 DB를 두 프로세스가 공유하지 못하도록 잠금
		unlock, err := infra.CreateLockFile(workDir)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, unlock)
		dsn = infra.DefaultSQLitePath(workDir)
	}
	store, err := storage.Open(ctx, storage.Config{
		Driver:       cfg.Database.Driver,
		DSN:          dsn,
		LockTimeout:  cfg.LockTimeout(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		b.Close()
		return fmt.Errorf("open store: %w", err)
	}
	b.Store = store
	slog.Info("✅ Store ready", slog.String("dialect", store.Dialect()))

	// 2. Event fan-out (after commit only)
	b.Hub = api.NewHub()
	b.Bus = event.NewBus(busSize, b.Hub)
	if cfg.Kafka.Enabled {
		b.kafka = event.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		b.Bus.Subscribe(b.kafka)
		slog.Info("✅ Kafka sink enabled", slog.String("topic", cfg.Kafka.Topic))
	}

	// 3. Reference prices: external quotes first, own book mid as fallback
	prices := marketdata.Chain{}
	if cfg.MarketData.URL != "" {
		b.poller = marketdata.NewPoller(cfg.Trading.Symbols, marketdata.PollerConfig{
			URL:          cfg.MarketData.URL,
			PollInterval: time.Duration(cfg.MarketData.PollIntervalSec) * time.Second,
			Timeout:      time.Duration(cfg.MarketData.TimeoutSec) * time.Second,
		})
		prices = append(prices, b.poller)
	}
	prices = append(prices, marketdata.BookMid{Book: store})

	// 4. Lifecycle + transport
	initialCash, err := cfg.InitialCash()
	if err != nil {
		b.Close()
		return err
	}
	b.Service = execution.NewService(store, engine.New(store, b.Bus), prices, execution.Config{
		Symbols:      cfg.Trading.Symbols,
		AllowShort:   *cfg.Trading.AllowShort,
		MarketIOC:    *cfg.Trading.MarketIOC,
		RetryBackoff: cfg.MatchRetryBackoff(),
		InitialCash:  initialCash,
	})
	b.Server = api.NewServer(b.Service, b.Hub, api.Config{
		Addr:           cfg.Server.Addr,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})
	return nil
}

// Run starts the background workers and serves HTTP until ctx is done.
// The bus is drained before Run returns.
func (b *Bootstrap) Run(ctx context.Context) error {
	busCtx, stopBus := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Bus.Run(busCtx)
	}()

	if b.poller != nil {
		b.poller.Start(ctx)
		slog.Info("✅ Market data poller started", slog.Int("symbols", len(b.Config.Trading.Symbols)))
	}

	err := b.Server.Run(ctx)

	if b.poller != nil {
		b.poller.Stop()
	}
	stopBus()
	wg.Wait()
	if dropped := b.Bus.Dropped(); dropped > 0 {
		slog.Warn("Events dropped during run", slog.Uint64("count", dropped))
	}
	return err
}

// Close releases the store, Kafka writer and instance lock.
func (b *Bootstrap) Close() {
	var errs []error
	if b.kafka != nil {
		errs = append(errs, b.kafka.Close())
	}
	if b.Store != nil {
		errs = append(errs, b.Store.Close())
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
	if err := errors.Join(errs...); err != nil {
		slog.Error("Shutdown cleanup failed", slog.Any("error", err))
	}
}

// Banner prints the startup summary.
func (b *Bootstrap) Banner(w io.Writer) {
	infra.PrintBanner(w, b.Config)
}
