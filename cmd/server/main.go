package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/example/parkswap/internal/clock"
	"github.com/example/parkswap/internal/config"
	"github.com/example/parkswap/internal/demo"
	"github.com/example/parkswap/internal/dispatch"
	"github.com/example/parkswap/internal/eta"
	"github.com/example/parkswap/internal/geo"
	"github.com/example/parkswap/internal/geofence"
	httpapi "github.com/example/parkswap/internal/http"
	"github.com/example/parkswap/internal/ingest"
	"github.com/example/parkswap/internal/latch"
	"github.com/example/parkswap/internal/ledger"
	"github.com/example/parkswap/internal/lifecycle"
	"github.com/example/parkswap/internal/localstate"
	"github.com/example/parkswap/internal/logging"
	"github.com/example/parkswap/internal/matcher"
	"github.com/example/parkswap/internal/signals"
	"github.com/example/parkswap/internal/storage"
	"github.com/example/parkswap/internal/watchdog"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("config invalid", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type backends struct {
	store   storage.Store
	tracker geo.Tracker
	stamps  localstate.Stamps
	hidden  localstate.HiddenCards
	closers []func() error
}

func (b *backends) close(logger *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}

// openBackends picks Postgres and Redis when configured and falls back to the
// in-process stores otherwise.
func openBackends(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*backends, error) {
	b := &backends{}
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.closers = append(b.closers, pg.Close)
		if cfg.RunMigrations {
			applied, err := pg.ApplyMigrations(ctx, cfg.MigrationsDir)
			if err != nil {
				b.close(logger)
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied", "files", applied)
		}
		b.store = pg
	} else {
		logger.Info("PG_DSN not set, using in-memory store")
		b.store = storage.NewMemoryStore()
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			b.close(logger)
			return nil, fmt.Errorf("redis: %w", err)
		}
		b.closers = append(b.closers, rdb.Close)
		b.tracker = geo.NewRedisGeo(rdb, cfg.RedisGeoKey)
		b.stamps = localstate.NewRedisStamps(rdb, cfg.RedisStampKey)
		b.hidden = localstate.NewRedisHidden(rdb, cfg.RedisHiddenPrefix)
	} else {
		logger.Info("REDIS_ADDR not set, using in-memory positions and local state")
		b.tracker = geo.NewIndex()
		b.stamps = localstate.NewMemoryStamps()
		b.hidden = localstate.NewMemoryHidden()
	}
	return b, nil
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close(logger)

	clk := clock.System{}
	bus := signals.NewBus(logging.Component(logger, "signals"))
	led := ledger.New(
		ledger.WithClock(clk),
		ledger.WithSplit(ledger.Split{
			SellerShare:        decimal.NewFromFloat(cfg.SellerShare),
			PenaltySellerShare: decimal.NewFromFloat(cfg.PenaltySellerShare),
			RefundShare:        decimal.NewFromFloat(cfg.RefundShare),
			BanDuration:        cfg.BanDuration,
		}),
	)
	life, err := lifecycle.NewService(lifecycle.Deps{
		Store:         b.store,
		Stamps:        b.stamps,
		Ledger:        led,
		Signals:       bus,
		Clock:         clk,
		Logger:        logging.Component(logger, "lifecycle"),
		NavigateAfter: cfg.NavigateAfter,
	})
	if err != nil {
		return err
	}

	var routing eta.Client
	if cfg.OSRMEndpoint != "" {
		routing = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}
	m := &matcher.Service{
		Lifecycle: life,
		Store:     b.store,
		Signals:   bus,
		Logger:    logging.Component(logger, "matcher"),
		Geo:       b.tracker,
		ETA:       eta.NewEstimator(routing, eta.NewCache(cfg.ETACacheTTL), cfg.DefaultSpeedMps, logging.Component(logger, "eta")),
	}

	// settlement latch shared by the watchdog and the geofence
	shared := latch.New()
	wd := watchdog.New(watchdog.Config{
		Lifecycle: life,
		Store:     b.store,
		Signals:   bus,
		Logger:    logging.Component(logger, "watchdog"),
		Latch:     shared,
		Interval:  cfg.WatchdogInterval,
	})
	trigger := geofence.NewTrigger(life,
		geofence.WithRadius(cfg.GeofenceRadius),
		geofence.WithDriftRadius(cfg.SellerDriftRadius),
		geofence.WithLatch(shared),
		geofence.WithSignals(bus),
		geofence.WithLogger(logging.Component(logger, "geofence")),
	)
	monitor := &geofence.Monitor{
		Trigger:    trigger,
		Store:      b.store,
		Tracker:    b.tracker,
		Clock:      clk,
		Logger:     logging.Component(logger, "geofence"),
		Interval:   cfg.GeofenceInterval,
		LeaveWatch: cfg.LeaveWatch,
	}

	wsReg := dispatch.NewWSRegistry(logging.Component(logger, "ws"))
	fanout := dispatch.NewFanout(wsReg, 0)
	fanout.Logger = logging.Component(logger, "dispatch")
	if cfg.PushEndpoint != "" {
		fanout.Push = dispatch.NewPushDispatcher(cfg.PushEndpoint, cfg.PushKey)
	}
	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic, cfg.KafkaSignalTopic)
		defer producer.Close()
		if cfg.KafkaSignalTopic != "" {
			fanout.Mirror = producer
		}
	}
	defer fanout.Attach(bus)()

	if cfg.DemoMode {
		sim := demo.NewSimulator(m, cfg.DemoRequestDelay, logging.Component(logger, "demo"))
		defer sim.Stop()
		defer sim.Attach(bus)()
		logger.Info("demo mode on", "request_delay", cfg.DemoRequestDelay)
	}

	deps := httpapi.Deps{
		Lifecycle: life,
		Matcher:   m,
		Store:     b.store,
		Tracker:   b.tracker,
		Hidden:    b.hidden,
		WS:        wsReg,
		Logger:    logging.Component(logger, "http"),
	}
	if producer != nil {
		deps.Locations = producer
	}
	api, err := httpapi.NewServer(deps)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	loops, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()
	var wg sync.WaitGroup
	for name, loop := range map[string]func(context.Context) error{
		"watchdog": wd.Run,
		"geofence": monitor.Run,
		"dispatch": fanout.Run,
	} {
		name, loop := name, loop
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loop(loops); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("loop stopped", "loop", name, "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("parkswap listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			cancelLoops()
			wg.Wait()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	cancelLoops()
	wg.Wait()
	return err
}
