package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Auros/VRAtlas.API-sub000/internal/api"
	"github.com/Auros/VRAtlas.API-sub000/internal/circuitbreaker"
	"github.com/Auros/VRAtlas.API-sub000/internal/config"
	"github.com/Auros/VRAtlas.API-sub000/internal/cron"
	"github.com/Auros/VRAtlas.API-sub000/internal/delivery"
	"github.com/Auros/VRAtlas.API-sub000/internal/eventbus"
	"github.com/Auros/VRAtlas.API-sub000/internal/fanout"
	"github.com/Auros/VRAtlas.API-sub000/internal/jobs"
	"github.com/Auros/VRAtlas.API-sub000/internal/lifecycle"
	"github.com/Auros/VRAtlas.API-sub000/internal/logger"
	"github.com/Auros/VRAtlas.API-sub000/internal/metrics"
	"github.com/Auros/VRAtlas.API-sub000/internal/reconciler"
	"github.com/Auros/VRAtlas.API-sub000/internal/scheduler"
	"github.com/Auros/VRAtlas.API-sub000/internal/store"
	"github.com/Auros/VRAtlas.API-sub000/internal/store/memory"
	"github.com/Auros/VRAtlas.API-sub000/internal/store/postgres"

	_ "github.com/lib/pq"
)

// backend is what every driver provides.
type backend interface {
	store.Store
	store.Opener
}

func openBackend(cfg config.Config, log zerolog.Logger) (backend, api.HealthChecker, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn().Msg("memory store driver: all data is lost on exit")
		return memory.New(), nil, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Info().
		Int("max_open", cfg.DBMaxOpenConns).
		Int("max_idle", cfg.DBMaxIdleConns).
		Dur("max_lifetime", cfg.DBConnMaxLifetime).
		Dur("max_idle_time", cfg.DBConnMaxIdleTime).
		Msg("db pool configured")

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return postgres.New(db, cfg.DBOpTimeout), db, func() { db.Close() }, nil
}

// pipeline is the message-driven core shared by every command source.
type pipeline struct {
	bus     *eventbus.Bus
	sched   *scheduler.Scheduler
	machine *lifecycle.Machine
}

// newPipeline wires the scheduler, fan-out and router onto one bus. The bus
// needs the registry and the scheduler listener needs the bus, so the
// publisher is attached afterwards.
func newPipeline(cfg config.Config, st backend, router *delivery.Router, sink metrics.Sink, log zerolog.Logger, clock func() time.Time) (*pipeline, error) {
	jobSet := jobs.New().WithClock(clock).WithMetrics(sink)
	sched, err := scheduler.New(scheduler.Config{TickInterval: cfg.SchedulerTickInterval}, st, jobSet.Table())
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	sched.WithClock(clock).WithLogger(log).WithMetrics(sink)

	fan := fanout.New(fanout.Config{
		MaxAttempts:  cfg.FanoutMaxAttempts,
		RetryBackoff: cfg.FanoutRetryBackoff,
	}).WithClock(clock).WithMetrics(sink)

	b := eventbus.NewBuilder()
	sched.Register(b)
	fan.Register(b)
	router.Register(b)

	bus := eventbus.New(b.Build(), st,
		eventbus.WithBufferSize(cfg.EventBusBufferSize),
		eventbus.WithWorkers(cfg.EventBusWorkers),
		eventbus.WithEmitTimeout(cfg.EventBusEmitTimeout),
		eventbus.WithDrainTimeout(cfg.EventBusDrainTimeout),
		eventbus.WithMetrics(sink),
		eventbus.WithLogger(log),
	)
	sched.WithPublisher(bus)

	machine := lifecycle.New(st, bus).WithClock(clock).WithLogger(log).WithMetrics(sink)
	return &pipeline{bus: bus, sched: sched, machine: machine}, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.New("vratlas").Level(logger.ParseLevel(cfg.LogLevel))
	logConfigWarnings(log, cfg)

	st, health, closeStore, err := openBackend(cfg, log)
	if err != nil {
		return fail(exitRuntimeError, "%v", err)
	}
	defer closeStore()

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + strconv.Itoa(cfg.MetricsPort),
			Handler: metricsMux,
		}
		go func() {
			log.Info().Str("addr", metricsServer.Addr).Str("path", cfg.MetricsPath).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	// Delivery channels.
	var channels []delivery.Channel
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		channels = append(channels, delivery.NewRealtime(redisClient).WithBacklog(cfg.RealtimeBacklog, 0))
		log.Info().Str("redis", cfg.RedisAddr).Msg("realtime channel enabled")
	}
	if cfg.WebPushEnabled {
		wp := delivery.NewWebPush(&http.Client{}).WithTimeout(cfg.WebPushTimeout).WithMetrics(sink)
		if cfg.CircuitBreakerThreshold > 0 {
			cb := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown).
				OnStateChange(func(endpoint string, to circuitbreaker.State) {
					sink.CircuitStateChanged(to.String())
					log.Warn().Str("endpoint", endpoint).Str("state", to.String()).Msg("push circuit changed")
				})
			wp = wp.WithCircuitBreaker(cb)
		}
		channels = append(channels, wp)
	}
	router := delivery.NewRouter(channels...).
		WithParallelism(cfg.DeliveryParallelism).
		WithMetrics(sink)

	core, err := newPipeline(cfg, st, router, sink, log, time.Now)
	if err != nil {
		return fail(exitRuntimeError, "%v", err)
	}
	bus, sched, machine := core.bus, core.sched, core.machine

	handler := api.NewHandler(machine, st).WithLogger(log)
	if health != nil {
		handler = handler.WithHealthChecker(health)
	}
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler.Router(),
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	// Separate contexts enable ordered shutdown.
	busCtx, cancelBus := context.WithCancel(context.Background())
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	reconcilerCtx, cancelReconciler := context.WithCancel(context.Background())
	defer cancelBus()
	defer cancelScheduler()
	defer cancelReconciler()

	var busWg, schedulerWg, reconcilerWg sync.WaitGroup

	busWg.Add(1)
	go func() {
		defer busWg.Done()
		if err := bus.Run(busCtx); err != nil {
			log.Error().Err(err).Msg("event bus stopped with error")
		}
	}()

	schedulerWg.Add(1)
	go func() {
		defer schedulerWg.Done()
		if err := sched.Run(schedulerCtx); err != nil {
			log.Error().Err(err).Msg("scheduler stopped with error")
		}
	}()

	if cfg.ReconcileEnabled {
		cadence, err := cron.NewParser().Parse(cfg.ReconcileSchedule, "")
		if err != nil {
			return fail(exitInvalidConfig, "RECONCILE_SCHEDULE: %v", err)
		}
		recon := reconciler.New(reconciler.Config{BatchSize: cfg.ReconcileBatchSize}, cadence, st, sched).
			WithLogger(log).
			WithMetrics(sink)
		reconcilerWg.Add(1)
		go func() {
			defer reconcilerWg.Done()
			recon.Run(reconcilerCtx)
		}()
	}

	log.Info().
		Str("store", cfg.StoreDriver).
		Strs("channels", router.Channels()).
		Dur("tick", cfg.SchedulerTickInterval).
		Msg("started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case received := <-sig:
		log.Info().Str("signal", received.String()).Msg("shutting down")
	case <-ctx.Done():
		log.Info().Msg("context cancelled, shutting down")
	}

	// Phase 1: no new triggers or reconciliations.
	cancelScheduler()
	schedulerWg.Wait()
	cancelReconciler()
	reconcilerWg.Wait()
	log.Info().Msg("scheduler and reconciler stopped")

	// Phase 2: no new commands.
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	log.Info().Msg("http server stopped")

	// Phase 3: drain the bus, follow-up messages included.
	cancelBus()
	busWg.Wait()
	log.Info().Msg("event bus drained")

	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	log.Info().Msg("stopped")
	return nil
}
