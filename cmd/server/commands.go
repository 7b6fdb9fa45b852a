package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/robbyt/go-supervisor/supervisor"
	"github.com/urfave/cli/v3"

	"github.com/9bishal/movie-booking-system-sub000/internal/booking"
	"github.com/9bishal/movie-booking-system-sub000/internal/cache"
	"github.com/9bishal/movie-booking-system-sub000/internal/config"
	"github.com/9bishal/movie-booking-system-sub000/internal/database"
	"github.com/9bishal/movie-booking-system-sub000/internal/handler"
	"github.com/9bishal/movie-booking-system-sub000/internal/httpserver"
	"github.com/9bishal/movie-booking-system-sub000/internal/lock"
	"github.com/9bishal/movie-booking-system-sub000/internal/logging"
	"github.com/9bishal/movie-booking-system-sub000/internal/middleware"
	"github.com/9bishal/movie-booking-system-sub000/internal/payment"
	"github.com/9bishal/movie-booking-system-sub000/internal/pricing"
	"github.com/9bishal/movie-booking-system-sub000/internal/queue"
	"github.com/9bishal/movie-booking-system-sub000/internal/reclaim"
	"github.com/9bishal/movie-booking-system-sub000/internal/repository"
	"github.com/9bishal/movie-booking-system-sub000/internal/router"
	"github.com/9bishal/movie-booking-system-sub000/internal/seats"
	"github.com/9bishal/movie-booking-system-sub000/internal/seatstore"
	"github.com/9bishal/movie-booking-system-sub000/internal/utils"
)

var (
	_ booking.Repository = (*repository.BookingRepo)(nil)
	_ booking.Catalog    = (*repository.ShowtimeRepo)(nil)
	_ booking.Gateway    = (*payment.Client)(nil)
	_ booking.Notifier   = (*queue.Publisher)(nil)
	_ handler.Bookings   = (*booking.Service)(nil)
	_ reclaim.Expirer    = (*booking.Service)(nil)
	_ reclaim.Locker     = (*lock.RedisLock)(nil)
)

// app is the booking core with the resources it holds open.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	db     *sql.DB
	rdb    *redis.Client // nil when the memory seat store runs without Redis
	pub    *queue.Publisher
	pay    *payment.Client
	svc    *booking.Service
	sweep  *reclaim.Scheduler
	closed bool
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	logger := logging.New(cfg.Format, cfg.Level, os.Stderr)
	slog.SetDefault(logger)
	return logger
}

// build opens the database, Redis and the broker and wires the booking
// service on top of them.
func build(cfg config.Config, logger *slog.Logger) (*app, error) {
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{cfg: cfg, log: logger, db: db}

	rdb, err := config.NewRedisClient()
	switch {
	case err == nil:
		a.rdb = rdb
	case cfg.Booking.SeatStore == "memory":
		logger.Warn("redis unavailable, running single-instance without lock, cache or rate limit", "error", err)
	default:
		a.Close()
		return nil, err
	}

	var store seatstore.Store
	if cfg.Booking.SeatStore == "memory" {
		store = seatstore.NewMemoryStore(nil)
	} else {
		store = seatstore.NewRedisStore(a.rdb, cfg.Booking.SeatKeyPrefix, cfg.Booking.SeatStoreTimeout)
	}

	var layout seats.LayoutCache
	var locker reclaim.Locker
	if a.rdb != nil {
		if c := cache.NewSeatLayout(cfg.SeatCache, a.rdb); c != nil {
			layout = c
		}
		locker = lock.NewRedisLock(a.rdb)
	}

	showtimes := repository.NewShowtimeRepo(db)
	a.pub = queue.NewPublisher(cfg.AMQPURL, logger)
	a.pay = payment.NewClient(cfg.Payment)
	a.svc = booking.NewService(booking.Deps{
		Repo:     repository.NewBookingRepo(db),
		Seats:    seats.NewManager(store, cfg.Booking.HoldWindow, showtimes, layout, logger),
		Catalog:  showtimes,
		Pricer:   pricing.New(cfg.Pricing.FeeCentsPerSeat, cfg.Pricing.TaxBasisPoints),
		Gateway:  a.pay,
		Notifier: a.pub,
		Logger:   logger,
	})
	a.sweep = reclaim.NewScheduler(a.svc, locker, cfg.Sweep, logger)
	return a, nil
}

func (a *app) Close() {
	if a.closed {
		return
	}
	a.closed = true
	if a.pub != nil {
		_ = a.pub.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	_ = a.db.Close()
}

func (a *app) echo() *echo.Echo {
	e := echo.New()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	var rate echo.MiddlewareFunc
	probes := map[string]handler.Pinger{"database": a.db.PingContext}
	if a.rdb != nil {
		rate = middleware.BookingRateLimit(a.cfg.RateLimit, a.rdb, a.log)
		probes["redis"] = func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() }
	}
	router.RegisterRoutes(e, router.Routes{
		Bookings:  handler.NewBookingHandler(a.svc, a.pay, a.log),
		Probes:    probes,
		JWTSecret: a.cfg.JWTSecret,
		RateLimit: rate,
	})
	return e
}

func supervise(ctx context.Context, logger *slog.Logger, runnables ...supervisor.Runnable) error {
	super, err := supervisor.New(
		supervisor.WithContext(ctx),
		supervisor.WithLogHandler(logger.Handler()),
		supervisor.WithRunnables(runnables...),
	)
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}
	return super.Run()
}

func serve(ctx context.Context, _ *cli.Command) error {
	cfg := config.Load()
	logger := newLogger(cfg.Log)
	a, err := build(cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer a.Close()

	addr := ":" + cfg.Port
	logger.Info("starting", "addr", addr, "env", cfg.Env, "seat_store", cfg.Booking.SeatStore, "hold_window", cfg.Booking.HoldWindow)
	if err := supervise(ctx, logger, httpserver.NewRunner(a.echo(), addr, logger), a.sweep); err != nil {
		return cli.Exit(fmt.Sprintf("server: %v", err), 1)
	}
	logger.Info("shutdown complete")
	return nil
}

func worker(ctx context.Context, _ *cli.Command) error {
	cfg := config.LoadWorkerConfig()
	logger := newLogger(config.LoadLogConfig())

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return cli.Exit(fmt.Sprintf("worker: %v", err), 1)
	}
	f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return cli.Exit(fmt.Sprintf("worker: %v", err), 1)
	}
	defer f.Close()

	logger.Info("worker starting", "workers", cfg.Workers, "log", cfg.LogPath)
	consumer := queue.NewConsumer(cfg.AMQPURL, cfg.Workers, queue.NewDeliveryLog(f), logger)
	if err := supervise(ctx, logger, consumer); err != nil {
		return cli.Exit(fmt.Sprintf("worker: %v", err), 1)
	}
	return nil
}

func sweepOnce(ctx context.Context, _ *cli.Command) error {
	cfg := config.Load()
	logger := newLogger(cfg.Log)
	a, err := build(cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer a.Close()

	report, err := a.sweep.RunReclamationSweep(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return cli.Exit(fmt.Sprintf("sweep: %v", err), 1)
	}
	if report.Skipped {
		fmt.Println("sweep skipped: lock held by another instance")
		return nil
	}
	fmt.Printf("scanned %d, expired %d, failed %d\n", report.Scanned, len(report.Expired), len(report.Failures))
	for _, f := range report.Failures {
		fmt.Printf("  booking %d: %v\n", f.BookingID, f.Err)
	}
	if len(report.Failures) > 0 {
		return cli.Exit("", 2)
	}
	return nil
}

func migrate(ctx context.Context, _ *cli.Command) error {
	cfg := config.Load()
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return cli.Exit(fmt.Sprintf("migrate: %v", err), 1)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return cli.Exit(fmt.Sprintf("migrate: %v", err), 1)
	}
	fmt.Println("schema applied")
	return nil
}

func token(_ context.Context, cmd *cli.Command) error {
	tok, err := utils.NewAccessToken(os.Getenv("JWT_SECRET"), cmd.Uint64("user"), cmd.String("role"), cmd.Duration("ttl"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("token: %v", err), 1)
	}
	fmt.Println(tok.Token)
	return nil
}
