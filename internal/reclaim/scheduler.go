// Package reclaim runs the periodic sweep that expires PENDING bookings
// whose hold window has passed and gives their seats back.  Seat keys lapse
// on their own in the seat store; the sweep brings the database in line.
package reclaim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robbyt/go-supervisor/supervisor"

	"github.com/9bishal/movie-booking-system-sub000/internal/booking"
	"github.com/9bishal/movie-booking-system-sub000/internal/config"
	"github.com/9bishal/movie-booking-system-sub000/internal/lock"
	"github.com/9bishal/movie-booking-system-sub000/internal/model"
)

// LockKey serializes sweeps across instances.
const LockKey = "reclaim:bookings"

// ErrLockContention means another instance held the sweep lock.  The sweep
// reports it through SweepReport.Skipped; it is never returned.
var ErrLockContention = errors.New("reclaim: sweep lock held elsewhere")

var _ supervisor.Runnable = (*Scheduler)(nil)

// Locker grants the sweep lease.  *lock.RedisLock implements it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Lease, bool, error)
}

// Expirer is the part of the booking service the sweep drives.
type Expirer interface {
	PendingExpired(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)
	ExpireBooking(ctx context.Context, bookingID uint64) (*model.Booking, error)
}

// Failure is a booking the sweep could not expire.
type Failure struct {
	BookingID uint64
	Err       error
}

// SweepReport describes one sweep.
type SweepReport struct {
	Skipped  bool
	Scanned  int
	Expired  []uint64
	Failures []Failure
}

// Scheduler sweeps every Interval until stopped.
type Scheduler struct {
	bookings Expirer
	locker   Locker
	cfg      config.SweepConfig
	now      func() time.Time
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewScheduler returns a Scheduler.  A nil locker runs sweeps without
// coordination, which is only safe with a single instance.
func NewScheduler(bookings Expirer, locker Locker, cfg config.SweepConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		bookings: bookings,
		locker:   locker,
		cfg:      cfg,
		now:      time.Now,
		log:      logger.With("component", "reclaim"),
	}
}

func (s *Scheduler) String() string { return "reclamation-scheduler" }

// RunReclamationSweep expires every PENDING booking whose hold has passed,
// up to the configured batch size.  One booking failing does not stop the
// others; failures are collected in the report.
func (s *Scheduler) RunReclamationSweep(ctx context.Context) (SweepReport, error) {
	if s.locker != nil {
		lease, ok, err := s.locker.Acquire(ctx, LockKey, s.cfg.LockTTL)
		if err != nil {
			return SweepReport{}, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			s.log.Info("sweep skipped", "reason", ErrLockContention)
			return SweepReport{Skipped: true}, nil
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("release sweep lock", "error", err)
			}
		}()
	}

	due, err := s.bookings.PendingExpired(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list expired bookings: %w", err)
	}
	report := SweepReport{Scanned: len(due)}
	for _, b := range due {
		if ctx.Err() != nil {
			break
		}
		_, err := s.bookings.ExpireBooking(ctx, b.ID)
		switch {
		case err == nil:
			report.Expired = append(report.Expired, b.ID)
		case errors.Is(err, booking.ErrInvalidStateTransition), errors.Is(err, booking.ErrNotExpired):
			// Settled by someone else since the listing.
		default:
			s.log.Warn("expire booking", "booking_id", b.ID, "error", err)
			report.Failures = append(report.Failures, Failure{BookingID: b.ID, Err: err})
		}
	}
	if report.Scanned > 0 {
		s.log.Info("sweep finished", "scanned", report.Scanned, "expired", len(report.Expired), "failed", len(report.Failures))
	}
	return report, ctx.Err()
}

// Run implements supervisor.Runnable.  The first sweep starts immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunReclamationSweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Stop implements supervisor.Runnable.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}
