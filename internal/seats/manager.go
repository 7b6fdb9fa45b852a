// Package seats wraps the seat store with the booking core's hold window
// and keeps the seat-layout cache in step with seat changes.
package seats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/9bishal/movie-booking-system-sub000/internal/model"
	"github.com/9bishal/movie-booking-system-sub000/internal/seatstore"
)

// UnavailableError lists the seats that could not be reserved because
// another holder has them.
type UnavailableError struct {
	Seats []string
}

func (e *UnavailableError) Error() string {
	return "seats unavailable: " + strings.Join(e.Seats, ",")
}

// Catalog resolves a showtime and its seat universe.
type Catalog interface {
	GetShowtime(ctx context.Context, id uint64) (*model.Showtime, error)
}

// Invalidator is told whenever the seats of a showtime change.
type Invalidator interface {
	InvalidateSeatLayout(ctx context.Context, showtimeID uint64) error
}

// LayoutCache stores available-seat lists.  Get reports a miss with ok=false
// and the generation the caller must pass to Put; a Put whose generation was
// overtaken by an invalidation is dropped.
type LayoutCache interface {
	Invalidator
	Get(ctx context.Context, showtimeID uint64) (seats []string, version int64, ok bool, err error)
	Put(ctx context.Context, showtimeID uint64, seats []string, version int64) error
}

// Manager is the seat manager used by the booking service.
type Manager struct {
	store   seatstore.Store
	holdTTL time.Duration
	catalog Catalog
	cache   LayoutCache
	log     *slog.Logger
}

// NewManager returns a Manager that holds seats for holdTTL, the booking
// hold window.  cache may be nil.
func NewManager(store seatstore.Store, holdTTL time.Duration, catalog Catalog, cache LayoutCache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		holdTTL: holdTTL,
		catalog: catalog,
		cache:   cache,
		log:     logger.With("component", "seats"),
	}
}

// HoldTTL is the lifetime of a fresh reservation.
func (m *Manager) HoldTTL() time.Duration { return m.holdTTL }

// ReserveSeats claims all of seatIDs for owner or none of them.  On conflict
// it returns an *UnavailableError naming the seats already held.
func (m *Manager) ReserveSeats(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) error {
	seatIDs = seatstore.Normalize(seatIDs)
	conflicts, err := m.store.TryReserve(ctx, showtimeID, seatIDs, owner, m.holdTTL)
	if err != nil {
		return fmt.Errorf("reserve seats: %w", err)
	}
	if len(conflicts) > 0 {
		return &UnavailableError{Seats: conflicts}
	}
	m.invalidate(ctx, showtimeID)
	return nil
}

// ConfirmSeats makes owner's reservation permanent.  false means at least
// one seat is no longer held by owner and nothing changed.
func (m *Manager) ConfirmSeats(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (bool, error) {
	ok, err := m.store.Confirm(ctx, showtimeID, seatIDs, owner)
	if err != nil {
		return false, fmt.Errorf("confirm seats: %w", err)
	}
	if ok {
		m.invalidate(ctx, showtimeID)
	}
	return ok, nil
}

// ReleaseSeats frees owner's reserved seats.  Releasing what is not held is
// not an error.  The cache is invalidated even when nothing was deleted: a
// hold that lapsed on its own frees its seats without any write here, and a
// list cached while it was live still shows them taken.
func (m *Manager) ReleaseSeats(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (int, error) {
	n, err := m.store.Release(ctx, showtimeID, seatIDs, owner)
	if err != nil {
		return 0, fmt.Errorf("release seats: %w", err)
	}
	m.invalidate(ctx, showtimeID)
	return n, nil
}

// ForceReleaseSeats frees every entry owner still has on seatIDs, confirmed
// or not.  Only callers holding a terminal non-confirmed booking use it.
func (m *Manager) ForceReleaseSeats(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (int, error) {
	n, err := m.store.ForceRelease(ctx, showtimeID, seatIDs, owner)
	if err != nil {
		return 0, fmt.Errorf("force release seats: %w", err)
	}
	m.invalidate(ctx, showtimeID)
	return n, nil
}

// IsStillReservedForOwner reports whether every seat is still held by owner.
// A seat already confirmed for owner counts, so a redelivered confirmation
// can finish.
func (m *Manager) IsStillReservedForOwner(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (bool, error) {
	if len(seatIDs) == 0 {
		return false, nil
	}
	held, err := m.store.Entries(ctx, showtimeID, seatIDs)
	if err != nil {
		return false, fmt.Errorf("check seats: %w", err)
	}
	for _, id := range seatIDs {
		e, ok := held[id]
		if !ok || e.Holder != owner {
			return false, nil
		}
	}
	return true, nil
}

// ReservedByOwner returns the seats of seatIDs that owner still holds in any
// state, in seatIDs order.
func (m *Manager) ReservedByOwner(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) ([]string, error) {
	held, err := m.store.Entries(ctx, showtimeID, seatIDs)
	if err != nil {
		return nil, fmt.Errorf("check seats: %w", err)
	}
	var out []string
	for _, id := range seatIDs {
		if e, ok := held[id]; ok && e.Holder == owner {
			out = append(out, id)
		}
	}
	return out, nil
}

// AvailableSeats lists the seats of a showtime nobody holds, in layout
// order.  The list may be served from the cache and so be slightly stale;
// only ReserveSeats is authoritative.
func (m *Manager) AvailableSeats(ctx context.Context, showtimeID uint64) ([]string, error) {
	var (
		version int64
		fill    bool
	)
	if m.cache != nil {
		seats, ver, ok, err := m.cache.Get(ctx, showtimeID)
		switch {
		case err != nil:
			m.log.Warn("seat cache read failed", "showtime_id", showtimeID, "error", err)
		case ok:
			return seats, nil
		default:
			version, fill = ver, true
		}
	}
	show, err := m.catalog.GetShowtime(ctx, showtimeID)
	if err != nil {
		return nil, err
	}
	free, err := seatstore.ListAvailable(ctx, m.store, showtimeID, show.SeatIDs)
	if err != nil {
		return nil, fmt.Errorf("list available seats: %w", err)
	}
	if fill {
		if err := m.cache.Put(ctx, showtimeID, free, version); err != nil {
			m.log.Warn("seat cache write failed", "showtime_id", showtimeID, "error", err)
		}
	}
	return free, nil
}

func (m *Manager) invalidate(ctx context.Context, showtimeID uint64) {
	if m.cache == nil {
		return
	}
	if err := m.cache.InvalidateSeatLayout(ctx, showtimeID); err != nil {
		m.log.Debug("seat cache invalidation failed", "showtime_id", showtimeID, "error", err)
	}
}
