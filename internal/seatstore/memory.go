package seatstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is a Store kept in process memory behind one mutex.  It
// gives the same guarantees as RedisStore for callers inside a single
// process and is used for local runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	now   func() time.Time
	seats map[uint64]map[string]Entry
}

// NewMemoryStore returns an empty MemoryStore.  now may be nil, in which
// case time.Now is used.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, seats: make(map[uint64]map[string]Entry)}
}

// live returns the claim on seat if it has not lapsed.  Lapsed claims are
// dropped on the way.  Callers hold m.mu.
func (m *MemoryStore) live(showtimeID uint64, seat string, now time.Time) (Entry, bool) {
	show := m.seats[showtimeID]
	e, ok := show[seat]
	if !ok {
		return Entry{}, false
	}
	if e.State == StateReserved && !now.Before(e.ExpiresAt) {
		delete(show, seat)
		return Entry{}, false
	}
	return e, true
}

func (m *MemoryStore) TryReserve(ctx context.Context, showtimeID uint64, seatIDs []string, owner string, ttl time.Duration) ([]string, error) {
	if len(seatIDs) == 0 {
		return nil, ErrNoSeats
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var conflicts []string
	for _, id := range seatIDs {
		if _, ok := m.live(showtimeID, id, now); ok {
			conflicts = append(conflicts, id)
		}
	}
	if len(conflicts) > 0 {
		return conflicts, nil
	}
	show := m.seats[showtimeID]
	if show == nil {
		show = make(map[string]Entry)
		m.seats[showtimeID] = show
	}
	for _, id := range seatIDs {
		show[id] = Entry{Holder: owner, State: StateReserved, ExpiresAt: now.Add(ttl)}
	}
	return nil, nil
}

func (m *MemoryStore) Confirm(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (bool, error) {
	if len(seatIDs) == 0 {
		return false, ErrNoSeats
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, id := range seatIDs {
		e, ok := m.live(showtimeID, id, now)
		if !ok || e.Holder != owner {
			return false, nil
		}
	}
	for _, id := range seatIDs {
		m.seats[showtimeID][id] = Entry{Holder: owner, State: StateConfirmed}
	}
	return true, nil
}

func (m *MemoryStore) Release(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (int, error) {
	return m.remove(ctx, showtimeID, seatIDs, func(e Entry) bool {
		return e.State == StateReserved && (owner == "" || e.Holder == owner)
	})
}

func (m *MemoryStore) ForceRelease(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (int, error) {
	if owner == "" {
		return 0, errors.New("seatstore: force release needs an owner")
	}
	return m.remove(ctx, showtimeID, seatIDs, func(e Entry) bool { return e.Holder == owner })
}

func (m *MemoryStore) remove(ctx context.Context, showtimeID uint64, seatIDs []string, match func(Entry) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for _, id := range seatIDs {
		e, ok := m.live(showtimeID, id, now)
		if ok && match(e) {
			delete(m.seats[showtimeID], id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Entries(ctx context.Context, showtimeID uint64, seatIDs []string) (map[string]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make(map[string]Entry)
	for _, id := range seatIDs {
		if e, ok := m.live(showtimeID, id, now); ok {
			out[id] = e
		}
	}
	return out, nil
}
