// Package seatstore holds per-showtime seat claims in a fast shared store.
// Each seat of a showtime is claimed by at most one holder at a time; a
// RESERVED claim lapses after its TTL while a CONFIRMED claim is permanent.
// Multi-seat operations are all-or-nothing.
package seatstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// State is the kind of claim a holder has on a seat.
type State string

const (
	StateReserved  State = "RESERVED"
	StateConfirmed State = "CONFIRMED"
)

// ErrNoSeats is returned when an operation is called with an empty seat list.
var ErrNoSeats = errors.New("seatstore: no seats given")

// Entry is a live claim on one seat.  ExpiresAt is zero for CONFIRMED
// entries, which never expire.
type Entry struct {
	Holder    string
	State     State
	ExpiresAt time.Time
}

// Store is the contract every seat store implementation satisfies.  All
// methods are safe for concurrent use from many processes; a returned error
// (including a timeout) means the operation must be treated as not applied.
type Store interface {
	// TryReserve claims every seat for owner with the given TTL, or none of
	// them.  When any seat already has a live claim (by anyone, owner
	// included) nothing is written and the conflicting seats are returned.
	TryReserve(ctx context.Context, showtimeID uint64, seatIDs []string, owner string, ttl time.Duration) ([]string, error)

	// Confirm promotes owner's RESERVED claims to CONFIRMED without TTL.  It
	// returns false and changes nothing if any seat is missing, expired or
	// held by someone else.  Seats already CONFIRMED by owner are accepted.
	Confirm(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (bool, error)

	// Release deletes RESERVED claims on the given seats that belong to
	// owner, or to anyone when owner is empty.  CONFIRMED claims are kept.
	// Releasing absent claims is not an error.
	Release(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (int, error)

	// ForceRelease deletes owner's claims on the given seats whatever their state.
	ForceRelease(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (int, error)

	// Entries returns the live claims among the given seats keyed by seat.
	Entries(ctx context.Context, showtimeID uint64, seatIDs []string) (map[string]Entry, error)
}

// ListAvailable returns the seats of universe that have no live claim, in
// universe order.
func ListAvailable(ctx context.Context, s Store, showtimeID uint64, universe []string) ([]string, error) {
	if len(universe) == 0 {
		return []string{}, nil
	}
	taken, err := s.Entries(ctx, showtimeID, universe)
	if err != nil {
		return nil, err
	}
	free := make([]string, 0, len(universe)-len(taken))
	for _, id := range universe {
		if _, ok := taken[id]; !ok {
			free = append(free, id)
		}
	}
	return free, nil
}

// Normalize trims seat ids, drops empty and duplicate ones and sorts the
// rest.
func Normalize(seatIDs []string) []string {
	seen := make(map[string]struct{}, len(seatIDs))
	out := make([]string, 0, len(seatIDs))
	for _, id := range seatIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
