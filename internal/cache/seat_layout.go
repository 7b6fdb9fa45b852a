// Package cache keeps short-lived copies of available-seat lists in Redis so
// that seat-map reads do not hit the seat store for every request.  Entries
// are dropped whenever a showtime's seats change.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/9bishal/movie-booking-system-sub000/internal/config"
)

// A showtime has two keys sharing the "{<showtimeID>}" hash tag: the JSON
// list under "<prefix>:{<id>}:seat-layout" and a generation counter under
// "<prefix>:{<id>}:seat-layout-ver".  Invalidation bumps the counter, and a
// fill only lands when the counter still reads what the filler saw before
// it went to the seat store.  A reader that loses a race with a seat change
// therefore cannot park its stale list for a whole TTL.

// invalidateScript bumps the generation and drops the list.
var invalidateScript = redis.NewScript(`
	redis.call('INCR', KEYS[2])
	redis.call('DEL', KEYS[1])
	return 1
`)

// putScript stores ARGV[1] for ARGV[3] ms only while the generation is
// still ARGV[2].  A missing counter reads as '0'.
var putScript = redis.NewScript(`
	local cur = redis.call('GET', KEYS[2])
	if (cur or '0') ~= ARGV[2] then
		return 0
	end
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
	return 1
`)

// SeatLayout caches the available seats of a showtime.
type SeatLayout struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewSeatLayout returns the cache, or nil when caching is disabled or no
// Redis client is configured.  All methods are safe on a nil receiver and
// behave as an always-missing cache.
func NewSeatLayout(cfg config.SeatCacheConfig, rdb redis.UniversalClient) *SeatLayout {
	if !cfg.Enabled || rdb == nil {
		return nil
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "cache"
	}
	return &SeatLayout{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (c *SeatLayout) keys(showtimeID uint64) []string {
	base := fmt.Sprintf("%s:{%d}:seat-layout", c.prefix, showtimeID)
	return []string{base, base + "-ver"}
}

// Get returns the cached list; ok is false on a miss.  version is the
// generation current at the time of the read and must be handed back to
// Put when filling a miss.
func (c *SeatLayout) Get(ctx context.Context, showtimeID uint64) (seats []string, version int64, ok bool, err error) {
	if c == nil {
		return nil, 0, false, nil
	}
	vals, err := c.rdb.MGet(ctx, c.keys(showtimeID)...).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("seat layout cache get: %w", err)
	}
	if s, isStr := vals[1].(string); isStr {
		if version, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, 0, false, fmt.Errorf("seat layout cache version: %w", err)
		}
	}
	s, isStr := vals[0].(string)
	if !isStr {
		return nil, version, false, nil
	}
	if err := json.Unmarshal([]byte(s), &seats); err != nil {
		// A corrupt entry is a miss; the next Put overwrites it.
		return nil, version, false, nil
	}
	return seats, version, true, nil
}

// Put stores seats for the configured TTL unless the showtime was
// invalidated since the Get that returned version.  A skipped write is not
// an error.
func (c *SeatLayout) Put(ctx context.Context, showtimeID uint64, seats []string, version int64) error {
	if c == nil {
		return nil
	}
	if seats == nil {
		seats = []string{}
	}
	bs, err := json.Marshal(seats)
	if err != nil {
		return err
	}
	err = putScript.Run(ctx, c.rdb, c.keys(showtimeID),
		string(bs), strconv.FormatInt(version, 10), c.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("seat layout cache put: %w", err)
	}
	return nil
}

// InvalidateSeatLayout drops the cached list of showtimeID and fences off
// any fill that started before this call.
func (c *SeatLayout) InvalidateSeatLayout(ctx context.Context, showtimeID uint64) error {
	if c == nil {
		return nil
	}
	if err := invalidateScript.Run(ctx, c.rdb, c.keys(showtimeID)).Err(); err != nil {
		return fmt.Errorf("seat layout cache invalidate: %w", err)
	}
	return nil
}
