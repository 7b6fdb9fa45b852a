package seatstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Each seat is its own key, "<prefix>:{<showtimeID>}:<seat>", holding
// "<STATE>:<holder>".  RESERVED keys carry a PX TTL so abandoned holds lapse
// on their own; CONFIRMED keys have none.  The braces are a cluster hash tag
// so all keys of one showtime live in one slot and a script may touch them
// together.  Every multi-seat mutation is a single Lua script, which Redis
// runs without interleaving any other command.

// reserveScript returns the 1-based positions of seats that already have a
// claim, writing nothing in that case; otherwise it claims every seat.
var reserveScript = redis.NewScript(`
	local taken = {}
	for i, key in ipairs(KEYS) do
		if redis.call('EXISTS', key) == 1 then
			table.insert(taken, i)
		end
	end
	if #taken > 0 then
		return taken
	end
	for _, key in ipairs(KEYS) do
		redis.call('SET', key, ARGV[1], 'PX', ARGV[2])
	end
	return {}
`)

// confirmScript promotes the holder's claims, dropping their TTL, only when
// every seat is still held by that holder.
var confirmScript = redis.NewScript(`
	local reserved = 'RESERVED:' .. ARGV[1]
	local confirmed = 'CONFIRMED:' .. ARGV[1]
	for _, key in ipairs(KEYS) do
		local v = redis.call('GET', key)
		if v ~= reserved and v ~= confirmed then
			return 0
		end
	end
	for _, key in ipairs(KEYS) do
		redis.call('SET', key, confirmed)
	end
	return 1
`)

// releaseScript deletes claims matching the holder (any holder when
// ARGV[1] is empty).  ARGV[2] == '1' restricts deletion to RESERVED claims.
var releaseScript = redis.NewScript(`
	local n = 0
	for _, key in ipairs(KEYS) do
		local v = redis.call('GET', key)
		if v then
			local state, holder = string.match(v, '^(%u+):(.*)$')
			local holderOK = ARGV[1] == '' or holder == ARGV[1]
			local stateOK = ARGV[2] ~= '1' or state == 'RESERVED'
			if holderOK and stateOK then
				redis.call('DEL', key)
				n = n + 1
			end
		end
	end
	return n
`)

// RedisStore is the production Store backed by Redis.
type RedisStore struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisStore returns a RedisStore.  prefix defaults to "seat"; timeout
// bounds every call and defaults to 500ms.
func NewRedisStore(rdb redis.UniversalClient, prefix string, timeout time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "seat"
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &RedisStore{rdb: rdb, prefix: prefix, timeout: timeout}
}

func (s *RedisStore) key(showtimeID uint64, seat string) string {
	return fmt.Sprintf("%s:{%d}:%s", s.prefix, showtimeID, seat)
}

func (s *RedisStore) keys(showtimeID uint64, seatIDs []string) []string {
	keys := make([]string, len(seatIDs))
	for i, id := range seatIDs {
		keys[i] = s.key(showtimeID, id)
	}
	return keys
}

func (s *RedisStore) TryReserve(ctx context.Context, showtimeID uint64, seatIDs []string, owner string, ttl time.Duration) ([]string, error) {
	if len(seatIDs) == 0 {
		return nil, ErrNoSeats
	}
	if ttl < time.Millisecond {
		return nil, fmt.Errorf("seatstore: ttl %s too short", ttl)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	taken, err := reserveScript.Run(ctx, s.rdb, s.keys(showtimeID, seatIDs),
		string(StateReserved)+":"+owner, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("seatstore: reserve: %w", err)
	}
	if len(taken) == 0 {
		return nil, nil
	}
	conflicts := make([]string, 0, len(taken))
	for _, pos := range taken {
		if pos >= 1 && int(pos) <= len(seatIDs) {
			conflicts = append(conflicts, seatIDs[pos-1])
		}
	}
	return conflicts, nil
}

func (s *RedisStore) Confirm(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (bool, error) {
	if len(seatIDs) == 0 {
		return false, ErrNoSeats
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := confirmScript.Run(ctx, s.rdb, s.keys(showtimeID, seatIDs), owner).Int64()
	if err != nil {
		return false, fmt.Errorf("seatstore: confirm: %w", err)
	}
	return ok == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (int, error) {
	return s.release(ctx, showtimeID, seatIDs, owner, true)
}

func (s *RedisStore) ForceRelease(ctx context.Context, showtimeID uint64, seatIDs []string, owner string) (int, error) {
	if owner == "" {
		return 0, errors.New("seatstore: force release needs an owner")
	}
	return s.release(ctx, showtimeID, seatIDs, owner, false)
}

func (s *RedisStore) release(ctx context.Context, showtimeID uint64, seatIDs []string, owner string, reservedOnly bool) (int, error) {
	if len(seatIDs) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	flag := "0"
	if reservedOnly {
		flag = "1"
	}
	n, err := releaseScript.Run(ctx, s.rdb, s.keys(showtimeID, seatIDs), owner, flag).Int64()
	if err != nil {
		return 0, fmt.Errorf("seatstore: release: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Entries(ctx context.Context, showtimeID uint64, seatIDs []string) (map[string]Entry, error) {
	out := make(map[string]Entry)
	if len(seatIDs) == 0 {
		return out, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	pipe := s.rdb.Pipeline()
	vals := make([]*redis.StringCmd, len(seatIDs))
	ttls := make([]*redis.DurationCmd, len(seatIDs))
	for i, id := range seatIDs {
		k := s.key(showtimeID, id)
		vals[i] = pipe.Get(ctx, k)
		ttls[i] = pipe.PTTL(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("seatstore: entries: %w", err)
	}
	now := time.Now()
	for i, id := range seatIDs {
		v, err := vals[i].Result()
		if err != nil {
			continue
		}
		state, holder, ok := strings.Cut(v, ":")
		if !ok {
			continue
		}
		e := Entry{Holder: holder, State: State(state)}
		if d := ttls[i].Val(); d > 0 {
			e.ExpiresAt = now.Add(d)
		}
		out[id] = e
	}
	return out, nil
}
