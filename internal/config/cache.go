package config

import "time"

// SeatCacheConfig defines settings for the available-seat cache.  When
// Enabled is false, or no Redis client is configured, seat lists are read
// from the seat store on every request.  TTL bounds how stale a cached list
// may get if an invalidation is lost; Prefix namespaces the keys.
type SeatCacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadSeatCacheConfig reads SEAT_CACHE_ENABLED, SEAT_CACHE_TTL and
// SEAT_CACHE_PREFIX.
func LoadSeatCacheConfig() SeatCacheConfig {
	c := SeatCacheConfig{
		Enabled: envBool("SEAT_CACHE_ENABLED", true),
		TTL:     envDur("SEAT_CACHE_TTL", 30*time.Second),
		Prefix:  envStr("SEAT_CACHE_PREFIX", "cache"),
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	return c
}
