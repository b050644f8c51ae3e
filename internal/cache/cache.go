package cache

import "time"

// Provider defines the cache contract shared by the result cache, the DNS
// engine and the SMTP engine. Implementations must treat expired entries as
// absent on read.
type Provider interface {
	Get(key string) (interface{}, bool)                   // Retrieve a value by key, false if missing or expired
	Set(key string, value interface{}, ttl time.Duration) // Store a value with a time-to-live; ttl<=0 uses the backend default
	Has(key string) bool                                  // Report presence without counting a hit/miss
	Delete(key string) bool                               // Remove a key, true if it was present
	Clear()                                               // Drop all entries
	Size() int                                            // Number of live entries
}

// Stats carries cache effectiveness counters. Hit rate is tracked from real
// hits and misses, not approximated.
type Stats struct {
	Items   int     `json:"items"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}
