package checker

import (
	"time"

	"github.com/mailward/email-verifier/internal/cache"
	"github.com/mailward/email-verifier/internal/dns"
	"github.com/mailward/email-verifier/internal/index"
	"github.com/mailward/email-verifier/internal/smtp"
)

// Config is the full orchestrator configuration. It is constructed once and
// treated as immutable afterwards; reconfiguration means building a new
// Checker. Start from DefaultConfig and override fields explicitly.
type Config struct {
	StrictValidation        bool           // Full grammar check instead of the lenient shape check
	CheckMXRecord           bool           // Run the DNS stage
	CheckSMTPDeliverability bool           // Run the SMTP stage
	CheckWHOIS              bool           // Attach raw WHOIS data to the report
	EnableSubdomainChecking bool           // Match subdomains of indexed entries
	EnablePatternMatching   bool           // Run heuristic suspicion scoring
	EnableCaching           bool           // Use the full-result cache
	CacheSize               int            // Result cache capacity
	EnableIndexing          bool           // Use the configured index structure; false falls back to a hash set
	IndexingStrategy        index.Strategy // trie, bloom, hybrid or hash
	SubdomainConfidence     int            // Confidence assigned to subdomain matches
	ExistTTL                time.Duration  // Result TTL for deliverable addresses
	NotExistTTL             time.Duration  // Result TTL for everything else
	CacheProvider           cache.Provider // Optional result cache backend (e.g. Redis); nil means owned in-memory
	DNS                     dns.Config     // DNS engine settings
	SMTP                    smtp.Config    // SMTP engine settings
}

// DefaultConfig returns the documented defaults: lenient format checking,
// no network probes, hybrid indexing with subdomain and pattern matching,
// and a 10000-entry result cache.
func DefaultConfig() Config {
	return Config{
		StrictValidation:        false,
		CheckMXRecord:           false,
		CheckSMTPDeliverability: false,
		EnableSubdomainChecking: true,
		EnablePatternMatching:   true,
		EnableCaching:           true,
		CacheSize:               10000,
		EnableIndexing:          true,
		IndexingStrategy:        index.StrategyHybrid,
		SubdomainConfidence:     90,
		ExistTTL:                720 * time.Hour,
		NotExistTTL:             24 * time.Hour,
	}
}

// validate rejects configurations that cannot serve requests
func (c Config) validate() error {
	if c.EnableCaching && c.CacheProvider == nil && c.CacheSize <= 0 {
		return &ConfigError{Reason: "cacheSize must be positive when caching is enabled"}
	}
	if c.SubdomainConfidence < 0 || c.SubdomainConfidence > 100 {
		return &ConfigError{Reason: "subdomainConfidence must be within [0,100]"}
	}
	switch c.IndexingStrategy {
	case "", index.StrategyTrie, index.StrategyBloom, index.StrategyHybrid, index.StrategyHash:
	default:
		return &ConfigError{Reason: "unknown indexing strategy " + string(c.IndexingStrategy)}
	}
	if c.ExistTTL < 0 || c.NotExistTTL < 0 {
		return &ConfigError{Reason: "result TTLs must not be negative"}
	}
	return nil
}
