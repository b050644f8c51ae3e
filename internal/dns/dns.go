// Package dns resolves the mail-related DNS posture of a domain: MX records,
// optional SPF/DMARC TXT policies and optional TCP reachability of the best
// mail exchanger. Lookups run under a FIFO concurrency gate with retry,
// capped exponential backoff and TTL caching.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mailward/email-verifier/internal/cache"
	"github.com/mailward/email-verifier/internal/gate"
	"github.com/mailward/email-verifier/internal/logger"
	"github.com/mailward/email-verifier/internal/metrics"
	"github.com/mailward/email-verifier/pkg/types"
)

const (
	backoffBase = time.Second     // First retry delay
	backoffCap  = 5 * time.Second // Upper bound for the exponential backoff
)

// Config holds the DNS engine settings. The zero value is usable; every field
// falls back to its documented default.
type Config struct {
	Timeout              time.Duration // Per-attempt resolution timeout, default 5s
	Retries              int           // Resolution attempts, default 3
	CacheTTL             time.Duration // Positive-result TTL, default 5m; negatives get half
	Concurrency          int           // Max in-flight lookups, default 10
	ValidateConnectivity bool          // Probe TCP:25 on the best MX
	CheckSPF             bool          // Fetch TXT and look for v=spf1
	CheckDMARC           bool          // Fetch TXT at _dmarc.<domain> and look for v=DMARC1
	ConnectTimeout       time.Duration // MX connectivity probe timeout, default 3s
	FallbackServers      []string      // Resolvers used instead of the system one, host or host:port
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 3 * time.Second
	}
	return c
}

// mxEntry is the cached shape of one MX resolution
type mxEntry struct {
	Records []types.MXRecord
	Failed  bool // Resolution failed with an infrastructure error
}

// Engine performs DNS validation. Each instance owns its cache and gate;
// Close releases them.
type Engine struct {
	cfg       Config
	gate      *gate.Gate
	cache     cache.Provider
	ownsCache *cache.InMemoryCache

	// Injectable for tests
	lookupMX  func(ctx context.Context, domain string) ([]*net.MX, error)
	lookupTXT func(ctx context.Context, name string) ([]string, error)
	dial      func(network, address string, timeout time.Duration) (net.Conn, error)
	sleep     func(d time.Duration)
}

// New creates a DNS engine with its own bounded in-memory cache
func New(cfg Config) *Engine {
	owned := cache.NewBoundedCache("dns", 10000, cfg.withDefaults().CacheTTL)
	e := NewWithCache(cfg, owned)
	e.ownsCache = owned
	return e
}

// NewWithCache creates a DNS engine on a caller-supplied cache provider
func NewWithCache(cfg Config, provider cache.Provider) *Engine {
	cfg = cfg.withDefaults()
	resolver := newResolver(cfg.FallbackServers)
	return &Engine{
		cfg:       cfg,
		gate:      gate.New(cfg.Concurrency),
		cache:     provider,
		lookupMX:  resolver.LookupMX,
		lookupTXT: resolver.LookupTXT,
		dial:      net.DialTimeout,
		sleep:     time.Sleep,
	}
}

// Close stops the owned cache sweep and rejects further gate admissions
func (e *Engine) Close() {
	e.gate.Close()
	if e.ownsCache != nil {
		e.ownsCache.Close()
	}
}

// newResolver builds a resolver that dials the configured fallback servers,
// or the system resolver when none are given.
func newResolver(servers []string) *net.Resolver {
	if len(servers) == 0 {
		return net.DefaultResolver
	}
	addrs := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		addrs = append(addrs, s)
	}
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: 2 * time.Second}
			var lastErr error
			for _, addr := range addrs {
				conn, err := d.DialContext(ctx, network, addr)
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			return nil, lastErr
		},
	}
}

// ValidateDomain runs the full DNS probe for one domain. Missing records
// produce warnings; only infrastructure failures land in Errors. The caller
// always receives a report, never an error.
func (e *Engine) ValidateDomain(ctx context.Context, domain string) *types.DNSReport {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if cached, ok := e.cache.Get("dns:" + domain); ok {
		if report, ok := cached.(*types.DNSReport); ok {
			return report
		}
	}

	started := time.Now()
	report := &types.DNSReport{Domain: domain}

	records, failed := e.resolveMX(ctx, domain, report)
	report.HasMX = len(records) > 0
	report.MXRecords = records
	if !report.HasMX && !failed {
		report.Warnings = append(report.Warnings, "no MX records found")
	}

	if e.cfg.ValidateConnectivity && report.HasMX {
		report.Connectable = e.probeConnectivity(records[0].Host)
		if !report.Connectable {
			report.Warnings = append(report.Warnings, fmt.Sprintf("MX %s not reachable on port 25", records[0].Host))
		}
	}

	if e.cfg.CheckSPF {
		report.HasSPF = e.hasTXTPrefix(ctx, domain, "v=spf1", report)
		if !report.HasSPF {
			report.Warnings = append(report.Warnings, "no SPF record found")
		}
	}

	if e.cfg.CheckDMARC {
		report.HasDMARC = e.hasTXTPrefix(ctx, "_dmarc."+domain, "v=dmarc1", report)
		if !report.HasDMARC {
			report.Warnings = append(report.Warnings, "no DMARC record found")
		}
	}

	report.ElapsedMs = time.Since(started).Milliseconds()

	ttl := e.cfg.CacheTTL
	if !report.HasMX {
		ttl /= 2 // Re-probe negatives sooner without hammering DNS
	}
	e.cache.Set("dns:"+domain, report, ttl)
	return report
}

// CheckMX is the light-weight boolean MX probe used when no deeper DNS
// signals are requested. Shares the per-domain MX cache with ValidateDomain.
func (e *Engine) CheckMX(ctx context.Context, domain string) (bool, []types.MXRecord) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if cached, ok := e.cache.Get("simple-mx:" + domain); ok {
		if entry, ok := cached.(mxEntry); ok {
			return len(entry.Records) > 0, entry.Records
		}
	}

	report := &types.DNSReport{Domain: domain}
	records, _ := e.resolveMX(ctx, domain, report)

	ttl := e.cfg.CacheTTL
	if len(records) == 0 {
		ttl /= 2
	}
	e.cache.Set("simple-mx:"+domain, mxEntry{Records: records}, ttl)
	return len(records) > 0, records
}

// ValidateDomainsBatch probes many domains: chunks no larger than the
// configured concurrency run sequentially with full parallelism inside a
// chunk. Output order matches input order.
func (e *Engine) ValidateDomainsBatch(ctx context.Context, domains []string) []*types.DNSReport {
	reports := make([]*types.DNSReport, len(domains))
	chunk := e.cfg.Concurrency

	for start := 0; start < len(domains); start += chunk {
		end := start + chunk
		if end > len(domains) {
			end = len(domains)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				reports[idx] = e.ValidateDomain(ctx, domains[idx])
			}(i)
		}
		wg.Wait()
	}
	return reports
}

// resolveMX resolves and sorts MX records under the gate, retrying with
// capped exponential backoff. Infrastructure failures are recorded on the
// report and reported via the second return value.
func (e *Engine) resolveMX(ctx context.Context, domain string, report *types.DNSReport) ([]types.MXRecord, bool) {
	if cached, ok := e.cache.Get("mx:" + domain); ok {
		if entry, ok := cached.(mxEntry); ok {
			return entry.Records, entry.Failed
		}
	}

	var raw []*net.MX
	var lastErr error
	err := e.gate.Do(ctx, func() error {
		for attempt := 1; attempt <= e.cfg.Retries; attempt++ {
			attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
			records, err := e.lookupMX(attemptCtx, domain)
			cancel()

			if err == nil {
				raw = records
				lastErr = nil
				return nil
			}

			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
				// Authoritative absence, not an infrastructure failure
				raw = nil
				lastErr = nil
				return nil
			}

			lastErr = err
			if attempt < e.cfg.Retries {
				e.sleep(backoffDelay(attempt))
			}
		}
		return lastErr
	})
	if err != nil && lastErr == nil {
		lastErr = err // Gate admission failure (context cancelled)
	}

	if lastErr != nil {
		metrics.DNSLookups.WithLabelValues("mx", "error").Inc()
		report.Errors = append(report.Errors, fmt.Sprintf("MX resolution failed: %v", lastErr))
		logger.Logf("[DNS] MX resolution failed for %s: %v", domain, lastErr)
		e.cache.Set("mx:"+domain, mxEntry{Failed: true}, e.cfg.CacheTTL/2)
		return nil, true
	}

	records := make([]types.MXRecord, 0, len(raw))
	for _, r := range raw {
		if r == nil || r.Host == "" {
			continue
		}
		records = append(records, types.MXRecord{
			Host:     strings.TrimSuffix(r.Host, "."),
			Priority: r.Pref,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Priority < records[j].Priority })

	outcome := "ok"
	ttl := e.cfg.CacheTTL
	if len(records) == 0 {
		outcome = "empty"
		ttl /= 2
	}
	metrics.DNSLookups.WithLabelValues("mx", outcome).Inc()
	e.cache.Set("mx:"+domain, mxEntry{Records: records}, ttl)
	return records, false
}

// probeConnectivity opens a raw TCP connection to port 25 of the exchanger.
// Any error or timeout is the absence of a positive signal, not an error.
func (e *Engine) probeConnectivity(host string) bool {
	conn, err := e.dial("tcp", net.JoinHostPort(host, "25"), e.cfg.ConnectTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// hasTXTPrefix fetches TXT records for name and tests for a record starting
// with the given prefix, case-insensitively.
func (e *Engine) hasTXTPrefix(ctx context.Context, name, prefix string, report *types.DNSReport) bool {
	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	records, err := e.lookupTXT(lookupCtx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if !errors.As(err, &dnsErr) || !dnsErr.IsNotFound {
			report.Errors = append(report.Errors, fmt.Sprintf("TXT lookup failed for %s: %v", name, err))
		}
		metrics.DNSLookups.WithLabelValues("txt", "error").Inc()
		return false
	}

	metrics.DNSLookups.WithLabelValues("txt", "ok").Inc()
	for _, record := range records {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(record)), prefix) {
			return true
		}
	}
	return false
}

// backoffDelay returns min(1s * 2^(attempt-1), 5s)
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << uint(attempt-1)
	if d > backoffCap {
		return backoffCap
	}
	return d
}
