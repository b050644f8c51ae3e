// Package checker orchestrates email validation: format check, cached
// results, allow/black/disposable classification through the domain index,
// heuristic pattern scoring and the optional DNS and SMTP probes, folded into
// one confidence-scored report.
package checker

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/likexian/whois"
	"golang.org/x/net/idna"

	"github.com/mailward/email-verifier/internal/cache"
	"github.com/mailward/email-verifier/internal/dns"
	"github.com/mailward/email-verifier/internal/helo"
	"github.com/mailward/email-verifier/internal/index"
	"github.com/mailward/email-verifier/internal/logger"
	"github.com/mailward/email-verifier/internal/metrics"
	"github.com/mailward/email-verifier/internal/pattern"
	"github.com/mailward/email-verifier/internal/smtp"
	"github.com/mailward/email-verifier/pkg/types"
)

const (
	maxEmailLength  = 254 // RFC 3696 erratum
	maxLocalLength  = 64
	maxDomainLength = 253

	confidenceNoMX          = 60 // Floor when the domain has no MX records
	confidenceUndeliverable = 70 // Floor when RCPT TO was refused
)

var (
	// Lenient shape: one @, no whitespace, dotted domain
	lenientEmailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	// Strict grammar for the local part and a hostname-shaped domain
	strictEmailRe = regexp.MustCompile(
		`^[a-z0-9!#$%&'*+/=?^_` + "`" + `{|}~-]+(?:\.[a-z0-9!#$%&'*+/=?^_` + "`" + `{|}~-]+)*` +
			`@(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)
)

// indexSet is one immutable snapshot of the three domain indexes. Rebuilds
// swap the whole snapshot so in-flight lookups never observe a partial index.
type indexSet struct {
	disposable  *index.Index
	allowed     *index.Index
	blacklisted *index.Index
}

// Checker is the validation orchestrator. Construct with New, release with
// Close.
type Checker struct {
	cfg         Config
	resultCache cache.Provider
	ownsCache   *cache.InMemoryCache
	dnsEngine   *dns.Engine
	smtpEngine  *smtp.Engine
	scorer      *pattern.Scorer
	idx         atomic.Pointer[indexSet]

	// Injectable for tests
	whoisLookup func(domain string) (string, error)
}

// New builds a Checker from an immutable configuration, failing fast on
// invalid settings.
func New(cfg Config) (*Checker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Checker{
		cfg:         cfg,
		scorer:      pattern.NewScorer(),
		whoisLookup: func(domain string) (string, error) { return whois.Whois(domain) },
	}

	empty, err := c.newIndexSet(nil, nil, nil)
	if err != nil {
		return nil, err
	}
	c.idx.Store(empty)

	if cfg.EnableCaching {
		if cfg.CacheProvider != nil {
			c.resultCache = cfg.CacheProvider
		} else {
			owned := cache.NewBoundedCache("results", cfg.CacheSize, cfg.NotExistTTL)
			c.resultCache = owned
			c.ownsCache = owned
		}
	}

	if cfg.CheckMXRecord {
		c.dnsEngine = dns.New(cfg.DNS)
	}
	if cfg.CheckSMTPDeliverability {
		c.smtpEngine = smtp.New(cfg.SMTP)
	}
	return c, nil
}

// SetHeloRotation swaps the SMTP engine's HELO rotation, e.g. for a
// Redis-coordinated cluster. No-op when the SMTP stage is disabled.
func (c *Checker) SetHeloRotation(r *helo.Rotation) {
	if c.smtpEngine != nil {
		c.smtpEngine.SetRotation(r)
	}
}

// Close releases the owned cache and engines. Deterministic: timers stop,
// maps clear.
func (c *Checker) Close() {
	if c.ownsCache != nil {
		c.ownsCache.Close()
	}
	if c.dnsEngine != nil {
		c.dnsEngine.Close()
	}
	if c.smtpEngine != nil {
		c.smtpEngine.Close()
	}
}

// newIndexSet builds a fresh snapshot from three domain lists
func (c *Checker) newIndexSet(disposable, allowed, blacklisted []string) (*indexSet, error) {
	strategy := c.cfg.IndexingStrategy
	if !c.cfg.EnableIndexing {
		strategy = index.StrategyHash
	}
	build := func(domains []string, expected uint) (*index.Index, error) {
		ix, err := index.New(index.Options{
			Strategy:            strategy,
			ExpectedItems:       expected,
			SubdomainConfidence: c.cfg.SubdomainConfidence,
			CheckSubdomains:     c.cfg.EnableSubdomainChecking,
		})
		if err != nil {
			return nil, &ConfigError{Reason: err.Error()}
		}
		ix.InsertAll(domains)
		return ix, nil
	}

	set := &indexSet{}
	var err error
	if set.disposable, err = build(disposable, 200000); err != nil {
		return nil, err
	}
	if set.allowed, err = build(allowed, 10000); err != nil {
		return nil, err
	}
	if set.blacklisted, err = build(blacklisted, 10000); err != nil {
		return nil, err
	}
	return set, nil
}

// LoadDomainLists rebuilds the index wholesale from a new snapshot of the
// three sets and publishes it atomically. In-flight lookups keep the old
// snapshot until they finish.
func (c *Checker) LoadDomainLists(disposable, allowed, blacklisted []string) error {
	set, err := c.newIndexSet(disposable, allowed, blacklisted)
	if err != nil {
		return err
	}
	c.idx.Store(set)
	logger.Logf("[Checker] Domain lists loaded: %d disposable, %d allowed, %d blacklisted",
		len(disposable), len(allowed), len(blacklisted))
	return nil
}

// AddAllowedDomain inserts one domain into the live allowlist index
func (c *Checker) AddAllowedDomain(domain string) {
	c.idx.Load().allowed.Insert(domain)
}

// AddBlacklistedDomain inserts one domain into the live blacklist index
func (c *Checker) AddBlacklistedDomain(domain string) {
	c.idx.Load().blacklisted.Insert(domain)
}

// CheckEmail validates a single address through the full pipeline. Probe
// failures are absorbed into warnings; the caller always receives a report.
func (c *Checker) CheckEmail(ctx context.Context, rawEmail string) (report types.Report) {
	started := time.Now()
	metrics.EmailsChecked.Inc()

	// Internal panics surface as one error entry on a best-effort report
	defer func() {
		if r := recover(); r != nil {
			report.Valid = false
			report.Errors = append(report.Errors, fmt.Sprintf("internal error: %v", r))
			report.ElapsedMs = time.Since(started).Milliseconds()
			logger.Logf("[Checker] Recovered panic while checking %q: %v", rawEmail, r)
		}
	}()

	email, localPart, domain, ferr := c.normalizeEmail(rawEmail)
	if ferr != nil {
		return types.Report{
			Email:     strings.ToLower(strings.TrimSpace(rawEmail)),
			Valid:     false,
			MatchType: types.MatchNone,
			Errors:    []string{ferr.Error()},
			ElapsedMs: time.Since(started).Milliseconds(),
		}
	}

	if c.cfg.EnableCaching {
		if cached, ok := c.resultCache.Get(email); ok {
			if hit, ok := cached.(types.Report); ok {
				hit.ElapsedMs = time.Since(started).Milliseconds()
				return hit
			}
		}
	}

	report = types.Report{
		Email:     email,
		Domain:    domain,
		LocalPart: localPart,
		Valid:     true,
		MatchType: types.MatchNone,
	}
	set := c.idx.Load()

	// Allowlist always wins: exact match short-circuits the pipeline
	if m := set.allowed.Lookup(domain); m.Matched && m.Type == types.MatchExact {
		report.Allowed = true
		report.MatchType = types.MatchExact
		report.Confidence = 100
		return c.finish(started, report)
	}

	// Blacklist contributes but does not short-circuit
	if m := set.blacklisted.Lookup(domain); m.Matched {
		report.Blacklisted = true
		report.MatchType = m.Type
		report.Confidence = max(report.Confidence, m.Confidence)
	}

	if m := set.disposable.Lookup(domain); m.Matched {
		report.Disposable = true
		if m.Confidence >= report.Confidence {
			report.MatchType = m.Type
		}
		report.Confidence = max(report.Confidence, m.Confidence)
	}

	if c.cfg.EnablePatternMatching && !report.Disposable {
		if score, suspicious := c.scorer.Suspicious(domain); suspicious {
			report.Disposable = true
			report.MatchType = types.MatchPattern
			report.Confidence = max(report.Confidence, min(score, 100))
		}
	}

	var mxRecords []types.MXRecord
	if c.cfg.CheckMXRecord {
		hasMX := false
		if c.cfg.DNS.ValidateConnectivity || c.cfg.DNS.CheckSPF || c.cfg.DNS.CheckDMARC {
			dnsReport := c.dnsEngine.ValidateDomain(ctx, domain)
			report.DNS = dnsReport
			hasMX = dnsReport.HasMX
			mxRecords = dnsReport.MXRecords
		} else {
			hasMX, mxRecords = c.dnsEngine.CheckMX(ctx, domain)
		}
		if !hasMX {
			report.Valid = false
			report.Confidence = max(report.Confidence, confidenceNoMX)
			report.Warnings = append(report.Warnings, "domain has no MX records")
		}
	}

	if c.cfg.CheckSMTPDeliverability {
		smtpReport := c.smtpEngine.ValidateEmail(ctx, email, mxRecords)
		report.SMTP = smtpReport
		if !smtpReport.MailboxValid {
			report.Valid = false
			report.Confidence = max(report.Confidence, confidenceUndeliverable)
			report.Warnings = append(report.Warnings, "mailbox is not deliverable")
		}
	}

	if c.cfg.CheckWHOIS {
		if raw, err := c.whoisLookup(domain); err == nil {
			report.WHOIS = raw
		}
	}

	return c.finish(started, report)
}

// finish stamps the elapsed time and stores the report in the result cache
// with a TTL chosen by verdict, mirroring the shorter re-probe window for
// negatives.
func (c *Checker) finish(started time.Time, report types.Report) types.Report {
	report.ElapsedMs = time.Since(started).Milliseconds()
	if c.cfg.EnableCaching {
		ttl := c.cfg.NotExistTTL
		if report.Valid {
			ttl = c.cfg.ExistTTL
		}
		c.resultCache.Set(report.Email, report, ttl)
	}
	return report
}

// CheckEmailsBatch validates many addresses. Inputs are de-duplicated, cache
// hits resolved up front, misses processed in adaptively sized parallel
// chunks, and results re-expanded to the original order and multiplicity.
func (c *Checker) CheckEmailsBatch(ctx context.Context, emails []string) []types.Report {
	results := make([]types.Report, len(emails))

	// De-duplicate while remembering every original position
	positions := make(map[string][]int)
	unique := make([]string, 0, len(emails))
	for i, email := range emails {
		if _, seen := positions[email]; !seen {
			unique = append(unique, email)
		}
		positions[email] = append(positions[email], i)
	}

	resolved := make(map[string]types.Report, len(unique))
	var misses []string
	for _, email := range unique {
		key := strings.ToLower(strings.TrimSpace(email))
		if c.cfg.EnableCaching {
			if cached, ok := c.resultCache.Get(key); ok {
				if hit, ok := cached.(types.Report); ok {
					resolved[email] = hit
					continue
				}
			}
		}
		misses = append(misses, email)
	}

	// Chunk size adapts to the workload, clamped to [10,50]
	chunk := len(misses) / 4
	if chunk < 10 {
		chunk = 10
	}
	if chunk > 50 {
		chunk = 50
	}

	var mu sync.Mutex
	for start := 0; start < len(misses); start += chunk {
		end := start + chunk
		if end > len(misses) {
			end = len(misses)
		}

		var wg sync.WaitGroup
		for _, email := range misses[start:end] {
			wg.Add(1)
			go func(email string) {
				defer wg.Done()
				report := c.CheckEmail(ctx, email)
				mu.Lock()
				resolved[email] = report
				mu.Unlock()
			}(email)
		}
		wg.Wait()
	}

	// Duplicates share the same computed report
	for email, idxs := range positions {
		for _, i := range idxs {
			results[i] = resolved[email]
		}
	}
	return results
}

// normalizeEmail lower-cases, trims, splits and validates the address shape,
// IDNA-normalizing the domain. Violations return a FormatError.
func (c *Checker) normalizeEmail(raw string) (email, localPart, domain string, err *FormatError) {
	email = strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", "", "", &FormatError{Reason: "empty email address"}
	}
	if len(email) > maxEmailLength {
		return "", "", "", &FormatError{Reason: fmt.Sprintf("email exceeds %d characters", maxEmailLength)}
	}
	if strings.Count(email, "@") != 1 {
		return "", "", "", &FormatError{Reason: "email must contain exactly one @"}
	}

	at := strings.Index(email, "@")
	localPart, domain = email[:at], email[at+1:]
	if localPart == "" || domain == "" {
		return "", "", "", &FormatError{Reason: "email must have a local part and a domain"}
	}
	if len(localPart) > maxLocalLength {
		return "", "", "", &FormatError{Reason: fmt.Sprintf("local part exceeds %d characters", maxLocalLength)}
	}
	if len(domain) > maxDomainLength {
		return "", "", "", &FormatError{Reason: fmt.Sprintf("domain exceeds %d characters", maxDomainLength)}
	}

	// Internationalized domains are normalized to their ASCII form before
	// any index lookup or DNS query
	if ascii, idnaErr := idna.Lookup.ToASCII(domain); idnaErr == nil {
		domain = ascii
	} else {
		return "", "", "", &FormatError{Reason: "invalid domain: " + idnaErr.Error()}
	}
	email = localPart + "@" + domain

	if c.cfg.StrictValidation {
		if !strictEmailRe.MatchString(email) {
			return "", "", "", &FormatError{Reason: "email fails strict validation"}
		}
	} else if !lenientEmailRe.MatchString(email) {
		return "", "", "", &FormatError{Reason: "invalid email format"}
	}
	return email, localPart, domain, nil
}
