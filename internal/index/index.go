// Package index implements the domain membership index used for disposable,
// allowed and blacklisted domain sets. Four strategies are available: a
// reversed-label trie, a Bloom filter, a hybrid of the two (Bloom pre-filter
// confirmed by the trie) and a plain hash set.
package index

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/mailward/email-verifier/pkg/types"
)

// Strategy selects the index implementation
type Strategy string

const (
	StrategyTrie   Strategy = "trie"
	StrategyBloom  Strategy = "bloom"
	StrategyHybrid Strategy = "hybrid"
	StrategyHash   Strategy = "hash"
)

// Match is the outcome of a single Lookup
type Match struct {
	Matched    bool
	Type       types.MatchType
	Confidence int // exact=100, subdomain=SubdomainConfidence, none=0
}

// Options configures an Index
type Options struct {
	Strategy            Strategy
	ExpectedItems       uint    // Sizes the Bloom filter, default 100000
	FalsePositiveRate   float64 // Target Bloom false-positive rate, default 0.01
	SubdomainConfidence int     // Confidence for suffix matches, default 90
	CheckSubdomains     bool    // Enable suffix (subdomain) matching
}

// Index is a membership test over one labeled domain set. Inserts and the
// wholesale rebuild done by the orchestrator take the write lock; lookups are
// read-locked so concurrent readers never observe a partially built structure.
type Index struct {
	opts   Options
	mu     sync.RWMutex
	trie   *trieNode
	filter *bloom.BloomFilter
	exact  map[string]struct{}
	count  int
}

// New creates an empty index. Unknown strategies are a configuration error.
func New(opts Options) (*Index, error) {
	switch opts.Strategy {
	case StrategyTrie, StrategyBloom, StrategyHybrid, StrategyHash:
	case "":
		opts.Strategy = StrategyHybrid
	default:
		return nil, fmt.Errorf("index: unknown strategy %q", opts.Strategy)
	}
	if opts.ExpectedItems == 0 {
		opts.ExpectedItems = 100000
	}
	if opts.FalsePositiveRate <= 0 || opts.FalsePositiveRate >= 1 {
		opts.FalsePositiveRate = 0.01
	}
	if opts.SubdomainConfidence <= 0 || opts.SubdomainConfidence > 100 {
		opts.SubdomainConfidence = 90
	}

	ix := &Index{opts: opts}
	if opts.Strategy == StrategyTrie || opts.Strategy == StrategyHybrid {
		ix.trie = newTrieNode()
	}
	if opts.Strategy == StrategyBloom || opts.Strategy == StrategyHybrid {
		ix.filter = bloom.NewWithEstimates(opts.ExpectedItems, opts.FalsePositiveRate)
	}
	if opts.Strategy == StrategyHash {
		ix.exact = make(map[string]struct{}, opts.ExpectedItems)
	}
	return ix, nil
}

// Normalize lower-cases, trims whitespace and strips the trailing dot
func Normalize(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimSuffix(domain, ".")
}

// Insert adds one domain to the set. Empty and single-label entries are
// dropped so a bare TLD can never be stored.
func (ix *Index) Insert(domain string) {
	domain = Normalize(domain)
	if domain == "" || !strings.Contains(domain, ".") {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.count++

	switch ix.opts.Strategy {
	case StrategyHash:
		ix.exact[domain] = struct{}{}
	case StrategyTrie:
		ix.trie.add(strings.Split(domain, "."))
	case StrategyBloom:
		ix.filter.AddString(domain)
	case StrategyHybrid:
		ix.filter.AddString(domain)
		ix.trie.add(strings.Split(domain, "."))
	}
}

// InsertAll adds every domain in the slice
func (ix *Index) InsertAll(domains []string) {
	for _, d := range domains {
		ix.Insert(d)
	}
}

// Len returns the number of inserted entries
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.count
}

// Lookup tests a domain against the set. A Bloom negative is authoritative;
// a Bloom positive is confirmed by the trie in hybrid mode. When subdomain
// checking is enabled, progressively shorter suffixes of the query are tested
// down to two labels.
func (ix *Index) Lookup(domain string) Match {
	domain = Normalize(domain)
	if domain == "" {
		return Match{Type: types.MatchNone}
	}
	labels := strings.Split(domain, ".")

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	switch ix.opts.Strategy {
	case StrategyHash:
		return ix.lookupSuffixes(domain, labels, func(candidate string) bool {
			_, ok := ix.exact[candidate]
			return ok
		})
	case StrategyBloom:
		return ix.lookupSuffixes(domain, labels, func(candidate string) bool {
			return ix.filter.TestString(candidate)
		})
	case StrategyTrie:
		return ix.lookupTrie(labels)
	default: // hybrid
		if !ix.bloomCandidate(domain, labels) {
			return Match{Type: types.MatchNone}
		}
		return ix.lookupTrie(labels)
	}
}

// bloomCandidate reports whether the query or any eligible suffix might be in
// the set. False means definitely absent (no-false-negative property).
func (ix *Index) bloomCandidate(domain string, labels []string) bool {
	if ix.filter.TestString(domain) {
		return true
	}
	if !ix.opts.CheckSubdomains {
		return false
	}
	for i := 1; len(labels)-i >= 2; i++ {
		if ix.filter.TestString(strings.Join(labels[i:], ".")) {
			return true
		}
	}
	return false
}

// lookupSuffixes tests the exact domain, then shorter suffixes, with the
// supplied membership probe.
func (ix *Index) lookupSuffixes(domain string, labels []string, test func(string) bool) Match {
	if test(domain) {
		return Match{Matched: true, Type: types.MatchExact, Confidence: 100}
	}
	if ix.opts.CheckSubdomains {
		for i := 1; len(labels)-i >= 2; i++ {
			if test(strings.Join(labels[i:], ".")) {
				return Match{Matched: true, Type: types.MatchSubdomain, Confidence: ix.opts.SubdomainConfidence}
			}
		}
	}
	return Match{Type: types.MatchNone}
}

func (ix *Index) lookupTrie(labels []string) Match {
	exact, subdomain := ix.trie.lookup(labels)
	if exact {
		return Match{Matched: true, Type: types.MatchExact, Confidence: 100}
	}
	if subdomain && ix.opts.CheckSubdomains {
		return Match{Matched: true, Type: types.MatchSubdomain, Confidence: ix.opts.SubdomainConfidence}
	}
	return Match{Type: types.MatchNone}
}
