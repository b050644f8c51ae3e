// Package disposable loads the disposable-domain dataset and the local
// allow/black lists consumed by the checker's domain index. It only fetches
// and normalizes; classification lives in the index.
package disposable

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mailward/email-verifier/internal/logger"
)

const (
	indexURL     = "https://raw.githubusercontent.com/tompec/disposable-email-domains/main/index.json"
	wildcardURL  = "https://raw.githubusercontent.com/tompec/disposable-email-domains/main/wildcard.json"
	fetchTimeout = 10 * time.Second
)

// Lists is one snapshot of the three normalized domain sets
type Lists struct {
	Disposable  []string
	Allowed     []string
	Blacklisted []string
}

// Loader fetches remote disposable lists and reads local allow/black files
type Loader struct {
	client      *http.Client
	indexURL    string
	wildcardURL string
	allowFile   string // Optional newline-separated allowlist
	blackFile   string // Optional newline-separated blacklist
}

// NewLoader creates a loader with the default sources and optional local
// list files (empty paths are skipped).
func NewLoader(allowFile, blackFile string) *Loader {
	return &Loader{
		client:      &http.Client{Timeout: fetchTimeout},
		indexURL:    indexURL,
		wildcardURL: wildcardURL,
		allowFile:   allowFile,
		blackFile:   blackFile,
	}
}

// Fetch downloads the disposable lists and reads the local files, returning
// one normalized snapshot. Wildcard entries ("*.domain") are collapsed to
// their base domain; the index's subdomain matching covers the rest.
func (l *Loader) Fetch() (Lists, error) {
	var lists Lists

	var exact []string
	if err := l.fetchJSON(l.indexURL, &exact); err != nil {
		return lists, fmt.Errorf("failed to load index: %w", err)
	}

	var wildcards []string
	if err := l.fetchJSON(l.wildcardURL, &wildcards); err != nil {
		return lists, fmt.Errorf("failed to load wildcards: %w", err)
	}

	seen := make(map[string]struct{}, len(exact)+len(wildcards))
	add := func(domain string) {
		domain = normalize(domain)
		if domain == "" {
			return
		}
		if _, dup := seen[domain]; dup {
			return
		}
		seen[domain] = struct{}{}
		lists.Disposable = append(lists.Disposable, domain)
	}
	for _, d := range exact {
		add(d)
	}
	for _, d := range wildcards {
		add(strings.TrimPrefix(d, "*."))
	}

	var err error
	if lists.Allowed, err = readListFile(l.allowFile); err != nil {
		return lists, err
	}
	if lists.Blacklisted, err = readListFile(l.blackFile); err != nil {
		return lists, err
	}

	logger.Logf("[Disposable] Loaded %d disposable, %d allowed, %d blacklisted domains",
		len(lists.Disposable), len(lists.Allowed), len(lists.Blacklisted))
	return lists, nil
}

// fetchJSON downloads a JSON array of domain strings
func (l *Loader) fetchJSON(url string, target *[]string) error {
	resp, err := l.client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// readListFile reads one domain per line, skipping blanks and # comments
func readListFile(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read list %s: %w", path, err)
	}
	defer f.Close()

	var domains []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := normalize(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, line)
	}
	return domains, scanner.Err()
}

func normalize(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}
