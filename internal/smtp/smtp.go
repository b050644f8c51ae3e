// Package smtp proves mailbox reachability with a minimal SMTP dialogue:
// greeting, HELO, MAIL FROM, RCPT TO, QUIT. No mail is ever sent; the RCPT
// response alone decides deliverability. The dialogue is an explicit state
// machine advanced by each inbound response, never exception-driven.
package smtp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mailward/email-verifier/internal/cache"
	"github.com/mailward/email-verifier/internal/gate"
	"github.com/mailward/email-verifier/internal/helo"
	"github.com/mailward/email-verifier/internal/logger"
	"github.com/mailward/email-verifier/internal/metrics"
	"github.com/mailward/email-verifier/pkg/types"
)

// Config holds the SMTP engine settings
type Config struct {
	Timeout     time.Duration // Covers the whole per-server dialogue, default 10s
	Port        int           // Default 25
	FromEmail   string        // MAIL FROM address, default verify@<helo>
	HeloDomain  string        // Fixed HELO; empty means rotate
	Retries     int           // Attempts per candidate server, default 1
	CacheTTL    time.Duration // Per-mailbox result TTL, default 10m
	Concurrency int           // Outbound connection cap, default 10
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Port <= 0 {
		c.Port = 25
	}
	if c.Retries <= 0 {
		c.Retries = 1
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	return c
}

// dialogueState enumerates the handshake progress. Each inbound response
// advances the machine; any invalid code is a terminal failure for that server.
type dialogueState int

const (
	stateGreeting dialogueState = iota // Awaiting 220 banner
	stateHello                         // Awaiting HELO ack (250)
	stateMailFrom                      // Awaiting MAIL FROM ack (250)
	stateRcptTo                        // Awaiting RCPT TO verdict (any code)
	stateQuit                          // Awaiting QUIT ack (any code)
)

// outcome is the verdict of one per-server dialogue
type outcome struct {
	completed    bool   // Reached QUIT ack
	mailboxValid bool   // RCPT TO answered 250
	rcptCode     int    // Code observed at the RCPT state
	rcptMessage  string // Message accompanying the RCPT response
	lastCode     int    // Final code observed in the dialogue
	failure      string // Reason the dialogue died, when completed is false
}

// Engine performs per-mailbox deliverability probes. Each instance owns its
// result cache and releases it on Close.
type Engine struct {
	cfg       Config
	cache     cache.Provider
	ownsCache *cache.InMemoryCache
	gate      *gate.Gate
	rotation  *helo.Rotation

	// Injectable for tests
	dial func(network, address string, timeout time.Duration) (net.Conn, error)
}

// New creates an SMTP engine with its own bounded in-memory cache
func New(cfg Config) *Engine {
	owned := cache.NewBoundedCache("smtp", 10000, cfg.withDefaults().CacheTTL)
	e := NewWithCache(cfg, owned)
	e.ownsCache = owned
	return e
}

// NewWithCache creates an SMTP engine on a caller-supplied cache provider
func NewWithCache(cfg Config, provider cache.Provider) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		cache:    provider,
		gate:     gate.New(cfg.Concurrency),
		rotation: helo.NewRotation(nil, false, nil),
		dial:     net.DialTimeout,
	}
}

// SetRotation swaps the HELO rotation, e.g. for a Redis-coordinated cluster
func (e *Engine) SetRotation(r *helo.Rotation) {
	if r != nil {
		e.rotation = r
	}
}

// Close stops the owned cache sweep and rejects further gate admissions
func (e *Engine) Close() {
	e.gate.Close()
	if e.ownsCache != nil {
		e.ownsCache.Close()
	}
}

// ValidateEmail probes the mailbox against the supplied MX records in
// ascending priority order, falling back to the bare domain when no records
// are given. The first server completing the dialogue wins. The caller always
// receives a report, never an error.
func (e *Engine) ValidateEmail(ctx context.Context, email string, mxRecords []types.MXRecord) *types.SMTPReport {
	email = strings.ToLower(strings.TrimSpace(email))
	if cached, ok := e.cache.Get("smtp:" + email); ok {
		if report, ok := cached.(*types.SMTPReport); ok {
			return report
		}
	}

	started := time.Now()
	domain := ""
	if at := strings.LastIndex(email, "@"); at >= 0 {
		domain = email[at+1:]
	}
	report := &types.SMTPReport{Email: email, Domain: domain}

	hosts := make([]string, 0, len(mxRecords))
	for _, mx := range mxRecords {
		hosts = append(hosts, mx.Host)
	}
	if len(hosts) == 0 && domain != "" {
		hosts = append(hosts, domain)
	}

	for _, host := range hosts {
		result, err := e.probeWithRetry(ctx, host, email)
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", host, err))
			continue
		}
		if !result.completed {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", host, result.failure))
			continue
		}

		report.Valid = true
		report.MailboxValid = result.mailboxValid
		report.MXHost = host
		report.ResponseCode = result.lastCode
		report.ResponseMessage = result.rcptMessage
		if !result.mailboxValid {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s: RCPT TO answered %d %s", host, result.rcptCode, result.rcptMessage))
		}
		break
	}

	if !report.Valid && len(hosts) > 0 {
		report.Errors = append(report.Errors, "all SMTP candidates failed")
	}

	report.ElapsedMs = time.Since(started).Milliseconds()

	outcomeLabel := "failed"
	if report.MailboxValid {
		outcomeLabel = "deliverable"
	} else if report.Valid {
		outcomeLabel = "rejected"
	}
	metrics.SMTPProbes.WithLabelValues(outcomeLabel).Inc()

	e.cache.Set("smtp:"+email, report, e.cfg.CacheTTL)
	return report
}

// probeWithRetry runs the per-server dialogue up to Retries times under the
// outbound connection gate.
func (e *Engine) probeWithRetry(ctx context.Context, host, email string) (outcome, error) {
	var result outcome
	err := e.gate.Do(ctx, func() error {
		for attempt := 1; attempt <= e.cfg.Retries; attempt++ {
			result = e.probeServer(host, email)
			if result.completed {
				return nil
			}
		}
		return nil
	})
	return result, err
}

// probeServer walks the state machine against one server. A single deadline
// covers the entire dialogue; any timeout, premature close or invalid code is
// a terminal failure for this server.
func (e *Engine) probeServer(host, email string) outcome {
	heloDomain := e.cfg.HeloDomain
	if heloDomain == "" {
		if rotated, err := e.rotation.Next(); err == nil {
			heloDomain = rotated
		} else {
			heloDomain = "localhost"
		}
	}
	fromEmail := e.cfg.FromEmail
	if fromEmail == "" {
		fromEmail = "verify@" + heloDomain
	}

	addr := net.JoinHostPort(host, strconv.Itoa(e.cfg.Port))
	logger.Logf("[SMTP] Probing %s for %s", addr, email)

	conn, err := e.dial("tcp", addr, e.cfg.Timeout)
	if err != nil {
		return outcome{failure: fmt.Sprintf("connect failed: %v", err)}
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(e.cfg.Timeout))
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	var result outcome
	state := stateGreeting

	for {
		code, message, err := readResponse(reader)
		if err != nil {
			result.failure = fmt.Sprintf("connection closed unexpectedly: %v", err)
			return result
		}
		result.lastCode = code

		switch state {
		case stateGreeting:
			if code != 220 {
				result.failure = fmt.Sprintf("unexpected greeting: %d %s", code, message)
				return result
			}
			if err := sendCommand(writer, "HELO "+heloDomain); err != nil {
				result.failure = fmt.Sprintf("HELO failed: %v", err)
				return result
			}
			state = stateHello

		case stateHello:
			if code != 250 {
				result.failure = fmt.Sprintf("HELO failed: %d %s", code, message)
				return result
			}
			if err := sendCommand(writer, "MAIL FROM:<"+fromEmail+">"); err != nil {
				result.failure = fmt.Sprintf("MAIL FROM failed: %v", err)
				return result
			}
			state = stateMailFrom

		case stateMailFrom:
			if code != 250 {
				result.failure = fmt.Sprintf("MAIL FROM rejected: %d %s", code, message)
				return result
			}
			if err := sendCommand(writer, "RCPT TO:<"+email+">"); err != nil {
				result.failure = fmt.Sprintf("RCPT TO failed: %v", err)
				return result
			}
			state = stateRcptTo

		case stateRcptTo:
			// Any code is accepted here; only 250 proves the mailbox
			result.mailboxValid = code == 250
			result.rcptCode = code
			result.rcptMessage = message
			if err := sendCommand(writer, "QUIT"); err != nil {
				result.failure = fmt.Sprintf("QUIT failed: %v", err)
				return result
			}
			state = stateQuit

		case stateQuit:
			result.completed = true
			return result
		}
	}
}

// sendCommand writes one CRLF-terminated command
func sendCommand(w *bufio.Writer, cmd string) error {
	if _, err := w.WriteString(cmd + "\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// readResponse reads a possibly multi-line SMTP response and returns the
// final code and the joined message text.
func readResponse(r *bufio.Reader) (int, string, error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 3 {
			return 0, "", errors.New("short SMTP response line")
		}
		lines = append(lines, line)
		// A dash after the code marks a continuation line
		if len(line) < 4 || line[3] != '-' {
			break
		}
	}

	last := lines[len(lines)-1]
	code, err := strconv.Atoi(last[:3])
	if err != nil {
		return 0, "", fmt.Errorf("invalid SMTP response code %q", last[:3])
	}

	message := ""
	if len(last) > 4 {
		message = strings.TrimSpace(last[4:])
	} else if len(last) == 4 {
		message = ""
	}
	if len(lines) > 1 {
		message = strings.Join(lines, " | ")
	}
	return code, message, nil
}
