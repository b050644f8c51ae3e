package dns

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEngine returns an engine with network and sleep stubbed out
func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e := New(cfg)
	t.Cleanup(e.Close)
	e.lookupMX = func(ctx context.Context, domain string) ([]*net.MX, error) {
		return nil, &net.DNSError{Err: "no such host", Name: domain, IsNotFound: true}
	}
	e.lookupTXT = func(ctx context.Context, name string) ([]string, error) {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	e.dial = func(network, address string, timeout time.Duration) (net.Conn, error) {
		return nil, errors.New("dial disabled in tests")
	}
	e.sleep = func(time.Duration) {}
	return e
}

func mxAnswer(hosts ...string) func(ctx context.Context, domain string) ([]*net.MX, error) {
	records := make([]*net.MX, 0, len(hosts))
	for i, h := range hosts {
		records = append(records, &net.MX{Host: h, Pref: uint16(10 * (len(hosts) - i))})
	}
	return func(ctx context.Context, domain string) ([]*net.MX, error) {
		return records, nil
	}
}

func TestValidateDomainWithMX(t *testing.T) {
	e := newTestEngine(t, Config{})
	e.lookupMX = mxAnswer("backup.example.com.", "mail.example.com.")

	report := e.ValidateDomain(context.Background(), "Example.COM")
	assert.Equal(t, "example.com", report.Domain)
	assert.True(t, report.HasMX)
	require.Len(t, report.MXRecords, 2)
	// Sorted ascending by priority, trailing dots stripped
	assert.Equal(t, "mail.example.com", report.MXRecords[0].Host)
	assert.Equal(t, "backup.example.com", report.MXRecords[1].Host)
	assert.Less(t, report.MXRecords[0].Priority, report.MXRecords[1].Priority)
	assert.Empty(t, report.Errors)
}

func TestValidateDomainNoMXIsWarningNotError(t *testing.T) {
	e := newTestEngine(t, Config{})

	report := e.ValidateDomain(context.Background(), "nomx.example.com")
	assert.False(t, report.HasMX)
	assert.Empty(t, report.Errors, "authoritative absence is not an infrastructure failure")
	assert.Contains(t, report.Warnings, "no MX records found")
}

func TestRetriesWithBackoff(t *testing.T) {
	e := newTestEngine(t, Config{Retries: 3})

	var attempts atomic.Int32
	e.lookupMX = func(ctx context.Context, domain string) ([]*net.MX, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("server misbehaving")
		}
		return []*net.MX{{Host: "mx.example.com.", Pref: 10}}, nil
	}
	var delays []time.Duration
	e.sleep = func(d time.Duration) { delays = append(delays, d) }

	report := e.ValidateDomain(context.Background(), "flaky.example.com")
	assert.True(t, report.HasMX)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestBackoffDelayCap(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(1))
	assert.Equal(t, 2*time.Second, backoffDelay(2))
	assert.Equal(t, 4*time.Second, backoffDelay(3))
	assert.Equal(t, 5*time.Second, backoffDelay(4), "delay is capped at 5s")
	assert.Equal(t, 5*time.Second, backoffDelay(10))
}

func TestExhaustedRetriesRecordError(t *testing.T) {
	e := newTestEngine(t, Config{Retries: 2})

	var attempts atomic.Int32
	e.lookupMX = func(ctx context.Context, domain string) ([]*net.MX, error) {
		attempts.Add(1)
		return nil, errors.New("server misbehaving")
	}

	report := e.ValidateDomain(context.Background(), "down.example.com")
	assert.False(t, report.HasMX)
	assert.Equal(t, int32(2), attempts.Load())
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0], "MX resolution failed")
}

func TestNotFoundDoesNotRetry(t *testing.T) {
	e := newTestEngine(t, Config{Retries: 3})

	var attempts atomic.Int32
	e.lookupMX = func(ctx context.Context, domain string) ([]*net.MX, error) {
		attempts.Add(1)
		return nil, &net.DNSError{Err: "no such host", Name: domain, IsNotFound: true}
	}

	e.ValidateDomain(context.Background(), "absent.example.com")
	assert.Equal(t, int32(1), attempts.Load(), "authoritative absence must not be retried")
}

func TestSPFAndDMARCDetection(t *testing.T) {
	e := newTestEngine(t, Config{CheckSPF: true, CheckDMARC: true})
	e.lookupMX = mxAnswer("mx.example.com.")
	e.lookupTXT = func(ctx context.Context, name string) ([]string, error) {
		switch name {
		case "example.com":
			return []string{"some-verification=abc", "v=spf1 include:_spf.example.com ~all"}, nil
		case "_dmarc.example.com":
			return []string{"v=DMARC1; p=reject"}, nil
		}
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}

	report := e.ValidateDomain(context.Background(), "example.com")
	assert.True(t, report.HasSPF)
	assert.True(t, report.HasDMARC)
	assert.NotContains(t, report.Warnings, "no SPF record found")
	assert.NotContains(t, report.Warnings, "no DMARC record found")
}

func TestMissingSPFAndDMARCAreWarnings(t *testing.T) {
	e := newTestEngine(t, Config{CheckSPF: true, CheckDMARC: true})
	e.lookupMX = mxAnswer("mx.example.com.")

	report := e.ValidateDomain(context.Background(), "bare.example.com")
	assert.False(t, report.HasSPF)
	assert.False(t, report.HasDMARC)
	assert.Contains(t, report.Warnings, "no SPF record found")
	assert.Contains(t, report.Warnings, "no DMARC record found")
	assert.Empty(t, report.Errors)
}

func TestConnectivityProbe(t *testing.T) {
	e := newTestEngine(t, Config{ValidateConnectivity: true})
	e.lookupMX = mxAnswer("mx.example.com.")

	var dialed string
	e.dial = func(network, address string, timeout time.Duration) (net.Conn, error) {
		dialed = address
		client, server := net.Pipe()
		go server.Close()
		return client, nil
	}

	report := e.ValidateDomain(context.Background(), "example.com")
	assert.True(t, report.Connectable)
	assert.Equal(t, "mx.example.com:25", dialed)
}

func TestConnectivityProbeFailureIsWarning(t *testing.T) {
	e := newTestEngine(t, Config{ValidateConnectivity: true})
	e.lookupMX = mxAnswer("mx.example.com.")

	report := e.ValidateDomain(context.Background(), "example.com")
	assert.False(t, report.Connectable)
	assert.Contains(t, report.Warnings, "MX mx.example.com not reachable on port 25")
	assert.Empty(t, report.Errors)
}

func TestValidateDomainCached(t *testing.T) {
	e := newTestEngine(t, Config{})

	var attempts atomic.Int32
	e.lookupMX = func(ctx context.Context, domain string) ([]*net.MX, error) {
		attempts.Add(1)
		return []*net.MX{{Host: "mx.example.com.", Pref: 10}}, nil
	}

	first := e.ValidateDomain(context.Background(), "example.com")
	second := e.ValidateDomain(context.Background(), "example.com")
	assert.Equal(t, int32(1), attempts.Load(), "second call must be served from cache")
	assert.Same(t, first, second)
}

func TestCheckMX(t *testing.T) {
	e := newTestEngine(t, Config{})
	e.lookupMX = mxAnswer("mx.example.com.")

	hasMX, records := e.CheckMX(context.Background(), "example.com")
	assert.True(t, hasMX)
	require.Len(t, records, 1)
	assert.Equal(t, "mx.example.com", records[0].Host)

	hasMX, records = e.CheckMX(context.Background(), "example.com")
	assert.True(t, hasMX, "cached result must agree")
	assert.Len(t, records, 1)
}

func TestCheckMXNoRecords(t *testing.T) {
	e := newTestEngine(t, Config{})

	hasMX, records := e.CheckMX(context.Background(), "absent.example.com")
	assert.False(t, hasMX)
	assert.Empty(t, records)
}

func TestValidateDomainsBatchPreservesOrder(t *testing.T) {
	e := newTestEngine(t, Config{Concurrency: 2})
	e.lookupMX = func(ctx context.Context, domain string) ([]*net.MX, error) {
		if domain == "nomx.example.com" {
			return nil, &net.DNSError{Err: "no such host", Name: domain, IsNotFound: true}
		}
		return []*net.MX{{Host: "mx." + domain + ".", Pref: 10}}, nil
	}

	domains := []string{"a.example.com", "nomx.example.com", "b.example.com", "c.example.com", "d.example.com"}
	reports := e.ValidateDomainsBatch(context.Background(), domains)

	require.Len(t, reports, len(domains))
	for i, d := range domains {
		assert.Equal(t, d, reports[i].Domain)
	}
	assert.True(t, reports[0].HasMX)
	assert.False(t, reports[1].HasMX)
}

func TestCancelledContextSurfacesAsError(t *testing.T) {
	e := newTestEngine(t, Config{Retries: 2})
	e.lookupMX = func(ctx context.Context, domain string) ([]*net.MX, error) {
		return nil, ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := e.ValidateDomain(ctx, "example.com")
	assert.False(t, report.HasMX)
	assert.NotEmpty(t, report.Errors)
}
