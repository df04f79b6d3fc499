// Package probe issues timed HTTP health checks and normalizes their outcome
// into a Record. A failed request is data (the Crashed status), never an error.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout is the wall-clock bound of a single probe
const DefaultTimeout = 2 * time.Second

// maxBodyBytes bounds how much of a health response ends up in the log
const maxBodyBytes = 64 << 10

// Opt configures a Prober
type Opt func(*Prober)

// WithHTTPClient replaces the http.Client used for probes. The Prober timeout
// is still enforced through the request context.
func WithHTTPClient(client *http.Client) Opt {
	return func(p *Prober) {
		p.client = client
	}
}

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Opt {
	return func(p *Prober) {
		p.now = now
	}
}

// Prober performs health checks with a hard timeout per call. It does not
// retry; the monitor cadence is the retry mechanism.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
}

// NewProber creates a Prober; a non-positive timeout falls back to
// DefaultTimeout.
func NewProber(timeout time.Duration, opts ...Opt) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Prober{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		now:     time.Now,
	}
	for _, optFn := range opts {
		optFn(p)
	}
	return p
}

// Probe performs one GET against target.HealthURL. Latency spans from sending
// the request until the body has been fully read.
func (p *Prober) Probe(ctx context.Context, target Target) Record {
	rec := Record{
		Service:   target.Name,
		URL:       target.HealthURL,
		Timestamp: p.now(),
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.HealthURL, nil)
	if err != nil {
		return crashed(rec, fmt.Errorf("Prober.Probe creating request: %w", err))
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return crashed(rec, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		// headers arrived but the body did not; the service did not answer
		return crashed(rec, fmt.Errorf("Prober.Probe reading body: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	rec.Status = StatusCode(resp.StatusCode)
	rec.ResponseBody = encodeBody(body)
	rec.LatencyMs = &latency
	return rec
}

func crashed(rec Record, err error) Record {
	rec.Status = CrashedStatus
	rec.ResponseBody = encodeText(err.Error())
	rec.LatencyMs = nil
	return rec
}
