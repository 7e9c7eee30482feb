// Package relay fetches marketplace URLs through a chain of HTTP relays.
//
// The service itself is the privileged relay: the first attempt goes straight
// to the target. Marketplaces routinely block datacenter traffic, so when the
// direct attempt fails the client falls through a fixed, ordered list of
// public proxy services. Each relay is tried exactly once under its own
// timeout; there is no backoff at this layer.
package relay

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single relay attempt.
const DefaultTimeout = 15 * time.Second

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36"

// Public proxy URL builders, in fallback order. The order is fixed: changing
// it changes which proxy serves the bulk of the traffic.
var proxyTemplates = []func(target string) string{
	func(target string) string { return "https://corsproxy.io/?" + url.QueryEscape(target) },
	func(target string) string { return "https://api.allorigins.win/raw?url=" + url.QueryEscape(target) },
	func(target string) string {
		return "https://r.jina.ai/http://" + strings.TrimPrefix(strings.TrimPrefix(target, "https://"), "http://")
	},
}

// Config controls relay client behaviour.
type Config struct {
	// Timeout bounds each individual relay attempt. Zero means DefaultTimeout.
	Timeout time.Duration
	// UserAgent is sent on every outbound request.
	UserAgent string
	// RequestsPerSecond caps outbound attempts across all relays. Marketplaces
	// and free proxies are rate-limit sensitive. Zero disables the limiter.
	RequestsPerSecond float64
	// Burst is the limiter burst size. Zero means 1 when the limiter is on.
	Burst int
}

// Options tunes a single Fetch call.
type Options struct {
	// Timeout overrides the client's per-attempt timeout when positive.
	Timeout time.Duration
	// Accept is sent as the Accept header when non-empty.
	Accept string
	// WantJSON rejects 2xx responses whose body is not valid JSON. Public
	// proxies are fond of returning styled HTML error pages with status 200.
	WantJSON bool
}

// Fetcher is the read contract extractors depend on.
type Fetcher interface {
	Fetch(ctx context.Context, target string, opts Options) ([]byte, error)
}

// Client implements Fetcher over a shared HTTP client.
type Client struct {
	http      *http.Client
	cfg       Config
	limiter   *rate.Limiter
	userAgent string
}

var _ Fetcher = (*Client)(nil)

// NewClient builds a relay client. The underlying transport is instrumented
// with OpenTelemetry.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cfg:       cfg,
		limiter:   limiter,
		userAgent: ua,
	}
}

// Attempt records the outcome of one relay try.
type Attempt struct {
	Host    string
	Reason  string
	Timeout bool
}

// TransportError reports that every relay attempt failed. One Attempt per
// relay lets operators tell "all relays down" from "target unreachable".
type TransportError struct {
	Target   string
	Attempts []Attempt
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("all relays failed for ")
	b.WriteString(e.Target)
	b.WriteString(": ")
	for i, a := range e.Attempts {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(a.Host)
		b.WriteString(": ")
		b.WriteString(a.Reason)
	}
	return b.String()
}

// AllTimeout reports whether every attempt failed on its deadline.
func (e *TransportError) AllTimeout() bool {
	for _, a := range e.Attempts {
		if !a.Timeout {
			return false
		}
	}
	return len(e.Attempts) > 0
}

// candidate is one relay in the chain.
type candidate struct {
	host string
	url  string
}

func (c *Client) candidates(target string) ([]candidate, error) {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil, errors.Errorf("invalid target URL %q", target)
	}

	out := make([]candidate, 0, 1+len(proxyTemplates))
	out = append(out, candidate{host: u.Host, url: target})
	for _, tmpl := range proxyTemplates {
		relayURL := tmpl(target)
		ru, err := url.Parse(relayURL)
		if err != nil {
			continue
		}
		out = append(out, candidate{host: ru.Host, url: relayURL})
	}
	return out, nil
}

// Fetch tries the direct route and then each public proxy in order, returning
// the first successful body. When every candidate fails it returns a
// *TransportError aggregating one reason per relay.
func (c *Client) Fetch(ctx context.Context, target string, opts Options) ([]byte, error) {
	cands, err := c.candidates(target)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	attempts := make([]Attempt, 0, len(cands))
	for _, cand := range cands {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, errors.Wrap(err, "rate limit wait")
			}
		}

		body, att := c.attempt(ctx, cand, timeout, opts)
		if att == nil {
			return body, nil
		}
		attempts = append(attempts, *att)
	}

	return nil, &TransportError{Target: target, Attempts: attempts}
}

// attempt performs one relay request. It returns the body on success, or a
// non-nil Attempt describing the failure.
func (c *Client) attempt(ctx context.Context, cand candidate, timeout time.Duration, opts Options) ([]byte, *Attempt) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fail := func(reason string) *Attempt {
		return &Attempt{
			Host:    cand.host,
			Reason:  reason,
			Timeout: attemptCtx.Err() == context.DeadlineExceeded,
		}
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, cand.url, nil)
	if err != nil {
		return nil, fail(err.Error())
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	if opts.Accept != "" {
		req.Header.Set("Accept", opts.Accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, fail("timeout")
		}
		return nil, fail(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fail("HTTP " + resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, fail("timeout")
		}
		return nil, fail(err.Error())
	}

	if opts.WantJSON && !jx.Valid(body) {
		return nil, fail("non-JSON response")
	}

	return body, nil
}
