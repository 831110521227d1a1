package httpx

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/atomic"

	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/config"
)

// Client wraps http.Client with a host allowlist, bounded retries and a
// consecutive-failure circuit.
type Client struct {
	hc        *http.Client
	opt       Options
	fail      atomic.Int32 // consecutive failures
	openUntil atomic.Int64 // unix nanos for circuit open deadline
}

type Options struct {
	Timeout            time.Duration
	Retry              int
	BackoffMin         time.Duration
	BackoffMax         time.Duration
	HostAllowlist      []string
	MaxConsecutiveFail int
	CircuitOpen        time.Duration
}

var (
	ErrCircuitOpen    = errors.New("circuit open")
	ErrHostNotAllowed = errors.New("host not allowed")
)

// StatusError is returned when the remote side keeps answering with 5xx.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpx: %s returned %d: %s", e.URL, e.Status, e.Body)
}

func NewFromConfig(cfg *config.HTTPClientConfig) *Client {
	to := 1200 * time.Millisecond
	if cfg != nil && cfg.TimeoutMs > 0 {
		to = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	retry := 1
	if cfg != nil && cfg.Retry > 0 {
		retry = cfg.Retry
	}
	bmin := 100 * time.Millisecond
	if cfg != nil && cfg.BackoffMinMs > 0 {
		bmin = time.Duration(cfg.BackoffMinMs) * time.Millisecond
	}
	bmax := 800 * time.Millisecond
	if cfg != nil && cfg.BackoffMaxMs > 0 {
		bmax = time.Duration(cfg.BackoffMaxMs) * time.Millisecond
	}
	mcf := 5
	if cfg != nil && cfg.MaxConsecutiveFailures > 0 {
		mcf = cfg.MaxConsecutiveFailures
	}
	cop := 5 * time.Second
	if cfg != nil && cfg.CircuitOpenSeconds > 0 {
		cop = time.Duration(cfg.CircuitOpenSeconds) * time.Second
	}
	var allow []string
	if cfg != nil {
		allow = cfg.HostAllowlist
	}

	transport := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: to}).DialContext,
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:    100,
		IdleConnTimeout: 30 * time.Second,
	}
	return &Client{
		hc: &http.Client{Timeout: to, Transport: transport},
		opt: Options{
			Timeout: to, Retry: retry, BackoffMin: bmin, BackoffMax: bmax,
			HostAllowlist: allow, MaxConsecutiveFail: mcf, CircuitOpen: cop,
		},
	}
}

func (c *Client) allowed(u string) bool {
	if len(c.opt.HostAllowlist) == 0 {
		return true
	}
	pu, err := url.Parse(u)
	if err != nil {
		return false
	}
	host := pu.Hostname()
	for _, h := range c.opt.HostAllowlist {
		if matchHost(h, host) {
			return true
		}
	}
	return false
}

func matchHost(pattern, host string) bool {
	if pattern == "*" {
		return true
	}
	if strings.EqualFold(pattern, host) {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suf := strings.TrimPrefix(pattern, "*.")
		return strings.HasSuffix(host, "."+suf) || host == suf
	}
	return false
}

// Do sends req, retrying transport errors and 5xx answers. Request bodies
// are replayed through req.GetBody, which http.NewRequest sets for the
// common in-memory body types.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if !c.allowed(req.URL.String()) {
		logger.Warnf("httpx: blocked outbound host: %s", req.URL.String())
		return nil, ErrHostNotAllowed
	}
	if c.openUntil.Load() > time.Now().UnixNano() {
		return nil, ErrCircuitOpen
	}
	ctx := req.Context()
	var err error
	for i := 0; i <= c.opt.Retry; i++ {
		if i > 0 && req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, berr
			}
			req.Body = body
		}
		var resp *http.Response
		resp, err = c.hc.Do(req)
		if err == nil && resp.StatusCode < 500 {
			c.fail.Store(0)
			return resp, nil
		}
		if err == nil {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			err = &StatusError{URL: req.URL.String(), Status: resp.StatusCode, Body: string(b)}
		}
		logger.Warnf("httpx: request failed (try %d/%d) to %s: %v", i+1, c.opt.Retry+1, req.URL.String(), err)
		if ctx.Err() != nil {
			break
		}
		if i < c.opt.Retry {
			select {
			case <-time.After(backoffJitter(c.opt.BackoffMin, c.opt.BackoffMax)):
			case <-ctx.Done():
				i = c.opt.Retry
			}
		}
	}
	if c.fail.Inc() >= int32(c.opt.MaxConsecutiveFail) {
		c.openUntil.Store(time.Now().Add(c.opt.CircuitOpen).UnixNano())
		c.fail.Store(0)
		logger.Warnf("httpx: circuit opened for %v", c.opt.CircuitOpen)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, err
}

// PostJSON marshals in, posts it to endpoint and returns the raw response
// body. Non-2xx answers are reported as *StatusError.
func (c *Client) PostJSON(ctx context.Context, endpoint string, headers map[string]string, in any) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: endpoint, Status: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func backoffJitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
