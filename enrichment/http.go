package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/creatorlens/onboarding-rag/common/httpx"
	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/metrics"
)

var ErrNoEndpoint = errors.New("enrichment: endpoint is required")

const defaultTimeout = 3 * time.Second

// HTTPService calls the tool service: POST {endpoint}/tools/{source}.
type HTTPService struct {
	Endpoint string
	APIKey   string
	Client   *httpx.Client
	Defaults Limits

	// MaxConcurrent bounds in-flight tool calls; <= 0 runs every source at once.
	MaxConcurrent int
}

func NewHTTPService(cfg config.EnrichmentConfig, client *httpx.Client) (*HTTPService, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrNoEndpoint
	}
	if client == nil {
		client = httpx.NewFromConfig(nil)
	}
	return &HTTPService{
		Endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		APIKey:   cfg.APIKey,
		Client:   client,
		Defaults: Limits{
			WebResults: cfg.WebResults,
			Videos:     cfg.Videos,
			Timeout:    time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
		MaxConcurrent: cfg.MaxConcurrency,
	}, nil
}

type toolRequest struct {
	Query     string   `json:"query,omitempty"`
	URLs      []string `json:"urls,omitempty"`
	ChannelID string   `json:"channel_id,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// Enrich queries every source of spec concurrently, at most MaxConcurrent at
// a time. Each source runs under its own timeout and a failing source does
// not cancel the others; failures are collected in Result.Errors. Only
// cancellation of ctx stops the fan-out early.
func (s *HTTPService) Enrich(ctx context.Context, spec Spec) Result {
	spec.Limits = s.limits(spec.Limits)
	var (
		mu  sync.Mutex
		out Result
	)
	fanOut := func(reqs map[Source]toolRequest, order []Source) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency(len(order)))
		for _, src := range order {
			req := reqs[src]
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				body, err := s.call(gctx, src, req, spec.Limits.Timeout)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					out.Errors = append(out.Errors, err)
					return ctx.Err()
				}
				decode(&out, src, body)
				return nil
			})
		}
		return g.Wait()
	}

	reqs := make(map[Source]toolRequest, len(spec.Sources))
	for _, src := range spec.Sources {
		reqs[src] = s.request(spec, src)
	}
	if err := fanOut(reqs, spec.Sources); err != nil {
		logger.Warnf("enrichment: cancelled: %v", err)
		return s.finish(out)
	}

	if spec.ScrapeWebResults && !spec.has(SourceScrape) && len(out.ScrapeResults) == 0 && len(out.WebSnippets) > 0 {
		urls := make([]string, 0, len(out.WebSnippets))
		for _, sn := range out.WebSnippets {
			if sn.URL != "" {
				urls = append(urls, sn.URL)
			}
		}
		if len(urls) > 0 {
			if err := fanOut(map[Source]toolRequest{SourceScrape: {URLs: urls}}, []Source{SourceScrape}); err != nil {
				logger.Warnf("enrichment: cancelled: %v", err)
			}
		}
	}
	return s.finish(out)
}

func (s *HTTPService) concurrency(sources int) int {
	if s.MaxConcurrent > 0 && s.MaxConcurrent < sources {
		return s.MaxConcurrent
	}
	return max(sources, 1)
}

func (s *HTTPService) finish(out Result) Result {
	sort.Slice(out.Errors, func(i, j int) bool { return out.Errors[i].Source < out.Errors[j].Source })
	return out
}

func (s *HTTPService) limits(l Limits) Limits {
	if l.WebResults <= 0 {
		l.WebResults = s.Defaults.WebResults
	}
	if l.Videos <= 0 {
		l.Videos = s.Defaults.Videos
	}
	if l.Timeout <= 0 {
		l.Timeout = s.Defaults.Timeout
	}
	if l.Timeout <= 0 {
		l.Timeout = defaultTimeout
	}
	return l
}

func (s *HTTPService) request(spec Spec, src Source) toolRequest {
	req := toolRequest{Query: spec.Query, ChannelID: spec.ChannelID}
	switch src {
	case SourceWeb:
		req.Limit = spec.Limits.WebResults
	case SourceVideo:
		req.Limit = spec.Limits.Videos
	case SourceScrape:
		req.URLs = spec.URLs
	}
	return req
}

func (s *HTTPService) call(ctx context.Context, src Source, req toolRequest, timeout time.Duration) ([]byte, *SourceError) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	headers := map[string]string{}
	if s.APIKey != "" {
		headers["Authorization"] = "Bearer " + s.APIKey
	}
	body, err := s.Client.PostJSON(cctx, fmt.Sprintf("%s/tools/%s", s.Endpoint, src), headers, req)
	if err == nil {
		metrics.IncToolCall(string(src), "ok")
		return body, nil
	}
	timedOut := errors.Is(err, context.DeadlineExceeded) || (cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil)
	if timedOut {
		metrics.IncToolCall(string(src), "timeout")
		logger.Warnf("enrichment: %s timed out after %v", src, timeout)
		return nil, &SourceError{Source: src, Timeout: true, Err: context.DeadlineExceeded}
	}
	metrics.IncToolCall(string(src), "error")
	logger.Warnf("enrichment: %s failed: %v", src, err)
	return nil, &SourceError{Source: src, Err: err}
}

func decode(out *Result, src Source, body []byte) {
	root := gjson.ParseBytes(body)
	switch src {
	case SourceWeb:
		root.Get("results").ForEach(func(_, v gjson.Result) bool {
			text := v.Get("snippet").String()
			if text == "" {
				text = v.Get("text").String()
			}
			out.WebSnippets = append(out.WebSnippets, Snippet{
				Title: v.Get("title").String(),
				URL:   v.Get("url").String(),
				Text:  text,
			})
			return true
		})
	case SourceVideo:
		root.Get("videos").ForEach(func(_, v gjson.Result) bool {
			out.VideoInsights = append(out.VideoInsights, VideoInsight{
				ID:      v.Get("id").String(),
				Title:   v.Get("title").String(),
				Channel: v.Get("channel").String(),
				Views:   v.Get("views").Int(),
				Summary: v.Get("summary").String(),
			})
			return true
		})
	case SourceScrape:
		root.Get("pages").ForEach(func(_, v gjson.Result) bool {
			out.ScrapeResults = append(out.ScrapeResults, ScrapeResult{
				URL:     v.Get("url").String(),
				Title:   v.Get("title").String(),
				Content: v.Get("content").String(),
			})
			return true
		})
	case SourceProfile:
		profile := root.Get("profile")
		if !profile.IsObject() {
			return
		}
		if out.Profile == nil {
			out.Profile = map[string]string{}
		}
		profile.ForEach(func(k, v gjson.Result) bool {
			out.Profile[k.String()] = v.String()
			return true
		})
	}
}
