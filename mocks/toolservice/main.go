// Command toolservice is a local stand-in for the tool service used by
// enrichment. It serves canned web, video, scrape and profile results:
//
//	POST /tools/web     {"query","limit"}       -> {"results":[{"title","url","snippet"}]}
//	POST /tools/video   {"channel_id","limit"}  -> {"videos":[{"id","title","channel","views","summary"}]}
//	POST /tools/scrape  {"urls"}                -> {"pages":[{"url","title","content"}]}
//	POST /tools/profile {"channel_id"}          -> {"profile":{...}}
//
// Setting TOOL_DELAY_MS delays every response, which is useful to exercise
// tool timeouts.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creatorlens/onboarding-rag/common/logger"
)

type toolRequest struct {
	Query     string   `json:"query"`
	URLs      []string `json:"urls"`
	ChannelID string   `json:"channel_id"`
	Limit     int      `json:"limit"`
}

type webResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type video struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Channel string `json:"channel"`
	Views   int64  `json:"views"`
	Summary string `json:"summary"`
}

type page struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func limit(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func web(req toolRequest) any {
	n := limit(req.Limit, 3)
	out := make([]webResult, 0, n)
	for i := 1; i <= n; i++ {
		slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(req.Query)), " ", "-")
		out = append(out, webResult{
			Title:   fmt.Sprintf("Creator news %d: %s", i, req.Query),
			URL:     fmt.Sprintf("https://news.example.com/%s/%d", slug, i),
			Snippet: fmt.Sprintf("Recent coverage of %q for new creators (result %d).", req.Query, i),
		})
	}
	return map[string]any{"results": out}
}

func videos(req toolRequest) any {
	n := limit(req.Limit, 3)
	out := make([]video, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, video{
			ID:      fmt.Sprintf("%s-v%d", req.ChannelID, i),
			Title:   fmt.Sprintf("Upload #%d", i),
			Channel: req.ChannelID,
			Views:   int64(1000 * i * i),
			Summary: fmt.Sprintf("Average view duration %d%%, click-through rate %.1f%%.", 30+5*i, 2.5+float64(i)),
		})
	}
	return map[string]any{"videos": out}
}

func scrape(req toolRequest) any {
	out := make([]page, 0, len(req.URLs))
	for _, u := range req.URLs {
		out = append(out, page{URL: u, Title: "Page at " + u, Content: "Scraped content of " + u + "."})
	}
	return map[string]any{"pages": out}
}

func profile(req toolRequest) any {
	return map[string]any{"profile": map[string]string{
		"channel_id":  req.ChannelID,
		"niche":       "cooking",
		"subscribers": "1200",
		"upload_rate": "weekly",
	}}
}

var tools = map[string]func(toolRequest) any{
	"web":     web,
	"video":   videos,
	"scrape":  scrape,
	"profile": profile,
}

func newMux(delay time.Duration) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/tools/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		tool, ok := tools[strings.TrimPrefix(r.URL.Path, "/tools/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		var req toolRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tool(req))
	})
	return mux
}

func main() {
	addr := ":8083"
	if v := os.Getenv("TOOL_ADDR"); v != "" {
		addr = v
	}
	var delay time.Duration
	if v := os.Getenv("TOOL_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			delay = time.Duration(ms) * time.Millisecond
		}
	}
	logger.Infof("tool service mock listening on %s (delay %v)", addr, delay)
	if err := http.ListenAndServe(addr, newMux(delay)); err != nil {
		logger.Errorf("tool service mock: %v", err)
		os.Exit(1)
	}
}
