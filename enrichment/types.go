// Package enrichment fetches external context (web snippets, video insights,
// scraped pages, creator profile data) from the tool service before
// generation.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Source string

const (
	SourceWeb     Source = "web"
	SourceVideo   Source = "video"
	SourceProfile Source = "profile"
	SourceScrape  Source = "scrape"
)

// Limits bound what a single enrichment may fetch.
type Limits struct {
	WebResults int
	Videos     int
	Timeout    time.Duration
}

// Spec describes which sources to query and with what input.
type Spec struct {
	Sources   []Source
	URLs      []string
	Query     string
	ChannelID string
	// ScrapeWebResults scrapes the pages behind web hits when no scrape
	// source was requested explicitly.
	ScrapeWebResults bool
	Limits           Limits
}

func (s Spec) Empty() bool { return len(s.Sources) == 0 }

func (s Spec) has(src Source) bool {
	for _, x := range s.Sources {
		if x == src {
			return true
		}
	}
	return false
}

type Snippet struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
}

type VideoInsight struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Channel string `json:"channel,omitempty"`
	Views   int64  `json:"views,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type ScrapeResult struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// Result holds whatever the sources returned. Per-source failures are kept in
// Errors and never abort the other sources.
type Result struct {
	WebSnippets   []Snippet
	VideoInsights []VideoInsight
	ScrapeResults []ScrapeResult
	Profile       map[string]string
	Errors        []*SourceError
}

func (r Result) Empty() bool {
	return len(r.WebSnippets) == 0 && len(r.VideoInsights) == 0 && len(r.ScrapeResults) == 0 && len(r.Profile) == 0
}

// Sources lists the sources that contributed data, in a stable order.
func (r Result) Sources() []string {
	var out []string
	if len(r.WebSnippets) > 0 {
		out = append(out, string(SourceWeb))
	}
	if len(r.VideoInsights) > 0 {
		out = append(out, string(SourceVideo))
	}
	if len(r.Profile) > 0 {
		out = append(out, string(SourceProfile))
	}
	if len(r.ScrapeResults) > 0 {
		out = append(out, string(SourceScrape))
	}
	return out
}

const maxSnippetChars = 600

// Format renders the result as plain text for the prompt's tool section.
func (r Result) Format() string {
	var b strings.Builder
	if len(r.Profile) > 0 {
		b.WriteString("Creator profile:\n")
		keys := make([]string, 0, len(r.Profile))
		for k := range r.Profile {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, r.Profile[k])
		}
	}
	if len(r.WebSnippets) > 0 {
		b.WriteString("Web results:\n")
		for _, s := range r.WebSnippets {
			fmt.Fprintf(&b, "- %s (%s): %s\n", s.Title, s.URL, clip(s.Text))
		}
	}
	if len(r.VideoInsights) > 0 {
		b.WriteString("Video insights:\n")
		for _, v := range r.VideoInsights {
			fmt.Fprintf(&b, "- %s", v.Title)
			if v.Channel != "" {
				fmt.Fprintf(&b, " by %s", v.Channel)
			}
			if v.Views > 0 {
				fmt.Fprintf(&b, ", %d views", v.Views)
			}
			if v.Summary != "" {
				fmt.Fprintf(&b, ": %s", clip(v.Summary))
			}
			b.WriteString("\n")
		}
	}
	if len(r.ScrapeResults) > 0 {
		b.WriteString("Scraped pages:\n")
		for _, s := range r.ScrapeResults {
			fmt.Fprintf(&b, "- %s: %s\n", s.URL, clip(s.Content))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxSnippetChars {
		return s
	}
	return string(r[:maxSnippetChars]) + "..."
}

// SourceError reports a failed source. Timeout distinguishes a tool timeout
// from any other tool failure.
type SourceError struct {
	Source  Source
	Timeout bool
	Err     error
}

func (e *SourceError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("tool %s timed out: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("tool %s failed: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a timed-out tool call.
func IsTimeout(err error) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Timeout
}

// Service runs an enrichment spec.
type Service interface {
	Enrich(ctx context.Context, spec Spec) Result
}
