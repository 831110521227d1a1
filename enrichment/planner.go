package enrichment

import (
	"regexp"
	"strings"
)

// Workflows that expect external data even without a plan asking for tools.
var toolWorkflows = map[string]bool{
	"analytics":      true,
	"recommendation": true,
}

const maxWebResults = 6

var urlRe = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// PlanInput is what the orchestrator knows when deciding on enrichment.
type PlanInput struct {
	Workflow       string
	Query          string
	UserContext    map[string]string
	NeedsTools     bool
	CostPreference string
}

// PlanSpec derives the enrichment spec. An empty spec means enrichment is
// not needed.
func PlanSpec(in PlanInput, defaults Limits) Spec {
	if !in.NeedsTools && !toolWorkflows[in.Workflow] {
		return Spec{}
	}
	spec := Spec{Query: strings.TrimSpace(in.Query), Limits: defaults}
	add := func(s Source) {
		if !spec.has(s) {
			spec.Sources = append(spec.Sources, s)
		}
	}

	spec.URLs = dedupe(append(urlRe.FindAllString(in.Query, -1), contextURLs(in.UserContext)...))
	if len(spec.URLs) > 0 {
		add(SourceScrape)
	}
	if ch := firstOf(in.UserContext, "channel_id", "youtube_channel_id", "channel_handle"); ch != "" {
		spec.ChannelID = ch
		add(SourceVideo)
	}
	if firstOf(in.UserContext, "creator_id", "channel_id", "youtube_channel_id") != "" && in.Workflow != "qa" {
		add(SourceProfile)
	}
	budget := strings.EqualFold(in.CostPreference, "budget")
	if in.NeedsTools && !budget && spec.Query != "" {
		add(SourceWeb)
		if spec.Limits.WebResults <= 0 || spec.Limits.WebResults > maxWebResults {
			spec.Limits.WebResults = maxWebResults
		}
		spec.ScrapeWebResults = !spec.has(SourceScrape)
	}
	return spec
}

func contextURLs(ctx map[string]string) []string {
	var out []string
	for _, k := range []string{"website", "youtube_url", "instagram_url", "tiktok_url", "social_links", "urls"} {
		if v := ctx[k]; v != "" {
			out = append(out, urlRe.FindAllString(v, -1)...)
		}
	}
	return out
}

func firstOf(ctx map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(ctx[k]); v != "" {
			return v
		}
	}
	return ""
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		s = strings.TrimRight(s, ".,;")
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
