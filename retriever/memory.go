package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/creatorlens/onboarding-rag/embedding"
	"github.com/creatorlens/onboarding-rag/schema"
)

// maxTags bounds the tags derived per document for graph search.
const maxTags = 30

type indexedDoc struct {
	doc    schema.Document
	lower  string
	words  int
	tagSet map[string]struct{}
	tags   []string
}

// MemoryIndex is an in-process keyword and tag index. It backs the default
// keyword branch and the graph branch.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]*indexedDoc
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: map[string]*indexedDoc{}}
}

// Add indexes docs, replacing any existing document with the same id.
func (m *MemoryIndex) Add(docs ...schema.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		if d.ID == "" {
			continue
		}
		c := d.Clone()
		c.Embedding = nil
		lower := strings.ToLower(c.Content)
		tags := ExtractTags(c)
		set := make(map[string]struct{}, len(tags))
		for _, t := range tags {
			set[t] = struct{}{}
		}
		m.docs[c.ID] = &indexedDoc{
			doc:    c,
			lower:  lower,
			words:  len(strings.Fields(lower)),
			tagSet: set,
			tags:   tags,
		}
	}
}

func (m *MemoryIndex) Delete(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.docs, id)
	}
}

// Index and Remove let the index take part in engine ingestion.
func (m *MemoryIndex) Index(_ context.Context, docs []schema.Document) error {
	m.Add(docs...)
	return nil
}

func (m *MemoryIndex) Remove(_ context.Context, ids ...string) error {
	m.Delete(ids...)
	return nil
}

func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// ExtractTags returns the document's "tags" metadata, or when absent the most
// frequent content tokens longer than two characters. At most 30 tags are
// returned, lower-cased.
func ExtractTags(d schema.Document) []string {
	var tags []string
	switch v := d.Metadata["tags"].(type) {
	case []string:
		tags = append(tags, v...)
	case []any:
		for _, t := range v {
			tags = append(tags, fmt.Sprint(t))
		}
	case string:
		tags = strings.Split(v, ",")
	}
	if len(tags) == 0 {
		tags = frequentTokens(d.Content, maxTags)
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

func frequentTokens(text string, n int) []string {
	counts := map[string]int{}
	for _, tok := range embedding.Tokenize(text) {
		if len([]rune(tok)) > 2 {
			counts[tok]++
		}
	}
	toks := make([]string, 0, len(counts))
	for t := range counts {
		toks = append(toks, t)
	}
	sort.Slice(toks, func(i, j int) bool {
		if counts[toks[i]] != counts[toks[j]] {
			return counts[toks[i]] > counts[toks[j]]
		}
		return toks[i] < toks[j]
	})
	if len(toks) > n {
		toks = toks[:n]
	}
	return toks
}

func (m *MemoryIndex) snapshot(filters map[string]string) []*indexedDoc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*indexedDoc, 0, len(m.docs))
	for _, d := range m.docs {
		if matches(d.doc, filters) {
			out = append(out, d)
		}
	}
	return out
}

func matches(d schema.Document, filters map[string]string) bool {
	for k, v := range filters {
		got, ok := d.Metadata[k]
		if !ok || fmt.Sprint(got) != v {
			return false
		}
	}
	return true
}

func rank(out []schema.SearchResult, topK int) []schema.SearchResult {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Document.ID < out[j].Document.ID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// KeywordRetriever scores documents by query term occurrences relative to
// document length, capped at 1.
type KeywordRetriever struct {
	Index *MemoryIndex
}

func (r *KeywordRetriever) Type() string { return BranchKeyword }

func (r *KeywordRetriever) Search(ctx context.Context, query string, opts schema.SearchOptions) ([]schema.SearchResult, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return []schema.SearchResult{}, nil
	}
	var out []schema.SearchResult
	for _, d := range r.Index.snapshot(opts.Filters) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		count := 0
		for _, t := range terms {
			count += strings.Count(d.lower, t)
		}
		if count == 0 {
			continue
		}
		score := float64(count) / float64(d.words+1)
		if score > 1 {
			score = 1
		}
		if score < opts.Threshold {
			continue
		}
		doc := d.doc.Clone()
		doc.KeywordScore = schema.Score(score)
		out = append(out, schema.SearchResult{Document: doc, Score: score})
	}
	return rank(out, topKOr(opts.TopK, 10)), nil
}

// GraphRetriever approximates entity-graph traversal: query entities (words
// longer than two characters) are matched against document tags, and the
// score is the fraction of entities that hit a tag.
type GraphRetriever struct {
	Index *MemoryIndex
}

func (r *GraphRetriever) Type() string { return BranchGraph }

func (r *GraphRetriever) Search(ctx context.Context, query string, opts schema.SearchOptions) ([]schema.SearchResult, error) {
	var entities []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,!?;:\"'()[]")
		if len([]rune(w)) > 2 {
			entities = append(entities, w)
		}
	}
	if len(entities) == 0 {
		return []schema.SearchResult{}, nil
	}
	var out []schema.SearchResult
	for _, d := range r.Index.snapshot(opts.Filters) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits := 0
		for _, e := range entities {
			if _, ok := d.tagSet[e]; ok {
				hits++
				continue
			}
			for _, t := range d.tags {
				if strings.Contains(t, e) {
					hits++
					break
				}
			}
		}
		if hits == 0 {
			continue
		}
		score := float64(hits) / float64(len(entities))
		doc := d.doc.Clone()
		doc.GraphScore = schema.Score(score)
		out = append(out, schema.SearchResult{Document: doc, Score: score})
	}
	return rank(out, topKOr(opts.TopK, 5)), nil
}
