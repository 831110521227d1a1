package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/atomic"

	"github.com/creatorlens/onboarding-rag/schema"
)

// ErrBackend wraps failures of the shared cache store. Callers treat it as
// a bypass: the request proceeds without the cache.
var ErrBackend = errors.New("cache backend unavailable")

// Context holds the request fields that change the answer for the same query.
type Context struct {
	Workflow string
	User     map[string]string
}

// Response is the cached portion of a final answer.
type Response struct {
	Text         string            `json:"text"`
	Citations    []schema.Citation `json:"citations,omitempty"`
	WorkflowUsed string            `json:"workflow_used"`
	Model        string            `json:"model,omitempty"`
}

// Entry is a cache record as returned to callers.
type Entry struct {
	Key       string    `json:"key"`
	Response  Response  `json:"response"`
	CreatedAt time.Time `json:"created_at"`
	HitCount  int64     `json:"hit_count"`
}

type storedEntry struct {
	key       string
	response  Response
	createdAt time.Time
	hits      atomic.Int64
}

func (s *storedEntry) snapshot() Entry {
	return Entry{Key: s.key, Response: s.response, CreatedAt: s.createdAt, HitCount: s.hits.Load()}
}

// Store is a shared second-level cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Stats reports cache counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// SemanticOptions configures a SemanticCache.
type SemanticOptions struct {
	Capacity int
	TTL      time.Duration
	// AffectingKeys limits which user context keys take part in the key.
	// Empty means every key.
	AffectingKeys []string
	L2            Store
}

// SemanticCache caches final responses keyed by normalized query and the
// output-affecting context.
type SemanticCache struct {
	l1      Cache
	l2      Store
	ttl     time.Duration
	affects map[string]bool
	now     func() time.Time
	hits    atomic.Int64
	misses  atomic.Int64
}

func NewSemantic(opts SemanticOptions) *SemanticCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	var affects map[string]bool
	if len(opts.AffectingKeys) > 0 {
		affects = make(map[string]bool, len(opts.AffectingKeys))
		for _, k := range opts.AffectingKeys {
			affects[k] = true
		}
	}
	return &SemanticCache{
		l1:      NewLRU(opts.Capacity, ttl),
		l2:      opts.L2,
		ttl:     ttl,
		affects: affects,
		now:     time.Now,
	}
}

// Key derives the cache key for query under c.
func (s *SemanticCache) Key(query string, c Context) string {
	keys := make([]string, 0, len(c.User))
	for k := range c.User {
		if s.affects == nil || s.affects[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(Normalize(query))
	b.WriteString("\x00wf=")
	b.WriteString(c.Workflow)
	for _, k := range keys {
		b.WriteString("\x00")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(c.User[k])
	}
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached entry. A non-nil error is always ErrBackend-wrapped
// and only reports L2 trouble; the boolean is still authoritative.
func (s *SemanticCache) Get(ctx context.Context, query string, c Context) (Entry, bool, error) {
	key := s.Key(query, c)
	if v, ok := s.l1.Get(key); ok {
		se := v.(*storedEntry)
		se.hits.Inc()
		s.hits.Inc()
		return se.snapshot(), true, nil
	}
	if s.l2 == nil {
		s.misses.Inc()
		return Entry{}, false, nil
	}
	raw, ok, err := s.l2.Get(ctx, key)
	if err != nil {
		s.misses.Inc()
		return Entry{}, false, fmt.Errorf("%w: get: %v", ErrBackend, err)
	}
	if !ok {
		s.misses.Inc()
		return Entry{}, false, nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		s.misses.Inc()
		return Entry{}, false, fmt.Errorf("%w: decode: %v", ErrBackend, err)
	}
	se := &storedEntry{key: key, response: e.Response, createdAt: e.CreatedAt}
	se.hits.Store(e.HitCount + 1)
	s.l1.Set(key, se, 0)
	s.hits.Inc()
	return se.snapshot(), true, nil
}

// Put stores resp. The L1 write always happens; an L2 failure is reported
// wrapped in ErrBackend.
func (s *SemanticCache) Put(ctx context.Context, query string, c Context, resp Response) error {
	key := s.Key(query, c)
	se := &storedEntry{key: key, response: resp, createdAt: s.now()}
	s.l1.Set(key, se, 0)
	if s.l2 == nil {
		return nil
	}
	raw, err := json.Marshal(se.snapshot())
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrBackend, err)
	}
	if err := s.l2.Set(ctx, key, raw, s.ttl); err != nil {
		return fmt.Errorf("%w: set: %v", ErrBackend, err)
	}
	return nil
}

func (s *SemanticCache) Stats() Stats {
	return Stats{Hits: s.hits.Load(), Misses: s.misses.Load(), Entries: s.l1.Len()}
}

// Normalize lower-cases, collapses whitespace and strips trailing
// punctuation so trivially different phrasings share a key.
func Normalize(q string) string {
	q = strings.ToLower(strings.Join(strings.Fields(q), " "))
	return strings.TrimRightFunc(q, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
