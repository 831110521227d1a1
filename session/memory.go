package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process with a sliding TTL.
type MemoryStore struct {
	c        *cache.Cache
	maxTurns int
	now      func() time.Time
}

// NewMemoryStore expires sessions ttl after their last save and purges
// expired entries every ttl/4.
func NewMemoryStore(ttl time.Duration, maxTurns int) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cleanup := ttl / 4
	if cleanup < time.Second {
		cleanup = time.Second
	}
	return &MemoryStore{c: cache.New(ttl, cleanup), maxTurns: maxTurns, now: time.Now}
}

func (m *MemoryStore) Save(_ context.Context, id string, s Snapshot) error {
	s, err := prepare(id, s, m.maxTurns, m.now())
	if err != nil {
		return err
	}
	m.c.Set(id, s, cache.DefaultExpiration)
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (Snapshot, bool, error) {
	if v, ok := m.c.Get(id); ok {
		return v.(Snapshot), true, nil
	}
	return Snapshot{}, false, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.c.Delete(id)
	return nil
}

func (m *MemoryStore) Len() int { return m.c.ItemCount() }
