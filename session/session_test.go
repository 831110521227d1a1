package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorlens/onboarding-rag/config"
	"github.com/creatorlens/onboarding-rag/schema"
)

func turns(n int) schema.History {
	h := schema.NewHistory()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < n; i++ {
		h = h.Append(
			schema.Message{Role: schema.RoleUser, Content: fmt.Sprintf("q%d", i), Timestamp: ts},
			schema.Message{Role: schema.RoleAssistant, Content: fmt.Sprintf("a%d", i), Timestamp: ts},
		)
	}
	return h
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour, 0)

	_, ok, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "s1", Snapshot{History: turns(2), WorkflowType: "qa", Turns: 2}))
	got, ok, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, 4, got.History.Len())
	assert.Equal(t, "qa", got.WorkflowType)
	assert.False(t, got.UpdatedAt.IsZero())
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete(ctx, "s1"))
	_, ok, _ = s.Load(ctx, "s1")
	assert.False(t, ok)

	assert.ErrorIs(t, s.Save(ctx, "", Snapshot{}), ErrEmptyID)
}

func TestMemoryStoreExpires(t *testing.T) {
	s := NewMemoryStore(50*time.Millisecond, 0)
	require.NoError(t, s.Save(context.Background(), "s1", Snapshot{}))
	time.Sleep(80 * time.Millisecond)
	_, ok, _ := s.Load(context.Background(), "s1")
	assert.False(t, ok)
}

func TestSaveTrimsToMaxTurns(t *testing.T) {
	s := NewMemoryStore(time.Hour, 3)
	require.NoError(t, s.Save(context.Background(), "s1", Snapshot{History: turns(5), Turns: 5}))
	got, _, _ := s.Load(context.Background(), "s1")
	msgs := got.History.Messages()
	require.Len(t, msgs, 6)
	assert.Equal(t, "q2", msgs[0].Content)
	assert.Equal(t, "a4", msgs[5].Content)
	assert.Equal(t, 5, got.Turns)
}

func TestSnapshotJSON(t *testing.T) {
	in := Snapshot{ID: "s1", History: turns(1), WorkflowType: "general", UpdatedAt: time.Unix(1700000000, 0).UTC(), Turns: 1}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"session_id":"s1"`)
	assert.Contains(t, string(b), `"content":"q0"`)

	var out Snapshot
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in.History.Messages(), out.History.Messages())
	assert.True(t, in.UpdatedAt.Equal(out.UpdatedAt))
	assert.Equal(t, in.WorkflowType, out.WorkflowType)
}

// Runs against a real server when RAG_TEST_REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("RAG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RAG_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := NewRedisClient(config.RedisConfig{Address: addr})
	defer rdb.Close()
	prefix := fmt.Sprintf("rag:test:%d:", time.Now().UnixNano())
	s := NewRedisStore(rdb, prefix, time.Minute, 0)

	base := time.Now()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("s%d", i)
		require.NoError(t, s.Save(ctx, id, Snapshot{History: turns(1), UpdatedAt: base.Add(time.Duration(i) * time.Second)}))
	}
	got, ok, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.History.Len())

	ids, err := s.Recent(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2", "s1", "s0"}, ids)

	removed, err := s.Clean(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	_, ok, _ = s.Load(ctx, "s0")
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "s2"))
	_, ok, _ = s.Load(ctx, "s2")
	assert.False(t, ok)
}
