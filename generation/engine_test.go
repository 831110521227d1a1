package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorlens/onboarding-rag/llm"
)

type scripted struct {
	name  string
	calls atomic.Int32
	fn    func(n int32) (string, error)
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Generate(_ context.Context, _ llm.Request) (string, error) {
	return s.fn(s.calls.Inc())
}

func ok(text string) func(int32) (string, error) {
	return func(int32) (string, error) { return text, nil }
}

func fail(kind llm.ErrorKind) func(int32) (string, error) {
	return func(int32) (string, error) {
		return "", &llm.ProviderError{Provider: "x", Kind: kind, Err: errors.New(string(kind))}
	}
}

func newTestEngine(t *testing.T, opts BreakerOptions, providers map[Role]*scripted) *Engine {
	t.Helper()
	pool := NewPool(opts)
	for _, role := range []Role{RoleDefault, RoleFast, RoleFallback, RoleDeep} {
		if p, ok := providers[role]; ok {
			require.NoError(t, pool.Register(ModelProfile{Name: p.name, Role: role}, p))
		}
	}
	return NewEngine(pool, Options{MaxRetries: 2, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
}

func TestSelectPolicy(t *testing.T) {
	e := newTestEngine(t, BreakerOptions{}, map[Role]*scripted{
		RoleDefault: {name: "d", fn: ok("d")},
		RoleFast:    {name: "f", fn: ok("f")},
		RoleDeep:    {name: "p", fn: ok("p")},
	})
	cases := []struct {
		hint Hint
		want string
	}{
		{Hint{}, "d"},
		{Hint{Model: "p", Cost: "budget"}, "p"},
		{Hint{Model: "unknown"}, "d"},
		{Hint{Cost: "budget", TaskType: "analysis"}, "f"},
		{Hint{Latency: "fast"}, "f"},
		{Hint{TaskType: "reasoning"}, "p"},
		{Hint{TaskType: "coding"}, "p"},
		{Hint{TaskType: "chat"}, "d"},
	}
	for _, c := range cases {
		got, ok := e.Select(c.hint)
		require.True(t, ok)
		assert.Equal(t, c.want, got.Name, "%+v", c.hint)
	}
	assert.Equal(t, []string{"p", "d", "f"}, e.Chain(Hint{TaskType: "analysis"}))
}

func TestFallbackAfterRetries(t *testing.T) {
	def := &scripted{name: "d", fn: fail(llm.KindNetwork)}
	fast := &scripted{name: "f", fn: ok("from fast")}
	e := newTestEngine(t, BreakerOptions{FailureThreshold: 10}, map[Role]*scripted{RoleDefault: def, RoleFast: fast})

	res, err := e.Generate(context.Background(), llm.Prompt("", "q"), Hint{})
	require.NoError(t, err)
	assert.Equal(t, "from fast", res.Text)
	assert.Equal(t, "f", res.Model)
	assert.Equal(t, int32(3), def.calls.Load())
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "d", res.Attempts[0].Model)
	assert.Error(t, res.Attempts[0].Err)
	assert.Equal(t, 3, res.Retries())
}

func TestNonRetryableSkipsToNextProvider(t *testing.T) {
	def := &scripted{name: "d", fn: fail(llm.KindAuth)}
	fb := &scripted{name: "b", fn: ok("fallback text")}
	e := newTestEngine(t, BreakerOptions{}, map[Role]*scripted{RoleDefault: def, RoleFallback: fb})

	res, err := e.Generate(context.Background(), llm.Prompt("", "q"), Hint{})
	require.NoError(t, err)
	assert.Equal(t, "b", res.Model)
	assert.Equal(t, int32(1), def.calls.Load())
}

func TestEmptyOutputIsFailure(t *testing.T) {
	def := &scripted{name: "d", fn: ok("  ")}
	fast := &scripted{name: "f", fn: ok("real")}
	e := newTestEngine(t, BreakerOptions{}, map[Role]*scripted{RoleDefault: def, RoleFast: fast})

	res, err := e.Generate(context.Background(), llm.Prompt("", "q"), Hint{})
	require.NoError(t, err)
	assert.Equal(t, "real", res.Text)
}

func TestAllProvidersFailReturnsOrderedReasons(t *testing.T) {
	e := newTestEngine(t, BreakerOptions{FailureThreshold: 10}, map[Role]*scripted{
		RoleDefault:  {name: "d", fn: fail(llm.KindBadRequest)},
		RoleFast:     {name: "f", fn: fail(llm.KindAuth)},
		RoleFallback: {name: "b", fn: fail(llm.KindBadRequest)},
		RoleDeep:     {name: "p", fn: fail(llm.KindAuth)},
	})
	_, err := e.Generate(context.Background(), llm.Prompt("", "q"), Hint{})
	var gerr *GenerationError
	require.True(t, errors.As(err, &gerr))
	models := make([]string, len(gerr.Failures))
	for i, f := range gerr.Failures {
		models[i] = f.Model
	}
	assert.Equal(t, []string{"d", "f", "b", "p"}, models)
	assert.Len(t, gerr.Reasons(), 4)
	assert.Contains(t, gerr.Error(), "generation failed after 4 provider(s)")
}

func TestOpenCircuitIsSkippedThenHalfOpenTrial(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	def := &scripted{name: "d", fn: fail(llm.KindNetwork)}
	fast := &scripted{name: "f", fn: ok("fast")}
	e := newTestEngine(t, BreakerOptions{FailureThreshold: 2, ResetTimeout: 30 * time.Second, Now: clock},
		map[Role]*scripted{RoleDefault: def, RoleFast: fast})

	// Two failures open the breaker; the third retry is not attempted.
	_, err := e.Generate(context.Background(), llm.Prompt("", "q"), Hint{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), def.calls.Load())
	snap, _ := e.Pool().Breaker("d")
	assert.Equal(t, Open, snap.State)

	_, err = e.Generate(context.Background(), llm.Prompt("", "q"), Hint{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), def.calls.Load(), "open provider must not be called")

	now = now.Add(31 * time.Second)
	def.fn = ok("recovered")
	res, err := e.Generate(context.Background(), llm.Prompt("", "q"), Hint{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
	snap, _ = e.Pool().Breaker("d")
	assert.Equal(t, Closed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}

func TestBreakerHalfOpenAdmitsOneTrial(t *testing.T) {
	now := time.Unix(0, 0)
	var mu sync.Mutex
	b := NewBreaker("m", BreakerOptions{FailureThreshold: 1, ResetTimeout: time.Second, Now: func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}})
	b.Failure()
	require.Equal(t, Open, b.State())
	assert.False(t, b.Allow())

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() {
				admitted.Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
	assert.Equal(t, HalfOpen, b.State())

	b.Failure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerAbandonReleasesTrial(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker("m", BreakerOptions{FailureThreshold: 1, ResetTimeout: time.Second, Now: func() time.Time { return now }})
	b.Failure()
	now = now.Add(2 * time.Second)
	require.True(t, b.Allow())
	b.Abandon()
	assert.True(t, b.Allow())
}

func TestStreamDeltas(t *testing.T) {
	def := &scripted{name: "d", fn: ok("whole answer")}
	e := newTestEngine(t, BreakerOptions{}, map[Role]*scripted{RoleDefault: def})
	var got []string
	res, err := e.Stream(context.Background(), llm.Prompt("", "q"), Hint{}, func(d Delta) {
		got = append(got, d.Model+":"+d.Text)
	})
	require.NoError(t, err)
	assert.Equal(t, "whole answer", res.Text)
	assert.Equal(t, []string{"d:whole answer"}, got)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	pool := NewPool(BreakerOptions{})
	p := &scripted{name: "d", fn: ok("x")}
	require.NoError(t, pool.Register(ModelProfile{Name: "d", Role: RoleDefault}, p))
	assert.Error(t, pool.Register(ModelProfile{Name: "d", Role: RoleFast}, p))
	assert.Error(t, pool.Register(ModelProfile{Name: "e"}, nil))
}

// chunked streams its words and then fails with err, if set.
type chunked struct {
	name  string
	words []string
	err   error
}

func (c *chunked) Name() string { return c.name }

func (c *chunked) Generate(ctx context.Context, req llm.Request) (string, error) {
	return c.Stream(ctx, req, nil)
}

func (c *chunked) Stream(_ context.Context, _ llm.Request, onDelta func(string)) (string, error) {
	var out string
	for _, w := range c.words {
		if onDelta != nil {
			onDelta(w)
		}
		out += w
	}
	if c.err != nil {
		return "", c.err
	}
	return out, nil
}

func TestStreamResetsOnFallback(t *testing.T) {
	pool := NewPool(BreakerOptions{})
	broken := &chunked{name: "d", words: []string{"half ", "an "}, err: &llm.ProviderError{Provider: "d", Kind: llm.KindNetwork, Err: errors.New("reset by peer")}}
	backup := &chunked{name: "f", words: []string{"full ", "answer"}}
	require.NoError(t, pool.Register(ModelProfile{Name: "d", Role: RoleDefault}, broken))
	require.NoError(t, pool.Register(ModelProfile{Name: "f", Role: RoleFast}, backup))
	e := NewEngine(pool, Options{MaxRetries: 2, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})

	var got []Delta
	res, err := e.Stream(context.Background(), llm.Prompt("", "q"), Hint{}, func(d Delta) { got = append(got, d) })
	require.NoError(t, err)
	assert.Equal(t, "full answer", res.Text)
	assert.Equal(t, []Delta{
		{Model: "d", Text: "half "},
		{Model: "d", Text: "an "},
		{Model: "d", Reset: true},
		{Model: "f", Text: "full "},
		{Model: "f", Text: "answer"},
	}, got)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, 1, res.Attempts[0].Tries)
}

func TestStreamNoResetWithoutPartialOutput(t *testing.T) {
	def := &scripted{name: "d", fn: fail(llm.KindNetwork)}
	fast := &scripted{name: "f", fn: ok("fine")}
	e := newTestEngine(t, BreakerOptions{}, map[Role]*scripted{RoleDefault: def, RoleFast: fast})
	var got []Delta
	res, err := e.Stream(context.Background(), llm.Prompt("", "q"), Hint{}, func(d Delta) { got = append(got, d) })
	require.NoError(t, err)
	assert.Equal(t, "fine", res.Text)
	assert.Equal(t, []Delta{{Model: "f", Text: "fine"}}, got)
}
