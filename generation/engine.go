package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/llm"
	"github.com/creatorlens/onboarding-rag/metrics"
)

// ErrCircuitOpen is recorded for providers skipped because their breaker
// refused the call.
var ErrCircuitOpen = errors.New("circuit open")

// Hint steers model selection.
type Hint struct {
	// Model explicitly names a registered model.
	Model string
	// Cost "budget" or Latency "fast" prefer the fast model.
	Cost    string
	Latency string
	// TaskType analysis, coding or reasoning prefer the deep model.
	TaskType string
}

// Options configures retries per provider.
type Options struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
	MaxJitter  time.Duration
}

// ProviderFailure is one provider's contribution to a GenerationError.
type ProviderFailure struct {
	Model string
	Tries int
	Err   error
}

// GenerationError is returned when every eligible provider failed.
type GenerationError struct {
	Failures []ProviderFailure
}

func (e *GenerationError) Error() string {
	var merr *multierror.Error
	for _, f := range e.Failures {
		merr = multierror.Append(merr, fmt.Errorf("%s (tries=%d): %w", f.Model, f.Tries, f.Err))
	}
	if merr == nil {
		return "generation failed: no eligible provider"
	}
	merr.ErrorFormat = func(errs []error) string {
		parts := make([]string, len(errs))
		for i, err := range errs {
			parts[i] = err.Error()
		}
		return fmt.Sprintf("generation failed after %d provider(s): %s", len(errs), strings.Join(parts, "; "))
	}
	return merr.Error()
}

// Reasons returns the per-provider failure messages in attempt order.
func (e *GenerationError) Reasons() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Model + ": " + f.Err.Error()
	}
	return out
}

// Attempt records one provider's outcome during a successful call.
type Attempt struct {
	Model string
	Tries int
	Err   error
}

// Result is a successful generation.
type Result struct {
	Text     string
	Model    string
	Attempts []Attempt
}

// Retries is the number of calls beyond the first.
func (r Result) Retries() int {
	n := 0
	for _, a := range r.Attempts {
		n += a.Tries
	}
	if n > 0 {
		n--
	}
	return n
}

// Engine selects a model, retries transient failures and falls back across
// the pool.
type Engine struct {
	pool *Pool
	opts Options
}

func NewEngine(pool *Pool, opts Options) *Engine {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 4 * time.Second
	}
	return &Engine{pool: pool, opts: opts}
}

func (e *Engine) Pool() *Pool { return e.pool }

var deepTasks = map[string]bool{"analysis": true, "coding": true, "reasoning": true}

// Select applies the selection policy: explicit model, then budget/fast
// preference, then deep task types, then the default model.
func (e *Engine) Select(h Hint) (ModelProfile, bool) {
	if h.Model != "" {
		if p, ok := e.pool.Profile(h.Model); ok {
			return p, true
		}
	}
	if strings.EqualFold(h.Cost, "budget") || strings.EqualFold(h.Latency, "fast") {
		if p, ok := e.pool.ByRole(RoleFast); ok {
			return p, true
		}
	}
	if deepTasks[strings.ToLower(h.TaskType)] {
		if p, ok := e.pool.ByRole(RoleDeep); ok {
			return p, true
		}
	}
	if p, ok := e.pool.ByRole(RoleDefault); ok {
		return p, true
	}
	if names := e.pool.Names(); len(names) > 0 {
		return e.pool.Profile(names[0])
	}
	return ModelProfile{}, false
}

// Chain returns the fallback order for hint: selected, default, fast,
// fallback, deep. Models appear once.
func (e *Engine) Chain(h Hint) []string {
	var out []string
	seen := map[string]bool{}
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	if sel, ok := e.Select(h); ok {
		add(sel.Name)
	}
	for _, r := range []Role{RoleDefault, RoleFast, RoleFallback, RoleDeep} {
		if p, ok := e.pool.ByRole(r); ok {
			add(p.Name)
		}
	}
	return out
}

// Generate produces text for req, walking the fallback chain.
func (e *Engine) Generate(ctx context.Context, req llm.Request, h Hint) (Result, error) {
	return e.run(ctx, req, h, nil)
}

// Delta is one piece of streamed output. A Reset delta carries no text and
// means everything streamed so far must be discarded: the provider that
// produced it failed and the next one in the chain starts over.
type Delta struct {
	Model string
	Text  string
	Reset bool
}

// Stream is Generate with partial output. When a provider fails after
// emitting text, onDelta receives a Reset before the chain moves on. The
// returned Result is authoritative.
func (e *Engine) Stream(ctx context.Context, req llm.Request, h Hint, onDelta func(Delta)) (Result, error) {
	if onDelta == nil {
		onDelta = func(Delta) {}
	}
	return e.run(ctx, req, h, onDelta)
}

func (e *Engine) run(ctx context.Context, req llm.Request, h Hint, onDelta func(Delta)) (Result, error) {
	ctx, span := otel.Tracer("rag/generation").Start(ctx, "generation.generate")
	defer span.End()

	var res Result
	gerr := &GenerationError{}
	for _, name := range e.Chain(h) {
		m, _ := e.pool.get(name)
		if !m.breaker.Allow() {
			metrics.IncGenerationSkipped(name)
			gerr.Failures = append(gerr.Failures, ProviderFailure{Model: name, Err: ErrCircuitOpen})
			continue
		}
		text, tries, emitted, err := e.callWithRetry(ctx, m, req, onDelta)
		if err == nil {
			res.Text = text
			res.Model = name
			res.Attempts = append(res.Attempts, Attempt{Model: name, Tries: tries})
			span.SetAttributes(attribute.String("model", name), attribute.Int("providers_tried", len(res.Attempts)))
			return res, nil
		}
		logger.Warnf("generation: model %s failed after %d tries: %v", name, tries, err)
		res.Attempts = append(res.Attempts, Attempt{Model: name, Tries: tries, Err: err})
		gerr.Failures = append(gerr.Failures, ProviderFailure{Model: name, Tries: tries, Err: err})
		if emitted {
			onDelta(Delta{Model: name, Reset: true})
		}
		if ctx.Err() != nil {
			break
		}
	}
	span.RecordError(gerr)
	return res, gerr
}

func (e *Engine) callWithRetry(ctx context.Context, m *member, req llm.Request, onDelta func(Delta)) (string, int, bool, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = m.profile.MaxTokens
	}
	if req.Temperature <= 0 {
		req.Temperature = m.profile.Temperature
	}
	streamer, canStream := m.provider.(llm.Streamer)
	var (
		text    string
		tries   int
		emitted bool
	)
	call := func() error {
		tries++
		callCtx := ctx
		if m.profile.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, m.profile.Timeout)
			defer cancel()
		}
		start := time.Now()
		var out string
		var err error
		if onDelta != nil && canStream {
			out, err = streamer.Stream(callCtx, req, func(d string) {
				emitted = true
				onDelta(Delta{Model: m.profile.Name, Text: d})
			})
		} else {
			out, err = m.provider.Generate(callCtx, req)
		}
		if err == nil && strings.TrimSpace(out) == "" {
			err = llm.Classify(m.profile.Name, llm.EmptyOutput)
		}
		if err == nil && onDelta != nil && !canStream {
			onDelta(Delta{Model: m.profile.Name, Text: out})
		}
		metrics.ObserveGeneration(m.profile.Name, start, err)
		if err != nil {
			if ctx.Err() != nil {
				m.breaker.Abandon()
				return ctx.Err()
			}
			m.breaker.Failure()
			return err
		}
		m.breaker.Success()
		text = out
		return nil
	}
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(e.opts.MaxRetries + 1)),
		retry.Delay(e.opts.Backoff),
		retry.MaxDelay(e.opts.MaxBackoff),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Partial streamed output cannot be retried on the same provider.
			return ctx.Err() == nil && !emitted && llm.IsRetryable(err) && m.breaker.State() == Closed
		}),
	}
	if e.opts.MaxJitter > 0 {
		opts = append(opts,
			retry.MaxJitter(e.opts.MaxJitter),
			retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)))
	} else {
		opts = append(opts, retry.DelayType(retry.BackOffDelay))
	}
	err := retry.Do(call, opts...)
	return text, tries, emitted, err
}
