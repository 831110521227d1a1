package generation

import (
	"fmt"
	"time"

	"github.com/creatorlens/onboarding-rag/llm"
)

// Role is a model's position in the selection and fallback policy.
type Role string

const (
	RoleDefault  Role = "default"
	RoleFast     Role = "fast"
	RoleDeep     Role = "deep"
	RoleFallback Role = "fallback"
)

// ModelProfile describes a registered model.
type ModelProfile struct {
	Name        string
	Role        Role
	MaxTokens   int
	ContextSize int
	Cost        float64
	Speed       float64
	Timeout     time.Duration
	Temperature float64
}

type member struct {
	profile  ModelProfile
	provider llm.Provider
	breaker  *Breaker
}

// Pool holds the registered models, each with its own circuit breaker.
// Registration happens at start-up; lookups are read-only afterwards.
type Pool struct {
	opts    BreakerOptions
	members map[string]*member
	order   []string
	byRole  map[Role]string
}

func NewPool(opts BreakerOptions) *Pool {
	return &Pool{opts: opts, members: map[string]*member{}, byRole: map[Role]string{}}
}

// Register adds a model. The first model registered for a role owns it.
func (p *Pool) Register(profile ModelProfile, provider llm.Provider) error {
	if profile.Name == "" {
		return fmt.Errorf("generation: model name is required")
	}
	if _, dup := p.members[profile.Name]; dup {
		return fmt.Errorf("generation: model %q already registered", profile.Name)
	}
	if provider == nil {
		return fmt.Errorf("generation: model %q has no provider", profile.Name)
	}
	p.members[profile.Name] = &member{profile: profile, provider: provider, breaker: NewBreaker(profile.Name, p.opts)}
	p.order = append(p.order, profile.Name)
	if _, taken := p.byRole[profile.Role]; !taken && profile.Role != "" {
		p.byRole[profile.Role] = profile.Name
	}
	return nil
}

func (p *Pool) get(name string) (*member, bool) {
	m, ok := p.members[name]
	return m, ok
}

// Profile returns the named model's profile.
func (p *Pool) Profile(name string) (ModelProfile, bool) {
	m, ok := p.members[name]
	if !ok {
		return ModelProfile{}, false
	}
	return m.profile, true
}

// ByRole returns the model holding role.
func (p *Pool) ByRole(role Role) (ModelProfile, bool) {
	name, ok := p.byRole[role]
	if !ok {
		return ModelProfile{}, false
	}
	return p.Profile(name)
}

// Provider returns the named model's provider. Callers bypass the breaker;
// auxiliary calls such as planning use it directly.
func (p *Pool) Provider(name string) (llm.Provider, bool) {
	m, ok := p.members[name]
	if !ok {
		return nil, false
	}
	return m.provider, true
}

// Breaker returns the named model's breaker snapshot.
func (p *Pool) Breaker(name string) (BreakerSnapshot, bool) {
	m, ok := p.members[name]
	if !ok {
		return BreakerSnapshot{}, false
	}
	return m.breaker.Snapshot(), true
}

// Names lists models in registration order.
func (p *Pool) Names() []string { return append([]string(nil), p.order...) }

func (p *Pool) Len() int { return len(p.order) }
