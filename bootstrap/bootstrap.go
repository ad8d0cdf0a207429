// Package bootstrap is a priority-ordered startup-hook registry. Modules
// register an init function with a priority; Run executes them in order,
// applying each hook's error policy. The root binary uses it to bring up
// env loading, logging, and the optional status server in a deterministic
// order.
package bootstrap

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Initialization priorities; lower runs earlier.
const (
	PriorityInfrastructure = 10  // logging, env, config
	PriorityCore           = 50  // transport/client construction
	PriorityBusiness       = 100 // retrieval helpers, CLI wiring
	PriorityBackground     = 200 // status server, notifiers
)

// ErrorPolicy controls what a hook failure does to the rest of the run.
type ErrorPolicy int

const (
	// FailFast stops the run on the first error (default).
	FailFast ErrorPolicy = iota
	// ContinueOnError keeps running and aggregates the failures.
	ContinueOnError
	// WarnOnError keeps running and only logs.
	WarnOnError
)

// Hook is one registered init step.
type Hook struct {
	Name        string
	Priority    int
	Func        func(*Context) error
	Enabled     func(*Context) bool
	ErrorPolicy ErrorPolicy
}

// HookBuilder lets a registration refine the hook after the fact.
type HookBuilder struct {
	hook *Hook
}

// When gates the hook on a runtime condition.
func (b *HookBuilder) When(cond func(*Context) bool) *HookBuilder {
	b.hook.Enabled = cond
	return b
}

// OnError sets the hook's error policy.
func (b *HookBuilder) OnError(policy ErrorPolicy) *HookBuilder {
	b.hook.ErrorPolicy = policy
	return b
}

var (
	hooks   []Hook
	hooksMu sync.Mutex
)

// Register adds an init hook under the given name and priority.
func Register(name string, priority int, fn func(*Context) error) *HookBuilder {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = append(hooks, Hook{Name: name, Priority: priority, Func: fn, ErrorPolicy: FailFast})
	return &HookBuilder{hook: &hooks[len(hooks)-1]}
}

// Run executes all registered hooks in priority order with FailFast as the
// default policy.
func Run(ctx *Context) error {
	return RunWithPolicy(ctx, FailFast)
}

// RunWithPolicy executes all registered hooks, letting defaultPolicy relax
// the per-hook FailFast default.
func RunWithPolicy(ctx *Context, defaultPolicy ErrorPolicy) error {
	hooksMu.Lock()
	ordered := make([]Hook, len(hooks))
	copy(ordered, hooks)
	hooksMu.Unlock()

	log := ctx.Logger()
	if len(ordered) == 0 {
		log.Warn().Msg("bootstrap: no hooks registered")
		return nil
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	start := time.Now()
	var failures []error
	for _, h := range ordered {
		if h.Enabled != nil && !h.Enabled(ctx) {
			log.Debug().Str("hook", h.Name).Msg("bootstrap: skipped, condition not met")
			continue
		}
		hookStart := time.Now()
		err := h.Func(ctx)
		elapsed := time.Since(hookStart)
		if err == nil {
			log.Debug().Str("hook", h.Name).Dur("elapsed", elapsed).Msg("bootstrap: initialized")
			continue
		}

		policy := h.ErrorPolicy
		if policy == FailFast && defaultPolicy != FailFast {
			policy = defaultPolicy
		}
		switch policy {
		case FailFast:
			return fmt.Errorf("bootstrap: %s: %w", h.Name, err)
		case ContinueOnError:
			log.Error().Err(err).Str("hook", h.Name).Msg("bootstrap: hook failed, continuing")
			failures = append(failures, fmt.Errorf("%s: %w", h.Name, err))
		case WarnOnError:
			log.Warn().Err(err).Str("hook", h.Name).Msg("bootstrap: hook failed")
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("bootstrap: %d hooks failed: %v", len(failures), failures)
	}
	log.Debug().Dur("elapsed", time.Since(start)).Int("hooks", len(ordered)).Msg("bootstrap: complete")
	return nil
}

// Registered returns a copy of the hook list, for tests and debugging.
func Registered() []Hook {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	out := make([]Hook, len(hooks))
	copy(out, hooks)
	return out
}

// Clear removes all registered hooks; test use only.
func Clear() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = nil
}

// Context carries shared state between hooks: the logger plus a keyed bag
// for instances later hooks need (the client, the notifier, the server).
type Context struct {
	log  zerolog.Logger
	mu   sync.RWMutex
	data map[string]interface{}
}

func NewContext(log zerolog.Logger) *Context {
	return &Context{log: log, data: make(map[string]interface{})}
}

func (c *Context) Logger() zerolog.Logger { return c.log }

func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// MustGet panics when the key is missing; for hooks whose dependencies are
// guaranteed by priority ordering.
func (c *Context) MustGet(key string) interface{} {
	v, ok := c.Get(key)
	if !ok {
		panic(fmt.Sprintf("bootstrap: context key %q not set", key))
	}
	return v
}
