// Package engine keeps the set of configured synthesis backends, caches their
// readiness and resolves the fallback chain for a requested engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nadzzz/dialogcast/internal/config"
	"github.com/nadzzz/dialogcast/internal/metrics"
	"github.com/nadzzz/dialogcast/internal/tts"
	"github.com/nadzzz/dialogcast/internal/tts/coqui"
	"github.com/nadzzz/dialogcast/internal/tts/native"
	"github.com/nadzzz/dialogcast/internal/tts/openai"
	"github.com/nadzzz/dialogcast/internal/tts/piper"
)

var (
	// ErrUnknownEngine is returned when a requested engine is not configured.
	ErrUnknownEngine = errors.New("unknown engine")

	// ErrNoEngineAvailable is returned when no enabled engine passed its probe.
	ErrNoEngineAvailable = errors.New("no synthesis engine available")
)

// Status is the cached readiness of one engine.
type Status struct {
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Available bool      `json:"available"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

// Chain is the ordered list of backends tried for a segment.
type Chain []tts.Backend

// Names returns the engine names in chain order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, b := range c {
		names[i] = b.Name()
	}
	return names
}

// Registry holds the backends. Backends and configuration are fixed after
// construction; only the probe cache changes.
type Registry struct {
	backends      map[string]tts.Backend
	enabled       map[string]bool
	defaultEngine string
	fallback      []string
	probeTimeout  time.Duration

	mu     sync.RWMutex
	status map[string]Status
	notify []func(Status)
}

// NewRegistry creates an empty registry.
func NewRegistry(defaultEngine string, fallback []string, probeTimeout time.Duration) *Registry {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Registry{
		backends:      make(map[string]tts.Backend),
		enabled:       make(map[string]bool),
		defaultEngine: defaultEngine,
		fallback:      append([]string(nil), fallback...),
		probeTimeout:  probeTimeout,
		status:        make(map[string]Status),
	}
}

// FromConfig builds a registry holding every built-in backend.
func FromConfig(cfg config.EnginesConfig) *Registry {
	r := NewRegistry(cfg.Default, cfg.FallbackOrder, cfg.ProbeTimeout)
	r.Register(piper.New(cfg.Piper), cfg.Piper.Enabled)
	r.Register(coqui.New(cfg.Coqui), cfg.Coqui.Enabled)
	r.Register(openai.New(cfg.OpenAI), cfg.OpenAI.Enabled)
	r.Register(native.New(cfg.Native), cfg.Native.Enabled)
	return r
}

// Register adds a backend. It must be called before the registry is shared.
func (r *Registry) Register(b tts.Backend, enabled bool) {
	r.backends[b.Name()] = b
	r.enabled[b.Name()] = enabled
	r.status[b.Name()] = Status{Name: b.Name(), Enabled: enabled}
}

// OnStatus registers a callback invoked after every probe of every engine.
func (r *Registry) OnStatus(fn func(Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify = append(r.notify, fn)
}

// Default returns the default engine name.
func (r *Registry) Default() string { return r.defaultEngine }

// Known reports whether name is a registered engine.
func (r *Registry) Known(name string) bool {
	_, ok := r.backends[name]
	return ok
}

// Probe runs every enabled backend's readiness probe concurrently and caches the outcome.
func (r *Registry) Probe(ctx context.Context) {
	var wg sync.WaitGroup
	for name, b := range r.backends {
		if !r.enabled[name] {
			continue
		}
		wg.Add(1)
		go func(name string, b tts.Backend) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
			defer cancel()
			err := b.Probe(pctx)
			r.record(name, err)
		}(name, b)
	}
	wg.Wait()
}

func (r *Registry) record(name string, err error) {
	st := Status{Name: name, Enabled: true, Available: err == nil, CheckedAt: time.Now()}
	if err != nil {
		st.Error = err.Error()
		slog.Warn("engine probe failed", "engine", name, "error", err)
	} else {
		slog.Debug("engine probe ok", "engine", name)
	}
	metrics.SetEngineAvailable(name, st.Available)

	r.mu.Lock()
	r.status[name] = st
	notify := slices.Clone(r.notify)
	r.mu.Unlock()

	for _, fn := range notify {
		fn(st)
	}
}

// Run re-probes every interval until ctx is cancelled. A non-positive
// interval returns immediately.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Probe(ctx)
		}
	}
}

// Statuses returns the cached status of every engine sorted by name.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.status))
	for _, st := range r.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Available reports whether at least one enabled engine passed its last probe.
func (r *Registry) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, st := range r.status {
		if st.Available {
			return true
		}
	}
	return false
}

// Resolve returns the fallback chain for requested (the default engine when
// empty): the requested engine if it is enabled and available, then every
// enabled and available engine from the fallback order, without duplicates.
func (r *Registry) Resolve(requested string) (Chain, error) {
	if requested == "" {
		requested = r.defaultEngine
	}
	if !r.Known(requested) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, requested)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var chain Chain
	seen := make(map[string]bool)
	for _, name := range append([]string{requested}, r.fallback...) {
		if seen[name] {
			continue
		}
		seen[name] = true
		b, ok := r.backends[name]
		if !ok || !r.enabled[name] || !r.status[name].Available {
			continue
		}
		chain = append(chain, b)
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoEngineAvailable, requested)
	}
	return chain, nil
}

// Close closes every backend.
func (r *Registry) Close() error {
	var errs []error
	for _, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}
