package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 120 * time.Second

// Result is a successful generation and the provider that produced it.
type Result struct {
	Provider string
	Text     string
}

// Manager picks a provider for each request: the active one first, then the
// fallbacks in order.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
	active    string
	fallback  []string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewManager returns a manager with no providers. A zero timeout selects
// DefaultTimeout.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		providers: make(map[string]Provider),
		timeout:   timeout,
		logger:    slog.Default(),
	}
}

// Register adds or replaces a provider. The first registered provider
// becomes active.
func (m *Manager) Register(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Name()] = p
	if m.active == "" {
		m.active = p.Name()
	}
}

// SetActive selects the provider tried first.
func (m *Manager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[name]; !ok {
		return fmt.Errorf("unknown provider %q", name)
	}
	m.active = name
	return nil
}

// SetFallback sets the order in which other providers are tried. Unknown
// names are kept and skipped at call time.
func (m *Manager) SetFallback(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = slices.Clone(names)
}

func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Names lists the registered providers in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for n := range m.providers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Provider returns a registered provider by name.
func (m *Manager) Provider(name string) (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[name]
	return p, ok
}

func (m *Manager) order() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []Provider
	for _, name := range append([]string{m.active}, m.fallback...) {
		p, ok := m.providers[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, p)
	}
	return out
}

// Generate runs req on the first provider that is available and succeeds.
// Errors from every attempted provider are joined with ErrNoProvider.
func (m *Manager) Generate(ctx context.Context, req Request) (Result, error) {
	errs := []error{ErrNoProvider}
	for _, p := range m.order() {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if !p.Available(ctx) {
			errs = append(errs, fmt.Errorf("%s: not available", p.Name()))
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		text, err := p.Generate(callCtx, req)
		cancel()
		if err == nil {
			return Result{Provider: p.Name(), Text: text}, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		m.logger.Warn("provider failed, trying next", "provider", p.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return Result{}, errors.Join(errs...)
}
