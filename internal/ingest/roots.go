package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
)

// RootsKey is the state path holding the watched roots.
const RootsKey = "discovery.roots"

// RootState persists the watched roots. Implemented by state.State.
type RootState interface {
	Get(path string) (any, bool)
	Set(path string, value any) error
	Persist() error
}

// Roots keeps one watcher per discovered root directory and records the
// roots so they are watched again after a restart.
type Roots struct {
	ctx      context.Context
	pipeline *Pipeline
	state    RootState
	template DiscoverRequest

	mu      sync.Mutex
	watched map[string]bool
}

// NewRoots creates a Roots whose watchers live until ctx is done. template
// supplies the options and analysis settings used for every root.
func NewRoots(ctx context.Context, p *Pipeline, state RootState, template DiscoverRequest) *Roots {
	return &Roots{
		ctx:      ctx,
		pipeline: p,
		state:    state,
		template: template,
		watched:  make(map[string]bool),
	}
}

// Restore starts watchers for every root saved in state.
func (r *Roots) Restore() error {
	var errs []error
	for _, root := range r.saved() {
		if err := r.Add(root); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restoring watched roots: %v", errs)
	}
	return nil
}

// Add starts watching root unless it is already watched.
func (r *Roots) Add(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watched[abs] {
		return nil
	}
	req := r.template
	req.Root = abs
	if err := r.pipeline.Watch(r.ctx, req); err != nil {
		return fmt.Errorf("watching %s: %w", abs, err)
	}
	r.watched[abs] = true

	if r.state == nil {
		return nil
	}
	saved := r.saved()
	if slices.Contains(saved, abs) {
		return nil
	}
	if err := r.state.Set(RootsKey, append(saved, abs)); err != nil {
		return err
	}
	return r.state.Persist()
}

// Watched returns the watched roots, sorted.
func (r *Roots) Watched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.watched))
	for root := range r.watched {
		out = append(out, root)
	}
	slices.Sort(out)
	return out
}

// OnDiscovered is a FILES_DISCOVERED handler that watches the scanned root.
func (r *Roots) OnDiscovered(payload any) {
	sum, ok := payload.(Summary)
	if !ok || sum.Root == "" {
		return
	}
	if err := r.Add(sum.Root); err != nil {
		r.pipeline.logger.Warn("watching discovered root", "root", sum.Root, "error", err)
	}
}

func (r *Roots) saved() []string {
	if r.state == nil {
		return nil
	}
	v, ok := r.state.Get(RootsKey)
	if !ok {
		return nil
	}
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
