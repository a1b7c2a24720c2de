// Package eventbus is the in-process publish/subscribe dispatcher that ties
// discovery, analysis, categorization and export together.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// Event names emitted by kc components.
const (
	FilesDiscovered     = "FILES_DISCOVERED"
	FileUpdated         = "FILE_UPDATED"
	FilesFiltered       = "FILES_FILTERED"
	StateChanged        = "STATE_CHANGED"
	CategoriesChanged   = "CATEGORIES_CHANGED"
	CategoryAssigned    = "CATEGORY_ASSIGNED"
	AnalysisStarted     = "ANALYSIS_STARTED"
	AnalysisCompleted   = "ANALYSIS_COMPLETED"
	AnalysisFailed      = "ANALYSIS_FAILED"
	ConvergenceComputed = "CONVERGENCE_COMPUTED"
	ExportCompleted     = "EXPORT_COMPLETED"
	ImportCompleted     = "IMPORT_COMPLETED"
)

// DefaultHistorySize is the number of emitted events kept for History.
const DefaultHistorySize = 100

// Handler receives an event payload.
type Handler func(payload any)

// Record is one entry of the emit history.
type Record struct {
	Name    string    `json:"name"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

type listener struct {
	id       uint64
	handler  Handler
	priority int
	once     bool
}

// Option configures a subscription.
type Option func(*listener)

// WithPriority runs the handler before handlers with lower priority. Default 0.
func WithPriority(p int) Option {
	return func(l *listener) { l.priority = p }
}

// Once removes the handler after its first delivery.
func Once() Option {
	return func(l *listener) { l.once = true }
}

// Bus dispatches events synchronously to subscribed handlers. It is safe for
// concurrent use.
type Bus struct {
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[string][]*listener
	nextID    uint64

	histMu  sync.Mutex
	history []Record
	head    int
	full    bool
}

// New creates a Bus keeping historySize records (DefaultHistorySize when <= 0).
func New(historySize int) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Bus{
		logger:    slog.Default(),
		listeners: make(map[string][]*listener),
		history:   make([]Record, historySize),
	}
}

// On subscribes handler to event and returns a function that unsubscribes it.
func (b *Bus) On(event string, handler Handler, opts ...Option) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	l := &listener{id: b.nextID, handler: handler}
	for _, o := range opts {
		o(l)
	}
	ls := append(b.listeners[event], l)
	// Stable sort keeps subscription order among equal priorities.
	sort.SliceStable(ls, func(i, j int) bool { return ls[i].priority > ls[j].priority })
	b.listeners[event] = ls
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(event, l.id) })
	}
}

// Off removes every listener of event.
func (b *Bus) Off(event string) {
	b.mu.Lock()
	delete(b.listeners, event)
	b.mu.Unlock()
}

// ListenerCount returns the number of listeners subscribed to event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}

// Emit records the event and delivers payload to every listener in priority
// order. A panicking handler is logged and skipped; the rest still run.
func (b *Bus) Emit(event string, payload any) {
	b.record(Record{Name: event, Payload: payload, At: time.Now()})

	b.mu.Lock()
	ls := b.listeners[event]
	snapshot := make([]*listener, len(ls))
	copy(snapshot, ls)
	if hasOnce(ls) {
		kept := ls[:0:0]
		for _, l := range ls {
			if !l.once {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(b.listeners, event)
		} else {
			b.listeners[event] = kept
		}
	}
	b.mu.Unlock()

	for _, l := range snapshot {
		b.deliver(event, l, payload)
	}
}

func (b *Bus) deliver(event string, l *listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			attrs := []any{"event", event, "error", fmt.Sprint(r)}
			if b.logger.Enabled(context.Background(), slog.LevelDebug) {
				attrs = append(attrs, "stack", string(debug.Stack()))
			}
			b.logger.Error("event handler panic", attrs...)
		}
	}()
	l.handler(payload)
}

// History returns recorded events oldest first. A non-empty name restricts
// the result to that event.
func (b *Bus) History(name string) []Record {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	var ordered []Record
	if b.full {
		ordered = append(ordered, b.history[b.head:]...)
	}
	ordered = append(ordered, b.history[:b.head]...)

	if name == "" {
		return ordered
	}
	out := ordered[:0]
	for _, r := range ordered {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// ClearHistory drops all recorded events.
func (b *Bus) ClearHistory() {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	clear(b.history)
	b.head = 0
	b.full = false
}

func (b *Bus) record(r Record) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history[b.head] = r
	b.head++
	if b.head == len(b.history) {
		b.head = 0
		b.full = true
	}
}

func (b *Bus) remove(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ls := b.listeners[event]
	for i, l := range ls {
		if l.id == id {
			b.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(b.listeners[event]) == 0 {
		delete(b.listeners, event)
	}
}

func hasOnce(ls []*listener) bool {
	for _, l := range ls {
		if l.once {
			return true
		}
	}
	return false
}
