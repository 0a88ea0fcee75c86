package collector

import (
	"log/slog"
	"sort"
	"sync"
)

// Input carries the fields an input source reports; handlers read the ones
// relevant to their event name.
type Input struct {
	X, Y      float64
	Button    string
	ScrollX   float64
	ScrollY   float64
	Key       string
	Message   string
	Source    string
	Line, Col int
	Stack     string
}

// Handler reacts to one named input. Handlers must not block.
type Handler func(Input)

// Registry maps input names to their handlers, replacing per-source
// listener wiring with one dispatch table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{handlers: make(map[string][]Handler), logger: logger}
}

// On appends h to the handlers of name.
func (r *Registry) On(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = append(r.handlers[name], h)
}

// Dispatch runs the handlers of name in registration order and reports how
// many ran. A panicking handler is logged and skipped.
func (r *Registry) Dispatch(name string, in Input) int {
	r.mu.RLock()
	handlers := r.handlers[name]
	r.mu.RUnlock()
	for _, h := range handlers {
		r.call(name, h, in)
	}
	return len(handlers)
}

func (r *Registry) call(name string, h Handler, in Input) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("input handler panicked", "input", name, "panic", rec)
		}
	}()
	h(in)
}

// Names lists the registered input names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
