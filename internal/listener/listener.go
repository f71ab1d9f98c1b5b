package listener

import (
	"sort"
	"sync"

	"modbot/internal/apperr"

	"go.uber.org/zap"
)

// HandlerAdder is the part of *discordgo.Session the registry needs.
type HandlerAdder interface {
	AddHandler(handler interface{}) func()
}

// Registry tracks gateway handlers by name so presets can detach exactly
// the handlers they attached.
type Registry struct {
	mu       sync.Mutex
	adder    HandlerAdder
	removers map[string]func()
	logger   *zap.Logger
}

func NewRegistry(adder HandlerAdder, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{adder: adder, removers: make(map[string]func()), logger: logger.Named("listener")}
}

func (r *Registry) Add(name string, handler interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.removers[name]; ok {
		return apperr.Newf(apperr.Internal, apperr.AlreadyExists, "Listener %s is already attached!", name)
	}
	r.removers[name] = r.adder.AddHandler(handler)
	r.logger.Debug("listener added", zap.String("name", name))
	return nil
}

func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	remove, ok := r.removers[name]
	delete(r.removers, name)
	r.mu.Unlock()
	if !ok {
		return false
	}
	remove()
	r.logger.Debug("listener removed", zap.String("name", name))
	return true
}

func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.removers[name]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.removers))
	for name := range r.removers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) RemoveAll() {
	for _, name := range r.Names() {
		r.Remove(name)
	}
}
