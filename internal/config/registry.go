package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/ringsock/pkg/audio"
)

// ErrHostNotRegistered is returned by [Registry.CreateHost] when no factory
// has been registered under the requested host kind.
var ErrHostNotRegistered = errors.New("config: host not registered")

// HostFactory builds an audio host from the audio section of the config.
type HostFactory func(AudioConfig) (audio.Host, error)

// Registry maps host kinds to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	hosts map[HostKind]HostFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{hosts: make(map[HostKind]HostFactory)}
}

// RegisterHost registers a host factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) RegisterHost(kind HostKind, factory HostFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[kind] = factory
}

// CreateHost instantiates the host selected by cfg.Host.
// Returns [ErrHostNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateHost(cfg AudioConfig) (audio.Host, error) {
	r.mu.RLock()
	factory, ok := r.hosts[cfg.Host]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrHostNotRegistered, cfg.Host)
	}
	h, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create host %q: %w", cfg.Host, err)
	}
	return h, nil
}

// Hosts returns the registered host kinds in sorted order.
func (r *Registry) Hosts() []HostKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HostKind, 0, len(r.hosts))
	for k := range r.hosts {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
