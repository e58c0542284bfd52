// Package plugin is the reader-driver registry around the core: it lets
// a process register named reader factories (PC/SC, libnfc, remote, or a
// test fake) and advertise itself over mDNS so other processes can find
// it, without the core packages knowing any of that exists.
package plugin

import (
	"fmt"
	"sync"

	"github.com/dotside-studios/cardterm/driver"
)

// Factory creates one driver.Reader instance, e.g. by opening a PC/SC
// slot or connecting to a remote device.
type Factory func() (driver.Reader, error)

// Registry is a thread-safe name -> Factory map.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a named Factory. Returns an error if name is empty,
// factory is nil, or name is already registered.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("plugin: name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("plugin: factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("plugin: factory for %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// GetReader invokes the named Factory and returns the reader it produces.
func (r *Registry) GetReader(name string) (driver.Reader, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, driver.IllegalStateError("GetReader", fmt.Sprintf("no factory registered for %q", name))
	}
	rd, err := factory()
	if err != nil {
		return nil, driver.PluginError(fmt.Sprintf("GetReader(%s)", name), err)
	}
	return rd, nil
}

// Names returns every registered factory name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
