// Package registry maps collector type names to factories so the agent can
// construct sources from configuration instead of runtime type inspection.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors"
)

// Factory creates a collector instance from its configuration section.
// Construction must never start collection; that happens only on Start.
// TODO: move to typed per-collector config once all sections implement a
// validator interface.
type Factory func(config map[string]interface{}, logger *zap.Logger) (collectors.Collector, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register registers a collector factory under a type name. Collector
// packages call this from init().
func Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("collector type name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}

	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		return fmt.Errorf("collector type %s already registered", name)
	}

	factories[name] = factory
	return nil
}

// Create builds a collector of the given type with configuration.
func Create(name string, config map[string]interface{}, logger *zap.Logger) (collectors.Collector, error) {
	if name == "" {
		return nil, fmt.Errorf("collector type name cannot be empty")
	}
	if config == nil {
		config = make(map[string]interface{})
	}

	mu.RLock()
	factory, exists := factories[name]
	mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown collector type: %s", name)
	}

	return factory(config, logger)
}

// List returns the sorted names of all registered collector types.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// IsRegistered checks whether a collector type is known.
func IsRegistered(name string) bool {
	mu.RLock()
	defer mu.RUnlock()

	_, exists := factories[name]
	return exists
}
