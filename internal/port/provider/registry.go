package provider

import (
	"fmt"
	"sync"
)

// Factory is a constructor function that creates a new Provider instance.
type Factory func(options map[string]string) (Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a provider factory available by backend name.
// It is typically called from an init() function in the adapter package.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("provider: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New creates a new Provider by backend name using the registered factory.
func New(name string, options map[string]string) (Provider, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("provider: unknown backend %q", name)
	}
	return factory(options)
}

// Available returns the names of all registered provider backends.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
