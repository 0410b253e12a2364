package tokenizer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknown is returned by New for names nobody registered.
var ErrUnknown = errors.New("tokenizer: unknown tokenizer")

type Factory func() (Tokenizer, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("tokenizer: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("tokenizer: Register called twice for " + name)
	}
	registry[name] = factory
}

func New(name string) (Tokenizer, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknown, name, List())
	}
	return factory()
}

func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}
