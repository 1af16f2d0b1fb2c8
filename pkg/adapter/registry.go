package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/starschema/pkg/core"
)

// Factory builds an unconnected adapter. A nil logger discards output.
type Factory func(*slog.Logger) Adapter

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds an export target factory under a case-insensitive name.
// Adapters call it from their init functions.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[normalizeType(name)] = factory
}

// Get retrieves a factory by target type.
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[normalizeType(name)]
	return f, ok
}

// NewAdapter creates an unconnected adapter for cfg.Type.
func NewAdapter(cfg core.AdapterConfig, logger *slog.Logger) (Adapter, error) {
	if strings.TrimSpace(cfg.Type) == "" {
		return nil, fmt.Errorf("adapter type not specified")
	}

	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, &UnknownAdapterError{
			Type:      cfg.Type,
			Available: ListAdapters(),
		}
	}
	return factory(logger), nil
}

// ListAdapters returns the registered target types, sorted.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a target type has a factory.
func IsRegistered(name string) bool {
	_, ok := Get(name)
	return ok
}

func normalizeType(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// UnknownAdapterError is returned for a target type nobody registered.
// It matches core.ErrInput: the configuration, not the data, is wrong.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter type %q\nAvailable adapters: %v\nHint: Check target.type in starschema.yaml or --target-type", e.Type, e.Available)
}

// Is matches core.ErrInput.
func (e *UnknownAdapterError) Is(target error) bool { return target == core.ErrInput }
