package capture

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages the available capture sources
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// globalRegistry is the default source registry
var globalRegistry = &Registry{
	sources: make(map[string]Source),
}

// Register adds a source to the global registry
func Register(source Source) error {
	return globalRegistry.Register(source)
}

// Get retrieves a source from the global registry
func Get(name string) (Source, error) {
	return globalRegistry.Get(name)
}

// List returns all registered source names
func List() []string {
	return globalRegistry.List()
}

// NewRegistry creates a new source registry
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]Source),
	}
}

// Register adds a source to the registry
func (r *Registry) Register(source Source) error {
	if source == nil {
		return fmt.Errorf("source cannot be nil")
	}

	name := source.Name()
	if name == "" {
		return fmt.Errorf("source name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}

	r.sources[name] = source
	return nil
}

// Get retrieves a source by name
func (r *Registry) Get(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	source, exists := r.sources[name]
	if !exists {
		return nil, fmt.Errorf("capture format %q not supported", name)
	}

	return source, nil
}

// List returns all registered source names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// GetAll returns a copy of all registered sources
func (r *Registry) GetAll() map[string]Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make(map[string]Source, len(r.sources))
	for name, source := range r.sources {
		sources[name] = source
	}

	return sources
}

// Clear removes all sources from the registry
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sources = make(map[string]Source)
}

// Info returns metadata about all registered sources of the global registry
func Info() []SourceInfo {
	return globalRegistry.Info()
}

// Info returns metadata about all registered sources, sorted by name
func (r *Registry) Info() []SourceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var infos []SourceInfo
	for _, source := range r.sources {
		info := SourceInfo{
			Name:        source.Name(),
			Description: source.Description(),
		}

		if ext, ok := source.(interface{ Info() SourceInfo }); ok {
			info = ext.Info()
		}

		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})

	return infos
}
