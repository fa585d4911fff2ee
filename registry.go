package appbase

import (
	"fmt"
	"sort"
	"sync"
)

// PluginConstructor builds a fresh plugin instance. Constructors must return
// a new value on every call; the registry instantiates one probe instance at
// registration time to read the plugin's name and dependencies, and one live
// instance per application that activates the plugin.
type PluginConstructor func() Plugin

// pluginDescriptor is the process-wide identity of a plugin type.
type pluginDescriptor struct {
	name         string
	constructor  PluginConstructor
	dependencies []string
}

// pluginRegistry is the process-wide directory of plugin descriptors. The
// descriptor table is shared across application instances; live instances are
// tracked per application.
type pluginRegistry struct {
	mu          sync.RWMutex
	descriptors map[string]*pluginDescriptor
}

var registry = &pluginRegistry{descriptors: make(map[string]*pluginDescriptor)}

// RegisterPlugin records a plugin type in the process-wide registry.
// Registration is idempotent: registering the same plugin name again is a
// no-op. Registration should happen before any application is created,
// typically from package init or early in main.
func RegisterPlugin(ctor PluginConstructor) error {
	if ctor == nil {
		return ErrNilConstructor
	}
	probe := ctor()
	name := probe.Name()
	if name == "" {
		return ErrEmptyPluginName
	}
	var deps []string
	if da, ok := probe.(DependencyAware); ok {
		deps = da.Dependencies()
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.descriptors[name]; exists {
		return nil
	}
	registry.descriptors[name] = &pluginDescriptor{
		name:         name,
		constructor:  ctor,
		dependencies: deps,
	}
	return nil
}

// MustRegisterPlugin is like RegisterPlugin but panics on error. Intended for
// package init blocks.
func MustRegisterPlugin(ctor PluginConstructor) {
	if err := RegisterPlugin(ctor); err != nil {
		panic(err)
	}
}

// find returns the descriptor for name, if registered.
func (r *pluginRegistry) find(name string) (*pluginDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// names returns all registered plugin names in sorted order, for
// deterministic option aggregation and help output.
func (r *pluginRegistry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// verify checks that, starting from the given roots, every declared
// dependency resolves to a registered plugin and the reachable dependency
// graph is acyclic. Called once per application initialization, before any
// plugin is activated, over the set of plugins selected for the run.
func (r *pluginRegistry) verify(roots []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	visited := make(map[string]bool)
	visiting := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if visiting[name] {
			return fmt.Errorf("%w: %s", ErrCircularDependency, name)
		}
		if visited[name] {
			return nil
		}
		visiting[name] = true
		d := r.descriptors[name]
		for _, dep := range d.dependencies {
			if _, exists := r.descriptors[dep]; !exists {
				return fmt.Errorf("%w: %s requires %s", ErrPluginDependencyMissing, name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[name] = false
		visited[name] = true
		return nil
	}

	for _, name := range roots {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
