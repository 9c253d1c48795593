// Package registry manages module lifecycle: registration, dependency
// ordering, initialization, start and stop.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/HerbHall/printfleet/pkg/plugin"
	"go.uber.org/zap"
)

// Registry holds every registered plugin and the order they run in.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]plugin.Plugin
	order    []string // registration order until Validate, then dependency order
	disabled map[string]string
	logger   *zap.Logger
}

// New creates an empty Registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		plugins:  make(map[string]plugin.Plugin),
		disabled: make(map[string]string),
		logger:   logger,
	}
}

// Register adds a plugin. Names must be unique and non-empty.
func (r *Registry) Register(p plugin.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := p.Info()
	if info.Name == "" {
		return fmt.Errorf("plugin has empty name")
	}
	if _, exists := r.plugins[info.Name]; exists {
		return fmt.Errorf("plugin %q already registered", info.Name)
	}

	r.plugins[info.Name] = p
	r.order = append(r.order, info.Name)
	r.logger.Info("plugin registered", zap.String("name", info.Name), zap.String("version", info.Version))
	return nil
}

// Validate checks API versions and dependencies, disables optional plugins
// whose requirements are not met (cascading to their dependents) and sorts
// the remaining plugins so dependencies come first.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		info := r.plugins[name].Info()
		if info.APIVersion < plugin.APIVersionMin || info.APIVersion > plugin.APIVersionCurrent {
			reason := fmt.Sprintf("unsupported API version %d (supported %d-%d)",
				info.APIVersion, plugin.APIVersionMin, plugin.APIVersionCurrent)
			if err := r.disable(name, reason); err != nil {
				return err
			}
			continue
		}
		for _, dep := range info.Dependencies {
			if _, ok := r.plugins[dep]; !ok {
				if err := r.disable(name, fmt.Sprintf("missing dependency %q", dep)); err != nil {
					return err
				}
				break
			}
		}
	}

	// Cascade until no more plugins are disabled by a disabled dependency.
	for changed := true; changed; {
		changed = false
		for _, name := range r.order {
			if _, off := r.disabled[name]; off {
				continue
			}
			for _, dep := range r.plugins[name].Info().Dependencies {
				if _, off := r.disabled[dep]; off {
					if err := r.disable(name, fmt.Sprintf("dependency %q disabled", dep)); err != nil {
						return err
					}
					changed = true
					break
				}
			}
		}
	}

	sorted, err := r.topoSort()
	if err != nil {
		return err
	}
	r.order = sorted
	return nil
}

// disable marks name disabled. Required plugins cannot be disabled.
func (r *Registry) disable(name, reason string) error {
	if r.plugins[name].Info().Required {
		return fmt.Errorf("required plugin %q: %s", name, reason)
	}
	r.disabled[name] = reason
	r.logger.Warn("plugin disabled", zap.String("name", name), zap.String("reason", reason))
	return nil
}

// topoSort orders plugins depth-first by dependency, detecting cycles.
func (r *Registry) topoSort() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(r.order))
	sorted := make([]string, 0, len(r.order))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle: %v -> %s", path, name)
		}
		state[name] = visiting
		for _, dep := range r.plugins[name].Info().Dependencies {
			if _, ok := r.plugins[dep]; !ok {
				continue
			}
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		sorted = append(sorted, name)
		return nil
	}

	for _, name := range r.order {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

// InitAll initializes enabled plugins in dependency order. depsFor builds
// the Dependencies handed to each plugin. An optional plugin that fails to
// initialize is disabled; a required one aborts.
func (r *Registry) InitAll(ctx context.Context, depsFor func(name string) plugin.Dependencies) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		r.logger.Info("initializing plugin", zap.String("name", name))
		if err := r.plugins[name].Init(ctx, depsFor(name)); err != nil {
			if derr := r.disable(name, "init failed: "+err.Error()); derr != nil {
				return fmt.Errorf("initialize plugin %q: %w", name, err)
			}
		}
	}
	return nil
}

// StartAll starts enabled plugins in dependency order.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := r.plugins[name].Start(ctx); err != nil {
			return fmt.Errorf("start plugin %q: %w", name, err)
		}
	}
	return nil
}

// StopAll stops enabled plugins in reverse order, logging failures.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		if _, off := r.disabled[name]; off {
			continue
		}
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := r.plugins[name].Stop(ctx); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
}

// IsDisabled reports whether a plugin was disabled during Validate or InitAll.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, off := r.disabled[name]
	return off
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// All returns enabled plugins in run order.
func (r *Registry) All() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]plugin.Plugin, 0, len(r.order))
	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		result = append(result, r.plugins[name])
	}
	return result
}

// AllRoutes returns the routes of every enabled HTTPProvider, keyed by plugin name.
func (r *Registry) AllRoutes() map[string][]plugin.Route {
	routes := make(map[string][]plugin.Route)
	for _, p := range r.All() {
		hp, ok := p.(plugin.HTTPProvider)
		if !ok {
			continue
		}
		if pr := hp.Routes(); len(pr) > 0 {
			routes[p.Info().Name] = pr
		}
	}
	return routes
}

// Health collects the health of every enabled HealthChecker.
func (r *Registry) Health(ctx context.Context) map[string]plugin.HealthStatus {
	out := make(map[string]plugin.HealthStatus)
	for _, p := range r.All() {
		if hc, ok := p.(plugin.HealthChecker); ok {
			out[p.Info().Name] = hc.Health(ctx)
		}
	}
	return out
}
