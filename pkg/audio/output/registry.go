// ABOUTME: Output plugin registry
// ABOUTME: Looks up plugins by type and auto-detects a default device
package output

import "sync"

// Registry holds plugins in registration order
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
}

// NewRegistry creates a registry holding plugins in the given order
func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{}
	for _, p := range plugins {
		r.Register(p)
	}
	return r
}

// Default holds the built-in backends, probed in this order
var Default = NewRegistry(&Malgo{}, &Oto{}, &WebRTC{}, &Null{})

// Register appends a plugin, replacing any plugin with the same name
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.plugins {
		if existing.Name() == p.Name() {
			r.plugins[i] = p
			return
		}
	}
	r.plugins = append(r.plugins, p)
}

// Lookup returns the plugin registered under name
func (r *Registry) Lookup(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Plugins returns the registered plugins in order
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// Detect returns the first plugin whose probe finds a default device and
// that accept takes. Plugins without a probe are skipped, as are plugins
// accept rejects. A nil accept takes the first probed plugin.
func (r *Registry) Detect(accept func(Plugin) bool) (Plugin, bool) {
	for _, p := range r.Plugins() {
		prober, ok := p.(Prober)
		if !ok || !prober.TestDefaultDevice() {
			continue
		}
		if accept == nil || accept(p) {
			return p, true
		}
	}
	return nil, false
}
