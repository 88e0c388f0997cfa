package aggregate

import "sort"

// Registry holds the constructed adapters, keyed by aggregator tag.
type Registry struct {
	adapters map[string]Adapter
	tags     []string
}

// NewRegistry constructs every adapter against the shared dependencies.
func NewRegistry(deps *Deps) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}

	r.register(newRSSAdapter(deps))
	r.register(newPodcastAdapter(deps))
	r.register(newWebsiteAdapter(deps))
	for _, a := range siteAdapters(deps) {
		r.register(a)
	}
	r.register(newRedditAdapter(deps))
	r.register(newYouTubeAdapter(deps))
	return r
}

func (r *Registry) register(a Adapter) {
	r.adapters[a.Tag()] = a
	r.tags = append(r.tags, a.Tag())
}

// Get returns the adapter registered for a tag.
func (r *Registry) Get(tag string) (Adapter, bool) {
	a, ok := r.adapters[tag]
	return a, ok
}

// Tags lists every registered aggregator tag, sorted.
func (r *Registry) Tags() []string {
	out := append([]string(nil), r.tags...)
	sort.Strings(out)
	return out
}

// All returns every adapter, ordered by tag.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, tag := range r.Tags() {
		out = append(out, r.adapters[tag])
	}
	return out
}
