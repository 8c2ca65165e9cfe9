package functions

import "fmt"

// setOrder fixes the order sets are registered and rendered in.
var setOrder = []string{"base", "web", "interpreter", "filestore"}

// Registry holds every declared function set and knows which sets are
// rendered into the prompt. Sets outside the in-context list stay
// callable but are only discoverable through schema search.
type Registry struct {
	sets      map[string][]*Definition
	byName    map[string]*Definition
	inContext map[string]bool
}

// NewRegistry assembles the built-in sets. inContextSets names the
// sets whose schemas are always part of the prompt.
func NewRegistry(inContextSets []string) (*Registry, error) {
	r := &Registry{
		sets:      map[string][]*Definition{},
		byName:    map[string]*Definition{},
		inContext: map[string]bool{},
	}
	builtin := map[string][]*Definition{
		"base":        baseSet(),
		"web":         webSet(),
		"interpreter": interpreterSet(),
		"filestore":   filestoreSet(),
	}
	for _, set := range setOrder {
		for _, def := range builtin[set] {
			if _, dup := r.byName[def.Name]; dup {
				return nil, fmt.Errorf("duplicate function: %s", def.Name)
			}
			r.byName[def.Name] = def
			r.sets[set] = append(r.sets[set], def)
		}
	}
	for _, set := range inContextSets {
		if _, ok := r.sets[set]; !ok {
			return nil, fmt.Errorf("unknown function set: %s", set)
		}
		r.inContext[set] = true
	}
	return r, nil
}

// Lookup finds a function by name across every set.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// InContextSchemas renders the schemas included in every prompt.
func (r *Registry) InContextSchemas() []string {
	var out []string
	for _, set := range setOrder {
		if !r.inContext[set] {
			continue
		}
		for _, def := range r.sets[set] {
			out = append(out, RenderSchema(def))
		}
	}
	return out
}

// OutOfContext returns the definitions not rendered into the prompt.
func (r *Registry) OutOfContext() []*Definition {
	var out []*Definition
	for _, set := range setOrder {
		if r.inContext[set] {
			continue
		}
		out = append(out, r.sets[set]...)
	}
	return out
}
