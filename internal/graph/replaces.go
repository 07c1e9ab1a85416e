package graph

// Collapse returns the graph a plan should run against given the applied
// set. A squashed migration stands in for the migrations it replaces when
// none or all of them are applied; when only some are applied the originals
// stay and the squashed node is dropped. Edges into a removed node are
// redirected to whatever stands in for it.
func (g *Graph) Collapse(applied map[Key]bool) (*Graph, error) {
	stand := make(map[Key][]Key) // removed node -> nodes that take its edges

	for _, k := range g.Keys() {
		m := g.nodes[k]
		var present []Key
		n := 0
		for _, r := range m.Replaces {
			if g.Has(r) {
				present = append(present, r)
				if applied[r] {
					n++
				}
			}
		}
		if len(present) == 0 {
			continue
		}
		if n > 0 && n < len(present) {
			stand[k] = present
			continue
		}
		for _, r := range present {
			stand[r] = []Key{k}
		}
	}

	var resolve func(k Key, seen keySet) []Key
	resolve = func(k Key, seen keySet) []Key {
		targets, removed := stand[k]
		if !removed {
			return []Key{k}
		}
		if _, loop := seen[k]; loop {
			return nil
		}
		seen[k] = struct{}{}
		var out []Key
		for _, t := range targets {
			out = append(out, resolve(t, seen)...)
		}
		return out
	}

	out := New()
	for _, k := range g.Keys() {
		if _, removed := stand[k]; removed {
			continue
		}
		if err := out.AddNode(g.nodes[k]); err != nil {
			return nil, err
		}
	}
	for _, k := range out.Keys() {
		for _, p := range g.Dependencies(k) {
			for _, target := range resolve(p, keySet{}) {
				if target == k {
					continue
				}
				if err := out.AddDependency(k, target); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// EffectiveApplied extends applied with squashed migrations whose replaced
// migrations are all applied
func (g *Graph) EffectiveApplied(applied map[Key]bool) map[Key]bool {
	out := make(map[Key]bool, len(applied))
	for k, v := range applied {
		out[k] = v
	}
	for k, m := range g.nodes {
		if len(m.Replaces) == 0 || out[k] {
			continue
		}
		all := true
		for _, r := range m.Replaces {
			if !applied[r] {
				all = false
				break
			}
		}
		if all {
			out[k] = true
		}
	}
	return out
}

// ExecutionOrder is the topological order of the collapsed graph
func (g *Graph) ExecutionOrder(applied map[Key]bool) ([]Key, error) {
	collapsed, err := g.Collapse(applied)
	if err != nil {
		return nil, err
	}
	return collapsed.TopologicalOrder()
}
