package sharding

// Parameter is one bound value in a ParameterSet.
type Parameter struct {
	Name      string
	Value     any
	Direction Direction
	TypeHint  string
}

// ParameterSet is an ordered, name-indexed collection of bind parameters.
// Names are unique within a set; lookup by name is O(1). ParameterSets
// are caller-owned and read-only to the engine — the engine clones one
// before applying a per-shard override (spec.md §4.4/§5).
type ParameterSet struct {
	order []Parameter
	index map[string]int
}

// NewParameterSet builds an empty ParameterSet.
func NewParameterSet() *ParameterSet {
	return &ParameterSet{index: make(map[string]int)}
}

// Set adds or replaces the named parameter, preserving its original
// position on replace and appending on first insert.
func (p *ParameterSet) Set(name string, value any, dir Direction, typeHint string) *ParameterSet {
	if i, ok := p.index[name]; ok {
		p.order[i] = Parameter{Name: name, Value: value, Direction: dir, TypeHint: typeHint}
		return p
	}
	p.index[name] = len(p.order)
	p.order = append(p.order, Parameter{Name: name, Value: value, Direction: dir, TypeHint: typeHint})
	return p
}

// In is shorthand for Set with Direction In and no type hint.
func (p *ParameterSet) In(name string, value any) *ParameterSet {
	return p.Set(name, value, DirectionIn, "")
}

// Out declares an output parameter slot with no initial value.
func (p *ParameterSet) Out(name string, typeHint string) *ParameterSet {
	return p.Set(name, nil, DirectionOut, typeHint)
}

// Get returns the named parameter and whether it is present.
func (p *ParameterSet) Get(name string) (Parameter, bool) {
	i, ok := p.index[name]
	if !ok {
		return Parameter{}, false
	}
	return p.order[i], true
}

// Has reports whether name is present in the set.
func (p *ParameterSet) Has(name string) bool {
	_, ok := p.index[name]
	return ok
}

// Names returns parameter names in insertion order.
func (p *ParameterSet) Names() []string {
	names := make([]string, len(p.order))
	for i, e := range p.order {
		names[i] = e.Name
	}
	return names
}

// All returns a copy of the ordered entries.
func (p *ParameterSet) All() []Parameter {
	return append([]Parameter(nil), p.order...)
}

// Clone returns a deep copy whose mutation never affects the receiver.
// Used by the dispatchers to build per-shard overrides without touching
// the caller's base ParameterSet (spec.md §4.4/§5, §8 invariant 5).
func (p *ParameterSet) Clone() *ParameterSet {
	clone := &ParameterSet{
		order: append([]Parameter(nil), p.order...),
		index: make(map[string]int, len(p.index)),
	}
	for k, v := range p.index {
		clone.index[k] = v
	}
	return clone
}

// withOverride returns a clone with name overwritten to value, adding the
// entry if it was not already present. Used internally by dispatchers.
func (p *ParameterSet) withOverride(name string, value any) *ParameterSet {
	clone := p.Clone()
	if i, ok := clone.index[name]; ok {
		clone.order[i].Value = value
	} else {
		clone.In(name, value)
	}
	return clone
}

// checkDeclared enforces spec.md §4.2 step 2b: every name the Query
// declares must be present in p. An empty declared set means "bind
// whatever is supplied" and is always satisfied.
func (p *ParameterSet) checkDeclared(q Query) error {
	for _, name := range q.declared {
		if !p.Has(name) {
			return ErrParameterNotFound(name)
		}
	}
	return nil
}
