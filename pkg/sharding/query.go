package sharding

// Query is an immutable statement descriptor. Its Name doubles as a mock
// table key (spec.md §3) and as the identity used in telemetry.
type Query struct {
	name      string
	text      string
	kind      CommandKind
	declared  []string
	declaredM map[string]struct{}
}

// NewQuery builds a Query. declaredParameters may be empty, meaning the
// engine binds whatever the caller's ParameterSet supplies (spec.md
// §4.3). Panics if name is empty or declaredParameters has a duplicate —
// both are caller programming errors, not runtime conditions.
func NewQuery(name, text string, kind CommandKind, declaredParameters ...string) Query {
	if name == "" {
		panic("sharding: Query name must not be empty")
	}
	m := make(map[string]struct{}, len(declaredParameters))
	for _, p := range declaredParameters {
		if _, dup := m[p]; dup {
			panic("sharding: Query declared parameter names must be unique: " + p)
		}
		m[p] = struct{}{}
	}
	declared := append([]string(nil), declaredParameters...)
	return Query{name: name, text: text, kind: kind, declared: declared, declaredM: m}
}

func (q Query) Name() string           { return q.name }
func (q Query) Text() string           { return q.text }
func (q Query) Kind() CommandKind      { return q.kind }
func (q Query) DeclaredParameters() []string {
	return append([]string(nil), q.declared...)
}

func (q Query) declares(name string) bool {
	_, ok := q.declaredM[name]
	return ok
}
