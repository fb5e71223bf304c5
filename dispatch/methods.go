package dispatch

import (
	"sort"

	"github.com/wippyai/wasm-interop/codec"
	"github.com/wippyai/wasm-interop/errors"
)

// MethodInfo describes one invokable guest method.
type MethodInfo struct {
	Assembly string
	Name     string
	Alias    string
	Params   []codec.TypeInfo
	Result   codec.TypeInfo
	Async    bool
}

// Identifier returns the name the method is invoked by: its alias when one
// is declared, otherwise its name.
func (m *MethodInfo) Identifier() string {
	if m.Alias != "" {
		return m.Alias
	}
	return m.Name
}

// ParamKinds returns the boundary kind of each parameter.
func (m *MethodInfo) ParamKinds() []codec.Kind {
	kinds := make([]codec.Kind, len(m.Params))
	for i, p := range m.Params {
		kinds[i] = p.Kind
	}
	return kinds
}

// MethodTable maps (assembly, identifier) to a method. It is built once at
// load and never changes afterwards.
type MethodTable struct {
	assemblies map[string]map[string]*MethodInfo
}

// NewMethodTable builds the table. Two methods with the same identifier in
// one assembly are rejected.
func NewMethodTable(methods []MethodInfo) (*MethodTable, error) {
	t := &MethodTable{assemblies: make(map[string]map[string]*MethodInfo)}
	for i := range methods {
		m := &methods[i]
		if m.Assembly == "" || m.Identifier() == "" {
			return nil, errors.InvalidInput(errors.PhaseLoad, "method requires an assembly and a name")
		}
		byID := t.assemblies[m.Assembly]
		if byID == nil {
			byID = make(map[string]*MethodInfo)
			t.assemblies[m.Assembly] = byID
		}
		id := m.Identifier()
		if _, dup := byID[id]; dup {
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				Detail("assembly '%s' declares identifier %q more than once", m.Assembly, id).
				Build()
		}
		byID[id] = m
	}
	return t, nil
}

// Resolve looks up a method. Failures are lookup errors naming the
// unresolved assembly or identifier.
func (t *MethodTable) Resolve(assembly, identifier string) (*MethodInfo, error) {
	byID, ok := t.assemblies[assembly]
	if !ok {
		return nil, errors.UnknownAssembly(assembly)
	}
	m, ok := byID[identifier]
	if !ok {
		return nil, errors.UnknownMethod(assembly, identifier)
	}
	return m, nil
}

// Assemblies returns the loaded assembly names in sorted order.
func (t *MethodTable) Assemblies() []string {
	names := make([]string, 0, len(t.assemblies))
	for name := range t.assemblies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Methods returns the methods of assembly sorted by identifier.
func (t *MethodTable) Methods(assembly string) []MethodInfo {
	byID := t.assemblies[assembly]
	out := make([]MethodInfo, 0, len(byID))
	for _, m := range byID {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier() < out[j].Identifier() })
	return out
}
