package ports

import "fmt"

// VarGroup is one named, contiguous block of decision variables.
type VarGroup struct {
	Name   string
	Offset int
	Len    int
}

// VariableMap fixes the ordering of decision variables a solver sees by
// assigning contiguous index ranges to named groups. Builders construct it
// once; every consumer addresses variables as (group, element) instead of
// hard-coded offsets.
type VariableMap struct {
	groups []VarGroup
	byName map[string]int
	total  int
}

// NewVariableMap returns an empty map.
func NewVariableMap() *VariableMap {
	return &VariableMap{byName: make(map[string]int)}
}

// Add appends a group of n variables and returns its offset. Adding a
// duplicate name or a negative size panics: group layout is a programming
// decision, not runtime input.
func (m *VariableMap) Add(name string, n int) int {
	if n < 0 {
		panic(fmt.Sprintf("variable group %q: negative size %d", name, n))
	}
	if _, dup := m.byName[name]; dup {
		panic(fmt.Sprintf("variable group %q added twice", name))
	}
	off := m.total
	m.byName[name] = len(m.groups)
	m.groups = append(m.groups, VarGroup{Name: name, Offset: off, Len: n})
	m.total += n
	return off
}

// Index resolves element i of a named group to its flat position.
func (m *VariableMap) Index(name string, i int) int {
	gi, ok := m.byName[name]
	if !ok {
		panic(fmt.Sprintf("unknown variable group %q", name))
	}
	g := m.groups[gi]
	if i < 0 || i >= g.Len {
		panic(fmt.Sprintf("variable group %q: index %d out of range [0,%d)", name, i, g.Len))
	}
	return g.Offset + i
}

// Range returns a group's offset and length; length zero with ok=false when
// the group was never added.
func (m *VariableMap) Range(name string) (offset, length int, ok bool) {
	gi, found := m.byName[name]
	if !found {
		return 0, 0, false
	}
	g := m.groups[gi]
	return g.Offset, g.Len, true
}

// Slice extracts a named group's values from a flat solution vector.
func (m *VariableMap) Slice(name string, x []float64) []float64 {
	off, n, ok := m.Range(name)
	if !ok {
		return nil
	}
	out := make([]float64, n)
	copy(out, x[off:off+n])
	return out
}

// Len is the total variable count.
func (m *VariableMap) Len() int { return m.total }

// Groups returns the layout in insertion order.
func (m *VariableMap) Groups() []VarGroup {
	return append([]VarGroup(nil), m.groups...)
}
