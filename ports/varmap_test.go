package ports

import "testing"

func TestVariableMapLayout(t *testing.T) {
	m := NewVariableMap()
	if off := m.Add("pressure", 3); off != 0 {
		t.Errorf("first group offset = %d", off)
	}
	if off := m.Add("flow", 2); off != 3 {
		t.Errorf("second group offset = %d", off)
	}
	if off := m.Add("empty", 0); off != 5 {
		t.Errorf("empty group offset = %d", off)
	}
	if m.Len() != 5 {
		t.Errorf("total = %d", m.Len())
	}

	if i := m.Index("flow", 1); i != 4 {
		t.Errorf("Index(flow,1) = %d", i)
	}
	off, n, ok := m.Range("pressure")
	if !ok || off != 0 || n != 3 {
		t.Errorf("Range(pressure) = %d,%d,%v", off, n, ok)
	}
	if _, _, ok := m.Range("missing"); ok {
		t.Error("Range should miss unknown group")
	}

	x := []float64{10, 11, 12, 20, 21}
	got := m.Slice("flow", x)
	if len(got) != 2 || got[0] != 20 || got[1] != 21 {
		t.Errorf("Slice(flow) = %v", got)
	}
}

func TestVariableMapPanics(t *testing.T) {
	m := NewVariableMap()
	m.Add("a", 1)

	expectPanic := func(name string, f func()) {
		defer func() {
			if recover() == nil {
				t.Errorf("%s: expected panic", name)
			}
		}()
		f()
	}
	expectPanic("duplicate group", func() { m.Add("a", 1) })
	expectPanic("unknown group index", func() { m.Index("zzz", 0) })
	expectPanic("out of range", func() { m.Index("a", 5) })
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusUnknown:        "unknown",
		StatusConverged:      "converged",
		StatusInfeasible:     "infeasible",
		StatusIterationLimit: "iteration_limit",
		StatusNumericalError: "numerical_error",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("Status(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
	if !StatusConverged.Converged() || StatusInfeasible.Converged() {
		t.Error("Converged() misclassifies")
	}
}
