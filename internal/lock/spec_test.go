package lock

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestSpecificationConflicts(t *testing.T) {
	read := func(ts ...string) *Specification[string] {
		s := NewSpecification[string]()
		for _, x := range ts {
			s.AddRead(x)
		}
		return s
	}
	write := func(ts ...string) *Specification[string] {
		s := NewSpecification[string]()
		for _, x := range ts {
			s.AddWrite(x)
		}
		return s
	}

	tests := []struct {
		name string
		a, b *Specification[string]
		want bool
	}{
		{"read read", read("t1"), read("t1"), false},
		{"write read", write("t1"), read("t1"), true},
		{"read write", read("t1"), write("t1"), true},
		{"write write", write("t1"), write("t1"), true},
		{"disjoint writes", write("t1"), write("t2"), false},
		{"partial overlap", read("t1", "t2"), write("t3", "t2"), true},
		{"empty", NewSpecification[string](), write("t1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.a.ConflictsWith(tt.b))
			require.Equal(t, tt.want, tt.b.ConflictsWith(tt.a))
		})
	}
}

func TestSpecificationMerge(t *testing.T) {
	a := NewSpecification[string]().AddRead("orders").AddRead("customers")
	b := NewSpecification[string]().AddWrite("orders").AddRead("items")
	a.Merge(b).Merge(nil)

	m, ok := a.Mode("orders")
	require.True(t, ok)
	require.Equal(t, Write, m)
	require.Equal(t, []string{"orders", "customers", "items"}, a.Tables())
	require.Equal(t, []string{"customers", "items"}, a.Reads())
	require.Equal(t, []string{"orders"}, a.Writes())

	// a later read never downgrades
	a.AddRead("orders")
	m, _ = a.Mode("orders")
	require.Equal(t, Write, m)
}

func TestManagerAllOrNothing(t *testing.T) {
	m := NewManager[string]()
	w := NewSpecification[string]().AddWrite("t2")
	require.True(t, m.TryAcquire(w))

	both := NewSpecification[string]().AddRead("t1").AddRead("t2")
	require.False(t, m.TryAcquire(both))
	mode, _ := m.Held("t1")
	require.Equal(t, Mode(0), mode, "a refused request must not keep partial locks")

	r := NewSpecification[string]().AddRead("t1")
	require.True(t, m.TryAcquire(r))
	require.True(t, m.TryAcquire(r))
	mode, readers := m.Held("t1")
	require.Equal(t, Read, mode)
	require.Equal(t, 2, readers)
	require.False(t, m.TryAcquire(NewSpecification[string]().AddWrite("t1")))
	require.False(t, m.Forget("t1"))

	m.Release(r)
	m.Release(r)
	m.Release(w)
	require.Equal(t, 0, m.Len())
	require.True(t, m.Forget("t1"))
}

// Property: the manager grants a set of specifications together exactly when
// they are pairwise conflict free.
func TestManagerMatchesConflictRelation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	build := func(codes []int) *Specification[int] {
		s := NewSpecification[int]()
		for _, c := range codes {
			if c%2 == 0 {
				s.AddRead(c / 2)
			} else {
				s.AddWrite(c / 2)
			}
		}
		return s
	}

	properties.Property("grants iff conflict free", prop.ForAll(
		func(a, b []int) bool {
			sa, sb := build(a), build(b)
			m := NewManager[int]()
			if !m.TryAcquire(sa) {
				return false
			}
			granted := m.TryAcquire(sb)
			return granted == !sa.ConflictsWith(sb)
		},
		gen.SliceOfN(3, gen.IntRange(0, 9)),
		gen.SliceOfN(3, gen.IntRange(0, 9)),
	))

	properties.TestingRun(t)
}
