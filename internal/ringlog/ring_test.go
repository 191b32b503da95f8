package ringlog

import (
	"reflect"
	"testing"
)

func TestRing_NewestFirstAndEvictsOldest(t *testing.T) {
	r := New[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	if got, want := r.Snapshot(), []int{5, 4, 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
}

func TestRing_PartiallyFilled(t *testing.T) {
	r := New[string](4)
	r.Push("a")
	r.Push("b")

	if got, want := r.Snapshot(), []string{"b", "a"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
}

func TestRing_SnapshotIsACopy(t *testing.T) {
	r := New[int](2)
	r.Push(1)
	snap := r.Snapshot()
	snap[0] = 99

	if got := r.Snapshot()[0]; got != 1 {
		t.Fatalf("mutating snapshot changed ring: %d", got)
	}
}

func TestRing_NonPositiveCapacity(t *testing.T) {
	r := New[int](0)
	r.Push(1)
	r.Push(2)
	if got := r.Snapshot(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("Snapshot() = %v, want [2]", got)
	}
}
