package document

import "testing"

func TestComputeRevDeterministic(t *testing.T) {
	d1 := &Document{ID: "x", Data: map[string]Value{"n": float64(1)}}
	d2 := &Document{ID: "x", Data: map[string]Value{"n": float64(1)}}

	r1 := ComputeRev(d1)
	r2 := ComputeRev(d2)
	if r1 != r2 {
		t.Fatalf("expected equal revs for equal bodies, got %q vs %q", r1, r2)
	}
	if got, _ := ParseRevGeneration(r1); got != 1 {
		t.Fatalf("expected generation 1, got %d", got)
	}
}

func TestNextRevIncrementsGeneration(t *testing.T) {
	d := &Document{ID: "x", Data: map[string]Value{"n": float64(2)}}
	r1 := ComputeRev(d)
	r2 := NextRev(r1, d)

	g1, _ := ParseRevGeneration(r1)
	g2, _ := ParseRevGeneration(r2)
	if g2 != g1+1 {
		t.Fatalf("expected generation %d, got %d", g1+1, g2)
	}
}

func TestCanonicalBodyIgnoresIDAndRev(t *testing.T) {
	a := &Document{ID: "a", Rev: "1-aaaa", Data: map[string]Value{"n": float64(1)}}
	b := &Document{ID: "b", Rev: "9-bbbb", Data: map[string]Value{"n": float64(1)}}
	if string(CanonicalBody(a)) != string(CanonicalBody(b)) {
		t.Fatalf("canonical bodies should ignore id/rev")
	}
}
