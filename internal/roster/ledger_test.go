package roster

import "testing"

func TestLedgerToggleFlipsInPlace(t *testing.T) {
	l := NewLedger()

	if l.IsEdited("101") {
		t.Fatal("fresh ledger must have no edits")
	}
	if !l.EffectiveStatus("101", true) {
		t.Fatal("no entry: effective status is the base status")
	}

	l.Toggle("101", "Alice", true)
	if !l.IsEdited("101") {
		t.Error("toggled student must read as edited")
	}
	if l.EffectiveStatus("101", true) {
		t.Error("first toggle negates the current effective status")
	}

	// Second toggle nets out to the base value but keeps the entry.
	l.Toggle("101", "Alice", l.EffectiveStatus("101", true))
	if !l.EffectiveStatus("101", true) {
		t.Error("double toggle must restore the pre-toggle value")
	}
	if !l.IsEdited("101") {
		t.Error("entry is retained after a no-op net edit")
	}
	if l.Len() != 1 {
		t.Errorf("ledger len = %d, want 1", l.Len())
	}
}

func TestLedgerKeyedByRollAlone(t *testing.T) {
	l := NewLedger()
	l.Toggle("101", "Alice", true)
	l.Toggle("101", "Alicia", false) // display name differs; same student

	if l.Len() != 1 {
		t.Fatalf("entries differing only by display name must collide, got %d", l.Len())
	}
	if !l.EffectiveStatus("101", true) {
		t.Error("second toggle flips the existing entry back to present")
	}
}

func TestLedgerNeverShrinks(t *testing.T) {
	l := NewLedger()
	for i := 0; i < 5; i++ {
		l.Toggle("101", "Alice", l.EffectiveStatus("101", true))
		if !l.IsEdited("101") {
			t.Fatalf("entry vanished after toggle %d", i+1)
		}
	}
	if l.Len() != 1 {
		t.Errorf("ledger len = %d, want 1", l.Len())
	}
}
