package calendar

import "testing"

func TestApplyKnownDatesUnions(t *testing.T) {
	idx := NewIndex()
	idx.ApplyKnownDates([]string{"2024-05-01", "2024-05-03"})
	idx.ApplyKnownDates([]string{"2024-05-03", "", "2024-05-07"})

	marks := idx.Marks()
	if len(marks) != 3 {
		t.Fatalf("got %d marks, want 3: %v", len(marks), marks)
	}
	for _, d := range []string{"2024-05-01", "2024-05-03", "2024-05-07"} {
		if !idx.HasAttendance(d) {
			t.Errorf("%s lost its attendance fact", d)
		}
	}
}

func TestSelectMovesWithoutTouchingFacts(t *testing.T) {
	idx := NewIndex()
	idx.ApplyKnownDates([]string{"2024-05-01"})

	idx.Select("2024-05-01")
	if got := idx.Selected(); got != "2024-05-01" {
		t.Fatalf("selected = %q", got)
	}

	// Selecting a date with no attendance keeps it as a view-only mark.
	idx.Select("2024-05-02")
	marks := idx.Marks()
	if m := marks["2024-05-01"]; !m.HasAttendance || m.Selected {
		t.Errorf("2024-05-01 = %+v, want attendance kept and selection cleared", m)
	}
	if m := marks["2024-05-02"]; m.HasAttendance || !m.Selected {
		t.Errorf("2024-05-02 = %+v, want selected without an attendance fact", m)
	}

	// Moving on from a fact-less date removes its mark entirely.
	idx.Select("2024-05-01")
	if _, ok := idx.Marks()["2024-05-02"]; ok {
		t.Error("2024-05-02 mark should be dropped once deselected")
	}
}

func TestRefreshPreservesSelection(t *testing.T) {
	idx := NewIndex()
	idx.ApplyKnownDates([]string{"2024-05-01"})
	idx.Select("2024-05-01")

	idx.ApplyKnownDates([]string{"2024-05-01", "2024-05-09"})
	if got := idx.Selected(); got != "2024-05-01" {
		t.Errorf("refresh moved the selection to %q", got)
	}
	if !idx.Marks()["2024-05-01"].Selected {
		t.Error("selection flag dropped on refresh")
	}
}

func TestSelectSameDateIsIdempotent(t *testing.T) {
	idx := NewIndex()
	idx.Select("2024-05-02")
	idx.Select("2024-05-02")

	if got := idx.Selected(); got != "2024-05-02" {
		t.Fatalf("selected = %q", got)
	}
	if !idx.Marks()["2024-05-02"].Selected {
		t.Error("mark lost on reselect")
	}
}

func TestExportGate(t *testing.T) {
	idx := NewIndex()
	idx.Select("2024-05-02")
	if idx.HasAttendance("2024-05-02") {
		t.Error("selection alone must not satisfy the export gate")
	}
	idx.ApplyKnownDates([]string{"2024-05-02"})
	if !idx.HasAttendance("2024-05-02") {
		t.Error("submitted date must satisfy the export gate")
	}
}
