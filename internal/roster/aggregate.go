package roster

// RosterEntry is one student's effective state, annotated for display.
type RosterEntry struct {
	Identity
	Present bool   `json:"present"`
	Edited  bool   `json:"edited"`
	Signal  Signal `json:"signal"`
}

// Summary is the effective roster derived from the base records and the
// ledger. TotalPresent+TotalAbsent always equals the record count: every
// student lands in exactly one list.
type Summary struct {
	Present      []RosterEntry `json:"present"`
	Absent       []RosterEntry `json:"absent"`
	TotalPresent int           `json:"totalPresent"`
	TotalAbsent  int           `json:"totalAbsent"`
}

// Aggregate recomputes the effective partition from scratch. Students keep
// their base-partition order; toggled students are appended to the end of
// the list they moved into. Ledger entries without a matching record are
// ignored, so phantom rolls never enter the totals.
func Aggregate(set *Set, ledger *Ledger) Summary {
	var (
		present, movedPresent []RosterEntry
		absent, movedAbsent   []RosterEntry
	)

	for _, rec := range set.BasePresent() {
		e := entry(rec, ledger)
		if e.Present {
			present = append(present, e)
		} else {
			movedAbsent = append(movedAbsent, e)
		}
	}
	for _, rec := range set.BaseAbsent() {
		e := entry(rec, ledger)
		if e.Present {
			movedPresent = append(movedPresent, e)
		} else {
			absent = append(absent, e)
		}
	}

	present = append(present, movedPresent...)
	absent = append(absent, movedAbsent...)
	return Summary{
		Present:      present,
		Absent:       absent,
		TotalPresent: len(present),
		TotalAbsent:  len(absent),
	}
}

func entry(rec Record, ledger *Ledger) RosterEntry {
	return RosterEntry{
		Identity: rec.Identity,
		Present:  ledger.EffectiveStatus(rec.RollNo, rec.BasePresent),
		Edited:   ledger.IsEdited(rec.RollNo),
		Signal:   rec.Signal,
	}
}
