package roster

// Entry records one student's corrected status. The entry holds the current
// intended status, not a toggle history.
type Entry struct {
	RollNo  string
	Name    string
	Present bool
}

// Ledger collects user corrections on top of the base partition, keyed by
// roll number. Entries are flipped in place and never removed within a
// session: a student toggled back to their base status stays marked as
// edited.
type Ledger struct {
	entries map[string]*Entry
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*Entry)}
}

// Toggle flips a student's intended status. currentEffective is the status
// as currently shown (base plus any prior override); a first toggle records
// its negation, later toggles flip the existing entry.
func (l *Ledger) Toggle(rollNo, nameFallback string, currentEffective bool) {
	if e, ok := l.entries[rollNo]; ok {
		e.Present = !e.Present
		return
	}
	l.entries[rollNo] = &Entry{
		RollNo:  rollNo,
		Name:    nameFallback,
		Present: !currentEffective,
	}
}

// IsEdited reports whether the student has been toggled at least once,
// regardless of the entry's current value.
func (l *Ledger) IsEdited(rollNo string) bool {
	_, ok := l.entries[rollNo]
	return ok
}

// EffectiveStatus returns the override value when one exists, else the base
// status.
func (l *Ledger) EffectiveStatus(rollNo string, basePresent bool) bool {
	if e, ok := l.entries[rollNo]; ok {
		return e.Present
	}
	return basePresent
}

// Len reports how many students have been touched.
func (l *Ledger) Len() int { return len(l.entries) }
