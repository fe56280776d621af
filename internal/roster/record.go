package roster

import "strings"

// Identity names a student. RollNo is the unique key across all attendance
// structures; Name is informational and may be empty.
type Identity struct {
	RollNo string `json:"rollNo"`
	Name   string `json:"name"`
}

// Token renders the wire form used by the recognition and verification
// services: "<rollNo>_<name>".
func (id Identity) Token() string {
	return id.RollNo + "_" + id.Name
}

// ParseToken splits a "<rollNo>_<name>" token. The name keeps any further
// underscores; a token without one yields an empty name.
func ParseToken(token string) Identity {
	parts := strings.SplitN(token, "_", 2)
	id := Identity{RollNo: parts[0]}
	if len(parts) == 2 {
		id.Name = parts[1]
	}
	return id
}

// Signal holds the per-student presence facets returned by the verification
// service. PossibleProxy is computed upstream and treated as authoritative;
// it is never recomputed here.
type Signal struct {
	FaceRecognized  bool `json:"faceRecognized"`
	CheckInRecorded bool `json:"checkInRecorded"`
	PossibleProxy   bool `json:"possibleProxy"`
}

// Record is one student's reconciled base state for a session. Records are
// immutable once the merge produces them; edits live in the Ledger.
type Record struct {
	Identity
	BasePresent bool
	Signal      Signal
}

// Set is the per-session record collection, partitioned into the base
// present/absent lists. One record per roll number.
type Set struct {
	present []Record
	absent  []Record
	byRoll  map[string]Record
}

// Len reports the number of records.
func (s *Set) Len() int { return len(s.present) + len(s.absent) }

// Lookup returns the record for a roll number.
func (s *Set) Lookup(rollNo string) (Record, bool) {
	r, ok := s.byRoll[rollNo]
	return r, ok
}

// BasePresent returns the base present partition in merge order.
func (s *Set) BasePresent() []Record { return s.present }

// BaseAbsent returns the base absent partition in merge order.
func (s *Set) BaseAbsent() []Record { return s.absent }

func newSet() *Set {
	return &Set{byRoll: make(map[string]Record)}
}

// place appends rec to the requested partition, evicting any earlier
// placement of the same roll number (last-seen wins). It reports whether an
// earlier placement existed.
func (s *Set) place(rec Record, present bool) bool {
	_, seen := s.byRoll[rec.RollNo]
	if seen {
		s.present = remove(s.present, rec.RollNo)
		s.absent = remove(s.absent, rec.RollNo)
	}
	rec.BasePresent = present
	s.byRoll[rec.RollNo] = rec
	if present {
		s.present = append(s.present, rec)
	} else {
		s.absent = append(s.absent, rec)
	}
	return seen
}

func remove(recs []Record, rollNo string) []Record {
	for i := range recs {
		if recs[i].RollNo == rollNo {
			return append(recs[:i], recs[i+1:]...)
		}
	}
	return recs
}
