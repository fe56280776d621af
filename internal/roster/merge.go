package roster

import (
	"fmt"
	"sort"
)

// VerifyStatus wraps the nested {status} objects in the verification
// response.
type VerifyStatus struct {
	Status bool `json:"status"`
}

// VerifyStudent is the per-student detail returned by the verification
// service. Extra fields in the response are ignored.
type VerifyStudent struct {
	RollNo          string       `json:"rollNo"`
	Name            string       `json:"name"`
	IsPresent       bool         `json:"isPresent"`
	RFIDCheckIn     VerifyStatus `json:"rfidCheckIn"`
	FaceRecognition VerifyStatus `json:"faceRecognition"`
	PossibleProxy   bool         `json:"possibleProxy"`
}

// VerifyOutput is the precomputed partition the verification service may
// include. Entries are "<rollNo>_<name>" tokens.
type VerifyOutput struct {
	Present []string `json:"present"`
	Absent  []string `json:"absent"`
}

// VerifyResult is the verification response consumed by the merge.
type VerifyResult struct {
	Students map[string]VerifyStudent `json:"students"`
	Output   *VerifyOutput            `json:"output,omitempty"`
}

func (r VerifyResult) signal(s VerifyStudent) Signal {
	return Signal{
		FaceRecognized:  s.FaceRecognition.Status,
		CheckInRecorded: s.RFIDCheckIn.Status,
		PossibleProxy:   s.PossibleProxy,
	}
}

// Merge builds the base record set from a verification result.
//
// When the response carries precomputed output lists those are the
// authoritative partition; otherwise the partition is derived from each
// student's isPresent flag, in ascending roll order. A roll number appearing
// in both lists is an upstream contract violation: the last-seen placement
// wins and a warning is returned instead of failing the session.
func Merge(res VerifyResult) (*Set, []string) {
	set := newSet()
	var warnings []string

	if res.Output != nil {
		lists := []struct {
			tokens  []string
			present bool
		}{
			{res.Output.Present, true},
			{res.Output.Absent, false},
		}
		for _, l := range lists {
			for _, token := range l.tokens {
				id := ParseToken(token)
				if id.RollNo == "" {
					warnings = append(warnings, fmt.Sprintf("verification output entry %q has no roll number", token))
					continue
				}
				rec := Record{Identity: id}
				if s, ok := res.Students[id.RollNo]; ok {
					if s.Name != "" {
						rec.Name = s.Name
					}
					rec.Signal = res.signal(s)
				}
				if dup := set.place(rec, l.present); dup {
					warnings = append(warnings, fmt.Sprintf("roll %s listed more than once in verification output; keeping last placement", id.RollNo))
				}
			}
		}
		// Students the output lists missed still get a record.
		for _, rollNo := range sortedRolls(res.Students) {
			if _, ok := set.Lookup(rollNo); ok {
				continue
			}
			s := res.Students[rollNo]
			set.place(studentRecord(rollNo, s, res), s.IsPresent)
		}
		return set, warnings
	}

	for _, rollNo := range sortedRolls(res.Students) {
		s := res.Students[rollNo]
		set.place(studentRecord(rollNo, s, res), s.IsPresent)
	}
	return set, warnings
}

// MergeFallback builds a degraded record set from the raw recognition output
// alone, for when the verification call failed. Every recognized student is
// present with an empty check-in signal; there is no absent partition.
func MergeFallback(recognized []string) *Set {
	set := newSet()
	for _, token := range recognized {
		id := ParseToken(token)
		if id.RollNo == "" {
			continue
		}
		set.place(Record{
			Identity: id,
			Signal:   Signal{FaceRecognized: true},
		}, true)
	}
	return set
}

func studentRecord(rollNo string, s VerifyStudent, res VerifyResult) Record {
	return Record{
		Identity: Identity{RollNo: rollNo, Name: s.Name},
		Signal:   res.signal(s),
	}
}

func sortedRolls(students map[string]VerifyStudent) []string {
	rolls := make([]string, 0, len(students))
	for r := range students {
		rolls = append(rolls, r)
	}
	sort.Strings(rolls)
	return rolls
}
