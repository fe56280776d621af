package calendar

// DayMark is the state of one calendar date. HasAttendance is a monotonic
// fact (a submission exists for the active batch/course); Selected is a view
// flag held by at most one date.
type DayMark struct {
	HasAttendance bool `json:"hasAttendance"`
	Selected      bool `json:"selected"`
}

// Index is the sparse marked-date index for one faculty's calendar. Facts
// accumulate across refreshes and are never discarded; selection moves
// without touching them.
type Index struct {
	days     map[string]DayMark
	selected string
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{days: make(map[string]DayMark)}
}

// ApplyKnownDates unions newly learned attendance dates into the index,
// leaving selection flags and unrelated dates untouched.
func (x *Index) ApplyKnownDates(dates []string) {
	for _, d := range dates {
		if d == "" {
			continue
		}
		m := x.days[d]
		m.HasAttendance = true
		x.days[d] = m
	}
}

// Select highlights date, clearing the flag from any other date. Attendance
// facts are not touched.
func (x *Index) Select(date string) {
	if x.selected == date {
		return
	}
	if prev, ok := x.days[x.selected]; ok {
		prev.Selected = false
		if !prev.HasAttendance {
			delete(x.days, x.selected)
		} else {
			x.days[x.selected] = prev
		}
	}
	x.selected = date
	if date == "" {
		return
	}
	m := x.days[date]
	m.Selected = true
	x.days[date] = m
}

// Selected returns the currently highlighted date, if any.
func (x *Index) Selected() string { return x.selected }

// HasAttendance reports whether a submission is known to exist for date.
// Used to gate the export action.
func (x *Index) HasAttendance(date string) bool {
	return x.days[date].HasAttendance
}

// Marks returns a copy of the index for rendering.
func (x *Index) Marks() map[string]DayMark {
	out := make(map[string]DayMark, len(x.days))
	for d, m := range x.days {
		out[d] = m
	}
	return out
}
