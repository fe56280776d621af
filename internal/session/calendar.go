package session

import (
	"context"
	"log"

	"rollcall/internal/calendar"
)

// CalendarView is the rendered marked-date index for a faculty.
type CalendarView struct {
	Marks         map[string]calendar.DayMark `json:"marks"`
	Selected      string                      `json:"selected,omitempty"`
	HasAttendance bool                        `json:"hasAttendance"`
}

// Calendar refreshes the faculty's marked-date index from the cache or the
// attendance API, applies the optional date selection, and returns the view.
// An unreachable upstream is logged, not fatal: the index keeps every fact it
// already has.
func (c *Controller) Calendar(ctx context.Context, facultyID, batchID, courseID, selectDate string) CalendarView {
	dates, ok := c.cachedDates(ctx, batchID, courseID, facultyID)
	if !ok {
		var err error
		dates, err = c.api.MarkedDates(ctx, batchID, facultyID, courseID)
		if err != nil {
			log.Printf("marked dates fetch failed for faculty %s: %v", facultyID, err)
		} else if c.cache != nil {
			if err := c.cache.Put(ctx, batchID, courseID, facultyID, dates); err != nil {
				log.Printf("marked dates cache write failed: %v", err)
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.marksIndex(facultyID)
	idx.ApplyKnownDates(dates)
	if selectDate != "" {
		idx.Select(selectDate)
	}
	return CalendarView{
		Marks:         idx.Marks(),
		Selected:      idx.Selected(),
		HasAttendance: idx.HasAttendance(idx.Selected()),
	}
}

// ExportURL returns the spreadsheet export link for date, gated on the date
// actually having a submission.
func (c *Controller) ExportURL(facultyID, date, batchID, courseID string) (string, error) {
	c.mu.Lock()
	has := c.marksIndex(facultyID).HasAttendance(date)
	c.mu.Unlock()
	if !has {
		return "", ErrNoAttendance
	}
	return c.api.ExportURL(date, batchID, courseID), nil
}

func (c *Controller) cachedDates(ctx context.Context, batchID, courseID, facultyID string) ([]string, bool) {
	if c.cache == nil {
		return nil, false
	}
	dates, ok, err := c.cache.Get(ctx, batchID, courseID, facultyID)
	if err != nil {
		log.Printf("marked dates cache read failed: %v", err)
		return nil, false
	}
	return dates, ok
}
