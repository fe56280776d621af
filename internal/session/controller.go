package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"rollcall/internal/attendclient"
	"rollcall/internal/calendar"
	"rollcall/internal/journal"
	"rollcall/internal/queue"
	"rollcall/internal/recognizeclient"
	"rollcall/internal/roster"
	"rollcall/internal/store"
)

var (
	// ErrInvalidRequest marks caller mistakes (missing fields, bad date).
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNoScheduledClass blocks opening a session for a date without class
	// slots. Precondition, not a failure.
	ErrNoScheduledClass = errors.New("no classes scheduled for this date")
	// ErrSessionOpen is returned when a faculty already has an open session.
	ErrSessionOpen = errors.New("a session is already open")
	// ErrNoSession is returned for actions that need an open session.
	ErrNoSession = errors.New("no open session")
	// ErrBusy is returned while a process or submit call is in flight.
	ErrBusy = errors.New("operation already in progress")
	// ErrAlreadyProcessed refuses a second process run; reset first.
	ErrAlreadyProcessed = errors.New("session already processed")
	// ErrNotReconciled is returned for roster actions before processing.
	ErrNotReconciled = errors.New("session has no results yet")
	// ErrAlreadySubmitted rejects a stale re-submission of a session.
	ErrAlreadySubmitted = errors.New("session already submitted")
	// ErrNoAttendance gates the export action on a marked date.
	ErrNoAttendance = errors.New("no attendance recorded for this date")
)

// State is the lifecycle position of an open session.
type State int

const (
	// StateCreated: session exists upstream, no images processed yet.
	StateCreated State = iota + 1
	// StateProcessing: recognition/verification call in flight.
	StateProcessing
	// StateReconciled: base partition built; edits and submit allowed.
	StateReconciled
)

// Session is one faculty's open attendance capture.
type Session struct {
	ID          string
	Date        string
	BatchID     string
	CourseID    string
	CourseName  string
	FacultyID   string
	FacultyName string
	StartedAt   time.Time
	Evidence    []string

	state        State
	records      *roster.Set
	ledger       *roster.Ledger
	verification map[string]roster.VerifyStudent
	degraded     bool
	warnings     []string
	submitting   bool
}

// Controller owns the session state machine and the per-faculty marked-date
// indexes. At most one session is open per faculty; all transitions are
// guarded so duplicate requests refuse instead of doubling network calls.
type Controller struct {
	api     *attendclient.Client
	recog   *recognizeclient.Client
	journal *journal.Repository // optional
	queue   queue.Queue         // optional
	cache   *store.MarkCache    // optional

	mu       sync.Mutex
	sessions map[string]*Session
	marks    map[string]*calendar.Index
}

// NewController wires the controller. journal, q and cache may be nil.
func NewController(api *attendclient.Client, recog *recognizeclient.Client, j *journal.Repository, q queue.Queue, cache *store.MarkCache) *Controller {
	return &Controller{
		api:      api,
		recog:    recog,
		journal:  j,
		queue:    q,
		cache:    cache,
		sessions: make(map[string]*Session),
		marks:    make(map[string]*calendar.Index),
	}
}

// OpenRequest carries the fields needed to start a capture session.
type OpenRequest struct {
	FacultyID   string
	FacultyName string
	Date        string
	BatchID     string
	CourseID    string
	CourseName  string
}

// Open checks the schedule precondition, creates the upstream session and
// registers it. No session is kept when the upstream call fails.
func (c *Controller) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	if req.FacultyID == "" || req.Date == "" || req.BatchID == "" {
		return nil, fmt.Errorf("%w: faculty, date and batch required", ErrInvalidRequest)
	}

	c.mu.Lock()
	if _, open := c.sessions[req.FacultyID]; open {
		c.mu.Unlock()
		return nil, ErrSessionOpen
	}
	c.mu.Unlock()

	slots, err := c.scheduledSlots(ctx, req.FacultyID, req.BatchID, req.Date)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, ErrNoScheduledClass
	}

	sessionID, err := c.api.CreateSession(ctx, req.Date, req.BatchID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s := &Session{
		ID:          sessionID,
		Date:        req.Date,
		BatchID:     req.BatchID,
		CourseID:    req.CourseID,
		CourseName:  req.CourseName,
		FacultyID:   req.FacultyID,
		FacultyName: req.FacultyName,
		StartedAt:   time.Now().UTC(),
		state:       StateCreated,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, open := c.sessions[req.FacultyID]; open {
		// A concurrent open won the race; refuse rather than replace.
		return nil, ErrSessionOpen
	}
	c.sessions[req.FacultyID] = s
	sessionsOpened.Inc()
	return s, nil
}

// Process runs recognition and verification over the captured images and
// builds the base partition. A failed recognition returns the session to the
// captured state for a retry; a failed verification degrades to recognition
// output alone and never fails the call.
func (c *Controller) Process(ctx context.Context, facultyID string, images []recognizeclient.Image, evidence []string) error {
	if len(images) == 0 {
		return fmt.Errorf("%w: at least one image required", ErrInvalidRequest)
	}

	c.mu.Lock()
	s, ok := c.sessions[facultyID]
	if !ok {
		c.mu.Unlock()
		return ErrNoSession
	}
	switch s.state {
	case StateProcessing:
		c.mu.Unlock()
		return ErrBusy
	case StateReconciled:
		c.mu.Unlock()
		return ErrAlreadyProcessed
	}
	s.state = StateProcessing
	s.Evidence = append(s.Evidence, evidence...)
	c.mu.Unlock()

	rec, err := c.recog.Recognize(ctx, images)
	if err != nil {
		c.revertToCreated(facultyID, s)
		return fmt.Errorf("recognition failed: %w", err)
	}

	var (
		set          *roster.Set
		warnings     []string
		verification map[string]roster.VerifyStudent
		degraded     bool
	)
	verifyRes, err := c.api.Verify(ctx, s.Date, s.BatchID, s.CourseID, rec.Present)
	if err != nil {
		log.Printf("verification failed for session %s, falling back to recognition output: %v", s.ID, err)
		set = roster.MergeFallback(rec.Present)
		degraded = true
		verifyFallbacks.Inc()
	} else {
		set, warnings = roster.Merge(verifyRes)
		verification = verifyRes.Students
		for _, w := range warnings {
			log.Printf("session %s: %s", s.ID, w)
			mergeConflicts.Inc()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[facultyID] != s {
		// Session was reset while the calls were in flight; drop the result.
		return ErrNoSession
	}
	s.records = set
	s.ledger = roster.NewLedger()
	s.verification = verification
	s.degraded = degraded
	s.warnings = warnings
	s.state = StateReconciled
	return nil
}

// Toggle flips a student's effective status in the override ledger.
func (c *Controller) Toggle(facultyID, rollNo, nameFallback string) error {
	if rollNo == "" {
		return fmt.Errorf("%w: roll number required", ErrInvalidRequest)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[facultyID]
	if !ok {
		return ErrNoSession
	}
	if s.state != StateReconciled {
		return ErrNotReconciled
	}
	base := false
	name := nameFallback
	if rec, found := s.records.Lookup(rollNo); found {
		base = rec.BasePresent
		if rec.Name != "" {
			name = rec.Name
		}
	}
	s.ledger.Toggle(rollNo, name, s.ledger.EffectiveStatus(rollNo, base))
	return nil
}

// RosterView is the effective roster of an open session.
type RosterView struct {
	SessionID string         `json:"sessionId"`
	Date      string         `json:"date"`
	BatchID   string         `json:"batchId"`
	CourseID  string         `json:"courseId,omitempty"`
	Degraded  bool           `json:"degraded"`
	Warnings  []string       `json:"warnings,omitempty"`
	Summary   roster.Summary `json:"summary"`
}

// Roster re-derives the effective partition from the base records and the
// current ledger.
func (c *Controller) Roster(facultyID string) (RosterView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[facultyID]
	if !ok {
		return RosterView{}, ErrNoSession
	}
	if s.state != StateReconciled {
		return RosterView{}, ErrNotReconciled
	}
	return RosterView{
		SessionID: s.ID,
		Date:      s.Date,
		BatchID:   s.BatchID,
		CourseID:  s.CourseID,
		Degraded:  s.degraded,
		Warnings:  s.warnings,
		Summary:   roster.Aggregate(s.records, s.ledger),
	}, nil
}

// Submit commits the session roster as it stands right now, including every
// pending edit. On success the session is discarded and the faculty's
// marked-date index learns the date; on failure everything stays intact so
// the same session can be retried.
func (c *Controller) Submit(ctx context.Context, facultyID string) (attendclient.Submission, error) {
	c.mu.Lock()
	s, ok := c.sessions[facultyID]
	if !ok {
		c.mu.Unlock()
		return attendclient.Submission{}, ErrNoSession
	}
	if s.state != StateReconciled {
		c.mu.Unlock()
		return attendclient.Submission{}, ErrNotReconciled
	}
	if s.submitting {
		c.mu.Unlock()
		return attendclient.Submission{}, ErrBusy
	}
	s.submitting = true
	sub := buildSubmission(s, roster.Aggregate(s.records, s.ledger))
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		s.submitting = false
		c.mu.Unlock()
	}

	if c.journal != nil {
		done, err := c.journal.WasSubmitted(ctx, s.ID)
		if err != nil {
			log.Printf("journal lookup failed for session %s: %v", s.ID, err)
		} else if done {
			release()
			submissions.WithLabelValues("stale").Inc()
			return attendclient.Submission{}, ErrAlreadySubmitted
		}
	}

	if err := c.api.SubmitResults(ctx, s.ID, sub); err != nil {
		release()
		submissions.WithLabelValues("failed").Inc()
		return attendclient.Submission{}, fmt.Errorf("submit results: %w", err)
	}

	if c.journal != nil {
		if err := c.journal.RecordSubmission(ctx, journal.SubmissionRecord{
			SessionID:    s.ID,
			Date:         s.Date,
			BatchID:      s.BatchID,
			CourseID:     s.CourseID,
			CourseName:   s.CourseName,
			FacultyID:    s.FacultyID,
			TotalPresent: sub.TotalPresent,
			TotalAbsent:  sub.TotalAbsent,
			Degraded:     s.degraded,
			Evidence:     s.Evidence,
		}); err != nil {
			log.Printf("journal write failed for session %s: %v", s.ID, err)
		}
	}
	if c.queue != nil {
		evt := SubmittedEvent{
			SessionID: s.ID,
			Date:      s.Date,
			BatchID:   s.BatchID,
			CourseID:  s.CourseID,
			FacultyID: s.FacultyID,
		}
		if err := c.queue.Publish(ctx, queue.Message{Type: queue.TypeSubmitted, Body: evt.Marshal()}); err != nil {
			log.Printf("queue publish failed for session %s: %v", s.ID, err)
		}
	}

	c.mu.Lock()
	delete(c.sessions, facultyID)
	c.marksIndex(facultyID).ApplyKnownDates([]string{s.Date})
	c.mu.Unlock()
	submissions.WithLabelValues("ok").Inc()
	return sub, nil
}

// Reset discards the open session along with its records and ledger.
func (c *Controller) Reset(facultyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[facultyID]
	if !ok {
		return ErrNoSession
	}
	if s.state == StateProcessing || s.submitting {
		return ErrBusy
	}
	delete(c.sessions, facultyID)
	return nil
}

// Current returns the open session, if any.
func (c *Controller) Current(facultyID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[facultyID]
	return s, ok
}

// State reports the session's lifecycle position.
func (s *Session) State() State { return s.state }

func (c *Controller) revertToCreated(facultyID string, s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[facultyID] == s {
		s.state = StateCreated
	}
}

func (c *Controller) marksIndex(facultyID string) *calendar.Index {
	idx, ok := c.marks[facultyID]
	if !ok {
		idx = calendar.NewIndex()
		c.marks[facultyID] = idx
	}
	return idx
}

func (c *Controller) scheduledSlots(ctx context.Context, facultyID, batchID, date string) ([]attendclient.ScheduleSlot, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q", ErrInvalidRequest, date)
	}
	schedule, err := c.api.Schedule(ctx, facultyID)
	if err != nil {
		return nil, fmt.Errorf("fetch schedule: %w", err)
	}
	weekday := day.Weekday().String()
	var slots []attendclient.ScheduleSlot
	for _, slot := range schedule[batchID] {
		if slot.Day == weekday {
			slots = append(slots, slot)
		}
	}
	return slots, nil
}

func buildSubmission(s *Session, summary roster.Summary) attendclient.Submission {
	sub := attendclient.Submission{
		Date:             s.Date,
		CourseID:         s.CourseID,
		CourseName:       s.CourseName,
		BatchID:          s.BatchID,
		FacultyID:        s.FacultyID,
		FacultyName:      s.FacultyName,
		StartTime:        s.StartedAt,
		EndTime:          time.Now().UTC(),
		PresentStudents:  []attendclient.SubmittedStudent{},
		AbsentStudents:   []attendclient.SubmittedStudent{},
		TotalPresent:     summary.TotalPresent,
		TotalAbsent:      summary.TotalAbsent,
		VerificationData: s.verification,
	}
	for _, e := range summary.Present {
		sub.PresentStudents = append(sub.PresentStudents, submittedStudent(e, s.verification))
	}
	for _, e := range summary.Absent {
		sub.AbsentStudents = append(sub.AbsentStudents, submittedStudent(e, s.verification))
	}
	return sub
}

func submittedStudent(e roster.RosterEntry, verification map[string]roster.VerifyStudent) attendclient.SubmittedStudent {
	out := attendclient.SubmittedStudent{RollNo: e.RollNo, Name: e.Name}
	if v, ok := verification[e.RollNo]; ok {
		out.VerificationData = &v
	}
	return out
}
