package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"rollcall/internal/attendclient"
	"rollcall/internal/queue"
	"rollcall/internal/recognizeclient"
	"rollcall/internal/roster"
)

// fakeBackend stands in for the attendance API and the recognition service.
type fakeBackend struct {
	mu           sync.Mutex
	scheduleDay  string
	verifyStatus int
	submitStatus int
	recogStatus  int
	recogPresent []string
	markedDates  []string
	submissions  []attendclient.Submission
}

func newBackend() *fakeBackend {
	return &fakeBackend{
		scheduleDay:  "Monday",
		verifyStatus: http.StatusOK,
		submitStatus: http.StatusOK,
		recogStatus:  http.StatusOK,
		recogPresent: []string{"101_Alice", "102_Bob"},
	}
}

func (b *fakeBackend) set(fn func(*fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBackend) verifyResult() roster.VerifyResult {
	return roster.VerifyResult{
		Students: map[string]roster.VerifyStudent{
			"101": {
				RollNo: "101", Name: "Alice", IsPresent: true,
				RFIDCheckIn:     roster.VerifyStatus{Status: true},
				FaceRecognition: roster.VerifyStatus{Status: true},
			},
			"102": {RollNo: "102", Name: "Bob"},
		},
		Output: &roster.VerifyOutput{
			Present: []string{"101_Alice"},
			Absent:  []string{"102_Bob"},
		},
	}
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/schedule/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		day := b.scheduleDay
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"schedule": map[string][]attendclient.ScheduleSlot{
				"CSE-A": {{Day: day, Start: "09:00", End: "10:00"}},
			},
		})
	})
	mux.HandleFunc("/attendance/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-1"})
	})
	mux.HandleFunc("/attendance/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/results") {
			http.NotFound(w, r)
			return
		}
		b.mu.Lock()
		status := b.submitStatus
		b.mu.Unlock()
		if status != http.StatusOK {
			http.Error(w, "upstream failure", status)
			return
		}
		var sub attendclient.Submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.submissions = append(b.submissions, sub)
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/attendance/verify", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		status := b.verifyStatus
		b.mu.Unlock()
		if status != http.StatusOK {
			http.Error(w, "verification unavailable", status)
			return
		}
		json.NewEncoder(w).Encode(b.verifyResult())
	})
	mux.HandleFunc("/attendance/marked-dates", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		dates := b.markedDates
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string][]string{"markedDates": dates})
	})
	return mux
}

func (b *fakeBackend) recognize(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	status := b.recogStatus
	present := b.recogPresent
	b.mu.Unlock()
	if status != http.StatusOK {
		http.Error(w, "no faces", status)
		return
	}
	json.NewEncoder(w).Encode(recognizeclient.Result{
		Present:       present,
		TotalDetected: len(present),
	})
}

type fixture struct {
	backend *fakeBackend
	ctrl    *Controller
	events  <-chan queue.Message
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := newBackend()
	apiSrv := httptest.NewServer(b.handler())
	t.Cleanup(apiSrv.Close)
	recogSrv := httptest.NewServer(http.HandlerFunc(b.recognize))
	t.Cleanup(recogSrv.Close)

	q := queue.NewInMemory(8)
	events, err := q.Consume(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	ctrl := NewController(attendclient.New(apiSrv.URL), recognizeclient.New(recogSrv.URL, false), nil, q, nil)
	return &fixture{backend: b, ctrl: ctrl, events: events}
}

func openReq() OpenRequest {
	return OpenRequest{
		FacultyID:   "fac-1",
		FacultyName: "Dr. Rao",
		Date:        "2024-05-06", // a Monday
		BatchID:     "CSE-A",
		CourseID:    "CS101",
		CourseName:  "Algorithms",
	}
}

func testImages() []recognizeclient.Image {
	return []recognizeclient.Image{{Filename: "frame0.jpg", Data: []byte("jpeg-bytes")}}
}

func (f *fixture) openAndProcess(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.ctrl.Open(ctx, openReq()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.ctrl.Process(ctx, "fac-1", testImages(), nil); err != nil {
		t.Fatalf("process: %v", err)
	}
}

func TestOpenRequiresScheduledClass(t *testing.T) {
	f := newFixture(t)
	f.backend.set(func(b *fakeBackend) { b.scheduleDay = "Friday" })

	_, err := f.ctrl.Open(context.Background(), openReq())
	if !errors.Is(err, ErrNoScheduledClass) {
		t.Fatalf("err = %v, want ErrNoScheduledClass", err)
	}
	if _, open := f.ctrl.Current("fac-1"); open {
		t.Error("refused open must not leave a session behind")
	}
}

func TestOpenValidatesRequest(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct {
		name string
		mut  func(*OpenRequest)
	}{
		{"missing faculty", func(r *OpenRequest) { r.FacultyID = "" }},
		{"missing date", func(r *OpenRequest) { r.Date = "" }},
		{"missing batch", func(r *OpenRequest) { r.BatchID = "" }},
		{"malformed date", func(r *OpenRequest) { r.Date = "06-05-2024" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := openReq()
			tc.mut(&req)
			if _, err := f.ctrl.Open(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestOpenRefusesSecondSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ctrl.Open(ctx, openReq()); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := f.ctrl.Open(ctx, openReq()); !errors.Is(err, ErrSessionOpen) {
		t.Fatalf("second open err = %v, want ErrSessionOpen", err)
	}
}

func TestProcessBuildsRoster(t *testing.T) {
	f := newFixture(t)
	f.openAndProcess(t)

	s, ok := f.ctrl.Current("fac-1")
	if !ok || s.State() != StateReconciled {
		t.Fatalf("session state = %v, want StateReconciled", s.State())
	}
	view, err := f.ctrl.Roster("fac-1")
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if view.Degraded {
		t.Error("full verification must not report degraded")
	}
	if view.Summary.TotalPresent != 1 || view.Summary.TotalAbsent != 1 {
		t.Fatalf("totals = %d/%d", view.Summary.TotalPresent, view.Summary.TotalAbsent)
	}
	if got := view.Summary.Present[0].Token(); got != "101_Alice" {
		t.Errorf("present[0] = %q", got)
	}
	if !view.Summary.Present[0].Signal.CheckInRecorded {
		t.Error("check-in signal lost in the merge")
	}

	// A second process run without a reset is refused.
	if err := f.ctrl.Process(context.Background(), "fac-1", testImages(), nil); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("reprocess err = %v, want ErrAlreadyProcessed", err)
	}
}

func TestProcessVerifyFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.backend.set(func(b *fakeBackend) { b.verifyStatus = http.StatusInternalServerError })
	f.openAndProcess(t)

	view, err := f.ctrl.Roster("fac-1")
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if !view.Degraded {
		t.Fatal("verification outage must mark the roster degraded")
	}
	if view.Summary.TotalPresent != 2 || view.Summary.TotalAbsent != 0 {
		t.Fatalf("degraded totals = %d/%d, want every recognized student present",
			view.Summary.TotalPresent, view.Summary.TotalAbsent)
	}
	for _, e := range view.Summary.Present {
		if !e.Signal.FaceRecognized || e.Signal.CheckInRecorded || e.Signal.PossibleProxy {
			t.Errorf("%s signal = %+v, want face only", e.RollNo, e.Signal)
		}
	}
}

func TestProcessRecognitionFailureReverts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ctrl.Open(ctx, openReq()); err != nil {
		t.Fatalf("open: %v", err)
	}
	f.backend.set(func(b *fakeBackend) { b.recogStatus = http.StatusInternalServerError })

	if err := f.ctrl.Process(ctx, "fac-1", testImages(), nil); err == nil {
		t.Fatal("expected recognition failure")
	}
	s, ok := f.ctrl.Current("fac-1")
	if !ok || s.State() != StateCreated {
		t.Fatalf("state = %v, want StateCreated for a retry", s.State())
	}

	// The same session processes cleanly once the service recovers.
	f.backend.set(func(b *fakeBackend) { b.recogStatus = http.StatusOK })
	if err := f.ctrl.Process(ctx, "fac-1", testImages(), nil); err != nil {
		t.Fatalf("retry process: %v", err)
	}
}

func TestToggleBeforeProcessRefused(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ctrl.Open(context.Background(), openReq()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.ctrl.Toggle("fac-1", "101", ""); !errors.Is(err, ErrNotReconciled) {
		t.Fatalf("err = %v, want ErrNotReconciled", err)
	}
}

func TestToggleThenSubmit(t *testing.T) {
	f := newFixture(t)
	f.openAndProcess(t)

	if err := f.ctrl.Toggle("fac-1", "101", ""); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	sub, err := f.ctrl.Submit(context.Background(), "fac-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.TotalPresent != 0 || sub.TotalAbsent != 2 {
		t.Fatalf("submitted totals = %d/%d", sub.TotalPresent, sub.TotalAbsent)
	}

	f.backend.mu.Lock()
	received := f.backend.submissions
	f.backend.mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("backend saw %d submissions", len(received))
	}
	got := received[0]
	if len(got.PresentStudents) != 0 || len(got.AbsentStudents) != 2 {
		t.Fatalf("payload lists = %d/%d", len(got.PresentStudents), len(got.AbsentStudents))
	}
	if got.AbsentStudents[0].RollNo != "102" || got.AbsentStudents[1].RollNo != "101" {
		t.Errorf("absent order = %s,%s; toggled students append after the base list",
			got.AbsentStudents[0].RollNo, got.AbsentStudents[1].RollNo)
	}
	if got.AbsentStudents[1].VerificationData == nil {
		t.Error("verification detail dropped from the toggled student")
	}

	// The session is gone and the date is now a known attendance fact.
	if _, open := f.ctrl.Current("fac-1"); open {
		t.Error("submitted session must be discarded")
	}
	if _, err := f.ctrl.ExportURL("fac-1", "2024-05-06", "CSE-A", "CS101"); err != nil {
		t.Errorf("export after submit: %v", err)
	}

	select {
	case msg := <-f.events:
		evt, err := ParseSubmittedEvent(msg.Body)
		if err != nil {
			t.Fatalf("parse event: %v", err)
		}
		if evt.SessionID != "sess-1" || evt.Date != "2024-05-06" {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Error("no submitted event published")
	}
}

func TestSubmitFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.openAndProcess(t)
	f.backend.set(func(b *fakeBackend) { b.submitStatus = http.StatusBadGateway })

	if _, err := f.ctrl.Submit(context.Background(), "fac-1"); err == nil {
		t.Fatal("expected submit failure")
	}
	s, ok := f.ctrl.Current("fac-1")
	if !ok || s.State() != StateReconciled {
		t.Fatal("failed submit must keep the session intact for a retry")
	}

	f.backend.set(func(b *fakeBackend) { b.submitStatus = http.StatusOK })
	if _, err := f.ctrl.Submit(context.Background(), "fac-1"); err != nil {
		t.Fatalf("retry submit: %v", err)
	}
}

func TestSubmitWithoutSession(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ctrl.Submit(context.Background(), "fac-1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestResetDiscardsSession(t *testing.T) {
	f := newFixture(t)
	f.openAndProcess(t)

	if err := f.ctrl.Toggle("fac-1", "101", ""); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := f.ctrl.Reset("fac-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := f.ctrl.Roster("fac-1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("roster after reset err = %v, want ErrNoSession", err)
	}

	// A fresh session starts clean, edits from the old one gone.
	f.openAndProcess(t)
	view, err := f.ctrl.Roster("fac-1")
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if view.Summary.Present[0].Edited {
		t.Error("edits leaked across a reset")
	}
}

func TestExportGatedOnAttendance(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ctrl.ExportURL("fac-1", "2024-05-06", "CSE-A", "CS101"); !errors.Is(err, ErrNoAttendance) {
		t.Fatalf("err = %v, want ErrNoAttendance", err)
	}
}

func TestCalendarRefreshAndSelect(t *testing.T) {
	f := newFixture(t)
	f.backend.set(func(b *fakeBackend) { b.markedDates = []string{"2024-04-29", "2024-05-06"} })

	view := f.ctrl.Calendar(context.Background(), "fac-1", "CSE-A", "CS101", "2024-05-06")
	if view.Selected != "2024-05-06" || !view.HasAttendance {
		t.Fatalf("view = %+v", view)
	}
	if !view.Marks["2024-04-29"].HasAttendance {
		t.Error("fetched date missing from the index")
	}

	// Facts survive an upstream outage on the next refresh.
	f.backend.set(func(b *fakeBackend) { b.markedDates = nil })
	view = f.ctrl.Calendar(context.Background(), "fac-1", "CSE-A", "CS101", "")
	if !view.Marks["2024-04-29"].HasAttendance {
		t.Error("attendance fact lost on refresh")
	}
}
