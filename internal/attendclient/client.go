package attendclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"rollcall/internal/roster"
)

// ScheduleSlot is one scheduled class period for a weekday.
type ScheduleSlot struct {
	Day   string `json:"day"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// SubmittedStudent is one roster entry in the submission payload.
type SubmittedStudent struct {
	RollNo           string                `json:"rollNo"`
	Name             string                `json:"name"`
	VerificationData *roster.VerifyStudent `json:"verificationData,omitempty"`
}

// Submission is the final commit payload for a session.
type Submission struct {
	Date             string                          `json:"date"`
	CourseID         string                          `json:"courseId"`
	CourseName       string                          `json:"courseName"`
	BatchID          string                          `json:"batchId"`
	FacultyID        string                          `json:"facultyId"`
	FacultyName      string                          `json:"facultyName"`
	StartTime        time.Time                       `json:"startTime"`
	EndTime          time.Time                       `json:"endTime"`
	PresentStudents  []SubmittedStudent              `json:"presentStudents"`
	AbsentStudents   []SubmittedStudent              `json:"absentStudents"`
	TotalPresent     int                             `json:"totalPresent"`
	TotalAbsent      int                             `json:"totalAbsent"`
	VerificationData map[string]roster.VerifyStudent `json:"verificationData"`
}

// Client calls the attendance API (sessions, verification, marked dates,
// schedule, export).
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateSession starts an attendance session and returns its id.
func (c *Client) CreateSession(ctx context.Context, date, batchID string) (string, error) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	err := c.post(ctx, "/attendance/sessions", map[string]string{
		"date":    date,
		"batchId": batchID,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("attendance api returned no session id")
	}
	return out.SessionID, nil
}

// Verify cross-checks recognized students against check-in records.
func (c *Client) Verify(ctx context.Context, date, batchID, courseID string, recognized []string) (roster.VerifyResult, error) {
	if recognized == nil {
		recognized = []string{}
	}
	body := map[string]any{
		"date":               date,
		"batch":              batchID,
		"recognizedStudents": recognized,
	}
	if courseID != "" {
		body["courseId"] = courseID
	}
	var out roster.VerifyResult
	if err := c.post(ctx, "/attendance/verify", body, &out); err != nil {
		return roster.VerifyResult{}, err
	}
	return out, nil
}

// SubmitResults persists the final roster for a session.
func (c *Client) SubmitResults(ctx context.Context, sessionID string, sub Submission) error {
	path := "/attendance/sessions/" + url.PathEscape(sessionID) + "/results"
	return c.post(ctx, path, sub, nil)
}

// MarkedDates returns the dates with existing attendance for a batch and
// faculty, optionally filtered by course.
func (c *Client) MarkedDates(ctx context.Context, batchID, facultyID, courseID string) ([]string, error) {
	q := url.Values{}
	q.Set("batch", batchID)
	q.Set("facultyId", facultyID)
	if courseID != "" {
		q.Set("courseId", courseID)
	}
	var out struct {
		MarkedDates []string `json:"markedDates"`
	}
	if err := c.get(ctx, "/attendance/marked-dates?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.MarkedDates, nil
}

// Schedule returns the faculty's weekly slots per batch.
func (c *Client) Schedule(ctx context.Context, facultyID string) (map[string][]ScheduleSlot, error) {
	var out struct {
		Schedule map[string][]ScheduleSlot `json:"schedule"`
	}
	if err := c.get(ctx, "/schedule/"+url.PathEscape(facultyID), &out); err != nil {
		return nil, err
	}
	return out.Schedule, nil
}

// ExportURL builds the spreadsheet export link for a submitted date.
func (c *Client) ExportURL(date, batchID, courseID string) string {
	q := url.Values{}
	q.Set("date", date)
	q.Set("batch", batchID)
	if courseID != "" {
		q.Set("courseId", courseID)
	}
	return c.BaseURL + "/attendance/export?" + q.Encode()
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("attendance api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("attendance api error %s: %s", resp.Status, string(bodyBytes))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
