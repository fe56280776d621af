package session

import "encoding/json"

// SubmittedEvent announces a completed submission to the worker, which
// refreshes the marked-date cache for the affected batch/course/faculty.
type SubmittedEvent struct {
	SessionID string `json:"sessionId"`
	Date      string `json:"date"`
	BatchID   string `json:"batchId"`
	CourseID  string `json:"courseId,omitempty"`
	FacultyID string `json:"facultyId"`
}

// Marshal encodes the event for the queue.
func (e SubmittedEvent) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// ParseSubmittedEvent decodes a queue message body.
func ParseSubmittedEvent(body []byte) (SubmittedEvent, error) {
	var e SubmittedEvent
	err := json.Unmarshal(body, &e)
	return e, err
}
