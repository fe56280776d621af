package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists the faculty registry and the submission journal in
// Postgres. The journal is the durable guard against re-submitting a
// session after a restart.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertFaculty ensures a faculty record exists, refreshing the display
// name when one is provided.
func (r *Repository) UpsertFaculty(ctx context.Context, facultyID, name string) error {
	if facultyID == "" {
		return errors.New("faculty id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO faculty (faculty_id, name)
		VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (faculty_id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), faculty.name)
	`, facultyID, name)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, facultyID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (faculty_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, facultyID, token, expiresAt)
	return err
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

// SubmissionRecord is one journaled submission.
type SubmissionRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	Date         string    `json:"date"`
	BatchID      string    `json:"batchId"`
	CourseID     string    `json:"courseId"`
	CourseName   string    `json:"courseName"`
	FacultyID    string    `json:"facultyId"`
	TotalPresent int       `json:"totalPresent"`
	TotalAbsent  int       `json:"totalAbsent"`
	Degraded     bool      `json:"degraded"`
	Evidence     []string  `json:"evidence,omitempty"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// WasSubmitted reports whether a session already has a journaled
// submission.
func (r *Repository) WasSubmitted(ctx context.Context, sessionID string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM submissions WHERE session_id = $1 LIMIT 1
	`, sessionID)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RecordSubmission journals a successful submission.
func (r *Repository) RecordSubmission(ctx context.Context, rec SubmissionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO submissions (id, session_id, date, batch_id, course_id, course_name, faculty_id, total_present, total_absent, degraded, evidence, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, rec.ID, rec.SessionID, rec.Date, rec.BatchID, rec.CourseID, rec.CourseName, rec.FacultyID,
		rec.TotalPresent, rec.TotalAbsent, rec.Degraded, joinEvidence(rec.Evidence), rec.SubmittedAt)
	return err
}

// ListSubmissions returns journaled submissions with basic filters.
func (r *Repository) ListSubmissions(ctx context.Context, facultyID, batchID string, limit, offset int) ([]SubmissionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, session_id, date, batch_id, course_id, course_name, faculty_id, total_present, total_absent, degraded, submitted_at FROM submissions`
	args := []any{}
	clauses := []string{}
	if facultyID != "" {
		clauses = append(clauses, "faculty_id = $"+itoa(len(args)+1))
		args = append(args, facultyID)
	}
	if batchID != "" {
		clauses = append(clauses, "batch_id = $"+itoa(len(args)+1))
		args = append(args, batchID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY submitted_at DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SubmissionRecord
	for rows.Next() {
		var rec SubmissionRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Date, &rec.BatchID, &rec.CourseID, &rec.CourseName,
			&rec.FacultyID, &rec.TotalPresent, &rec.TotalAbsent, &rec.Degraded, &rec.SubmittedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}

func joinEvidence(urls []string) string {
	return joinClauses(urls, "\n")
}
