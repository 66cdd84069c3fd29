package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrClassNotFound   = errors.New("class not found")
	ErrStudentNotFound = errors.New("student not found")
	ErrInvalidStatus   = errors.New("invalid attendance status")
	ErrInvalidInput    = errors.New("invalid input")
)

const (
	StatusPresent = "PRESENT"
	StatusAbsent  = "ABSENT"
	StatusLate    = "LATE"
)

var validStatuses = map[string]bool{
	StatusPresent: true,
	StatusAbsent:  true,
	StatusLate:    true,
}

type Entry struct {
	StudentID int64  `json:"student_id"`
	Status    string `json:"status"`
	Note      string `json:"note,omitempty"`
}

type SessionResult struct {
	ClassID  int64     `json:"class_id"`
	Date     time.Time `json:"date"`
	Recorded int       `json:"recorded"`
	Errors   []string  `json:"errors,omitempty"`
}

type Summary struct {
	Present int     `json:"present"`
	Absent  int     `json:"absent"`
	Late    int     `json:"late"`
	Total   int     `json:"total"`
	Rate    float64 `json:"rate"`
}

type DaySummary struct {
	Date time.Time `json:"date"`
	Summary
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// RecordSession replaces a class's attendance for one day. Re-submitting
// the same day overwrites the previous register.
func (s *Service) RecordSession(ctx context.Context, schoolID, classID int64, date time.Time, entries []Entry, actorID int64) (*SessionResult, error) {
	if len(entries) == 0 {
		return nil, ErrInvalidInput
	}

	var ok bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM classes WHERE id = $1 AND school_id = $2)
	`, classID, schoolID).Scan(&ok); err != nil {
		return nil, fmt.Errorf("check class: %w", err)
	}
	if !ok {
		return nil, ErrClassNotFound
	}

	day := date.Truncate(24 * time.Hour)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM attendance_records WHERE class_id = $1 AND attendance_date = $2
	`, classID, day); err != nil {
		return nil, fmt.Errorf("clear session: %w", err)
	}

	res := &SessionResult{ClassID: classID, Date: day}
	for _, e := range entries {
		status := strings.ToUpper(strings.TrimSpace(e.Status))
		if !validStatuses[status] {
			res.Errors = append(res.Errors, fmt.Sprintf("student %d: invalid status %q", e.StudentID, e.Status))
			continue
		}

		var enrolled bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM students WHERE id = $1 AND school_id = $2 AND class_id = $3)
		`, e.StudentID, schoolID, classID).Scan(&enrolled); err != nil {
			return nil, fmt.Errorf("check enrollment: %w", err)
		}
		if !enrolled {
			res.Errors = append(res.Errors, fmt.Sprintf("student %d: not enrolled in class", e.StudentID))
			continue
		}

		var note any
		if v := strings.TrimSpace(e.Note); v != "" {
			note = v
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_records (class_id, student_id, attendance_date, status, note, recorded_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
		`, classID, e.StudentID, day, status, note, actorID); err != nil {
			return nil, fmt.Errorf("insert attendance: %w", err)
		}
		res.Recorded++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// Session returns the register recorded for a class and day.
func (s *Service) Session(ctx context.Context, schoolID, classID int64, date time.Time) ([]Entry, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM classes WHERE id = $1 AND school_id = $2)
	`, classID, schoolID).Scan(&ok); err != nil {
		return nil, fmt.Errorf("check class: %w", err)
	}
	if !ok {
		return nil, ErrClassNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT student_id, status, COALESCE(note, '')
		FROM attendance_records
		WHERE class_id = $1 AND attendance_date = $2
		ORDER BY student_id
	`, classID, date.Truncate(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.StudentID, &e.Status, &e.Note); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StudentSummary counts a student's attendance over a date range. The
// rate counts late arrivals as attended.
func (s *Service) StudentSummary(ctx context.Context, schoolID, studentID int64, from, to time.Time) (*Summary, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM students WHERE id = $1 AND school_id = $2)
	`, studentID, schoolID).Scan(&ok); err != nil {
		return nil, fmt.Errorf("check student: %w", err)
	}
	if !ok {
		return nil, ErrStudentNotFound
	}

	var sum Summary
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'PRESENT'),
			COUNT(*) FILTER (WHERE status = 'ABSENT'),
			COUNT(*) FILTER (WHERE status = 'LATE'),
			COUNT(*)
		FROM attendance_records
		WHERE student_id = $1 AND attendance_date BETWEEN $2 AND $3
	`, studentID, from, to).Scan(&sum.Present, &sum.Absent, &sum.Late, &sum.Total)
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}
	sum.Rate = attendanceRate(sum.Present, sum.Late, sum.Total)
	return &sum, nil
}

// ClassTrend returns per-day summaries for a class over a date range.
func (s *Service) ClassTrend(ctx context.Context, schoolID, classID int64, from, to time.Time) ([]DaySummary, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM classes WHERE id = $1 AND school_id = $2)
	`, classID, schoolID).Scan(&ok); err != nil {
		return nil, fmt.Errorf("check class: %w", err)
	}
	if !ok {
		return nil, ErrClassNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			attendance_date,
			COUNT(*) FILTER (WHERE status = 'PRESENT'),
			COUNT(*) FILTER (WHERE status = 'ABSENT'),
			COUNT(*) FILTER (WHERE status = 'LATE'),
			COUNT(*)
		FROM attendance_records
		WHERE class_id = $1 AND attendance_date BETWEEN $2 AND $3
		GROUP BY attendance_date
		ORDER BY attendance_date
	`, classID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query trend: %w", err)
	}
	defer rows.Close()

	out := make([]DaySummary, 0)
	for rows.Next() {
		var d DaySummary
		if err := rows.Scan(&d.Date, &d.Present, &d.Absent, &d.Late, &d.Total); err != nil {
			return nil, fmt.Errorf("scan day: %w", err)
		}
		d.Rate = attendanceRate(d.Present, d.Late, d.Total)
		out = append(out, d)
	}
	return out, rows.Err()
}

func attendanceRate(present, late, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(present+late) / float64(total) * 100
}
