package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gkanyanta/school-manager/internal/assessment"
)

var ErrClassNotFound = errors.New("class not found")

// resultsSource supplies ranked class results for exports.
type resultsSource interface {
	ClassResults(ctx context.Context, schoolID, classID, termID int64) ([]assessment.StudentResult, error)
}

type Service struct {
	db      *sql.DB
	results resultsSource
}

func NewService(db *sql.DB, results resultsSource) *Service {
	return &Service{db: db, results: results}
}

type GradeEnrollment struct {
	GradeID  int64  `json:"grade_id"`
	Grade    string `json:"grade"`
	Level    int    `json:"level"`
	Classes  int    `json:"classes"`
	Active   int    `json:"active"`
	Students int    `json:"students"`
}

type EnrollmentReport struct {
	Total     int               `json:"total"`
	Active    int               `json:"active"`
	Left      int               `json:"left"`
	Graduated int               `json:"graduated"`
	Suspended int               `json:"suspended"`
	ByGrade   []GradeEnrollment `json:"by_grade"`
}

func (s *Service) Enrollment(ctx context.Context, schoolID int64) (*EnrollmentReport, error) {
	rep := &EnrollmentReport{ByGrade: make([]GradeEnrollment, 0)}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'ACTIVE'),
			COUNT(*) FILTER (WHERE status = 'LEFT'),
			COUNT(*) FILTER (WHERE status = 'GRADUATED'),
			COUNT(*) FILTER (WHERE status = 'SUSPENDED')
		FROM students
		WHERE school_id = $1
	`, schoolID).Scan(&rep.Total, &rep.Active, &rep.Left, &rep.Graduated, &rep.Suspended)
	if err != nil {
		return nil, fmt.Errorf("count students: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.level,
		       (SELECT COUNT(*) FROM classes c WHERE c.grade_id = g.id),
		       (SELECT COUNT(*) FROM students st JOIN classes c ON c.id = st.class_id
		        WHERE c.grade_id = g.id AND st.status = 'ACTIVE'),
		       (SELECT COUNT(*) FROM students st JOIN classes c ON c.id = st.class_id
		        WHERE c.grade_id = g.id)
		FROM grades g
		WHERE g.school_id = $1
		ORDER BY g.level
	`, schoolID)
	if err != nil {
		return nil, fmt.Errorf("query grades: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ge GradeEnrollment
		if err := rows.Scan(&ge.GradeID, &ge.Grade, &ge.Level, &ge.Classes, &ge.Active, &ge.Students); err != nil {
			return nil, fmt.Errorf("scan grade: %w", err)
		}
		rep.ByGrade = append(rep.ByGrade, ge)
	}
	return rep, rows.Err()
}

type SubjectPerformance struct {
	SubjectID   int64   `json:"subject_id"`
	Subject     string  `json:"subject"`
	Assessments int     `json:"assessments"`
	Marks       int     `json:"marks"`
	Average     float64 `json:"average_percent"`
	Highest     float64 `json:"highest_percent"`
	Lowest      float64 `json:"lowest_percent"`
}

// ClassPerformance averages raw mark percentages per subject for one
// class and term. It is a teaching-quality view, not the weighted
// roll-up used on report cards.
func (s *Service) ClassPerformance(ctx context.Context, schoolID, classID, termID int64) ([]SubjectPerformance, error) {
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
		SELECT sub.id, sub.name,
		       COUNT(DISTINCT a.id),
		       COUNT(m.id),
		       COALESCE(AVG(m.score / a.total_marks * 100), 0),
		       COALESCE(MAX(m.score / a.total_marks * 100), 0),
		       COALESCE(MIN(m.score / a.total_marks * 100), 0)
		FROM assessments a
		JOIN subjects sub ON sub.id = a.subject_id
		LEFT JOIN marks m ON m.assessment_id = a.id
		WHERE a.class_id = $1 AND a.term_id = $2
		GROUP BY sub.id, sub.name
		ORDER BY sub.name
	`, classID, termID)
	if err != nil {
		return nil, fmt.Errorf("query performance: %w", err)
	}
	defer rows.Close()

	out := make([]SubjectPerformance, 0)
	for rows.Next() {
		var p SubjectPerformance
		if err := rows.Scan(&p.SubjectID, &p.Subject, &p.Assessments, &p.Marks, &p.Average, &p.Highest, &p.Lowest); err != nil {
			return nil, fmt.Errorf("scan performance: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type ClassAttendance struct {
	ClassID int64   `json:"class_id"`
	Class   string  `json:"class"`
	Present int     `json:"present"`
	Absent  int     `json:"absent"`
	Late    int     `json:"late"`
	Total   int     `json:"total"`
	Rate    float64 `json:"rate"`
}

// AttendanceOverview summarizes attendance per class over a date range.
// Late arrivals count as attended, matching the per-student summaries.
func (s *Service) AttendanceOverview(ctx context.Context, schoolID int64, from, to time.Time) ([]ClassAttendance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name,
		       COUNT(ar.id) FILTER (WHERE ar.status = 'PRESENT'),
		       COUNT(ar.id) FILTER (WHERE ar.status = 'ABSENT'),
		       COUNT(ar.id) FILTER (WHERE ar.status = 'LATE'),
		       COUNT(ar.id)
		FROM classes c
		LEFT JOIN attendance_records ar
		       ON ar.class_id = c.id AND ar.attendance_date BETWEEN $2 AND $3
		WHERE c.school_id = $1
		GROUP BY c.id, c.name
		ORDER BY c.name
	`, schoolID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query attendance overview: %w", err)
	}
	defer rows.Close()

	out := make([]ClassAttendance, 0)
	for rows.Next() {
		var ca ClassAttendance
		if err := rows.Scan(&ca.ClassID, &ca.Class, &ca.Present, &ca.Absent, &ca.Late, &ca.Total); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		if ca.Total > 0 {
			ca.Rate = float64(ca.Present+ca.Late) / float64(ca.Total) * 100
		}
		out = append(out, ca)
	}
	return out, rows.Err()
}

type GradeCollection struct {
	GradeID     int64   `json:"grade_id"`
	Grade       string  `json:"grade"`
	Invoices    int     `json:"invoices"`
	Invoiced    float64 `json:"invoiced"`
	Collected   float64 `json:"collected"`
	Outstanding float64 `json:"outstanding"`
	Rate        float64 `json:"rate"`
}

type FeeCollectionReport struct {
	Invoiced    float64           `json:"invoiced"`
	Collected   float64           `json:"collected"`
	Outstanding float64           `json:"outstanding"`
	Rate        float64           `json:"rate"`
	ByGrade     []GradeCollection `json:"by_grade"`
}

// FeeCollection breaks billing and receipts down by grade for a term.
// Cancelled invoices are excluded.
func (s *Service) FeeCollection(ctx context.Context, schoolID, termID int64) (*FeeCollectionReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name,
		       COUNT(i.id),
		       COALESCE(SUM(i.total_amount), 0),
		       COALESCE(SUM(p.paid), 0)
		FROM grades g
		LEFT JOIN classes c ON c.grade_id = g.id
		LEFT JOIN students st ON st.class_id = c.id
		LEFT JOIN invoices i ON i.student_id = st.id
		       AND i.term_id = $2 AND i.status <> 'CANCELLED'
		LEFT JOIN (
			SELECT invoice_id, SUM(amount) AS paid FROM payments GROUP BY invoice_id
		) p ON p.invoice_id = i.id
		WHERE g.school_id = $1
		GROUP BY g.id, g.name
		ORDER BY g.name
	`, schoolID, termID)
	if err != nil {
		return nil, fmt.Errorf("query fee collection: %w", err)
	}
	defer rows.Close()

	rep := &FeeCollectionReport{ByGrade: make([]GradeCollection, 0)}
	for rows.Next() {
		var gc GradeCollection
		if err := rows.Scan(&gc.GradeID, &gc.Grade, &gc.Invoices, &gc.Invoiced, &gc.Collected); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		gc.Outstanding = gc.Invoiced - gc.Collected
		if gc.Invoiced > 0 {
			gc.Rate = gc.Collected / gc.Invoiced * 100
		}
		rep.Invoiced += gc.Invoiced
		rep.Collected += gc.Collected
		rep.ByGrade = append(rep.ByGrade, gc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rep.Outstanding = rep.Invoiced - rep.Collected
	if rep.Invoiced > 0 {
		rep.Rate = rep.Collected / rep.Invoiced * 100
	}
	return rep, nil
}
