package assessment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gkanyanta/school-manager/internal/audit"

	"golang.org/x/sync/errgroup"
)

var (
	ErrNotFound          = errors.New("assessment not found")
	ErrStudentNotFound   = errors.New("student not found")
	ErrSubjectNotFound   = errors.New("subject not found")
	ErrClassNotFound     = errors.New("class not found")
	ErrTermNotFound      = errors.New("term not found")
	ErrInvalidType       = errors.New("invalid assessment type")
	ErrScoreExceedsTotal = errors.New("score exceeds total marks")
	ErrInvalidInput      = errors.New("invalid input")
)

const (
	TypeTest       = "TEST"
	TypeAssignment = "ASSIGNMENT"
	TypeMidterm    = "MIDTERM"
	TypeEndterm    = "ENDTERM"
)

var validTypes = map[string]bool{
	TypeTest:       true,
	TypeAssignment: true,
	TypeMidterm:    true,
	TypeEndterm:    true,
}

// classResultWorkers bounds the per-student fan-out when computing a
// whole class. Each worker holds a DB connection while it loads marks.
const classResultWorkers = 8

type Assessment struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	SubjectID   int64      `json:"subject_id"`
	SubjectName string     `json:"subject_name,omitempty"`
	ClassID     int64      `json:"class_id"`
	ClassName   string     `json:"class_name,omitempty"`
	TermID      int64      `json:"term_id"`
	TotalMarks  float64    `json:"total_marks"`
	Weight      float64    `json:"weight"`
	Date        *time.Time `json:"date,omitempty"`
	MarksCount  int        `json:"marks_count"`
}

type CreateInput struct {
	Name       string
	Type       string
	SubjectID  int64
	ClassID    int64
	TermID     int64
	TotalMarks float64
	Weight     float64
	Date       *time.Time
}

type MarkEntry struct {
	StudentID int64   `json:"student_id"`
	Score     float64 `json:"score"`
	Comment   string  `json:"comment,omitempty"`
}

type BulkMarksResult struct {
	Saved  int      `json:"saved"`
	Errors []string `json:"errors,omitempty"`
}

type Service struct {
	db    *sql.DB
	audit *audit.Service
}

func NewService(db *sql.DB, auditSvc *audit.Service) *Service {
	return &Service{db: db, audit: auditSvc}
}

func (s *Service) Create(ctx context.Context, schoolID int64, in CreateInput, actorID int64) (*Assessment, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || in.TotalMarks <= 0 || in.Weight <= 0 || in.Weight > 100 {
		return nil, ErrInvalidInput
	}
	if !validTypes[in.Type] {
		return nil, ErrInvalidType
	}

	var subjectOK, classOK, termOK bool
	err := s.db.QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM subjects WHERE id = $1 AND school_id = $4),
			EXISTS (SELECT 1 FROM classes WHERE id = $2 AND school_id = $4),
			EXISTS (
				SELECT 1 FROM terms t
				JOIN academic_years y ON y.id = t.academic_year_id
				WHERE t.id = $3 AND y.school_id = $4
			)
	`, in.SubjectID, in.ClassID, in.TermID, schoolID).Scan(&subjectOK, &classOK, &termOK)
	if err != nil {
		return nil, fmt.Errorf("check assessment refs: %w", err)
	}
	if !subjectOK {
		return nil, ErrSubjectNotFound
	}
	if !classOK {
		return nil, ErrClassNotFound
	}
	if !termOK {
		return nil, ErrTermNotFound
	}

	a := Assessment{
		Name:       name,
		Type:       in.Type,
		SubjectID:  in.SubjectID,
		ClassID:    in.ClassID,
		TermID:     in.TermID,
		TotalMarks: in.TotalMarks,
		Weight:     in.Weight,
		Date:       in.Date,
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO assessments (school_id, name, type, subject_id, class_id, term_id, total_marks, weight, assessment_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING id
	`, schoolID, name, in.Type, in.SubjectID, in.ClassID, in.TermID, in.TotalMarks, in.Weight, in.Date).Scan(&a.ID)
	if err != nil {
		return nil, fmt.Errorf("insert assessment: %w", err)
	}

	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "CREATE_ASSESSMENT",
		Entity:   "Assessment",
		EntityID: a.ID,
		After:    a,
		SchoolID: schoolID,
	})
	return &a, nil
}

func (s *Service) Get(ctx context.Context, schoolID, id int64) (*Assessment, error) {
	var a Assessment
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.name, a.type, a.subject_id, sub.name, a.class_id, c.name,
		       a.term_id, a.total_marks, a.weight, a.assessment_date,
		       (SELECT COUNT(*) FROM marks m WHERE m.assessment_id = a.id)
		FROM assessments a
		JOIN subjects sub ON sub.id = a.subject_id
		JOIN classes c ON c.id = a.class_id
		WHERE a.id = $1 AND a.school_id = $2
	`, id, schoolID).Scan(&a.ID, &a.Name, &a.Type, &a.SubjectID, &a.SubjectName, &a.ClassID, &a.ClassName,
		&a.TermID, &a.TotalMarks, &a.Weight, &a.Date, &a.MarksCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load assessment: %w", err)
	}
	return &a, nil
}

func (s *Service) List(ctx context.Context, schoolID, classID, subjectID, termID int64) ([]Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.name, a.type, a.subject_id, sub.name, a.class_id, c.name,
		       a.term_id, a.total_marks, a.weight, a.assessment_date,
		       (SELECT COUNT(*) FROM marks m WHERE m.assessment_id = a.id)
		FROM assessments a
		JOIN subjects sub ON sub.id = a.subject_id
		JOIN classes c ON c.id = a.class_id
		WHERE a.school_id = $1
		  AND ($2 = 0 OR a.class_id = $2)
		  AND ($3 = 0 OR a.subject_id = $3)
		  AND ($4 = 0 OR a.term_id = $4)
		ORDER BY a.assessment_date DESC NULLS LAST, a.id DESC
	`, schoolID, classID, subjectID, termID)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	out := make([]Assessment, 0)
	for rows.Next() {
		var a Assessment
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.SubjectID, &a.SubjectName, &a.ClassID, &a.ClassName,
			&a.TermID, &a.TotalMarks, &a.Weight, &a.Date, &a.MarksCount); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveMarks upserts a batch of marks for one assessment. A score outside
// 0..totalMarks fails the whole batch before anything is written; entries
// for students not enrolled in the class are reported and skipped while
// the rest are saved.
func (s *Service) SaveMarks(ctx context.Context, schoolID, assessmentID int64, entries []MarkEntry, actorID int64) (*BulkMarksResult, error) {
	a, err := s.Get(ctx, schoolID, assessmentID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrInvalidInput
	}
	for _, e := range entries {
		if e.Score < 0 || e.Score > a.TotalMarks {
			return nil, fmt.Errorf("student %d: score %.1f out of range 0..%.1f: %w", e.StudentID, e.Score, a.TotalMarks, ErrScoreExceedsTotal)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res := &BulkMarksResult{}
	for _, e := range entries {
		var enrolled bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM students WHERE id = $1 AND school_id = $2 AND class_id = $3)
		`, e.StudentID, schoolID, a.ClassID).Scan(&enrolled); err != nil {
			return nil, fmt.Errorf("check enrollment: %w", err)
		}
		if !enrolled {
			res.Errors = append(res.Errors, fmt.Sprintf("student %d: not enrolled in class", e.StudentID))
			continue
		}

		var comment any
		if v := strings.TrimSpace(e.Comment); v != "" {
			comment = v
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO marks (assessment_id, student_id, score, comment, recorded_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (assessment_id, student_id)
			DO UPDATE SET score = EXCLUDED.score, comment = EXCLUDED.comment, recorded_by = EXCLUDED.recorded_by, updated_at = now()
		`, assessmentID, e.StudentID, e.Score, comment, actorID); err != nil {
			return nil, fmt.Errorf("upsert mark: %w", err)
		}
		res.Saved++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "SAVE_MARKS",
		Entity:   "Assessment",
		EntityID: assessmentID,
		After:    res,
		SchoolID: schoolID,
	})
	return res, nil
}

func (s *Service) ListMarks(ctx context.Context, schoolID, assessmentID int64) ([]MarkEntry, error) {
	if _, err := s.Get(ctx, schoolID, assessmentID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.student_id, m.score, COALESCE(m.comment, '')
		FROM marks m
		WHERE m.assessment_id = $1
		ORDER BY m.student_id
	`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("query marks: %w", err)
	}
	defer rows.Close()

	out := make([]MarkEntry, 0)
	for rows.Next() {
		var e MarkEntry
		if err := rows.Scan(&e.StudentID, &e.Score, &e.Comment); err != nil {
			return nil, fmt.Errorf("scan mark: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StudentResult aggregates one student's marks for a term.
func (s *Service) StudentResult(ctx context.Context, schoolID, studentID, termID int64) (*StudentResult, error) {
	var (
		name      string
		admission string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT first_name || ' ' || last_name, admission_number
		FROM students
		WHERE id = $1 AND school_id = $2
	`, studentID, schoolID).Scan(&name, &admission)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("load student: %w", err)
	}

	marks, err := s.loadMarkRows(ctx, studentID, termID)
	if err != nil {
		return nil, err
	}

	subjects, overall, grade, remark := AggregateMarks(marks)
	return &StudentResult{
		StudentID:       studentID,
		StudentName:     name,
		AdmissionNumber: admission,
		Subjects:        subjects,
		OverallAverage:  overall,
		OverallGrade:    grade,
		OverallRemark:   remark,
	}, nil
}

// ClassResults repeats the per-student aggregation for every active
// student in the class. No cross-student computation is done; the list
// comes back in student-id order.
func (s *Service) ClassResults(ctx context.Context, schoolID, classID, termID int64) ([]StudentResult, error) {
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
		SELECT id FROM students
		WHERE class_id = $1 AND school_id = $2 AND status = 'ACTIVE'
		ORDER BY id
	`, classID, schoolID)
	if err != nil {
		return nil, fmt.Errorf("query class students: %w", err)
	}
	studentIDs := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan student id: %w", err)
		}
		studentIDs = append(studentIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}

	results := make([]StudentResult, len(studentIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(classResultWorkers)
	for i, id := range studentIDs {
		i, id := i, id
		g.Go(func() error {
			r, err := s.StudentResult(gctx, schoolID, id, termID)
			if err != nil {
				return fmt.Errorf("student %d: %w", id, err)
			}
			results[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) loadMarkRows(ctx context.Context, studentID, termID int64) ([]MarkRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.subject_id, sub.name, a.name, a.type, m.score, a.total_marks, a.weight
		FROM marks m
		JOIN assessments a ON a.id = m.assessment_id
		JOIN subjects sub ON sub.id = a.subject_id
		WHERE m.student_id = $1 AND a.term_id = $2
		ORDER BY sub.name, a.assessment_date NULLS LAST, a.id
	`, studentID, termID)
	if err != nil {
		return nil, fmt.Errorf("query marks: %w", err)
	}
	defer rows.Close()

	out := make([]MarkRow, 0)
	for rows.Next() {
		var m MarkRow
		if err := rows.Scan(&m.SubjectID, &m.SubjectName, &m.Assessment, &m.Type, &m.Score, &m.TotalMarks, &m.Weight); err != nil {
			return nil, fmt.Errorf("scan mark row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
