package academic

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrYearNotFound    = errors.New("academic year not found")
	ErrTermNotFound    = errors.New("term not found")
	ErrGradeNotFound   = errors.New("grade not found")
	ErrClassNotFound   = errors.New("class not found")
	ErrSubjectNotFound = errors.New("subject not found")
	ErrDuplicate       = errors.New("duplicate entry")
	ErrInvalidInput    = errors.New("invalid input")
)

type AcademicYear struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsCurrent bool      `json:"is_current"`
}

type Term struct {
	ID        int64     `json:"id"`
	YearID    int64     `json:"academic_year_id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsCurrent bool      `json:"is_current"`
}

type Grade struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Level int    `json:"level"`
}

type Class struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	GradeID     int64   `json:"grade_id"`
	GradeName   string  `json:"grade_name,omitempty"`
	TeacherID   *int64  `json:"class_teacher_id,omitempty"`
	TeacherName *string `json:"class_teacher_name,omitempty"`
	Students    int     `json:"student_count"`
}

type Subject struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

type Assignment struct {
	ID          int64  `json:"id"`
	ClassID     int64  `json:"class_id"`
	SubjectID   int64  `json:"subject_id"`
	TeacherID   int64  `json:"teacher_id"`
	ClassName   string `json:"class_name,omitempty"`
	SubjectName string `json:"subject_name,omitempty"`
	TeacherName string `json:"teacher_name,omitempty"`
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) CreateYear(ctx context.Context, schoolID int64, name string, start, end time.Time) (*AcademicYear, error) {
	name = strings.TrimSpace(name)
	if name == "" || !end.After(start) {
		return nil, ErrInvalidInput
	}

	y := AcademicYear{Name: name, StartDate: start, EndDate: end}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO academic_years (school_id, name, start_date, end_date, is_current, created_at)
		VALUES ($1, $2, $3, $4, FALSE, now())
		RETURNING id
	`, schoolID, name, start, end).Scan(&y.ID)
	if err != nil {
		return nil, fmt.Errorf("insert academic year: %w", err)
	}
	return &y, nil
}

func (s *Service) ListYears(ctx context.Context, schoolID int64) ([]AcademicYear, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, start_date, end_date, is_current
		FROM academic_years
		WHERE school_id = $1
		ORDER BY start_date DESC
	`, schoolID)
	if err != nil {
		return nil, fmt.Errorf("query academic years: %w", err)
	}
	defer rows.Close()

	out := make([]AcademicYear, 0)
	for rows.Next() {
		var y AcademicYear
		if err := rows.Scan(&y.ID, &y.Name, &y.StartDate, &y.EndDate, &y.IsCurrent); err != nil {
			return nil, fmt.Errorf("scan academic year: %w", err)
		}
		out = append(out, y)
	}
	return out, rows.Err()
}

// SetCurrentYear marks one year current and clears the flag from every
// other year of the same school, in one transaction.
func (s *Service) SetCurrentYear(ctx context.Context, schoolID, yearID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE academic_years SET is_current = TRUE WHERE id = $1 AND school_id = $2
	`, yearID, schoolID)
	if err != nil {
		return fmt.Errorf("set current year: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrYearNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE academic_years SET is_current = FALSE WHERE school_id = $1 AND id <> $2
	`, schoolID, yearID); err != nil {
		return fmt.Errorf("clear current years: %w", err)
	}
	return tx.Commit()
}

func (s *Service) CreateTerm(ctx context.Context, schoolID, yearID int64, name string, start, end time.Time) (*Term, error) {
	name = strings.TrimSpace(name)
	if name == "" || !end.After(start) {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM academic_years WHERE id = $1 AND school_id = $2)
	`, yearID, schoolID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check year: %w", err)
	}
	if !exists {
		return nil, ErrYearNotFound
	}

	t := Term{YearID: yearID, Name: name, StartDate: start, EndDate: end}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO terms (academic_year_id, name, start_date, end_date, is_current, created_at)
		VALUES ($1, $2, $3, $4, FALSE, now())
		RETURNING id
	`, yearID, name, start, end).Scan(&t.ID)
	if err != nil {
		return nil, fmt.Errorf("insert term: %w", err)
	}
	return &t, nil
}

func (s *Service) ListTerms(ctx context.Context, schoolID, yearID int64) ([]Term, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.academic_year_id, t.name, t.start_date, t.end_date, t.is_current
		FROM terms t
		JOIN academic_years y ON y.id = t.academic_year_id
		WHERE y.school_id = $1 AND ($2 = 0 OR t.academic_year_id = $2)
		ORDER BY t.start_date
	`, schoolID, yearID)
	if err != nil {
		return nil, fmt.Errorf("query terms: %w", err)
	}
	defer rows.Close()

	out := make([]Term, 0)
	for rows.Next() {
		var t Term
		if err := rows.Scan(&t.ID, &t.YearID, &t.Name, &t.StartDate, &t.EndDate, &t.IsCurrent); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetCurrentTerm makes a term the school's single current term. The
// term's year becomes current as well.
func (s *Service) SetCurrentTerm(ctx context.Context, schoolID, termID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var yearID int64
	err = tx.QueryRowContext(ctx, `
		SELECT t.academic_year_id
		FROM terms t
		JOIN academic_years y ON y.id = t.academic_year_id
		WHERE t.id = $1 AND y.school_id = $2
	`, termID, schoolID).Scan(&yearID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTermNotFound
		}
		return fmt.Errorf("load term: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE terms SET is_current = FALSE
		WHERE academic_year_id IN (SELECT id FROM academic_years WHERE school_id = $1)
	`, schoolID); err != nil {
		return fmt.Errorf("clear current terms: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE terms SET is_current = TRUE WHERE id = $1
	`, termID); err != nil {
		return fmt.Errorf("set current term: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE academic_years SET is_current = (id = $2) WHERE school_id = $1
	`, schoolID, yearID); err != nil {
		return fmt.Errorf("set current year: %w", err)
	}
	return tx.Commit()
}

// CurrentTerm returns the school's current term, or ErrTermNotFound when
// none has been marked current yet.
func (s *Service) CurrentTerm(ctx context.Context, schoolID int64) (*Term, error) {
	var t Term
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.academic_year_id, t.name, t.start_date, t.end_date, t.is_current
		FROM terms t
		JOIN academic_years y ON y.id = t.academic_year_id
		WHERE y.school_id = $1 AND t.is_current
	`, schoolID).Scan(&t.ID, &t.YearID, &t.Name, &t.StartDate, &t.EndDate, &t.IsCurrent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTermNotFound
		}
		return nil, fmt.Errorf("load current term: %w", err)
	}
	return &t, nil
}

func (s *Service) CreateGrade(ctx context.Context, schoolID int64, name string, level int) (*Grade, error) {
	name = strings.TrimSpace(name)
	if name == "" || level <= 0 {
		return nil, ErrInvalidInput
	}

	g := Grade{Name: name, Level: level}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO grades (school_id, name, level, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (school_id, level) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, schoolID, name, level).Scan(&g.ID)
	if err != nil {
		return nil, fmt.Errorf("upsert grade: %w", err)
	}
	return &g, nil
}

func (s *Service) ListGrades(ctx context.Context, schoolID int64) ([]Grade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, level FROM grades WHERE school_id = $1 ORDER BY level
	`, schoolID)
	if err != nil {
		return nil, fmt.Errorf("query grades: %w", err)
	}
	defer rows.Close()

	out := make([]Grade, 0)
	for rows.Next() {
		var g Grade
		if err := rows.Scan(&g.ID, &g.Name, &g.Level); err != nil {
			return nil, fmt.Errorf("scan grade: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Service) CreateClass(ctx context.Context, schoolID, gradeID int64, name string, teacherID *int64) (*Class, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM grades WHERE id = $1 AND school_id = $2)
	`, gradeID, schoolID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check grade: %w", err)
	}
	if !exists {
		return nil, ErrGradeNotFound
	}

	c := Class{Name: name, GradeID: gradeID, TeacherID: teacherID}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO classes (school_id, grade_id, name, class_teacher_id, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id
	`, schoolID, gradeID, name, teacherID).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("insert class: %w", err)
	}
	return &c, nil
}

func (s *Service) ListClasses(ctx context.Context, schoolID, gradeID int64) ([]Class, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			c.id, c.name, c.grade_id, g.name,
			c.class_teacher_id,
			u.first_name || ' ' || u.last_name,
			(SELECT COUNT(*) FROM students st WHERE st.class_id = c.id AND st.status = 'ACTIVE')
		FROM classes c
		JOIN grades g ON g.id = c.grade_id
		LEFT JOIN users u ON u.id = c.class_teacher_id
		WHERE c.school_id = $1 AND ($2 = 0 OR c.grade_id = $2)
		ORDER BY g.level, c.name
	`, schoolID, gradeID)
	if err != nil {
		return nil, fmt.Errorf("query classes: %w", err)
	}
	defer rows.Close()

	out := make([]Class, 0)
	for rows.Next() {
		var c Class
		if err := rows.Scan(&c.ID, &c.Name, &c.GradeID, &c.GradeName, &c.TeacherID, &c.TeacherName, &c.Students); err != nil {
			return nil, fmt.Errorf("scan class: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Service) CreateSubject(ctx context.Context, schoolID int64, name, code string) (*Subject, error) {
	name = strings.TrimSpace(name)
	code = strings.ToUpper(strings.TrimSpace(code))
	if name == "" || code == "" {
		return nil, ErrInvalidInput
	}

	sub := Subject{Name: name, Code: code}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO subjects (school_id, name, code, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (school_id, code) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, schoolID, name, code).Scan(&sub.ID)
	if err != nil {
		return nil, fmt.Errorf("upsert subject: %w", err)
	}
	return &sub, nil
}

func (s *Service) ListSubjects(ctx context.Context, schoolID int64) ([]Subject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, code FROM subjects WHERE school_id = $1 ORDER BY name
	`, schoolID)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	out := make([]Subject, 0)
	for rows.Next() {
		var sub Subject
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Code); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// AssignTeacher links a teacher to a class and subject. Re-assigning the
// same class/subject pair replaces the teacher.
func (s *Service) AssignTeacher(ctx context.Context, schoolID, classID, subjectID, teacherID int64) (*Assignment, error) {
	if classID <= 0 || subjectID <= 0 || teacherID <= 0 {
		return nil, ErrInvalidInput
	}

	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM classes WHERE id = $1 AND school_id = $4)
		   AND EXISTS (SELECT 1 FROM subjects WHERE id = $2 AND school_id = $4)
		   AND EXISTS (SELECT 1 FROM users WHERE id = $3 AND school_id = $4 AND role = 'TEACHER' AND is_active)
	`, classID, subjectID, teacherID, schoolID).Scan(&ok)
	if err != nil {
		return nil, fmt.Errorf("check assignment refs: %w", err)
	}
	if !ok {
		return nil, ErrInvalidInput
	}

	a := Assignment{ClassID: classID, SubjectID: subjectID, TeacherID: teacherID}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO teacher_assignments (class_id, subject_id, teacher_id, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (class_id, subject_id) DO UPDATE SET teacher_id = EXCLUDED.teacher_id
		RETURNING id
	`, classID, subjectID, teacherID).Scan(&a.ID)
	if err != nil {
		return nil, fmt.Errorf("upsert assignment: %w", err)
	}
	return &a, nil
}

func (s *Service) ListAssignments(ctx context.Context, schoolID, classID int64) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			a.id, a.class_id, a.subject_id, a.teacher_id,
			c.name, sub.name,
			u.first_name || ' ' || u.last_name
		FROM teacher_assignments a
		JOIN classes c ON c.id = a.class_id
		JOIN subjects sub ON sub.id = a.subject_id
		JOIN users u ON u.id = a.teacher_id
		WHERE c.school_id = $1 AND ($2 = 0 OR a.class_id = $2)
		ORDER BY c.name, sub.name
	`, schoolID, classID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	out := make([]Assignment, 0)
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.ClassID, &a.SubjectID, &a.TeacherID, &a.ClassName, &a.SubjectName, &a.TeacherName); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
