package student

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gkanyanta/school-manager/internal/audit"
)

var (
	ErrNotFound        = errors.New("student not found")
	ErrClassNotFound   = errors.New("class not found")
	ErrAdmissionExists = errors.New("admission number already exists")
	ErrGuardianInvalid = errors.New("guardian must be an active parent account")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidStatus   = errors.New("invalid student status")
)

const (
	StatusActive    = "ACTIVE"
	StatusLeft      = "LEFT"
	StatusGraduated = "GRADUATED"
	StatusSuspended = "SUSPENDED"
)

var validStatuses = map[string]bool{
	StatusActive:    true,
	StatusLeft:      true,
	StatusGraduated: true,
	StatusSuspended: true,
}

type Student struct {
	ID              int64      `json:"id"`
	AdmissionNumber string     `json:"admission_number"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Gender          *string    `json:"gender,omitempty"`
	DateOfBirth     *time.Time `json:"date_of_birth,omitempty"`
	ClassID         *int64     `json:"class_id,omitempty"`
	ClassName       *string    `json:"class_name,omitempty"`
	Status          string     `json:"status"`
	Guardians       []Guardian `json:"guardians,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type Guardian struct {
	UserID       int64   `json:"user_id"`
	Name         string  `json:"name"`
	Phone        *string `json:"phone,omitempty"`
	Email        string  `json:"email"`
	Relationship string  `json:"relationship"`
}

type CreateInput struct {
	AdmissionNumber string
	FirstName       string
	LastName        string
	Gender          string
	DateOfBirth     *time.Time
	ClassID         *int64
}

type UpdateInput struct {
	FirstName   string
	LastName    string
	Gender      string
	DateOfBirth *time.Time
	ClassID     *int64
	Status      string
}

type ListFilter struct {
	Query   string
	ClassID int64
	Status  string
	Limit   int
	Offset  int
}

type Page struct {
	Items []Student `json:"items"`
	Total int       `json:"total"`
}

type Service struct {
	db    *sql.DB
	audit *audit.Service
}

func NewService(db *sql.DB, auditSvc *audit.Service) *Service {
	return &Service{db: db, audit: auditSvc}
}

// Create registers a student. An empty admission number is generated from
// the school code, the current year and a per-school sequence.
func (s *Service) Create(ctx context.Context, schoolID int64, in CreateInput, actorID int64) (*Student, error) {
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return nil, ErrInvalidInput
	}
	if in.ClassID != nil {
		var ok bool
		if err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM classes WHERE id = $1 AND school_id = $2)
		`, *in.ClassID, schoolID).Scan(&ok); err != nil {
			return nil, fmt.Errorf("check class: %w", err)
		}
		if !ok {
			return nil, ErrClassNotFound
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	admission := strings.ToUpper(strings.TrimSpace(in.AdmissionNumber))
	if admission == "" {
		var code string
		var seq int64
		err := tx.QueryRowContext(ctx, `
			UPDATE schools SET admission_counter = admission_counter + 1
			WHERE id = $1
			RETURNING code, admission_counter
		`, schoolID).Scan(&code, &seq)
		if err != nil {
			return nil, fmt.Errorf("next admission number: %w", err)
		}
		admission = fmt.Sprintf("%s-%d-%04d", code, time.Now().Year(), seq)
	} else {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM students WHERE school_id = $1 AND admission_number = $2)
		`, schoolID, admission).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check admission number: %w", err)
		}
		if exists {
			return nil, ErrAdmissionExists
		}
	}

	st := Student{
		AdmissionNumber: admission,
		FirstName:       first,
		LastName:        last,
		DateOfBirth:     in.DateOfBirth,
		ClassID:         in.ClassID,
		Status:          StatusActive,
	}
	if g := strings.TrimSpace(in.Gender); g != "" {
		st.Gender = &g
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO students (school_id, admission_number, first_name, last_name, gender, date_of_birth, class_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING id, created_at
	`, schoolID, admission, first, last, st.Gender, in.DateOfBirth, in.ClassID, StatusActive).Scan(&st.ID, &st.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert student: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "CREATE_STUDENT",
		Entity:   "Student",
		EntityID: st.ID,
		After:    st,
		SchoolID: schoolID,
	})
	return &st, nil
}

func (s *Service) Get(ctx context.Context, schoolID, id int64) (*Student, error) {
	var st Student
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.admission_number, s.first_name, s.last_name, s.gender, s.date_of_birth,
		       s.class_id, c.name, s.status, s.created_at
		FROM students s
		LEFT JOIN classes c ON c.id = s.class_id
		WHERE s.id = $1 AND s.school_id = $2
	`, id, schoolID).Scan(&st.ID, &st.AdmissionNumber, &st.FirstName, &st.LastName, &st.Gender,
		&st.DateOfBirth, &st.ClassID, &st.ClassName, &st.Status, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load student: %w", err)
	}

	guardians, err := s.guardians(ctx, id)
	if err != nil {
		return nil, err
	}
	st.Guardians = guardians
	return &st, nil
}

func (s *Service) List(ctx context.Context, schoolID int64, f ListFilter) (*Page, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, ErrInvalidStatus
	}

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM students s
		WHERE s.school_id = $1
		  AND ($2 = 0 OR s.class_id = $2)
		  AND ($3 = '' OR s.status = $3)
		  AND ($4 = '' OR s.first_name ILIKE '%' || $4 || '%' OR s.last_name ILIKE '%' || $4 || '%' OR s.admission_number ILIKE '%' || $4 || '%')
	`, schoolID, f.ClassID, f.Status, strings.TrimSpace(f.Query)).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count students: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.admission_number, s.first_name, s.last_name, s.gender, s.date_of_birth,
		       s.class_id, c.name, s.status, s.created_at
		FROM students s
		LEFT JOIN classes c ON c.id = s.class_id
		WHERE s.school_id = $1
		  AND ($2 = 0 OR s.class_id = $2)
		  AND ($3 = '' OR s.status = $3)
		  AND ($4 = '' OR s.first_name ILIKE '%' || $4 || '%' OR s.last_name ILIKE '%' || $4 || '%' OR s.admission_number ILIKE '%' || $4 || '%')
		ORDER BY s.last_name, s.first_name
		LIMIT $5 OFFSET $6
	`, schoolID, f.ClassID, f.Status, strings.TrimSpace(f.Query), f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	items := make([]Student, 0)
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.AdmissionNumber, &st.FirstName, &st.LastName, &st.Gender,
			&st.DateOfBirth, &st.ClassID, &st.ClassName, &st.Status, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		items = append(items, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return &Page{Items: items, Total: total}, nil
}

func (s *Service) Update(ctx context.Context, schoolID, id int64, in UpdateInput, actorID int64) (*Student, error) {
	before, err := s.Get(ctx, schoolID, id)
	if err != nil {
		return nil, err
	}
	if in.Status != "" && !validStatuses[in.Status] {
		return nil, ErrInvalidStatus
	}
	if in.ClassID != nil {
		var ok bool
		if err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM classes WHERE id = $1 AND school_id = $2)
		`, *in.ClassID, schoolID).Scan(&ok); err != nil {
			return nil, fmt.Errorf("check class: %w", err)
		}
		if !ok {
			return nil, ErrClassNotFound
		}
	}

	st := *before
	st.Guardians = nil
	if v := strings.TrimSpace(in.FirstName); v != "" {
		st.FirstName = v
	}
	if v := strings.TrimSpace(in.LastName); v != "" {
		st.LastName = v
	}
	if v := strings.TrimSpace(in.Gender); v != "" {
		st.Gender = &v
	}
	if in.DateOfBirth != nil {
		st.DateOfBirth = in.DateOfBirth
	}
	if in.ClassID != nil {
		st.ClassID = in.ClassID
		st.ClassName = nil
	}
	if in.Status != "" {
		st.Status = in.Status
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE students
		SET first_name = $2, last_name = $3, gender = $4, date_of_birth = $5, class_id = $6, status = $7, updated_at = now()
		WHERE id = $1
	`, id, st.FirstName, st.LastName, st.Gender, st.DateOfBirth, st.ClassID, st.Status); err != nil {
		return nil, fmt.Errorf("update student: %w", err)
	}

	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "UPDATE_STUDENT",
		Entity:   "Student",
		EntityID: id,
		Before:   before,
		After:    st,
		SchoolID: schoolID,
	})
	return &st, nil
}

// AddGuardian links a parent account to a student. Linking the same pair
// again updates the relationship.
func (s *Service) AddGuardian(ctx context.Context, schoolID, studentID, parentUserID int64, relationship string) error {
	relationship = strings.TrimSpace(relationship)
	if relationship == "" {
		return ErrInvalidInput
	}
	if _, err := s.Get(ctx, schoolID, studentID); err != nil {
		return err
	}

	var ok bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND school_id = $2 AND role = 'PARENT' AND is_active)
	`, parentUserID, schoolID).Scan(&ok); err != nil {
		return fmt.Errorf("check guardian: %w", err)
	}
	if !ok {
		return ErrGuardianInvalid
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO student_guardians (student_id, user_id, relationship, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (student_id, user_id) DO UPDATE SET relationship = EXCLUDED.relationship
	`, studentID, parentUserID, relationship); err != nil {
		return fmt.Errorf("upsert guardian: %w", err)
	}
	return nil
}

func (s *Service) RemoveGuardian(ctx context.Context, schoolID, studentID, parentUserID int64) error {
	if _, err := s.Get(ctx, schoolID, studentID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM student_guardians WHERE student_id = $1 AND user_id = $2
	`, studentID, parentUserID); err != nil {
		return fmt.Errorf("delete guardian: %w", err)
	}
	return nil
}

// ChildrenOf lists the active students linked to a parent account.
func (s *Service) ChildrenOf(ctx context.Context, schoolID, parentUserID int64) ([]Student, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.admission_number, s.first_name, s.last_name, s.gender, s.date_of_birth,
		       s.class_id, c.name, s.status, s.created_at
		FROM student_guardians g
		JOIN students s ON s.id = g.student_id
		LEFT JOIN classes c ON c.id = s.class_id
		WHERE g.user_id = $1 AND s.school_id = $2
		ORDER BY s.first_name
	`, parentUserID, schoolID)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()

	out := make([]Student, 0)
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.AdmissionNumber, &st.FirstName, &st.LastName, &st.Gender,
			&st.DateOfBirth, &st.ClassID, &st.ClassName, &st.Status, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Service) guardians(ctx context.Context, studentID int64) ([]Guardian, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.user_id, u.first_name || ' ' || u.last_name, u.phone, u.email, g.relationship
		FROM student_guardians g
		JOIN users u ON u.id = g.user_id
		WHERE g.student_id = $1
		ORDER BY g.created_at
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query guardians: %w", err)
	}
	defer rows.Close()

	out := make([]Guardian, 0)
	for rows.Next() {
		var g Guardian
		if err := rows.Scan(&g.UserID, &g.Name, &g.Phone, &g.Email, &g.Relationship); err != nil {
			return nil, fmt.Errorf("scan guardian: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
