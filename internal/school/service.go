package school

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gkanyanta/school-manager/internal/audit"
)

var (
	ErrNotFound     = errors.New("school not found")
	ErrCodeExists   = errors.New("school code already exists")
	ErrInvalidInput = errors.New("invalid input")
)

// Codes become the prefix of invoice and receipt numbers, so they are
// kept short, upper-case and immutable after creation.
var codePattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,11}$`)

type School struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Address   *string   `json:"address,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Email     *string   `json:"email,omitempty"`
	Motto     *string   `json:"motto,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateInput struct {
	Name    string
	Code    string
	Address string
	Phone   string
	Email   string
	Motto   string
}

type UpdateInput struct {
	Name    string
	Address string
	Phone   string
	Email   string
	Motto   string
}

type Stats struct {
	Students      int `json:"students"`
	Teachers      int `json:"teachers"`
	Classes       int `json:"classes"`
	ActiveParents int `json:"active_parents"`
}

type Service struct {
	db    *sql.DB
	audit *audit.Service
}

func NewService(db *sql.DB, auditSvc *audit.Service) *Service {
	return &Service{db: db, audit: auditSvc}
}

func (s *Service) Create(ctx context.Context, in CreateInput, actorID int64) (*School, error) {
	name := strings.TrimSpace(in.Name)
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if name == "" || !codePattern.MatchString(code) {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM schools WHERE code = $1)
	`, code).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check school code: %w", err)
	}
	if exists {
		return nil, ErrCodeExists
	}

	sc := School{Name: name, Code: code, IsActive: true}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO schools (name, code, address, phone, email, motto, invoice_counter, receipt_counter, admission_counter, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, TRUE, now(), now())
		RETURNING id, address, phone, email, motto, created_at
	`, name, code, nullable(in.Address), nullable(in.Phone), nullable(in.Email), nullable(in.Motto)).
		Scan(&sc.ID, &sc.Address, &sc.Phone, &sc.Email, &sc.Motto, &sc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert school: %w", err)
	}

	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "CREATE_SCHOOL",
		Entity:   "School",
		EntityID: sc.ID,
		After:    sc,
		SchoolID: sc.ID,
	})
	return &sc, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*School, error) {
	var sc School
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, code, address, phone, email, motto, is_active, created_at
		FROM schools
		WHERE id = $1
	`, id).Scan(&sc.ID, &sc.Name, &sc.Code, &sc.Address, &sc.Phone, &sc.Email, &sc.Motto, &sc.IsActive, &sc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load school: %w", err)
	}
	return &sc, nil
}

func (s *Service) List(ctx context.Context) ([]School, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, code, address, phone, email, motto, is_active, created_at
		FROM schools
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("query schools: %w", err)
	}
	defer rows.Close()

	out := make([]School, 0)
	for rows.Next() {
		var sc School
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.Code, &sc.Address, &sc.Phone, &sc.Email, &sc.Motto, &sc.IsActive, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan school: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schools: %w", err)
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, id int64, in UpdateInput, actorID int64) (*School, error) {
	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	sc := *before
	if v := strings.TrimSpace(in.Name); v != "" {
		sc.Name = v
	}
	if v := strings.TrimSpace(in.Address); v != "" {
		sc.Address = &v
	}
	if v := strings.TrimSpace(in.Phone); v != "" {
		sc.Phone = &v
	}
	if v := strings.TrimSpace(in.Email); v != "" {
		sc.Email = &v
	}
	if v := strings.TrimSpace(in.Motto); v != "" {
		sc.Motto = &v
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE schools
		SET name = $2, address = $3, phone = $4, email = $5, motto = $6, updated_at = now()
		WHERE id = $1
	`, id, sc.Name, sc.Address, sc.Phone, sc.Email, sc.Motto); err != nil {
		return nil, fmt.Errorf("update school: %w", err)
	}

	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "UPDATE_SCHOOL",
		Entity:   "School",
		EntityID: id,
		Before:   before,
		After:    sc,
		SchoolID: id,
	})
	return &sc, nil
}

func (s *Service) Stats(ctx context.Context, id int64) (*Stats, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM students WHERE school_id = $1 AND status = 'ACTIVE'),
			(SELECT COUNT(*) FROM users WHERE school_id = $1 AND role = 'TEACHER' AND is_active),
			(SELECT COUNT(*) FROM classes WHERE school_id = $1),
			(SELECT COUNT(*) FROM users WHERE school_id = $1 AND role = 'PARENT' AND is_active)
	`, id).Scan(&st.Students, &st.Teachers, &st.Classes, &st.ActiveParents)
	if err != nil {
		return nil, fmt.Errorf("load school stats: %w", err)
	}
	return &st, nil
}

func nullable(v string) any {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return v
}
