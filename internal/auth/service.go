package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/gkanyanta/school-manager/internal/audit"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrBootstrapDenied    = errors.New("bootstrap denied")
)

// Roles, ordered roughly by privilege. SUPER_ADMIN has no school; everyone
// else belongs to exactly one.
const (
	RoleSuperAdmin  = "SUPER_ADMIN"
	RoleSchoolAdmin = "SCHOOL_ADMIN"
	RoleHeadTeacher = "HEAD_TEACHER"
	RoleBursar      = "BURSAR"
	RoleTeacher     = "TEACHER"
	RoleParent      = "PARENT"
	RoleStudent     = "STUDENT"
)

var validRoles = map[string]bool{
	RoleSuperAdmin:  true,
	RoleSchoolAdmin: true,
	RoleHeadTeacher: true,
	RoleBursar:      true,
	RoleTeacher:     true,
	RoleParent:      true,
	RoleStudent:     true,
}

type Service struct {
	db             *sql.DB
	audit          *audit.Service
	sessionTTL     time.Duration
	bcryptCost     int
	bootstrapToken string
}

type ServiceConfig struct {
	SessionTTL     time.Duration
	BcryptCost     int
	BootstrapToken string
}

type User struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     *string `json:"phone,omitempty"`
	Role      string `json:"role"`
	SchoolID  *int64 `json:"school_id,omitempty"`
	IsActive  bool   `json:"is_active"`
}

type CreateUserInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	Role      string
	SchoolID  *int64
}

type UpdateUserInput struct {
	ID        int64
	FirstName string
	LastName  string
	Phone     string
	Role      string
	Password  string
	IsActive  *bool
}

type BootstrapInput struct {
	Token     string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

func NewService(db *sql.DB, auditSvc *audit.Service, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		db:             db,
		audit:          auditSvc,
		sessionTTL:     cfg.SessionTTL,
		bcryptCost:     cfg.BcryptCost,
		bootstrapToken: cfg.BootstrapToken,
	}
}

// Login verifies credentials and opens a session. The returned token is
// opaque; only its SHA-256 digest is stored.
func (s *Service) Login(ctx context.Context, email, password string) (*User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, "", ErrInvalidCredentials
	}

	var (
		u    User
		hash string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, first_name, last_name, phone, role, school_id, is_active
		FROM users
		WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &hash, &u.FirstName, &u.LastName, &u.Phone, &u.Role, &u.SchoolID, &u.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return nil, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, "", err
	}
	expiresAt := time.Now().Add(s.sessionTTL)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, now())
	`, u.ID, hashToken(token), expiresAt); err != nil {
		return nil, "", fmt.Errorf("insert session: %w", err)
	}

	return &u, token, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE token_hash = $1
	`, hashToken(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// UserByToken resolves a session token to its active user, or
// ErrUnauthorized for missing/expired sessions.
func (s *Service) UserByToken(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}

	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.first_name, u.last_name, u.phone, u.role, u.school_id, u.is_active
		FROM sessions se
		JOIN users u ON u.id = se.user_id
		WHERE se.token_hash = $1 AND se.expires_at > now()
	`, hashToken(token)).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.Role, &u.SchoolID, &u.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("load session user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrUnauthorized
	}
	return &u, nil
}

// BootstrapSuperAdmin creates the first SUPER_ADMIN account. It only works
// when the configured bootstrap token matches and no super admin exists yet.
func (s *Service) BootstrapSuperAdmin(ctx context.Context, in BootstrapInput) (*User, error) {
	if s.bootstrapToken == "" || in.Token != s.bootstrapToken {
		return nil, ErrBootstrapDenied
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE role = $1
	`, RoleSuperAdmin).Scan(&count); err != nil {
		return nil, fmt.Errorf("count super admins: %w", err)
	}
	if count > 0 {
		return nil, ErrBootstrapDenied
	}

	return s.insertUser(ctx, CreateUserInput{
		Email:     in.Email,
		Password:  in.Password,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Role:      RoleSuperAdmin,
	}, 0)
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput, actorID int64) (*User, error) {
	u, err := s.insertUser(ctx, in, actorID)
	if err != nil {
		return nil, err
	}
	schoolID := int64(0)
	if u.SchoolID != nil {
		schoolID = *u.SchoolID
	}
	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "CREATE_USER",
		Entity:   "User",
		EntityID: u.ID,
		After:    u,
		SchoolID: schoolID,
	})
	return u, nil
}

func (s *Service) insertUser(ctx context.Context, in CreateUserInput, actorID int64) (*User, error) {
	email := normalizeEmail(in.Email)
	if email == "" || !validRoles[in.Role] || len(in.Password) < 8 ||
		strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
		return nil, ErrInvalidInput
	}
	if in.Role != RoleSuperAdmin && (in.SchoolID == nil || *in.SchoolID <= 0) {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)
	`, email).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var phone any
	if v := strings.TrimSpace(in.Phone); v != "" {
		phone = v
	}

	u := User{Email: email, FirstName: strings.TrimSpace(in.FirstName), LastName: strings.TrimSpace(in.LastName), Role: in.Role, SchoolID: in.SchoolID, IsActive: true}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, first_name, last_name, phone, role, school_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, now(), now())
		RETURNING id, phone
	`, email, string(hash), u.FirstName, u.LastName, phone, u.Role, u.SchoolID).Scan(&u.ID, &u.Phone)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

func (s *Service) ListUsers(ctx context.Context, schoolID int64, role, q string, limit, offset int) ([]User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, first_name, last_name, phone, role, school_id, is_active
		FROM users
		WHERE school_id = $1
		  AND ($2 = '' OR role = $2)
		  AND ($3 = '' OR first_name ILIKE '%' || $3 || '%' OR last_name ILIKE '%' || $3 || '%' OR email ILIKE '%' || $3 || '%')
		ORDER BY last_name, first_name
		LIMIT $4 OFFSET $5
	`, schoolID, strings.TrimSpace(role), strings.TrimSpace(q), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.Role, &u.SchoolID, &u.IsActive); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (s *Service) UpdateUser(ctx context.Context, in UpdateUserInput, schoolID, actorID int64) (*User, error) {
	if in.ID <= 0 {
		return nil, ErrInvalidInput
	}
	if in.Role != "" && !validRoles[in.Role] {
		return nil, ErrInvalidInput
	}

	var before User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, phone, role, school_id, is_active
		FROM users
		WHERE id = $1 AND school_id = $2
	`, in.ID, schoolID).Scan(&before.ID, &before.Email, &before.FirstName, &before.LastName, &before.Phone, &before.Role, &before.SchoolID, &before.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	u := before
	if v := strings.TrimSpace(in.FirstName); v != "" {
		u.FirstName = v
	}
	if v := strings.TrimSpace(in.LastName); v != "" {
		u.LastName = v
	}
	if v := strings.TrimSpace(in.Phone); v != "" {
		u.Phone = &v
	}
	if in.Role != "" {
		u.Role = in.Role
	}
	if in.IsActive != nil {
		u.IsActive = *in.IsActive
	}

	if in.Password != "" {
		if len(in.Password) < 8 {
			return nil, ErrInvalidInput
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `
			UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1
		`, u.ID, string(hash)); err != nil {
			return nil, fmt.Errorf("update password: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET first_name = $2, last_name = $3, phone = $4, role = $5, is_active = $6, updated_at = now()
		WHERE id = $1
	`, u.ID, u.FirstName, u.LastName, u.Phone, u.Role, u.IsActive); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "UPDATE_USER",
		Entity:   "User",
		EntityID: u.ID,
		Before:   before,
		After:    u,
		SchoolID: schoolID,
	})
	return &u, nil
}

func normalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ""
	}
	return email
}

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
