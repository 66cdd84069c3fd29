package announcement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gkanyanta/school-manager/internal/audit"
	"github.com/gkanyanta/school-manager/internal/sms"
)

var (
	ErrNotFound      = errors.New("announcement not found")
	ErrInvalidTarget = errors.New("invalid announcement target")
	ErrInvalidInput  = errors.New("invalid input")
)

const (
	TargetSchool = "SCHOOL"
	TargetClass  = "CLASS"
	TargetGrade  = "GRADE"
)

var validTargets = map[string]bool{
	TargetSchool: true,
	TargetClass:  true,
	TargetGrade:  true,
}

type Announcement struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Target    string    `json:"target"`
	TargetID  *int64    `json:"target_id,omitempty"`
	AuthorID  int64     `json:"author_id"`
	PublishAt time.Time `json:"publish_at"`
	NotifySMS bool      `json:"notify_sms"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateInput struct {
	Title     string
	Body      string
	Target    string
	TargetID  *int64
	PublishAt *time.Time
	NotifySMS bool
}

type Service struct {
	db     *sql.DB
	sender sms.Sender
	audit  *audit.Service
}

func NewService(db *sql.DB, sender sms.Sender, auditSvc *audit.Service) *Service {
	return &Service{db: db, sender: sender, audit: auditSvc}
}

// Create publishes an announcement, immediately or at publish_at. When
// notify_sms is set, guardian phones in the target audience get a text;
// delivery failures are logged, never surfaced to the caller.
func (s *Service) Create(ctx context.Context, schoolID int64, in CreateInput, actorID int64) (*Announcement, error) {
	title := strings.TrimSpace(in.Title)
	body := strings.TrimSpace(in.Body)
	if title == "" || body == "" {
		return nil, ErrInvalidInput
	}
	if !validTargets[in.Target] {
		return nil, ErrInvalidTarget
	}
	if in.Target != TargetSchool && (in.TargetID == nil || *in.TargetID <= 0) {
		return nil, ErrInvalidTarget
	}
	if in.Target == TargetSchool {
		in.TargetID = nil
	}

	publishAt := time.Now()
	if in.PublishAt != nil {
		publishAt = *in.PublishAt
	}

	a := Announcement{
		Title:     title,
		Body:      body,
		Target:    in.Target,
		TargetID:  in.TargetID,
		AuthorID:  actorID,
		PublishAt: publishAt,
		NotifySMS: in.NotifySMS,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO announcements (school_id, title, body, target, target_id, author_id, publish_at, notify_sms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING id, created_at
	`, schoolID, title, body, in.Target, in.TargetID, actorID, publishAt, in.NotifySMS).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert announcement: %w", err)
	}

	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "CREATE_ANNOUNCEMENT",
		Entity:   "Announcement",
		EntityID: a.ID,
		After:    a,
		SchoolID: schoolID,
	})

	if in.NotifySMS && !publishAt.After(time.Now()) {
		s.notifyGuardians(ctx, schoolID, &a)
	}
	return &a, nil
}

func (s *Service) notifyGuardians(ctx context.Context, schoolID int64, a *Announcement) {
	phones, err := s.guardianPhones(ctx, schoolID, a)
	if err != nil {
		log.Printf("announcement %d: load guardian phones: %v", a.ID, err)
		return
	}

	msgs := make([]sms.Message, 0, len(phones))
	text := fmt.Sprintf("%s: %s", a.Title, a.Body)
	for _, p := range phones {
		msgs = append(msgs, sms.Message{To: p, Body: text, SchoolID: schoolID})
	}
	for i, res := range sms.SendBulk(ctx, s.sender, msgs) {
		if !res.Success {
			log.Printf("announcement %d: sms to %s failed: %s", a.ID, msgs[i].To, res.Error)
		}
	}
}

func (s *Service) guardianPhones(ctx context.Context, schoolID int64, a *Announcement) ([]string, error) {
	query := `
		SELECT DISTINCT u.phone
		FROM student_guardians g
		JOIN users u ON u.id = g.user_id
		JOIN students st ON st.id = g.student_id
		LEFT JOIN classes c ON c.id = st.class_id
		WHERE st.school_id = $1 AND st.status = 'ACTIVE' AND u.phone IS NOT NULL
	`
	args := []any{schoolID}
	switch a.Target {
	case TargetClass:
		query += ` AND st.class_id = $2`
		args = append(args, *a.TargetID)
	case TargetGrade:
		query += ` AND c.grade_id = $2`
		args = append(args, *a.TargetID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query phones: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan phone: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// List returns published announcements for staff views.
func (s *Service) List(ctx context.Context, schoolID int64, limit, offset int) ([]Announcement, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, body, target, target_id, author_id, publish_at, notify_sms, created_at
		FROM announcements
		WHERE school_id = $1 AND publish_at <= now()
		ORDER BY publish_at DESC
		LIMIT $2 OFFSET $3
	`, schoolID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query announcements: %w", err)
	}
	defer rows.Close()

	return scanAnnouncements(rows)
}

// FeedFor returns published announcements visible to a parent: school
// wide ones plus those targeting their children's classes or grades.
func (s *Service) FeedFor(ctx context.Context, schoolID, parentUserID int64, limit int) ([]Announcement, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT a.id, a.title, a.body, a.target, a.target_id, a.author_id, a.publish_at, a.notify_sms, a.created_at
		FROM announcements a
		WHERE a.school_id = $1
		  AND a.publish_at <= now()
		  AND (
			a.target = 'SCHOOL'
			OR (a.target = 'CLASS' AND a.target_id IN (
				SELECT st.class_id FROM student_guardians g
				JOIN students st ON st.id = g.student_id
				WHERE g.user_id = $2 AND st.class_id IS NOT NULL
			))
			OR (a.target = 'GRADE' AND a.target_id IN (
				SELECT c.grade_id FROM student_guardians g
				JOIN students st ON st.id = g.student_id
				JOIN classes c ON c.id = st.class_id
				WHERE g.user_id = $2
			))
		  )
		ORDER BY a.publish_at DESC
		LIMIT $3
	`, schoolID, parentUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	return scanAnnouncements(rows)
}

func (s *Service) Delete(ctx context.Context, schoolID, id int64, actorID int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM announcements WHERE id = $1 AND school_id = $2
	`, id, schoolID)
	if err != nil {
		return fmt.Errorf("delete announcement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "DELETE_ANNOUNCEMENT",
		Entity:   "Announcement",
		EntityID: id,
		SchoolID: schoolID,
	})
	return nil
}

func scanAnnouncements(rows *sql.Rows) ([]Announcement, error) {
	out := make([]Announcement, 0)
	for rows.Next() {
		var a Announcement
		if err := rows.Scan(&a.ID, &a.Title, &a.Body, &a.Target, &a.TargetID, &a.AuthorID, &a.PublishAt, &a.NotifySMS, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
