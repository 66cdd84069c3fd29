package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// Entry is one audit record. Before/After are optional entity snapshots
// and are stored as jsonb.
type Entry struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID int64
	Before   any
	After    any
	IP       string
	SchoolID int64
}

type Record struct {
	ID        int64           `json:"id"`
	ActorID   int64           `json:"actor_id"`
	ActorName string          `json:"actor_name,omitempty"`
	Action    string          `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  *int64          `json:"entity_id,omitempty"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	IP        *string         `json:"ip,omitempty"`
	SchoolID  *int64          `json:"school_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Log writes an audit record. Failures are logged and swallowed: audit
// writes must never fail the operation they describe.
func (s *Service) Log(ctx context.Context, e Entry) {
	if err := s.write(ctx, e); err != nil {
		log.Printf("audit write failed: action=%s entity=%s: %v", e.Action, e.Entity, err)
	}
}

func (s *Service) write(ctx context.Context, e Entry) error {
	before, err := marshalSnapshot(e.Before)
	if err != nil {
		return fmt.Errorf("marshal before: %w", err)
	}
	after, err := marshalSnapshot(e.After)
	if err != nil {
		return fmt.Errorf("marshal after: %w", err)
	}

	var entityID any
	if e.EntityID > 0 {
		entityID = e.EntityID
	}
	var schoolID any
	if e.SchoolID > 0 {
		schoolID = e.SchoolID
	}
	var ip any
	if v := strings.TrimSpace(e.IP); v != "" {
		ip = v
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			actor_id, action, entity, entity_id,
			before_state, after_state, ip, school_id, created_at
		) VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8, now())
	`, e.ActorID, e.Action, e.Entity, entityID, before, after, ip, schoolID)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *Service) List(ctx context.Context, schoolID int64, entity, action string, limit, offset int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			a.id,
			a.actor_id,
			COALESCE(u.first_name || ' ' || u.last_name, ''),
			a.action,
			a.entity,
			a.entity_id,
			a.before_state,
			a.after_state,
			a.ip,
			a.school_id,
			a.created_at
		FROM audit_logs a
		LEFT JOIN users u ON u.id = a.actor_id
		WHERE a.school_id = $1
		  AND ($2 = '' OR a.entity = $2)
		  AND ($3 = '' OR a.action = $3)
		ORDER BY a.created_at DESC
		LIMIT $4 OFFSET $5
	`, schoolID, strings.TrimSpace(entity), strings.TrimSpace(action), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			r        Record
			entityID sql.NullInt64
			before   []byte
			after    []byte
			ip       sql.NullString
			schoolID sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.ActorID, &r.ActorName, &r.Action, &r.Entity, &entityID, &before, &after, &ip, &schoolID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if entityID.Valid {
			r.EntityID = &entityID.Int64
		}
		if len(before) > 0 {
			r.Before = json.RawMessage(before)
		}
		if len(after) > 0 {
			r.After = json.RawMessage(after)
		}
		if ip.Valid {
			r.IP = &ip.String
		}
		if schoolID.Valid {
			r.SchoolID = &schoolID.Int64
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return out, nil
}

func marshalSnapshot(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
