package announcement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gkanyanta/school-manager/internal/app/apiresp"
	"github.com/gkanyanta/school-manager/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc announcementService
}

type announcementService interface {
	Create(ctx context.Context, schoolID int64, in CreateInput, actorID int64) (*Announcement, error)
	List(ctx context.Context, schoolID int64, limit, offset int) ([]Announcement, error)
	FeedFor(ctx context.Context, schoolID, parentUserID int64, limit int) ([]Announcement, error)
	Delete(ctx context.Context, schoolID, id int64, actorID int64) error
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createAnnouncementRequest struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Target    string `json:"target"`
	TargetID  *int64 `json:"target_id"`
	PublishAt string `json:"publish_at"`
	NotifySMS bool   `json:"notify_sms"`
}

func NewHandler(svc announcementService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	var req createAnnouncementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	var publishAt *time.Time
	if v := strings.TrimSpace(req.PublishAt); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "publish_at must be RFC3339"})
			return
		}
		publishAt = &t
	}

	a, err := h.svc.Create(r.Context(), schoolID, CreateInput{
		Title:     req.Title,
		Body:      req.Body,
		Target:    strings.ToUpper(strings.TrimSpace(req.Target)),
		TargetID:  req.TargetID,
		PublishAt: publishAt,
		NotifySMS: req.NotifySMS,
	}, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidTarget), errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: a})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, err := h.svc.List(r.Context(), schoolID, limit, offset)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

// Feed serves the parent portal view.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	user, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.svc.FeedFor(r.Context(), schoolID, user.ID, limit)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid announcement id"})
		return
	}

	if err := h.svc.Delete(r.Context(), schoolID, id, user.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "deleted"}})
}

func caller(w http.ResponseWriter, r *http.Request) (*auth.User, int64, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok || user.SchoolID == nil {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return nil, 0, false
	}
	return user, *user.SchoolID, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
