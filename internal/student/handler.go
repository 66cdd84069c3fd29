package student

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
	svc studentService
}

type studentService interface {
	Create(ctx context.Context, schoolID int64, in CreateInput, actorID int64) (*Student, error)
	Get(ctx context.Context, schoolID, id int64) (*Student, error)
	List(ctx context.Context, schoolID int64, f ListFilter) (*Page, error)
	Update(ctx context.Context, schoolID, id int64, in UpdateInput, actorID int64) (*Student, error)
	AddGuardian(ctx context.Context, schoolID, studentID, parentUserID int64, relationship string) error
	RemoveGuardian(ctx context.Context, schoolID, studentID, parentUserID int64) error
	ChildrenOf(ctx context.Context, schoolID, parentUserID int64) ([]Student, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type upsertStudentRequest struct {
	AdmissionNumber string `json:"admission_number"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Gender          string `json:"gender"`
	DateOfBirth     string `json:"date_of_birth"`
	ClassID         *int64 `json:"class_id"`
	Status          string `json:"status"`
}

type guardianRequest struct {
	UserID       int64  `json:"user_id"`
	Relationship string `json:"relationship"`
}

func NewHandler(svc studentService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	var req upsertStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	dob, err := parseOptionalDate(req.DateOfBirth)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	st, err := h.svc.Create(r.Context(), schoolID, CreateInput{
		AdmissionNumber: req.AdmissionNumber,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Gender:          req.Gender,
		DateOfBirth:     dob,
		ClassID:         req.ClassID,
	}, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrAdmissionExists):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrClassNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "first_name and last_name are required"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: st})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid student id"})
		return
	}

	st, err := h.svc.Get(r.Context(), schoolID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: st})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	classID, _ := strconv.ParseInt(strings.TrimSpace(q.Get("class_id")), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	page, err := h.svc.List(r.Context(), schoolID, ListFilter{
		Query:   q.Get("q"),
		ClassID: classID,
		Status:  strings.ToUpper(strings.TrimSpace(q.Get("status"))),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidStatus) {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: page})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid student id"})
		return
	}
	var req upsertStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	dob, err := parseOptionalDate(req.DateOfBirth)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	st, err := h.svc.Update(r.Context(), schoolID, id, UpdateInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Gender:      req.Gender,
		DateOfBirth: dob,
		ClassID:     req.ClassID,
		Status:      strings.ToUpper(strings.TrimSpace(req.Status)),
	}, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrClassNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrInvalidStatus):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: st})
}

func (h *Handler) AddGuardian(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid student id"})
		return
	}
	var req guardianRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	if err := h.svc.AddGuardian(r.Context(), schoolID, id, req.UserID, req.Relationship); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrGuardianInvalid), errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "linked"}})
}

func (h *Handler) RemoveGuardian(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid student id"})
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid user id"})
		return
	}

	if err := h.svc.RemoveGuardian(r.Context(), schoolID, id, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "unlinked"}})
}

// MyChildren serves the parent portal: students linked to the caller.
func (h *Handler) MyChildren(w http.ResponseWriter, r *http.Request) {
	user, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ChildrenOf(r.Context(), schoolID, user.ID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func caller(w http.ResponseWriter, r *http.Request) (*auth.User, int64, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok || user.SchoolID == nil {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return nil, 0, false
	}
	return user, *user.SchoolID, true
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func parseOptionalDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, errors.New("date_of_birth must be YYYY-MM-DD")
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
