package assessment

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
	svc assessmentService
}

type assessmentService interface {
	Create(ctx context.Context, schoolID int64, in CreateInput, actorID int64) (*Assessment, error)
	Get(ctx context.Context, schoolID, id int64) (*Assessment, error)
	List(ctx context.Context, schoolID, classID, subjectID, termID int64) ([]Assessment, error)
	SaveMarks(ctx context.Context, schoolID, assessmentID int64, entries []MarkEntry, actorID int64) (*BulkMarksResult, error)
	ListMarks(ctx context.Context, schoolID, assessmentID int64) ([]MarkEntry, error)
	StudentResult(ctx context.Context, schoolID, studentID, termID int64) (*StudentResult, error)
	ClassResults(ctx context.Context, schoolID, classID, termID int64) ([]StudentResult, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createAssessmentRequest struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	SubjectID  int64   `json:"subject_id"`
	ClassID    int64   `json:"class_id"`
	TermID     int64   `json:"term_id"`
	TotalMarks float64 `json:"total_marks"`
	Weight     float64 `json:"weight"`
	Date       string  `json:"date"`
}

type saveMarksRequest struct {
	Marks []MarkEntry `json:"marks"`
}

func NewHandler(svc assessmentService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	var req createAssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	var date *time.Time
	if v := strings.TrimSpace(req.Date); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "date must be YYYY-MM-DD"})
			return
		}
		date = &t
	}

	a, err := h.svc.Create(r.Context(), schoolID, CreateInput{
		Name:       req.Name,
		Type:       strings.ToUpper(strings.TrimSpace(req.Type)),
		SubjectID:  req.SubjectID,
		ClassID:    req.ClassID,
		TermID:     req.TermID,
		TotalMarks: req.TotalMarks,
		Weight:     req.Weight,
		Date:       date,
	}, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSubjectNotFound), errors.Is(err, ErrClassNotFound), errors.Is(err, ErrTermNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrInvalidType), errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: a})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid assessment id"})
		return
	}

	a, err := h.svc.Get(r.Context(), schoolID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: a})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	classID, _ := strconv.ParseInt(strings.TrimSpace(q.Get("class_id")), 10, 64)
	subjectID, _ := strconv.ParseInt(strings.TrimSpace(q.Get("subject_id")), 10, 64)
	termID, _ := strconv.ParseInt(strings.TrimSpace(q.Get("term_id")), 10, 64)

	items, err := h.svc.List(r.Context(), schoolID, classID, subjectID, termID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) SaveMarks(w http.ResponseWriter, r *http.Request) {
	user, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid assessment id"})
		return
	}
	var req saveMarksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	res, err := h.svc.SaveMarks(r.Context(), schoolID, id, req.Marks, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrScoreExceedsTotal):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "marks is required"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) ListMarks(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid assessment id"})
		return
	}

	items, err := h.svc.ListMarks(r.Context(), schoolID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) StudentResult(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	studentID, err := pathID(r, "id")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid student id"})
		return
	}
	termID, err := queryTermID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	res, err := h.svc.StudentResult(r.Context(), schoolID, studentID, termID)
	if err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) ClassResults(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	classID, err := pathID(r, "id")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid class id"})
		return
	}
	termID, err := queryTermID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	res, err := h.svc.ClassResults(r.Context(), schoolID, classID, termID)
	if err != nil {
		if errors.Is(err, ErrClassNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func caller(w http.ResponseWriter, r *http.Request) (*auth.User, int64, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok || user.SchoolID == nil {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return nil, 0, false
	}
	return user, *user.SchoolID, true
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func queryTermID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("term_id")), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("term_id is required")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
