package academic

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
	svc academicService
}

type academicService interface {
	CreateYear(ctx context.Context, schoolID int64, name string, start, end time.Time) (*AcademicYear, error)
	ListYears(ctx context.Context, schoolID int64) ([]AcademicYear, error)
	SetCurrentYear(ctx context.Context, schoolID, yearID int64) error
	CreateTerm(ctx context.Context, schoolID, yearID int64, name string, start, end time.Time) (*Term, error)
	ListTerms(ctx context.Context, schoolID, yearID int64) ([]Term, error)
	SetCurrentTerm(ctx context.Context, schoolID, termID int64) error
	CurrentTerm(ctx context.Context, schoolID int64) (*Term, error)
	CreateGrade(ctx context.Context, schoolID int64, name string, level int) (*Grade, error)
	ListGrades(ctx context.Context, schoolID int64) ([]Grade, error)
	CreateClass(ctx context.Context, schoolID, gradeID int64, name string, teacherID *int64) (*Class, error)
	ListClasses(ctx context.Context, schoolID, gradeID int64) ([]Class, error)
	CreateSubject(ctx context.Context, schoolID int64, name, code string) (*Subject, error)
	ListSubjects(ctx context.Context, schoolID int64) ([]Subject, error)
	AssignTeacher(ctx context.Context, schoolID, classID, subjectID, teacherID int64) (*Assignment, error)
	ListAssignments(ctx context.Context, schoolID, classID int64) ([]Assignment, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type yearRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type termRequest struct {
	AcademicYearID int64  `json:"academic_year_id"`
	Name           string `json:"name"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
}

type gradeRequest struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

type classRequest struct {
	Name      string `json:"name"`
	GradeID   int64  `json:"grade_id"`
	TeacherID *int64 `json:"class_teacher_id"`
}

type subjectRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type assignmentRequest struct {
	ClassID   int64 `json:"class_id"`
	SubjectID int64 `json:"subject_id"`
	TeacherID int64 `json:"teacher_id"`
}

func NewHandler(svc academicService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateYear(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	var req yearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	start, end, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	y, err := h.svc.CreateYear(r.Context(), schoolID, req.Name, start, end)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "name, start_date and end_date are required"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: y})
}

func (h *Handler) ListYears(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListYears(r.Context(), schoolID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) SetCurrentYear(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid year id"})
		return
	}
	if err := h.svc.SetCurrentYear(r.Context(), schoolID, id); err != nil {
		if errors.Is(err, ErrYearNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "current"}})
}

func (h *Handler) CreateTerm(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	var req termRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	start, end, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	t, err := h.svc.CreateTerm(r.Context(), schoolID, req.AcademicYearID, req.Name, start, end)
	if err != nil {
		switch {
		case errors.Is(err, ErrYearNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "name, start_date and end_date are required"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: t})
}

func (h *Handler) ListTerms(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	yearID, _ := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("year_id")), 10, 64)
	items, err := h.svc.ListTerms(r.Context(), schoolID, yearID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) SetCurrentTerm(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid term id"})
		return
	}
	if err := h.svc.SetCurrentTerm(r.Context(), schoolID, id); err != nil {
		if errors.Is(err, ErrTermNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "current"}})
}

func (h *Handler) CurrentTerm(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	t, err := h.svc.CurrentTerm(r.Context(), schoolID)
	if err != nil {
		if errors.Is(err, ErrTermNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "no current term set"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: t})
}

func (h *Handler) CreateGrade(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	var req gradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	g, err := h.svc.CreateGrade(r.Context(), schoolID, req.Name, req.Level)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "name and level are required"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: g})
}

func (h *Handler) ListGrades(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListGrades(r.Context(), schoolID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) CreateClass(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	var req classRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	c, err := h.svc.CreateClass(r.Context(), schoolID, req.GradeID, req.Name, req.TeacherID)
	if err != nil {
		switch {
		case errors.Is(err, ErrGradeNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "name and grade_id are required"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: c})
}

func (h *Handler) ListClasses(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	gradeID, _ := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("grade_id")), 10, 64)
	items, err := h.svc.ListClasses(r.Context(), schoolID, gradeID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	var req subjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	sub, err := h.svc.CreateSubject(r.Context(), schoolID, req.Name, req.Code)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "name and code are required"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: sub})
}

func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListSubjects(r.Context(), schoolID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) AssignTeacher(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	var req assignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	a, err := h.svc.AssignTeacher(r.Context(), schoolID, req.ClassID, req.SubjectID, req.TeacherID)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "class_id, subject_id and teacher_id must reference this school"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: a})
}

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	classID, _ := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("class_id")), 10, 64)
	items, err := h.svc.ListAssignments(r.Context(), schoolID, classID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func callerSchoolID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok || user.SchoolID == nil {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return 0, false
	}
	return *user.SchoolID, true
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func parseDateRange(startRaw, endRaw string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", strings.TrimSpace(startRaw))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", strings.TrimSpace(endRaw))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("end_date must be YYYY-MM-DD")
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("end_date must be after start_date")
	}
	return start, end, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
