package attendance

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
	svc attendanceService
}

type attendanceService interface {
	RecordSession(ctx context.Context, schoolID, classID int64, date time.Time, entries []Entry, actorID int64) (*SessionResult, error)
	Session(ctx context.Context, schoolID, classID int64, date time.Time) ([]Entry, error)
	StudentSummary(ctx context.Context, schoolID, studentID int64, from, to time.Time) (*Summary, error)
	ClassTrend(ctx context.Context, schoolID, classID int64, from, to time.Time) ([]DaySummary, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type recordSessionRequest struct {
	Date    string  `json:"date"`
	Entries []Entry `json:"entries"`
}

func NewHandler(svc attendanceService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RecordSession(w http.ResponseWriter, r *http.Request) {
	user, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	classID, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid class id"})
		return
	}
	var req recordSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	res, err := h.svc.RecordSession(r.Context(), schoolID, classID, date, req.Entries, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrClassNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "entries is required"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	classID, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid class id"})
		return
	}
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	items, err := h.svc.Session(r.Context(), schoolID, classID, date)
	if err != nil {
		if errors.Is(err, ErrClassNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) StudentSummary(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	studentID, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid student id"})
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	sum, err := h.svc.StudentSummary(r.Context(), schoolID, studentID, from, to)
	if err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sum})
}

func (h *Handler) ClassTrend(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	classID, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid class id"})
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	items, err := h.svc.ClassTrend(r.Context(), schoolID, classID, from, to)
	if err != nil {
		if errors.Is(err, ErrClassNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
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

func parseDate(raw string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return t, nil
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("from must be YYYY-MM-DD")
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("to must be YYYY-MM-DD")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("to must not be before from")
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
