package report

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gkanyanta/school-manager/internal/app/apiresp"
	"github.com/gkanyanta/school-manager/internal/auth"

	"github.com/go-chi/chi/v5"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc reportService
}

type reportService interface {
	Enrollment(ctx context.Context, schoolID int64) (*EnrollmentReport, error)
	ClassPerformance(ctx context.Context, schoolID, classID, termID int64) ([]SubjectPerformance, error)
	AttendanceOverview(ctx context.Context, schoolID int64, from, to time.Time) ([]ClassAttendance, error)
	FeeCollection(ctx context.Context, schoolID, termID int64) (*FeeCollectionReport, error)
	ExportClassResultsExcel(ctx context.Context, schoolID, classID, termID int64) ([]byte, error)
	ExportFeeCollectionExcel(ctx context.Context, schoolID, termID int64) ([]byte, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Enrollment(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	rep, err := h.svc.Enrollment(r.Context(), schoolID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: rep})
}

func (h *Handler) ClassPerformance(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	classID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	termID, ok := queryTermID(w, r)
	if !ok {
		return
	}

	items, err := h.svc.ClassPerformance(r.Context(), schoolID, classID, termID)
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

func (h *Handler) AttendanceOverview(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	from, to, ok := parseDateRange(w, r)
	if !ok {
		return
	}

	items, err := h.svc.AttendanceOverview(r.Context(), schoolID, from, to)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) FeeCollection(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	termID, ok := queryTermID(w, r)
	if !ok {
		return
	}

	rep, err := h.svc.FeeCollection(r.Context(), schoolID, termID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: rep})
}

func (h *Handler) ClassResultsExcel(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	classID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	termID, ok := queryTermID(w, r)
	if !ok {
		return
	}

	data, err := h.svc.ExportClassResultsExcel(r.Context(), schoolID, classID, termID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	serveExcel(w, excelFilename("class-results"), data)
}

func (h *Handler) FeeCollectionExcel(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := callerSchoolID(w, r)
	if !ok {
		return
	}
	termID, ok := queryTermID(w, r)
	if !ok {
		return
	}

	data, err := h.svc.ExportFeeCollectionExcel(r.Context(), schoolID, termID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	serveExcel(w, excelFilename("fee-collection"), data)
}

func serveExcel(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func callerSchoolID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok || user.SchoolID == nil {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return 0, false
	}
	return *user.SchoolID, true
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid " + key})
		return 0, false
	}
	return id, true
}

func queryTermID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("term_id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "term_id is required"})
		return 0, false
	}
	return id, true
}

func parseDateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	from, err := time.Parse("2006-01-02", q.Get("from"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "from must be YYYY-MM-DD"})
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse("2006-01-02", q.Get("to"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "to must be YYYY-MM-DD"})
		return time.Time{}, time.Time{}, false
	}
	if to.Before(from) {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "to must not precede from"})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
