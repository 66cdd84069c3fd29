package fees

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gkanyanta/school-manager/internal/app/apiresp"
	"github.com/gkanyanta/school-manager/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc feesService
}

type feesService interface {
	CreateStructure(ctx context.Context, schoolID, gradeID, termID int64, items []FeeItem, actorID int64) (*FeeStructure, error)
	GetStructure(ctx context.Context, schoolID, gradeID, termID int64) (*FeeStructure, error)
	GenerateInvoice(ctx context.Context, schoolID, studentID, termID int64, dueDate *time.Time, actorID int64) (*Invoice, error)
	GenerateBulkInvoices(ctx context.Context, schoolID, classID, termID int64, dueDate *time.Time, actorID int64) (*BulkResult, error)
	GetInvoice(ctx context.Context, schoolID, id int64) (*Invoice, error)
	RecordPayment(ctx context.Context, schoolID, invoiceID int64, amount float64, method, reference string, paidDate *time.Time, actorID int64) (*PaymentResult, error)
	CancelInvoice(ctx context.Context, schoolID, invoiceID int64, actorID int64) error
	MarkOverdue(ctx context.Context, schoolID int64) (int64, error)
	StudentStatement(ctx context.Context, schoolID, studentID int64) (*Statement, error)
	ListPayments(ctx context.Context, schoolID, invoiceID int64) ([]Payment, error)
	BursarDashboard(ctx context.Context, schoolID, termID int64) (*Dashboard, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createStructureRequest struct {
	GradeID int64     `json:"grade_id"`
	TermID  int64     `json:"term_id"`
	Items   []FeeItem `json:"items"`
}

type generateInvoiceRequest struct {
	StudentID int64  `json:"student_id"`
	TermID    int64  `json:"term_id"`
	DueDate   string `json:"due_date"`
}

type generateBulkRequest struct {
	ClassID int64  `json:"class_id"`
	TermID  int64  `json:"term_id"`
	DueDate string `json:"due_date"`
}

type recordPaymentRequest struct {
	Amount    float64 `json:"amount"`
	Method    string  `json:"method"`
	Reference string  `json:"reference"`
	PaidDate  string  `json:"paid_date"`
}

func NewHandler(svc feesService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateStructure(w http.ResponseWriter, r *http.Request) {
	user, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	var req createStructureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	fs, err := h.svc.CreateStructure(r.Context(), schoolID, req.GradeID, req.TermID, req.Items, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrStructureExists):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrGradeNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "items with positive amounts are required"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: fs})
}

func (h *Handler) GetStructure(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	gradeID, _ := strconv.ParseInt(strings.TrimSpace(q.Get("grade_id")), 10, 64)
	termID, _ := strconv.ParseInt(strings.TrimSpace(q.Get("term_id")), 10, 64)
	if gradeID <= 0 || termID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "grade_id and term_id are required"})
		return
	}

	fs, err := h.svc.GetStructure(r.Context(), schoolID, gradeID, termID)
	if err != nil {
		if errors.Is(err, ErrStructureNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: fs})
}

func (h *Handler) GenerateInvoice(w http.ResponseWriter, r *http.Request) {
	user, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	var req generateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	dueDate, err := parseOptionalDate(req.DueDate, "due_date")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	inv, err := h.svc.GenerateInvoice(r.Context(), schoolID, req.StudentID, req.TermID, dueDate, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvoiceExists):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrStudentNotFound), errors.Is(err, ErrStructureNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrStudentNoClass):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: inv})
}

func (h *Handler) GenerateBulk(w http.ResponseWriter, r *http.Request) {
	user, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	var req generateBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	dueDate, err := parseOptionalDate(req.DueDate, "due_date")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	res, err := h.svc.GenerateBulkInvoices(r.Context(), schoolID, req.ClassID, req.TermID, dueDate, user.ID)
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

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid invoice id"})
		return
	}

	inv, err := h.svc.GetInvoice(r.Context(), schoolID, id)
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: inv})
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	user, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid invoice id"})
		return
	}
	var req recordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	paidDate, err := parseOptionalDate(req.PaidDate, "paid_date")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	p, err := h.svc.RecordPayment(r.Context(), schoolID, id, req.Amount, req.Method, req.Reference, paidDate, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvoiceNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrOverpayment), errors.Is(err, ErrInvoiceNotPayable):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrInvalidMethod), errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: p})
}

func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	user, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid invoice id"})
		return
	}

	if err := h.svc.CancelInvoice(r.Context(), schoolID, id, user.ID); err != nil {
		switch {
		case errors.Is(err, ErrInvoiceNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrInvoiceNotPayable):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "invoice has payments and cannot be cancelled"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "cancelled"}})
}

func (h *Handler) MarkOverdue(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	n, err := h.svc.MarkOverdue(r.Context(), schoolID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]int64{"flagged": n}})
}

func (h *Handler) StudentStatement(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid student id"})
		return
	}

	st, err := h.svc.StudentStatement(r.Context(), schoolID, id)
	if err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: st})
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid invoice id"})
		return
	}

	items, err := h.svc.ListPayments(r.Context(), schoolID, id)
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	_, schoolID, ok := caller(w, r)
	if !ok {
		return
	}
	termID, _ := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("term_id")), 10, 64)

	d, err := h.svc.BursarDashboard(r.Context(), schoolID, termID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: d})
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

func parseOptionalDate(raw, field string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be YYYY-MM-DD", field)
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
