package fees

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gkanyanta/school-manager/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockFeesService struct {
	createStructureFn  func(ctx context.Context, schoolID, gradeID, termID int64, items []FeeItem, actorID int64) (*FeeStructure, error)
	getStructureFn     func(ctx context.Context, schoolID, gradeID, termID int64) (*FeeStructure, error)
	generateInvoiceFn  func(ctx context.Context, schoolID, studentID, termID int64, dueDate *time.Time, actorID int64) (*Invoice, error)
	generateBulkFn     func(ctx context.Context, schoolID, classID, termID int64, dueDate *time.Time, actorID int64) (*BulkResult, error)
	getInvoiceFn       func(ctx context.Context, schoolID, id int64) (*Invoice, error)
	recordPaymentFn    func(ctx context.Context, schoolID, invoiceID int64, amount float64, method, reference string, paidDate *time.Time, actorID int64) (*PaymentResult, error)
	cancelInvoiceFn    func(ctx context.Context, schoolID, invoiceID int64, actorID int64) error
	markOverdueFn      func(ctx context.Context, schoolID int64) (int64, error)
	studentStatementFn func(ctx context.Context, schoolID, studentID int64) (*Statement, error)
	listPaymentsFn     func(ctx context.Context, schoolID, invoiceID int64) ([]Payment, error)
	bursarDashboardFn  func(ctx context.Context, schoolID, termID int64) (*Dashboard, error)
}

func (m *mockFeesService) CreateStructure(ctx context.Context, schoolID, gradeID, termID int64, items []FeeItem, actorID int64) (*FeeStructure, error) {
	if m.createStructureFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createStructureFn(ctx, schoolID, gradeID, termID, items, actorID)
}

func (m *mockFeesService) GetStructure(ctx context.Context, schoolID, gradeID, termID int64) (*FeeStructure, error) {
	if m.getStructureFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getStructureFn(ctx, schoolID, gradeID, termID)
}

func (m *mockFeesService) GenerateInvoice(ctx context.Context, schoolID, studentID, termID int64, dueDate *time.Time, actorID int64) (*Invoice, error) {
	if m.generateInvoiceFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.generateInvoiceFn(ctx, schoolID, studentID, termID, dueDate, actorID)
}

func (m *mockFeesService) GenerateBulkInvoices(ctx context.Context, schoolID, classID, termID int64, dueDate *time.Time, actorID int64) (*BulkResult, error) {
	if m.generateBulkFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.generateBulkFn(ctx, schoolID, classID, termID, dueDate, actorID)
}

func (m *mockFeesService) GetInvoice(ctx context.Context, schoolID, id int64) (*Invoice, error) {
	if m.getInvoiceFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getInvoiceFn(ctx, schoolID, id)
}

func (m *mockFeesService) RecordPayment(ctx context.Context, schoolID, invoiceID int64, amount float64, method, reference string, paidDate *time.Time, actorID int64) (*PaymentResult, error) {
	if m.recordPaymentFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.recordPaymentFn(ctx, schoolID, invoiceID, amount, method, reference, paidDate, actorID)
}

func (m *mockFeesService) CancelInvoice(ctx context.Context, schoolID, invoiceID int64, actorID int64) error {
	if m.cancelInvoiceFn == nil {
		return errors.New("not implemented")
	}
	return m.cancelInvoiceFn(ctx, schoolID, invoiceID, actorID)
}

func (m *mockFeesService) MarkOverdue(ctx context.Context, schoolID int64) (int64, error) {
	if m.markOverdueFn == nil {
		return 0, errors.New("not implemented")
	}
	return m.markOverdueFn(ctx, schoolID)
}

func (m *mockFeesService) StudentStatement(ctx context.Context, schoolID, studentID int64) (*Statement, error) {
	if m.studentStatementFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.studentStatementFn(ctx, schoolID, studentID)
}

func (m *mockFeesService) ListPayments(ctx context.Context, schoolID, invoiceID int64) ([]Payment, error) {
	if m.listPaymentsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listPaymentsFn(ctx, schoolID, invoiceID)
}

func (m *mockFeesService) BursarDashboard(ctx context.Context, schoolID, termID int64) (*Dashboard, error) {
	if m.bursarDashboardFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.bursarDashboardFn(ctx, schoolID, termID)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func asBursar(r *http.Request) *http.Request {
	schoolID := int64(1)
	return r.WithContext(auth.ContextWithUser(r.Context(), &auth.User{ID: 4, Role: auth.RoleBursar, SchoolID: &schoolID}))
}

func TestGenerateInvoiceConflictWhenAlreadyBilled(t *testing.T) {
	h := NewHandler(&mockFeesService{
		generateInvoiceFn: func(ctx context.Context, schoolID, studentID, termID int64, dueDate *time.Time, actorID int64) (*Invoice, error) {
			return nil, ErrInvoiceExists
		},
	})

	payload := []byte(`{"student_id":5,"term_id":1}`)
	req := asBursar(httptest.NewRequest(http.MethodPost, "/api/v1/fees/invoices", bytes.NewReader(payload)))
	w := httptest.NewRecorder()

	h.GenerateInvoice(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestRecordPaymentOverpaymentRejected(t *testing.T) {
	h := NewHandler(&mockFeesService{
		recordPaymentFn: func(ctx context.Context, schoolID, invoiceID int64, amount float64, method, reference string, paidDate *time.Time, actorID int64) (*PaymentResult, error) {
			return nil, ErrOverpayment
		},
	})

	payload := []byte(`{"amount":5000,"method":"CASH"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fees/invoices/9/payments", bytes.NewReader(payload))
	req = withChiParam(req, "id", "9")
	req = asBursar(req)
	w := httptest.NewRecorder()

	h.RecordPayment(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestRecordPaymentInvalidMethod(t *testing.T) {
	h := NewHandler(&mockFeesService{
		recordPaymentFn: func(ctx context.Context, schoolID, invoiceID int64, amount float64, method, reference string, paidDate *time.Time, actorID int64) (*PaymentResult, error) {
			return nil, ErrInvalidMethod
		},
	})

	payload := []byte(`{"amount":100,"method":"BARTER"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fees/invoices/9/payments", bytes.NewReader(payload))
	req = withChiParam(req, "id", "9")
	req = asBursar(req)
	w := httptest.NewRecorder()

	h.RecordPayment(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRecordPaymentPassesCallerIdentity(t *testing.T) {
	var gotSchoolID, gotActorID int64
	h := NewHandler(&mockFeesService{
		recordPaymentFn: func(ctx context.Context, schoolID, invoiceID int64, amount float64, method, reference string, paidDate *time.Time, actorID int64) (*PaymentResult, error) {
			gotSchoolID = schoolID
			gotActorID = actorID
			return &PaymentResult{
				Payment: Payment{ID: 1, InvoiceID: invoiceID, ReceiptNumber: "NKS-RCT-000042", Amount: amount, Method: method},
				Receipt: Receipt{Number: "NKS-RCT-000042"},
			}, nil
		},
	})

	payload := []byte(`{"amount":250,"method":"MOBILE_MONEY"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fees/invoices/9/payments", bytes.NewReader(payload))
	req = withChiParam(req, "id", "9")
	req = asBursar(req)
	w := httptest.NewRecorder()

	h.RecordPayment(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if gotSchoolID != 1 || gotActorID != 4 {
		t.Fatalf("got school=%d actor=%d, want 1 and 4", gotSchoolID, gotActorID)
	}
	var body struct {
		Data PaymentResult `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.Payment.ReceiptNumber != "NKS-RCT-000042" {
		t.Fatalf("payment receipt number = %q", body.Data.Payment.ReceiptNumber)
	}
	if body.Data.Receipt.Number != "NKS-RCT-000042" {
		t.Fatalf("receipt number = %q", body.Data.Receipt.Number)
	}
}

func TestRecordPaymentBackdated(t *testing.T) {
	var gotPaidDate *time.Time
	h := NewHandler(&mockFeesService{
		recordPaymentFn: func(ctx context.Context, schoolID, invoiceID int64, amount float64, method, reference string, paidDate *time.Time, actorID int64) (*PaymentResult, error) {
			gotPaidDate = paidDate
			return &PaymentResult{Payment: Payment{ID: 2, InvoiceID: invoiceID}, Receipt: Receipt{Number: "NKS-RCT-000043"}}, nil
		},
	})

	payload := []byte(`{"amount":100,"method":"CASH","paid_date":"2026-01-15"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fees/invoices/9/payments", bytes.NewReader(payload))
	req = withChiParam(req, "id", "9")
	req = asBursar(req)
	w := httptest.NewRecorder()

	h.RecordPayment(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if gotPaidDate == nil {
		t.Fatal("paid date not passed to service")
	}
	if got := gotPaidDate.Format("2006-01-02"); got != "2026-01-15" {
		t.Fatalf("paid date = %s, want 2026-01-15", got)
	}
}

func TestGenerateBulkReportsAccumulator(t *testing.T) {
	var gotClassID int64
	h := NewHandler(&mockFeesService{
		generateBulkFn: func(ctx context.Context, schoolID, classID, termID int64, dueDate *time.Time, actorID int64) (*BulkResult, error) {
			gotClassID = classID
			return &BulkResult{Generated: 28, Skipped: 2, Errors: []string{"student 44: student is not assigned to a class"}}, nil
		},
	})

	payload := []byte(`{"class_id":3,"term_id":1}`)
	req := asBursar(httptest.NewRequest(http.MethodPost, "/api/v1/fees/invoices/bulk", bytes.NewReader(payload)))
	w := httptest.NewRecorder()

	h.GenerateBulk(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Data BulkResult `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.Generated != 28 || body.Data.Skipped != 2 || len(body.Data.Errors) != 1 {
		t.Fatalf("unexpected accumulator: %+v", body.Data)
	}
	if gotClassID != 3 {
		t.Fatalf("class id = %d, want 3", gotClassID)
	}
}

func TestStructureConflict(t *testing.T) {
	h := NewHandler(&mockFeesService{
		createStructureFn: func(ctx context.Context, schoolID, gradeID, termID int64, items []FeeItem, actorID int64) (*FeeStructure, error) {
			return nil, ErrStructureExists
		},
	})

	payload := []byte(`{"grade_id":3,"term_id":1,"items":[{"name":"Tuition","amount":1500}]}`)
	req := asBursar(httptest.NewRequest(http.MethodPost, "/api/v1/fees/structures", bytes.NewReader(payload)))
	w := httptest.NewRecorder()

	h.CreateStructure(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	h := NewHandler(&mockFeesService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fees/dashboard", nil)
	w := httptest.NewRecorder()

	h.Dashboard(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
