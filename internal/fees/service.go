package fees

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gkanyanta/school-manager/internal/audit"

	"github.com/google/uuid"
)

var (
	ErrStructureNotFound = errors.New("fee structure not found")
	ErrStructureExists   = errors.New("fee structure already exists for grade and term")
	ErrInvoiceNotFound   = errors.New("invoice not found")
	ErrInvoiceExists     = errors.New("invoice already exists for student and term")
	ErrInvoiceNotPayable = errors.New("invoice is not payable")
	ErrStudentNotFound   = errors.New("student not found")
	ErrStudentNoClass    = errors.New("student is not assigned to a class")
	ErrGradeNotFound     = errors.New("grade not found")
	ErrClassNotFound     = errors.New("class not found")
	ErrOverpayment       = errors.New("payment exceeds outstanding balance")
	ErrInvalidMethod     = errors.New("invalid payment method")
	ErrInvalidInput      = errors.New("invalid input")
)

// Invoice statuses. DRAFT is reserved for invoices created without
// sending; generation goes straight to SENT.
const (
	StatusDraft         = "DRAFT"
	StatusSent          = "SENT"
	StatusPartiallyPaid = "PARTIALLY_PAID"
	StatusPaid          = "PAID"
	StatusOverdue       = "OVERDUE"
	StatusCancelled     = "CANCELLED"
)

const (
	MethodCash         = "CASH"
	MethodBankTransfer = "BANK_TRANSFER"
	MethodMobileMoney  = "MOBILE_MONEY"
	MethodCheque       = "CHEQUE"
)

var validMethods = map[string]bool{
	MethodCash:         true,
	MethodBankTransfer: true,
	MethodMobileMoney:  true,
	MethodCheque:       true,
}

type FeeItem struct {
	ID       int64   `json:"id,omitempty"`
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	Optional bool    `json:"optional"`
}

type FeeStructure struct {
	ID      int64     `json:"id"`
	GradeID int64     `json:"grade_id"`
	TermID  int64     `json:"term_id"`
	Items   []FeeItem `json:"items"`
	Total   float64   `json:"total"`
}

type Invoice struct {
	ID          int64      `json:"id"`
	Number      string     `json:"number"`
	StudentID   int64      `json:"student_id"`
	StudentName string     `json:"student_name,omitempty"`
	TermID      int64      `json:"term_id"`
	TotalAmount float64    `json:"total_amount"`
	PaidAmount  float64    `json:"paid_amount"`
	Balance     float64    `json:"balance"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Items       []FeeItem  `json:"items,omitempty"`
	Payments    []Payment  `json:"payments,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Payment struct {
	ID            int64     `json:"id"`
	InvoiceID     int64     `json:"invoice_id"`
	ReceiptNumber string    `json:"receipt_number"`
	Amount        float64   `json:"amount"`
	Method        string    `json:"method"`
	Reference     string    `json:"reference"`
	PaidDate      time.Time `json:"paid_date"`
	ReceivedBy    int64     `json:"received_by"`
	CreatedAt     time.Time `json:"created_at"`
}

type Receipt struct {
	Number   string    `json:"number"`
	IssuedAt time.Time `json:"issued_at"`
}

// PaymentResult pairs a recorded payment with its receipt.
type PaymentResult struct {
	Payment Payment `json:"payment"`
	Receipt Receipt `json:"receipt"`
}

type BulkResult struct {
	Generated int      `json:"generated"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

type Statement struct {
	StudentID    int64     `json:"student_id"`
	StudentName  string    `json:"student_name"`
	Invoices     []Invoice `json:"invoices"`
	TotalBilled  float64   `json:"total_billed"`
	TotalPaid    float64   `json:"total_paid"`
	TotalBalance float64   `json:"total_balance"`
}

type Debtor struct {
	StudentID   int64   `json:"student_id"`
	StudentName string  `json:"student_name"`
	Invoice     string  `json:"invoice"`
	Balance     float64 `json:"balance"`
}

type Dashboard struct {
	Expected       float64   `json:"expected"`
	Collected      float64   `json:"collected"`
	Outstanding    float64   `json:"outstanding"`
	CollectionRate float64   `json:"collection_rate"`
	InvoiceCount   int       `json:"invoice_count"`
	PaidCount      int       `json:"paid_count"`
	TopDebtors     []Debtor  `json:"top_debtors"`
	RecentPayments []Payment `json:"recent_payments"`
}

type Service struct {
	db    *sql.DB
	audit *audit.Service
}

func NewService(db *sql.DB, auditSvc *audit.Service) *Service {
	return &Service{db: db, audit: auditSvc}
}

// CreateStructure defines the fee items for a grade and term. One
// structure per pair; optional items are listed but excluded from the
// invoice total until a bursar adds them explicitly.
func (s *Service) CreateStructure(ctx context.Context, schoolID, gradeID, termID int64, items []FeeItem, actorID int64) (*FeeStructure, error) {
	if len(items) == 0 {
		return nil, ErrInvalidInput
	}
	for _, it := range items {
		if strings.TrimSpace(it.Name) == "" || it.Amount <= 0 {
			return nil, ErrInvalidInput
		}
	}

	var gradeOK bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM grades WHERE id = $1 AND school_id = $2)
	`, gradeID, schoolID).Scan(&gradeOK); err != nil {
		return nil, fmt.Errorf("check grade: %w", err)
	}
	if !gradeOK {
		return nil, ErrGradeNotFound
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM fee_structures WHERE school_id = $1 AND grade_id = $2 AND term_id = $3)
	`, schoolID, gradeID, termID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check structure: %w", err)
	}
	if exists {
		return nil, ErrStructureExists
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	fs := FeeStructure{GradeID: gradeID, TermID: termID}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO fee_structures (school_id, grade_id, term_id, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id
	`, schoolID, gradeID, termID).Scan(&fs.ID)
	if err != nil {
		return nil, fmt.Errorf("insert structure: %w", err)
	}

	for _, it := range items {
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO fee_items (fee_structure_id, name, amount, is_optional)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, fs.ID, strings.TrimSpace(it.Name), it.Amount, it.Optional).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert fee item: %w", err)
		}
		it.ID = id
		fs.Items = append(fs.Items, it)
		if !it.Optional {
			fs.Total += it.Amount
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "CREATE_FEE_STRUCTURE",
		Entity:   "FeeStructure",
		EntityID: fs.ID,
		After:    fs,
		SchoolID: schoolID,
	})
	return &fs, nil
}

func (s *Service) GetStructure(ctx context.Context, schoolID, gradeID, termID int64) (*FeeStructure, error) {
	var fs FeeStructure
	err := s.db.QueryRowContext(ctx, `
		SELECT id, grade_id, term_id
		FROM fee_structures
		WHERE school_id = $1 AND grade_id = $2 AND term_id = $3
	`, schoolID, gradeID, termID).Scan(&fs.ID, &fs.GradeID, &fs.TermID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStructureNotFound
		}
		return nil, fmt.Errorf("load structure: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, amount, is_optional
		FROM fee_items
		WHERE fee_structure_id = $1
		ORDER BY id
	`, fs.ID)
	if err != nil {
		return nil, fmt.Errorf("query fee items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it FeeItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Amount, &it.Optional); err != nil {
			return nil, fmt.Errorf("scan fee item: %w", err)
		}
		fs.Items = append(fs.Items, it)
		if !it.Optional {
			fs.Total += it.Amount
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fee items: %w", err)
	}
	return &fs, nil
}

// GenerateInvoice bills one student for a term using the fee structure of
// the student's grade. The invoice number comes from the school's atomic
// invoice counter, so concurrent generation cannot produce duplicates.
func (s *Service) GenerateInvoice(ctx context.Context, schoolID, studentID, termID int64, dueDate *time.Time, actorID int64) (*Invoice, error) {
	inv, err := s.generateInvoiceTx(ctx, schoolID, studentID, termID, dueDate)
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "GENERATE_INVOICE",
		Entity:   "Invoice",
		EntityID: inv.ID,
		After:    inv,
		SchoolID: schoolID,
	})
	return inv, nil
}

func (s *Service) generateInvoiceTx(ctx context.Context, schoolID, studentID, termID int64, dueDate *time.Time) (*Invoice, error) {
	var (
		studentName string
		gradeID     sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT st.first_name || ' ' || st.last_name, c.grade_id
		FROM students st
		LEFT JOIN classes c ON c.id = st.class_id
		WHERE st.id = $1 AND st.school_id = $2
	`, studentID, schoolID).Scan(&studentName, &gradeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("load student: %w", err)
	}
	if !gradeID.Valid {
		return nil, ErrStudentNoClass
	}

	fs, err := s.GetStructure(ctx, schoolID, gradeID.Int64, termID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invoices
			WHERE student_id = $1 AND term_id = $2 AND status <> 'CANCELLED'
		)
	`, studentID, termID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check invoice: %w", err)
	}
	if exists {
		return nil, ErrInvoiceExists
	}

	var (
		code string
		seq  int64
	)
	err = tx.QueryRowContext(ctx, `
		UPDATE schools SET invoice_counter = invoice_counter + 1
		WHERE id = $1
		RETURNING code, invoice_counter
	`, schoolID).Scan(&code, &seq)
	if err != nil {
		return nil, fmt.Errorf("next invoice number: %w", err)
	}
	number := fmt.Sprintf("%s-INV-%06d", code, seq)

	inv := Invoice{
		Number:      number,
		StudentID:   studentID,
		StudentName: studentName,
		TermID:      termID,
		TotalAmount: fs.Total,
		Balance:     fs.Total,
		Status:      StatusSent,
		DueDate:     dueDate,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO invoices (school_id, number, student_id, term_id, total_amount, status, due_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING id, created_at
	`, schoolID, number, studentID, termID, fs.Total, StatusSent, dueDate).Scan(&inv.ID, &inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert invoice: %w", err)
	}

	for _, it := range fs.Items {
		if it.Optional {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_items (invoice_id, name, amount)
			VALUES ($1, $2, $3)
		`, inv.ID, it.Name, it.Amount); err != nil {
			return nil, fmt.Errorf("insert invoice item: %w", err)
		}
		inv.Items = append(inv.Items, FeeItem{Name: it.Name, Amount: it.Amount})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &inv, nil
}

// GenerateBulkInvoices bills every active student of a class for a term.
// The fee structure is still resolved per student through the class's
// grade. Students already invoiced are skipped; other failures are
// collected and do not stop the run.
func (s *Service) GenerateBulkInvoices(ctx context.Context, schoolID, classID, termID int64, dueDate *time.Time, actorID int64) (*BulkResult, error) {
	var classOK bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM classes WHERE id = $1 AND school_id = $2)
	`, classID, schoolID).Scan(&classOK); err != nil {
		return nil, fmt.Errorf("check class: %w", err)
	}
	if !classOK {
		return nil, ErrClassNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM students
		WHERE class_id = $1 AND school_id = $2 AND status = 'ACTIVE'
		ORDER BY id
	`, classID, schoolID)
	if err != nil {
		return nil, fmt.Errorf("query class students: %w", err)
	}
	studentIDs := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan student id: %w", err)
		}
		studentIDs = append(studentIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}

	res := &BulkResult{}
	for _, id := range studentIDs {
		_, err := s.generateInvoiceTx(ctx, schoolID, id, termID, dueDate)
		switch {
		case err == nil:
			res.Generated++
		case errors.Is(err, ErrInvoiceExists):
			res.Skipped++
		default:
			res.Errors = append(res.Errors, fmt.Sprintf("student %d: %v", id, err))
		}
	}

	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "GENERATE_BULK_INVOICES",
		Entity:   "Invoice",
		After:    res,
		SchoolID: schoolID,
	})
	return res, nil
}

func (s *Service) GetInvoice(ctx context.Context, schoolID, id int64) (*Invoice, error) {
	var inv Invoice
	err := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.number, i.student_id, st.first_name || ' ' || st.last_name,
		       i.term_id, i.total_amount, COALESCE(p.paid, 0), i.status, i.due_date, i.created_at
		FROM invoices i
		JOIN students st ON st.id = i.student_id
		LEFT JOIN (
			SELECT invoice_id, SUM(amount) AS paid FROM payments GROUP BY invoice_id
		) p ON p.invoice_id = i.id
		WHERE i.id = $1 AND i.school_id = $2
	`, id, schoolID).Scan(&inv.ID, &inv.Number, &inv.StudentID, &inv.StudentName,
		&inv.TermID, &inv.TotalAmount, &inv.PaidAmount, &inv.Status, &inv.DueDate, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	inv.Balance = inv.TotalAmount - inv.PaidAmount

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, amount FROM invoice_items WHERE invoice_id = $1 ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query invoice items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it FeeItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Amount); err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		inv.Items = append(inv.Items, it)
	}
	return &inv, rows.Err()
}

// RecordPayment applies a payment to an invoice and issues a receipt.
// The invoice row is locked for the duration of the transaction: the
// overpayment check, the receipt number and the status transition all
// happen under that lock. paidDate lets a bursar back-date a payment
// that was received earlier; nil means now.
func (s *Service) RecordPayment(ctx context.Context, schoolID, invoiceID int64, amount float64, method, reference string, paidDate *time.Time, actorID int64) (*PaymentResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidInput
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if !validMethods[method] {
		return nil, ErrInvalidMethod
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		total  float64
		status string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT total_amount, status FROM invoices
		WHERE id = $1 AND school_id = $2
		FOR UPDATE
	`, invoiceID, schoolID).Scan(&total, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("lock invoice: %w", err)
	}
	if status == StatusCancelled || status == StatusDraft {
		return nil, ErrInvoiceNotPayable
	}

	var paid float64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payments WHERE invoice_id = $1
	`, invoiceID).Scan(&paid); err != nil {
		return nil, fmt.Errorf("sum payments: %w", err)
	}
	if paid+amount > total {
		return nil, ErrOverpayment
	}

	var (
		code string
		seq  int64
	)
	err = tx.QueryRowContext(ctx, `
		UPDATE schools SET receipt_counter = receipt_counter + 1
		WHERE id = $1
		RETURNING code, receipt_counter
	`, schoolID).Scan(&code, &seq)
	if err != nil {
		return nil, fmt.Errorf("next receipt number: %w", err)
	}
	receipt := fmt.Sprintf("%s-RCT-%06d", code, seq)

	reference = strings.TrimSpace(reference)
	if reference == "" {
		reference = uuid.NewString()
	}

	p := Payment{
		InvoiceID:     invoiceID,
		ReceiptNumber: receipt,
		Amount:        amount,
		Method:        method,
		Reference:     reference,
		ReceivedBy:    actorID,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO payments (invoice_id, receipt_number, amount, method, reference, paid_date, received_by, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()), $7, now())
		RETURNING id, paid_date, created_at
	`, invoiceID, receipt, amount, method, reference, paidDate, actorID).Scan(&p.ID, &p.PaidDate, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	newStatus := StatusPartiallyPaid
	if paid+amount >= total {
		newStatus = StatusPaid
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE invoices SET status = $2, updated_at = now() WHERE id = $1
	`, invoiceID, newStatus); err != nil {
		return nil, fmt.Errorf("update invoice status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	res := PaymentResult{
		Payment: p,
		Receipt: Receipt{Number: receipt, IssuedAt: p.CreatedAt},
	}
	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "RECORD_PAYMENT",
		Entity:   "Payment",
		EntityID: p.ID,
		After:    res,
		SchoolID: schoolID,
	})
	return &res, nil
}

func (s *Service) CancelInvoice(ctx context.Context, schoolID, invoiceID int64, actorID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM invoices WHERE id = $1 AND school_id = $2 FOR UPDATE
	`, invoiceID, schoolID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvoiceNotFound
		}
		return fmt.Errorf("lock invoice: %w", err)
	}
	if status == StatusPaid || status == StatusPartiallyPaid {
		return ErrInvoiceNotPayable
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE invoices SET status = $2, updated_at = now() WHERE id = $1
	`, invoiceID, StatusCancelled); err != nil {
		return fmt.Errorf("cancel invoice: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.audit.Log(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   "CANCEL_INVOICE",
		Entity:   "Invoice",
		EntityID: invoiceID,
		SchoolID: schoolID,
	})
	return nil
}

// MarkOverdue flags every unpaid invoice past its due date. Returns the
// number of invoices flagged.
func (s *Service) MarkOverdue(ctx context.Context, schoolID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices
		SET status = 'OVERDUE', updated_at = now()
		WHERE school_id = $1
		  AND status IN ('SENT', 'PARTIALLY_PAID')
		  AND due_date IS NOT NULL
		  AND due_date < CURRENT_DATE
	`, schoolID)
	if err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StudentStatement lists every invoice of a student, each with its line
// items and payments, plus totals across all invoices regardless of
// status.
func (s *Service) StudentStatement(ctx context.Context, schoolID, studentID int64) (*Statement, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT first_name || ' ' || last_name FROM students WHERE id = $1 AND school_id = $2
	`, studentID, schoolID).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("load student: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.number, i.term_id, i.total_amount, COALESCE(p.paid, 0), i.status, i.due_date, i.created_at
		FROM invoices i
		LEFT JOIN (
			SELECT invoice_id, SUM(amount) AS paid FROM payments GROUP BY invoice_id
		) p ON p.invoice_id = i.id
		WHERE i.student_id = $1 AND i.school_id = $2
		ORDER BY i.created_at
	`, studentID, schoolID)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}

	st := &Statement{StudentID: studentID, StudentName: name, Invoices: make([]Invoice, 0)}
	for rows.Next() {
		var inv Invoice
		inv.StudentID = studentID
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.TermID, &inv.TotalAmount, &inv.PaidAmount, &inv.Status, &inv.DueDate, &inv.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		inv.Balance = inv.TotalAmount - inv.PaidAmount
		st.Invoices = append(st.Invoices, inv)
		st.TotalBilled += inv.TotalAmount
		st.TotalPaid += inv.PaidAmount
		st.TotalBalance += inv.Balance
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}

	for i := range st.Invoices {
		items, err := s.invoiceItems(ctx, st.Invoices[i].ID)
		if err != nil {
			return nil, err
		}
		st.Invoices[i].Items = items

		payments, err := s.invoicePayments(ctx, st.Invoices[i].ID)
		if err != nil {
			return nil, err
		}
		st.Invoices[i].Payments = payments
	}
	return st, nil
}

func (s *Service) invoiceItems(ctx context.Context, invoiceID int64) ([]FeeItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, amount FROM invoice_items WHERE invoice_id = $1 ORDER BY id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("query invoice items: %w", err)
	}
	defer rows.Close()

	out := make([]FeeItem, 0)
	for rows.Next() {
		var it FeeItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Amount); err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Service) invoicePayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, receipt_number, amount, method, reference, paid_date, received_by, created_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY paid_date, id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	out := make([]Payment, 0)
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.ReceiptNumber, &p.Amount, &p.Method, &p.Reference, &p.PaidDate, &p.ReceivedBy, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Service) ListPayments(ctx context.Context, schoolID, invoiceID int64) ([]Payment, error) {
	if _, err := s.GetInvoice(ctx, schoolID, invoiceID); err != nil {
		return nil, err
	}
	return s.invoicePayments(ctx, invoiceID)
}

// BursarDashboard summarizes collection for a term.
func (s *Service) BursarDashboard(ctx context.Context, schoolID, termID int64) (*Dashboard, error) {
	var d Dashboard
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(i.total_amount), 0),
			COALESCE(SUM(p.paid), 0),
			COUNT(*),
			COUNT(*) FILTER (WHERE i.status = 'PAID')
		FROM invoices i
		LEFT JOIN (
			SELECT invoice_id, SUM(amount) AS paid FROM payments GROUP BY invoice_id
		) p ON p.invoice_id = i.id
		WHERE i.school_id = $1
		  AND ($2 = 0 OR i.term_id = $2)
		  AND i.status <> 'CANCELLED'
	`, schoolID, termID).Scan(&d.Expected, &d.Collected, &d.InvoiceCount, &d.PaidCount)
	if err != nil {
		return nil, fmt.Errorf("load dashboard totals: %w", err)
	}
	d.Outstanding = d.Expected - d.Collected
	if d.Expected > 0 {
		d.CollectionRate = d.Collected / d.Expected * 100
	}

	debtorRows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.first_name || ' ' || st.last_name, i.number,
		       i.total_amount - COALESCE(p.paid, 0) AS balance
		FROM invoices i
		JOIN students st ON st.id = i.student_id
		LEFT JOIN (
			SELECT invoice_id, SUM(amount) AS paid FROM payments GROUP BY invoice_id
		) p ON p.invoice_id = i.id
		WHERE i.school_id = $1
		  AND ($2 = 0 OR i.term_id = $2)
		  AND i.status IN ('SENT', 'PARTIALLY_PAID', 'OVERDUE')
		  AND i.total_amount - COALESCE(p.paid, 0) > 0
		ORDER BY balance DESC
		LIMIT 5
	`, schoolID, termID)
	if err != nil {
		return nil, fmt.Errorf("query top debtors: %w", err)
	}
	defer debtorRows.Close()

	d.TopDebtors = make([]Debtor, 0)
	for debtorRows.Next() {
		var dt Debtor
		if err := debtorRows.Scan(&dt.StudentID, &dt.StudentName, &dt.Invoice, &dt.Balance); err != nil {
			return nil, fmt.Errorf("scan debtor: %w", err)
		}
		d.TopDebtors = append(d.TopDebtors, dt)
	}
	if err := debtorRows.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.invoice_id, p.receipt_number, p.amount, p.method, p.reference, p.paid_date, p.received_by, p.created_at
		FROM payments p
		JOIN invoices i ON i.id = p.invoice_id
		WHERE i.school_id = $1 AND ($2 = 0 OR i.term_id = $2)
		ORDER BY p.created_at DESC
		LIMIT 10
	`, schoolID, termID)
	if err != nil {
		return nil, fmt.Errorf("query recent payments: %w", err)
	}
	defer rows.Close()

	d.RecentPayments = make([]Payment, 0)
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.ReceiptNumber, &p.Amount, &p.Method, &p.Reference, &p.PaidDate, &p.ReceivedBy, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		d.RecentPayments = append(d.RecentPayments, p)
	}
	return &d, rows.Err()
}
