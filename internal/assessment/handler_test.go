package assessment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gkanyanta/school-manager/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockAssessmentService struct {
	createFn        func(ctx context.Context, schoolID int64, in CreateInput, actorID int64) (*Assessment, error)
	getFn           func(ctx context.Context, schoolID, id int64) (*Assessment, error)
	listFn          func(ctx context.Context, schoolID, classID, subjectID, termID int64) ([]Assessment, error)
	saveMarksFn     func(ctx context.Context, schoolID, assessmentID int64, entries []MarkEntry, actorID int64) (*BulkMarksResult, error)
	listMarksFn     func(ctx context.Context, schoolID, assessmentID int64) ([]MarkEntry, error)
	studentResultFn func(ctx context.Context, schoolID, studentID, termID int64) (*StudentResult, error)
	classResultsFn  func(ctx context.Context, schoolID, classID, termID int64) ([]StudentResult, error)
}

func (m *mockAssessmentService) Create(ctx context.Context, schoolID int64, in CreateInput, actorID int64) (*Assessment, error) {
	if m.createFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createFn(ctx, schoolID, in, actorID)
}

func (m *mockAssessmentService) Get(ctx context.Context, schoolID, id int64) (*Assessment, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, schoolID, id)
}

func (m *mockAssessmentService) List(ctx context.Context, schoolID, classID, subjectID, termID int64) ([]Assessment, error) {
	if m.listFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listFn(ctx, schoolID, classID, subjectID, termID)
}

func (m *mockAssessmentService) SaveMarks(ctx context.Context, schoolID, assessmentID int64, entries []MarkEntry, actorID int64) (*BulkMarksResult, error) {
	if m.saveMarksFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.saveMarksFn(ctx, schoolID, assessmentID, entries, actorID)
}

func (m *mockAssessmentService) ListMarks(ctx context.Context, schoolID, assessmentID int64) ([]MarkEntry, error) {
	if m.listMarksFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listMarksFn(ctx, schoolID, assessmentID)
}

func (m *mockAssessmentService) StudentResult(ctx context.Context, schoolID, studentID, termID int64) (*StudentResult, error) {
	if m.studentResultFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.studentResultFn(ctx, schoolID, studentID, termID)
}

func (m *mockAssessmentService) ClassResults(ctx context.Context, schoolID, classID, termID int64) ([]StudentResult, error) {
	if m.classResultsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.classResultsFn(ctx, schoolID, classID, termID)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func asTeacher(r *http.Request) *http.Request {
	schoolID := int64(1)
	return r.WithContext(auth.ContextWithUser(r.Context(), &auth.User{ID: 7, Role: auth.RoleTeacher, SchoolID: &schoolID}))
}

func TestCreateRejectsInvalidType(t *testing.T) {
	called := false
	h := NewHandler(&mockAssessmentService{
		createFn: func(ctx context.Context, schoolID int64, in CreateInput, actorID int64) (*Assessment, error) {
			called = true
			return nil, ErrInvalidType
		},
	})

	payload := []byte(`{"name":"Quiz 1","type":"POP_QUIZ","subject_id":1,"class_id":1,"term_id":1,"total_marks":20,"weight":10}`)
	req := asTeacher(httptest.NewRequest(http.MethodPost, "/api/v1/assessments", bytes.NewReader(payload)))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !called {
		t.Fatalf("expected service called")
	}
}

func TestCreateUsesCallerSchool(t *testing.T) {
	var gotSchoolID, gotActorID int64
	h := NewHandler(&mockAssessmentService{
		createFn: func(ctx context.Context, schoolID int64, in CreateInput, actorID int64) (*Assessment, error) {
			gotSchoolID = schoolID
			gotActorID = actorID
			return &Assessment{ID: 3, Name: in.Name, Type: in.Type}, nil
		},
	})

	payload := []byte(`{"name":"Midterm","type":"midterm","subject_id":1,"class_id":1,"term_id":1,"total_marks":30,"weight":30}`)
	req := asTeacher(httptest.NewRequest(http.MethodPost, "/api/v1/assessments", bytes.NewReader(payload)))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if gotSchoolID != 1 || gotActorID != 7 {
		t.Fatalf("got school=%d actor=%d, want 1 and 7", gotSchoolID, gotActorID)
	}
}

func TestSaveMarksReportsPartialErrors(t *testing.T) {
	h := NewHandler(&mockAssessmentService{
		saveMarksFn: func(ctx context.Context, schoolID, assessmentID int64, entries []MarkEntry, actorID int64) (*BulkMarksResult, error) {
			if assessmentID != 12 {
				t.Fatalf("unexpected assessment id: %d", assessmentID)
			}
			return &BulkMarksResult{Saved: 2, Errors: []string{"student 9: not enrolled in class"}}, nil
		},
	})

	payload := []byte(`{"marks":[{"student_id":5,"score":15},{"student_id":6,"score":18},{"student_id":9,"score":12}]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments/12/marks", bytes.NewReader(payload))
	req = withChiParam(req, "id", "12")
	req = asTeacher(req)
	w := httptest.NewRecorder()

	h.SaveMarks(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Data BulkMarksResult `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.Saved != 2 || len(body.Data.Errors) != 1 {
		t.Fatalf("got saved=%d errors=%d, want 2 and 1", body.Data.Saved, len(body.Data.Errors))
	}
}

func TestSaveMarksOutOfRangeRejectsBatch(t *testing.T) {
	h := NewHandler(&mockAssessmentService{
		saveMarksFn: func(ctx context.Context, schoolID, assessmentID int64, entries []MarkEntry, actorID int64) (*BulkMarksResult, error) {
			return nil, fmt.Errorf("student 9: score 25.0 out of range 0..20.0: %w", ErrScoreExceedsTotal)
		},
	})

	payload := []byte(`{"marks":[{"student_id":5,"score":15},{"student_id":9,"score":25}]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments/12/marks", bytes.NewReader(payload))
	req = withChiParam(req, "id", "12")
	req = asTeacher(req)
	w := httptest.NewRecorder()

	h.SaveMarks(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStudentResultRequiresTerm(t *testing.T) {
	called := false
	h := NewHandler(&mockAssessmentService{
		studentResultFn: func(ctx context.Context, schoolID, studentID, termID int64) (*StudentResult, error) {
			called = true
			return &StudentResult{}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/students/5/results", nil)
	req = withChiParam(req, "id", "5")
	req = asTeacher(req)
	w := httptest.NewRecorder()

	h.StudentResult(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if called {
		t.Fatalf("service should not be called without term_id")
	}
}

func TestClassResultsNotFound(t *testing.T) {
	h := NewHandler(&mockAssessmentService{
		classResultsFn: func(ctx context.Context, schoolID, classID, termID int64) ([]StudentResult, error) {
			return nil, ErrClassNotFound
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/classes/99/results?term_id=1", nil)
	req = withChiParam(req, "id", "99")
	req = asTeacher(req)
	w := httptest.NewRecorder()

	h.ClassResults(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	h := NewHandler(&mockAssessmentService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assessments", nil)
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
