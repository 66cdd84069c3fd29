package app

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gkanyanta/school-manager/internal/academic"
	"github.com/gkanyanta/school-manager/internal/announcement"
	"github.com/gkanyanta/school-manager/internal/app/apiresp"
	"github.com/gkanyanta/school-manager/internal/app/observability"
	"github.com/gkanyanta/school-manager/internal/assessment"
	"github.com/gkanyanta/school-manager/internal/attendance"
	"github.com/gkanyanta/school-manager/internal/audit"
	"github.com/gkanyanta/school-manager/internal/auth"
	"github.com/gkanyanta/school-manager/internal/fees"
	"github.com/gkanyanta/school-manager/internal/report"
	"github.com/gkanyanta/school-manager/internal/school"
	"github.com/gkanyanta/school-manager/internal/sms"
	"github.com/gkanyanta/school-manager/internal/student"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)
	r.Use(CSRFMiddleware(cfg.CSRFEnforced))

	authLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	sender := sms.NewConsoleSender(cfg.SMSSenderID)

	auditSvc := audit.NewService(db)
	authSvc := auth.NewService(db, auditSvc, auth.ServiceConfig{
		SessionTTL:     time.Duration(cfg.SessionTTLHours) * time.Hour,
		BootstrapToken: cfg.BootstrapToken,
	})
	authHandler := auth.NewHandler(authSvc)

	schoolSvc := school.NewService(db, auditSvc)
	schoolHandler := school.NewHandler(schoolSvc)

	academicSvc := academic.NewService(db)
	academicHandler := academic.NewHandler(academicSvc)

	studentSvc := student.NewService(db, auditSvc)
	studentHandler := student.NewHandler(studentSvc)

	assessmentSvc := assessment.NewService(db, auditSvc)
	assessmentHandler := assessment.NewHandler(assessmentSvc)

	attendanceSvc := attendance.NewService(db)
	attendanceHandler := attendance.NewHandler(attendanceSvc)

	feesSvc := fees.NewService(db, auditSvc)
	feesHandler := fees.NewHandler(feesSvc)

	announcementSvc := announcement.NewService(db, sender, auditSvc)
	announcementHandler := announcement.NewHandler(announcementSvc)

	reportSvc := report.NewService(db, assessmentSvc)
	reportHandler := report.NewHandler(reportSvc)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(RateLimitMiddleware(authLimiter))
			public.Post("/bootstrap/init", authHandler.Bootstrap)
			public.Post("/auth/login", authHandler.Login)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleSuperAdmin, auth.RoleSchoolAdmin))
				admin.Post("/users", authHandler.CreateUser)
				admin.Get("/users", authHandler.ListUsers)
				admin.Put("/users/{id}", authHandler.UpdateUser)

				admin.Post("/schools", schoolHandler.Create)
				admin.Get("/schools", schoolHandler.List)
				admin.Get("/schools/{id}", schoolHandler.Get)
				admin.Put("/schools/{id}", schoolHandler.Update)
				admin.Get("/schools/{id}/stats", schoolHandler.Stats)

				admin.Post("/academic-years", academicHandler.CreateYear)
				admin.Post("/academic-years/{id}/current", academicHandler.SetCurrentYear)
				admin.Post("/terms", academicHandler.CreateTerm)
				admin.Post("/terms/{id}/current", academicHandler.SetCurrentTerm)
				admin.Post("/grades", academicHandler.CreateGrade)
				admin.Post("/classes", academicHandler.CreateClass)
				admin.Post("/subjects", academicHandler.CreateSubject)
				admin.Post("/teacher-assignments", academicHandler.AssignTeacher)

				admin.Get("/audit-logs", auditLogsHandler(auditSvc))
			})

			secure.Group(func(staff chi.Router) {
				staff.Use(authHandler.RequireRoles(
					auth.RoleSuperAdmin, auth.RoleSchoolAdmin, auth.RoleHeadTeacher,
					auth.RoleBursar, auth.RoleTeacher,
				))
				staff.Get("/academic-years", academicHandler.ListYears)
				staff.Get("/terms", academicHandler.ListTerms)
				staff.Get("/terms/current", academicHandler.CurrentTerm)
				staff.Get("/grades", academicHandler.ListGrades)
				staff.Get("/classes", academicHandler.ListClasses)
				staff.Get("/subjects", academicHandler.ListSubjects)
				staff.Get("/teacher-assignments", academicHandler.ListAssignments)

				staff.Get("/students", studentHandler.List)
				staff.Get("/students/{id}", studentHandler.Get)

				staff.Get("/assessments", assessmentHandler.List)
				staff.Get("/assessments/{id}", assessmentHandler.Get)
				staff.Get("/assessments/{id}/marks", assessmentHandler.ListMarks)
				staff.Get("/students/{id}/result", assessmentHandler.StudentResult)
				staff.Get("/classes/{id}/results", assessmentHandler.ClassResults)

				staff.Get("/classes/{id}/attendance", attendanceHandler.Session)
				staff.Get("/classes/{id}/attendance/trend", attendanceHandler.ClassTrend)
				staff.Get("/students/{id}/attendance", attendanceHandler.StudentSummary)

				staff.Get("/announcements", announcementHandler.List)

				staff.Get("/reports/enrollment", reportHandler.Enrollment)
				staff.Get("/reports/attendance", reportHandler.AttendanceOverview)
				staff.Get("/reports/classes/{id}/performance", reportHandler.ClassPerformance)
				staff.Get("/reports/classes/{id}/results.xlsx", reportHandler.ClassResultsExcel)
			})

			secure.Group(func(registrar chi.Router) {
				registrar.Use(authHandler.RequireRoles(
					auth.RoleSuperAdmin, auth.RoleSchoolAdmin, auth.RoleHeadTeacher,
				))
				registrar.Post("/students", studentHandler.Create)
				registrar.Put("/students/{id}", studentHandler.Update)
				registrar.Post("/students/{id}/guardians", studentHandler.AddGuardian)
				registrar.Delete("/students/{id}/guardians/{userID}", studentHandler.RemoveGuardian)

				registrar.Post("/announcements", announcementHandler.Create)
				registrar.Delete("/announcements/{id}", announcementHandler.Delete)
			})

			secure.Group(func(teacher chi.Router) {
				teacher.Use(authHandler.RequireRoles(
					auth.RoleSuperAdmin, auth.RoleSchoolAdmin, auth.RoleHeadTeacher, auth.RoleTeacher,
				))
				teacher.Post("/assessments", assessmentHandler.Create)
				teacher.Put("/assessments/{id}/marks", assessmentHandler.SaveMarks)
				teacher.Post("/classes/{id}/attendance", attendanceHandler.RecordSession)
			})

			secure.Group(func(bursar chi.Router) {
				bursar.Use(authHandler.RequireRoles(
					auth.RoleSuperAdmin, auth.RoleSchoolAdmin, auth.RoleBursar,
				))
				bursar.Post("/fees/structures", feesHandler.CreateStructure)
				bursar.Get("/fees/structures", feesHandler.GetStructure)
				bursar.Post("/fees/invoices", feesHandler.GenerateInvoice)
				bursar.Post("/fees/invoices/bulk", feesHandler.GenerateBulk)
				bursar.Get("/fees/invoices/{id}", feesHandler.GetInvoice)
				bursar.Post("/fees/invoices/{id}/payments", feesHandler.RecordPayment)
				bursar.Get("/fees/invoices/{id}/payments", feesHandler.ListPayments)
				bursar.Post("/fees/invoices/{id}/cancel", feesHandler.CancelInvoice)
				bursar.Post("/fees/invoices/overdue", feesHandler.MarkOverdue)
				bursar.Get("/fees/students/{id}/statement", feesHandler.StudentStatement)
				bursar.Get("/fees/dashboard", feesHandler.Dashboard)
				bursar.Get("/reports/fees", reportHandler.FeeCollection)
				bursar.Get("/reports/fees.xlsx", reportHandler.FeeCollectionExcel)
			})

			secure.Group(func(parent chi.Router) {
				parent.Use(authHandler.RequireRoles(auth.RoleParent))
				parent.Get("/my/children", studentHandler.MyChildren)
				parent.Get("/my/announcements", announcementHandler.Feed)
			})
		})
	})

	return r
}

func auditLogsHandler(svc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.CurrentUser(r.Context())
		if !ok || user.SchoolID == nil {
			apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		q := r.URL.Query()
		entity := strings.TrimSpace(q.Get("entity"))
		action := strings.ToUpper(strings.TrimSpace(q.Get("action")))
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		items, err := svc.List(r.Context(), *user.SchoolID, entity, action, limit, offset)
		if err != nil {
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		apiresp.WriteOK(w, r, http.StatusOK, items)
	}
}
