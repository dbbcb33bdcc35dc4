package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"semaphore/records/internal/auth"
	"semaphore/records/internal/config"
	"semaphore/records/internal/credentials"
	"semaphore/records/internal/metrics"
	"semaphore/records/internal/model"
	"semaphore/records/internal/repository"
)

// Store is the data access the handlers need beyond credentials.
type Store interface {
	CreateCourse(ctx context.Context, course model.Course) (model.Course, error)
	ListCourses(ctx context.Context) ([]model.Course, error)
	CreateEnrollment(ctx context.Context, studentID, courseID int64) (model.Enrollment, error)
	ListEnrollments(ctx context.Context, studentID int64) ([]model.Enrollment, error)
	CreateAssignment(ctx context.Context, assignment model.Assignment) (model.Assignment, error)
	ListAssignments(ctx context.Context, courseID int64) ([]model.Assignment, error)
	CreateGrade(ctx context.Context, grade model.Grade) (model.Grade, error)
	GetHistory(ctx context.Context, studentID int64) ([]model.HistoryEntry, error)
}

type Server struct {
	cfg         config.Config
	store       Store
	credentials *credentials.Service
	issuer      *auth.Issuer
	guard       *auth.Guard
	logger      logrus.FieldLogger
	validate    *validator.Validate
}

func NewServer(cfg config.Config, store Store, creds *credentials.Service, issuer *auth.Issuer, guard *auth.Guard, logger logrus.FieldLogger) *Server {
	return &Server{
		cfg:         cfg,
		store:       store,
		credentials: creds,
		issuer:      issuer,
		guard:       guard,
		logger:      logger,
		validate:    newValidator(),
	}
}

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

func newValidator() *validator.Validate {
	v := validator.New()
	// max counts runes, bcrypt's limit is in bytes.
	_ = v.RegisterValidation("bcryptlen", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= maxPasswordBytes
	})
	return v
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(s.recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Get("/", s.handleWelcome)
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.With(s.requireRole("")).Post("/logout", s.handleLogout)
	})

	r.Route("/api", func(r chi.Router) {
		r.With(s.requireRole(model.RoleInstructor)).Post("/courses", s.handleCreateCourse)
		r.With(s.requireRole("")).Get("/courses", s.handleListCourses)

		r.With(s.requireRole(model.RoleStudent)).Post("/enrollments", s.handleCreateEnrollment)
		r.With(s.requireRole(model.RoleStudent)).Get("/enrollments", s.handleListEnrollments)

		r.With(s.requireRole(model.RoleInstructor)).Post("/assignments", s.handleCreateAssignment)
		r.With(s.requireRole("")).Get("/assignments/{courseId}", s.handleListAssignments)

		r.With(s.requireRole(model.RoleInstructor)).Post("/grades", s.handleCreateGrade)

		r.With(s.requireRole(model.RoleStudent)).Get("/student/history", s.handleStudentHistory)
	})

	return r
}

// Auth

type identityKey struct{}

// requireRole authenticates every request and, for a non-empty role, also
// checks that the token was issued to that role.
func (s *Server) requireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := s.guard.Check(r.Context(), r.Header.Get("Authorization"), role)
			if err != nil {
				if auth.IsAuthError(err) || errors.Is(err, auth.ErrForbidden) {
					metrics.AuthFailures.WithLabelValues(err.Error()).Inc()
				}
				s.writeServiceError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), identityKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(auth.Identity)
	return identity, ok
}

func (s *Server) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: "Welcome to the academic records service!"})
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=50"`
	Email    string `json:"email" validate:"required,email,max=120"`
	Phone    string `json:"phone" validate:"max=20"`
	Password string `json:"password" validate:"required,bcryptlen"`
	Role     string `json:"role"`
}

type messageResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decodeAndValidate(w, r, &req, func() bool {
		if !model.Role(req.Role).Valid() {
			s.writeServiceError(w, r, credentials.ErrInvalidRole)
			return false
		}
		return true
	}) {
		return
	}

	user, err := s.credentials.Register(r.Context(), credentials.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		Role:     model.Role(req.Role),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.logger.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("user registered")
	role := string(user.Role)
	writeJSON(w, http.StatusCreated, messageResponse{
		Message: strings.ToUpper(role[:1]) + role[1:] + " registered successfully!",
		ID:      user.ID,
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeAndValidate(w, r, &req, nil) {
		return
	}

	user, err := s.credentials.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidCredentials) {
			metrics.AuthFailures.WithLabelValues(err.Error()).Inc()
		}
		s.writeServiceError(w, r, err)
		return
	}

	token, claims, err := s.issuer.Issue(user.ID, user.Role)
	if err != nil {
		s.writeServiceError(w, r, fmt.Errorf("issue token: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: claims.ExpiresAt.Unix()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	if err := s.guard.Revoke(r.Context(), identity); err != nil {
		s.writeServiceError(w, r, fmt.Errorf("revoke token: %w", err))
		return
	}
	metrics.TokensRevoked.Inc()
	s.logger.WithFields(logrus.Fields{"user_id": identity.UserID, "jti": identity.TokenID}).Info("token revoked")
	writeJSON(w, http.StatusOK, messageResponse{Message: "Successfully logged out"})
}

// Courses

type createCourseRequest struct {
	Name        string  `json:"name" validate:"required,max=100"`
	Description *string `json:"description" validate:"required,max=255"`
}

type courseResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	var req createCourseRequest
	if !s.decodeAndValidate(w, r, &req, nil) {
		return
	}

	course, err := s.store.CreateCourse(r.Context(), model.Course{
		Name:         req.Name,
		Description:  *req.Description,
		InstructorID: identity.UserID,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: "Course created successfully!", ID: course.ID})
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.store.ListCourses(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := make([]courseResponse, 0, len(courses))
	for _, c := range courses {
		resp = append(resp, courseResponse{ID: c.ID, Name: c.Name, Description: c.Description})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Enrollments

type createEnrollmentRequest struct {
	CourseID int64 `json:"course_id" validate:"required,gt=0"`
}

type enrollmentResponse struct {
	CourseID     int64  `json:"course_id"`
	EnrolledDate string `json:"enrolled_date"`
}

func (s *Server) handleCreateEnrollment(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	var req createEnrollmentRequest
	if !s.decodeAndValidate(w, r, &req, nil) {
		return
	}

	enrollment, err := s.store.CreateEnrollment(r.Context(), identity.UserID, req.CourseID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: "Enrolled successfully!", ID: enrollment.ID})
}

func (s *Server) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	enrollments, err := s.store.ListEnrollments(r.Context(), identity.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := make([]enrollmentResponse, 0, len(enrollments))
	for _, e := range enrollments {
		resp = append(resp, enrollmentResponse{CourseID: e.CourseID, EnrolledDate: formatTimestamp(e.EnrolledDate)})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Assignments

type createAssignmentRequest struct {
	Title       string  `json:"title" validate:"required,max=100"`
	Description *string `json:"description" validate:"required,max=255"`
	DueDate     string  `json:"due_date" validate:"required"`
	CourseID    int64   `json:"course_id" validate:"required,gt=0"`
}

type assignmentResponse struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"due_date"`
}

func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req createAssignmentRequest
	if !s.decodeAndValidate(w, r, &req, nil) {
		return
	}
	dueDate, err := parseDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_due_date", "due_date must be YYYY-MM-DD")
		return
	}

	assignment, err := s.store.CreateAssignment(r.Context(), model.Assignment{
		Title:       req.Title,
		Description: *req.Description,
		DueDate:     dueDate,
		CourseID:    req.CourseID,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: "Assignment created successfully!", ID: assignment.ID})
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	courseID, err := strconv.ParseInt(chi.URLParam(r, "courseId"), 10, 64)
	if err != nil || courseID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_course_id", "course id must be a positive integer")
		return
	}
	assignments, err := s.store.ListAssignments(r.Context(), courseID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := make([]assignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		resp = append(resp, assignmentResponse{
			ID:          a.ID,
			Title:       a.Title,
			Description: a.Description,
			DueDate:     a.DueDate.Format(time.DateOnly),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Grades

type createGradeRequest struct {
	AssignmentID int64    `json:"assignment_id" validate:"required,gt=0"`
	StudentID    int64    `json:"student_id" validate:"required,gt=0"`
	Grade        *float64 `json:"grade" validate:"required"`
}

func (s *Server) handleCreateGrade(w http.ResponseWriter, r *http.Request) {
	var req createGradeRequest
	if !s.decodeAndValidate(w, r, &req, nil) {
		return
	}

	grade, err := s.store.CreateGrade(r.Context(), model.Grade{
		AssignmentID: req.AssignmentID,
		StudentID:    req.StudentID,
		Value:        *req.Grade,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: "Grade assigned successfully!", ID: grade.ID})
}

// History

type historyResponse struct {
	CourseName   string   `json:"course_name"`
	EnrolledDate string   `json:"enrolled_date"`
	Grade        *float64 `json:"grade"`
}

func (s *Server) handleStudentHistory(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	history, err := s.store.GetHistory(r.Context(), identity.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := make([]historyResponse, 0, len(history))
	for _, h := range history {
		resp = append(resp, historyResponse{
			CourseName:   h.CourseName,
			EnrolledDate: formatTimestamp(h.EnrolledDate),
			Grade:        h.Grade,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Middleware

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		s.logger.WithFields(logrus.Fields{
			"request_id":  middleware.GetReqID(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"duration_ms": elapsed.Milliseconds(),
		}).Info("request")
	})
}

// recoverer turns a panic into a 500 response instead of dropping the connection.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			stack := string(debug.Stack())
			s.logger.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"panic":      rec,
				"stack":      stack,
			}).Error("panic recovered")

			resp := errorResponse{Error: "server_error", Message: "Internal server error"}
			if s.cfg.Debug {
				resp.Message = fmt.Sprint(rec)
				resp.Traceback = stack
			}
			writeJSON(w, http.StatusInternalServerError, resp)
		}()
		next.ServeHTTP(w, r)
	})
}

// Helpers

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{auth.ErrMissingToken, http.StatusUnauthorized, "authorization_required", "Request does not contain an access token."},
	{auth.ErrTokenExpired, http.StatusUnauthorized, "token_expired", "The token has expired."},
	{auth.ErrInvalidSignature, http.StatusUnauthorized, "invalid_token", "Signature verification failed."},
	{auth.ErrMalformedToken, http.StatusUnauthorized, "invalid_token", "The token could not be decoded."},
	{auth.ErrTokenRevoked, http.StatusUnauthorized, "token_revoked", "The token has been revoked."},
	{auth.ErrForbidden, http.StatusForbidden, "forbidden", "Access forbidden: insufficient permissions"},
	{credentials.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials"},
	{credentials.ErrInvalidRole, http.StatusBadRequest, "invalid_role", "Invalid role. Must be 'student' or 'instructor'"},
	{repository.ErrDuplicateEmail, http.StatusBadRequest, "email_taken", "Email already registered"},
	{repository.ErrConflict, http.StatusConflict, "conflict", "The record already exists"},
	{repository.ErrNotFound, http.StatusNotFound, "not_found", "Resource not found"},
	{repository.ErrValueTooLong, http.StatusBadRequest, "missing_fields", "Invalid data provided: value too long"},
	{bcrypt.ErrPasswordTooLong, http.StatusBadRequest, "missing_fields", "Invalid data provided: Password"},
}

// writeServiceError is the single place where errors become HTTP responses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var refErr *repository.ReferenceError
	if errors.As(err, &refErr) {
		writeError(w, http.StatusNotFound, refErr.Error(), "Referenced "+refErr.Entity+" does not exist")
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, m.message)
			return
		}
	}

	s.logger.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"path":       r.URL.Path,
	}).WithError(err).Error("request failed")

	resp := errorResponse{Error: "server_error", Message: "Internal server error"}
	if s.cfg.Debug {
		resp.Message = err.Error()
		resp.Traceback = string(debug.Stack())
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}

// decodeAndValidate decodes the JSON body into out, runs pre (if any) and then
// struct validation. It writes the 400 response itself and reports whether the
// handler should continue.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, out interface{}, pre func() bool) bool {
	if err := decodeJSON(r, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return false
	}
	if pre != nil && !pre() {
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		writeError(w, http.StatusBadRequest, "missing_fields", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid data provided"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return "Invalid data provided: " + strings.Join(fields, ", ")
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if parsed, err := time.Parse(time.DateOnly, value); err == nil {
		return parsed, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC().Truncate(24 * time.Hour), nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
