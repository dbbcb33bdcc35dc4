package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"semaphore/records/internal/model"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx runs fn inside one transaction. The transaction is rolled back when
// fn returns an error or panics, and committed otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO users (name, email, phone, password_hash, role)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, user.Name, user.Email, user.Phone, user.PasswordHash, string(user.Role)).Scan(&user.ID, &user.CreatedAt)
	})
	if err != nil {
		return model.User{}, mapError(err)
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, password_hash, role, created_at
		FROM users
		WHERE email = $1
	`, email)
	return scanUser(row)
}

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	var role string
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Phone,
		&user.PasswordHash,
		&role,
		&user.CreatedAt,
	)
	if err != nil {
		return model.User{}, mapError(err)
	}
	user.Role = model.Role(role)
	return user, nil
}

func (s *Store) CreateCourse(ctx context.Context, course model.Course) (model.Course, error) {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO courses (name, description, instructor_id)
			VALUES ($1, $2, $3)
			RETURNING id
		`, course.Name, course.Description, course.InstructorID).Scan(&course.ID)
	})
	if err != nil {
		return model.Course{}, mapError(err)
	}
	return course, nil
}

func (s *Store) ListCourses(ctx context.Context) ([]model.Course, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, instructor_id
		FROM courses
		ORDER BY id
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	courses := []model.Course{}
	for rows.Next() {
		var course model.Course
		if err := rows.Scan(&course.ID, &course.Name, &course.Description, &course.InstructorID); err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}
	return courses, rows.Err()
}

func (s *Store) CreateEnrollment(ctx context.Context, studentID, courseID int64) (model.Enrollment, error) {
	enrollment := model.Enrollment{StudentID: studentID, CourseID: courseID}
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO enrollments (student_id, course_id)
			VALUES ($1, $2)
			RETURNING id, enrolled_date
		`, studentID, courseID).Scan(&enrollment.ID, &enrollment.EnrolledDate)
	})
	if err != nil {
		return model.Enrollment{}, mapError(err)
	}
	return enrollment, nil
}

func (s *Store) ListEnrollments(ctx context.Context, studentID int64) ([]model.Enrollment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, student_id, course_id, enrolled_date
		FROM enrollments
		WHERE student_id = $1
		ORDER BY id
	`, studentID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	enrollments := []model.Enrollment{}
	for rows.Next() {
		var e model.Enrollment
		if err := rows.Scan(&e.ID, &e.StudentID, &e.CourseID, &e.EnrolledDate); err != nil {
			return nil, err
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

func (s *Store) CreateAssignment(ctx context.Context, assignment model.Assignment) (model.Assignment, error) {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO assignments (title, description, due_date, course_id)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, assignment.Title, assignment.Description, assignment.DueDate, assignment.CourseID).Scan(&assignment.ID)
	})
	if err != nil {
		return model.Assignment{}, mapError(err)
	}
	return assignment, nil
}

func (s *Store) ListAssignments(ctx context.Context, courseID int64) ([]model.Assignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, description, due_date, course_id
		FROM assignments
		WHERE course_id = $1
		ORDER BY id
	`, courseID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	assignments := []model.Assignment{}
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.DueDate, &a.CourseID); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// CreateGrade records a grade for a student. Only one grade per
// (assignment, student) is accepted; a second one returns ErrConflict.
func (s *Store) CreateGrade(ctx context.Context, grade model.Grade) (model.Grade, error) {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var role string
		err := tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, grade.StudentID).Scan(&role)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &ReferenceError{Entity: "student"}
			}
			return err
		}
		if model.Role(role) != model.RoleStudent {
			return &ReferenceError{Entity: "student"}
		}
		return tx.QueryRow(ctx, `
			INSERT INTO grades (assignment_id, student_id, grade)
			VALUES ($1, $2, $3)
			RETURNING id, created_at
		`, grade.AssignmentID, grade.StudentID, grade.Value).Scan(&grade.ID, &grade.CreatedAt)
	})
	if err != nil {
		return model.Grade{}, mapError(err)
	}
	return grade, nil
}

// GetHistory lists every enrollment of the student with its course name and
// the student's most recent grade in that course. Enrollments without any
// grade are kept with a NULL grade.
func (s *Store) GetHistory(ctx context.Context, studentID int64) ([]model.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.name, e.enrolled_date, g.grade
		FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		LEFT JOIN LATERAL (
			SELECT gr.grade
			FROM grades gr
			JOIN assignments a ON a.id = gr.assignment_id
			WHERE gr.student_id = e.student_id
			  AND a.course_id = e.course_id
			ORDER BY gr.created_at DESC, gr.id DESC
			LIMIT 1
		) g ON true
		WHERE e.student_id = $1
		ORDER BY e.id
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", mapError(err))
	}
	defer rows.Close()

	history := []model.HistoryEntry{}
	for rows.Next() {
		var entry model.HistoryEntry
		if err := rows.Scan(&entry.CourseName, &entry.EnrolledDate, &entry.Grade); err != nil {
			return nil, err
		}
		history = append(history, entry)
	}
	return history, rows.Err()
}
