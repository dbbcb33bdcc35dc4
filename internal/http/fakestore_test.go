package http

import (
	"context"
	"errors"
	"sync"
	"time"

	"semaphore/records/internal/model"
	"semaphore/records/internal/repository"
)

// fakeStore mirrors the constraints of the Postgres schema in memory.
type fakeStore struct {
	mu          sync.Mutex
	seq         int64
	users       []model.User
	courses     []model.Course
	enrollments []model.Enrollment
	assignments []model.Assignment
	grades      []model.Grade

	failWith  error
	panicWith interface{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (f *fakeStore) nextID() int64 {
	f.seq++
	return f.seq
}

func (f *fakeStore) CreateUser(_ context.Context, user model.User) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return model.User{}, repository.ErrDuplicateEmail
		}
	}
	user.ID = f.nextID()
	user.CreatedAt = time.Now().UTC()
	f.users = append(f.users, user)
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (f *fakeStore) CreateCourse(_ context.Context, course model.Course) (model.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	course.ID = f.nextID()
	f.courses = append(f.courses, course)
	return course, nil
}

func (f *fakeStore) ListCourses(context.Context) ([]model.Course, error) {
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Course{}, f.courses...), nil
}

func (f *fakeStore) hasCourse(id int64) bool {
	for _, c := range f.courses {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (f *fakeStore) CreateEnrollment(_ context.Context, studentID, courseID int64) (model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasCourse(courseID) {
		return model.Enrollment{}, &repository.ReferenceError{Entity: "course"}
	}
	for _, e := range f.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID {
			return model.Enrollment{}, repository.ErrConflict
		}
	}
	enrollment := model.Enrollment{
		ID:           f.nextID(),
		StudentID:    studentID,
		CourseID:     courseID,
		EnrolledDate: time.Now().UTC().Truncate(time.Second),
	}
	f.enrollments = append(f.enrollments, enrollment)
	return enrollment, nil
}

func (f *fakeStore) ListEnrollments(_ context.Context, studentID int64) ([]model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Enrollment{}
	for _, e := range f.enrollments {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateAssignment(_ context.Context, assignment model.Assignment) (model.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasCourse(assignment.CourseID) {
		return model.Assignment{}, &repository.ReferenceError{Entity: "course"}
	}
	assignment.ID = f.nextID()
	f.assignments = append(f.assignments, assignment)
	return assignment, nil
}

func (f *fakeStore) ListAssignments(_ context.Context, courseID int64) ([]model.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Assignment{}
	for _, a := range f.assignments {
		if a.CourseID == courseID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) assignment(id int64) (model.Assignment, bool) {
	for _, a := range f.assignments {
		if a.ID == id {
			return a, true
		}
	}
	return model.Assignment{}, false
}

func (f *fakeStore) CreateGrade(_ context.Context, grade model.Grade) (model.Grade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	isStudent := false
	for _, u := range f.users {
		if u.ID == grade.StudentID && u.Role == model.RoleStudent {
			isStudent = true
		}
	}
	if !isStudent {
		return model.Grade{}, &repository.ReferenceError{Entity: "student"}
	}
	if _, ok := f.assignment(grade.AssignmentID); !ok {
		return model.Grade{}, &repository.ReferenceError{Entity: "assignment"}
	}
	for _, g := range f.grades {
		if g.AssignmentID == grade.AssignmentID && g.StudentID == grade.StudentID {
			return model.Grade{}, repository.ErrConflict
		}
	}
	grade.ID = f.nextID()
	grade.CreatedAt = time.Now().UTC()
	f.grades = append(f.grades, grade)
	return grade, nil
}

func (f *fakeStore) GetHistory(_ context.Context, studentID int64) ([]model.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := []model.HistoryEntry{}
	for _, e := range f.enrollments {
		if e.StudentID != studentID {
			continue
		}
		entry := model.HistoryEntry{EnrolledDate: e.EnrolledDate}
		for _, c := range f.courses {
			if c.ID == e.CourseID {
				entry.CourseName = c.Name
			}
		}
		for _, g := range f.grades {
			a, ok := f.assignment(g.AssignmentID)
			if ok && g.StudentID == studentID && a.CourseID == e.CourseID {
				value := g.Value
				entry.Grade = &value
			}
		}
		history = append(history, entry)
	}
	return history, nil
}

var errStoreDown = errors.New("store down")
