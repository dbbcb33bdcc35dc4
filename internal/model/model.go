package model

import "time"

type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
)

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleInstructor
}

type User struct {
	ID           int64
	Name         string
	Email        string
	Phone        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

type Course struct {
	ID           int64
	Name         string
	Description  string
	InstructorID int64
}

type Enrollment struct {
	ID           int64
	StudentID    int64
	CourseID     int64
	EnrolledDate time.Time
}

type Assignment struct {
	ID          int64
	Title       string
	Description string
	DueDate     time.Time
	CourseID    int64
}

type Grade struct {
	ID           int64
	AssignmentID int64
	StudentID    int64
	Value        float64
	CreatedAt    time.Time
}

// HistoryEntry is one enrollment of a student joined with its course and
// latest grade. Grade is nil while the student is ungraded in that course.
type HistoryEntry struct {
	CourseName   string
	EnrolledDate time.Time
	Grade        *float64
}
