package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound          = errors.New("not_found")
	ErrDuplicateEmail    = errors.New("email_taken")
	ErrConflict          = errors.New("conflict")
	ErrReferenceNotFound = errors.New("reference_not_found")
	ErrValueTooLong      = errors.New("value_too_long")
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	stringTooLong       = "22001"
)

// ReferenceError names the parent row a write pointed at but which does not exist.
type ReferenceError struct {
	Entity string
}

func (e *ReferenceError) Error() string {
	return e.Entity + "_not_found"
}

func (e *ReferenceError) Is(target error) bool {
	return target == ErrReferenceNotFound
}

// mapError translates driver errors into the package's sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case uniqueViolation:
		if pgErr.ConstraintName == "users_email_key" {
			return ErrDuplicateEmail
		}
		return ErrConflict
	case foreignKeyViolation:
		return &ReferenceError{Entity: referencedEntity(pgErr.ConstraintName)}
	case stringTooLong:
		return ErrValueTooLong
	}
	return err
}

// referencedEntity derives "course" from a default constraint name such as
// "enrollments_course_id_fkey".
func referencedEntity(constraint string) string {
	name := strings.TrimSuffix(constraint, "_id_fkey")
	if idx := strings.Index(name, "_"); idx >= 0 && idx < len(name)-1 {
		return name[idx+1:]
	}
	return "reference"
}
