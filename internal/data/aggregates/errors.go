package aggregates

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
)

// ErrRetryable marks storage failures that may succeed on a fresh transaction
// (serialization failures, deadlocks, lock timeouts).
var ErrRetryable = errors.New("storage retryable")

// ErrConflict marks unique-constraint violations.
var ErrConflict = errors.New("storage conflict")

// MapError maps infrastructure failures into entry error kinds. Errors that
// already carry a kind pass through unchanged.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *entries.StageError
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return entries.NewError(entries.KindNotFound, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return entries.NewError(entries.KindTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return entries.NewError(entries.KindPersistenceFailed, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return entries.NewError(entries.KindPersistenceFailed, op, errors.Join(ErrConflict, err)) // unique_violation
		case "40001", "40P01", "55P03":
			return entries.NewError(entries.KindPersistenceFailed, op, errors.Join(ErrRetryable, err)) // serialization/deadlock/lock_not_available
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "unique constraint failed"):
		return entries.NewError(entries.KindPersistenceFailed, op, errors.Join(ErrConflict, err))
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "busy"):
		return entries.NewError(entries.KindPersistenceFailed, op, errors.Join(ErrRetryable, err))
	default:
		return entries.NewError(entries.KindPersistenceFailed, op, err)
	}
}

func IsRetryable(err error) bool { return errors.Is(err, ErrRetryable) }
func IsConflict(err error) bool  { return errors.Is(err, ErrConflict) }
