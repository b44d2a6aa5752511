package database

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	apperrors "github.com/lotledger/lotledger-backend/pkg/errors"
)

// PostgreSQL error codes the stock store reacts to
const (
	CodeCheckViolation      = "23514"
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeNotNullViolation    = "23502"
	CodeLockNotAvailable    = "55P03"
	CodeRaiseException      = "P0001"
)

// pqCode returns the SQLSTATE of err, or "" when err is not a pq.Error
func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// IsLockTimeout reports whether err was raised by lock_timeout expiring
func IsLockTimeout(err error) bool {
	return pqCode(err) == CodeLockNotAvailable
}

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error or carries no user-facing meaning.
func MapPQError(err error) *apperrors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch string(pqErr.Code) {
	case CodeCheckViolation:
		return mapCheckConstraint(pqErr)

	case CodeUniqueViolation:
		return apperrors.Conflict(formatConstraintMessage(pqErr))

	case CodeForeignKeyViolation:
		return apperrors.BadRequest("referenced record does not exist")

	case CodeNotNullViolation:
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return apperrors.Validation(map[string]string{
			col: "must not be empty",
		})

	case CodeLockNotAvailable:
		return apperrors.Conflict("stock record is busy, retry the request")

	case CodeRaiseException:
		if strings.Contains(pqErr.Message, "immutable") {
			return apperrors.Forbidden("stock movement history is append-only")
		}
		return nil

	default:
		return nil
	}
}

func mapCheckConstraint(pqErr *pq.Error) *apperrors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_nonnegative"):
		return apperrors.Unprocessable("NEGATIVE_QUANTITY", "stock quantity cannot drop below zero")

	case strings.Contains(constraint, "limits_nonnegative"):
		return apperrors.Validation(map[string]string{
			"limits": "capacity, safety stock, reorder point and shelf life must not be negative",
		})

	case strings.Contains(constraint, "kind_valid"):
		return apperrors.Validation(map[string]string{
			"kind": "must be one of: purchase, adjust, sale, return, expire",
		})

	case strings.Contains(constraint, "after_consistent"), strings.Contains(constraint, "change_positive"):
		return apperrors.Internal("movement record is inconsistent")

	default:
		return apperrors.BadRequest("data validation failed: " + constraint)
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "stock_batches"):
		return "a batch with this id already exists"
	case strings.Contains(constraint, "stock_movements"):
		return "a movement with this id already exists"
	default:
		return "a record with these values already exists"
	}
}
