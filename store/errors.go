package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorClass represents whether a store or feed error should be retried.
type ErrorClass int

const (
	// ErrorClassRetryable indicates a transient failure (network, restart, overload).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates a failure retrying cannot fix (auth, missing database, bad SQL).
	ErrorClassFatal
	// ErrorClassUnknown is returned for a nil error.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyError decides whether a feed listener should keep reconnecting after err.
//
// Postgres errors are classified by SQLSTATE class:
//   - 08 (connection exception), 53 (insufficient resources), 57 (operator intervention,
//     e.g. admin shutdown) and 40 (transaction rollback) are retryable.
//   - 28 (invalid authorization), 3D (invalid catalog), 42 (syntax/permission) are fatal.
//
// Context cancellation is fatal: the owner went away. Everything else is matched on
// message text and defaults to retryable so a flaky network does not end a feed early.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
		return ErrorClassFatal
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "08", "53", "57", "40":
			return ErrorClassRetryable
		case "28", "3D", "42":
			return ErrorClassFatal
		}
	}

	lower := strings.ToLower(err.Error())

	fatalPatterns := []string{
		"password authentication failed",
		"permission denied",
		"noauth",
		"wrongpass",
		"invalid password",
		"does not exist",
		"invalid dsn",
		"cannot parse",
	}
	for _, pattern := range fatalPatterns {
		if strings.Contains(lower, pattern) {
			return ErrorClassFatal
		}
	}

	return ErrorClassRetryable
}

// IsRetryableError reports whether err is worth another attempt.
func IsRetryableError(err error) bool {
	return ClassifyError(err) == ErrorClassRetryable
}
