package uow

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// SQLSTATE codes postgres uses when it aborts a transaction that lost a race.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

const (
	mysqlDeadlock    = 1213
	mysqlLockTimeout = 1205
)

// sqlStateError matches pgdriver.Error, which exposes fields of the server
// error message by their protocol tag.
type sqlStateError interface {
	error
	Field(k byte) string
}

// asConflict folds driver-level deadlock and serialization failures into
// ErrConflict so they are retried like any other lost race.
func asConflict(err error) error {
	if err == nil || errors.Is(err, ErrConflict) {
		return err
	}
	if isTransientLockError(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func isTransientLockError(err error) bool {
	var pgErr sqlStateError
	if errors.As(err, &pgErr) {
		switch pgErr.Field('C') {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return true
		}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDeadlock || myErr.Number == mysqlLockTimeout
	}
	return false
}
