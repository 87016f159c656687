// Package repository holds the MySQL and Redis data access used by the
// services.  Failures the callers need to tell apart are reported with the
// sentinel errors below; anything else is a real fault.
package repository

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrNotFound is returned when the addressed row does not exist (or is
	// filtered out, e.g. a disabled user or inactive file).
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned on a unique-key violation (MySQL 1062).
	ErrDuplicate = errors.New("duplicate")

	// ErrReferenceMissing is returned when a foreign key points nowhere
	// (MySQL 1452).
	ErrReferenceMissing = errors.New("referenced row missing")

	// ErrPendingExists: the user already has a subscription awaiting
	// verification.
	ErrPendingExists = errors.New("pending subscription exists")

	// ErrPlanMissing: a subscription references a plan that no longer
	// resolves.
	ErrPlanMissing = errors.New("subscription plan missing")
)

const (
	mysqlDuplicateEntry = 1062
	mysqlNoReferenced   = 1452
)

func mysqlCode(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

func isDuplicate(err error) bool { return mysqlCode(err) == mysqlDuplicateEntry }

func isMissingReference(err error) bool { return mysqlCode(err) == mysqlNoReferenced }

// notFound converts sql.ErrNoRows to ErrNotFound and leaves other errors as is.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
