// Package repository holds the MySQL data access of the booking core.
// Sentinel errors let higher layers tell failure cases apart without
// looking at driver errors: the booking service translates
// ErrBookingNotFound and ErrShowNotFound into its own taxonomy, and
// ErrConflict marks a unique-key violation.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrBookingNotFound is returned when no booking matches a lookup.
var ErrBookingNotFound = errors.New("booking not found")

// ErrShowNotFound indicates that a show was not located in the DB, or is
// cancelled and so cannot be booked.
var ErrShowNotFound = errors.New("show not found")

// ErrConflict is returned when an insert collides with an existing row,
// such as a duplicate booking number.
var ErrConflict = errors.New("conflict")

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
