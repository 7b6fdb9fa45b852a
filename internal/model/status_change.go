package model

import "time"

// StatusChange is one compare-and-set status update of a booking plus its
// optional audit row.  It applies only while the booking is still in From.
// Nil pointer fields leave the stored column unchanged.
type StatusChange struct {
	BookingID   uint64
	From        Status
	To          Status
	Reason      *string
	PaymentRef  *string
	ConfirmedAt *time.Time
	At          time.Time
	Audit       *Transaction
}
