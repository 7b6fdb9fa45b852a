package model

import "time"

// TransactionKind classifies a payment gateway event recorded against a booking.
type TransactionKind string

const (
	TxPaymentSuccess   TransactionKind = "PAYMENT_SUCCESS"
	TxPaymentFailure   TransactionKind = "PAYMENT_FAILURE"
	TxSignatureInvalid TransactionKind = "SIGNATURE_INVALID"
)

// Transaction is one row of the append-only payment audit log.  Rows are
// written once and never updated.
//
// Fields:
//  ID          – primary key identifier.
//  BookingID   – booking the event applies to.
//  Kind        – what happened.
//  AmountCents – amount involved, in minor units.
//  GatewayRef  – gateway payment/order reference, if any.
//  RawPayload  – gateway payload as received (JSON).
//  CreatedAt   – when the row was written.
type Transaction struct {
	ID          uint64          // payment_transactions.id
	BookingID   uint64          // payment_transactions.booking_id
	Kind        TransactionKind // payment_transactions.kind
	AmountCents int64           // payment_transactions.amount_cents
	GatewayRef  string          // payment_transactions.gateway_ref
	RawPayload  []byte          // payment_transactions.raw_payload
	CreatedAt   time.Time       // payment_transactions.created_at
}
