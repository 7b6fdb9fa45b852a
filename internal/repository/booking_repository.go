package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/9bishal/movie-booking-system-sub000/internal/model"
)

// BookingRepo persists bookings, their seats (booking_seats) and the
// payment audit trail (payment_transactions).  All timestamps are stored
// in UTC.  Booking rows are never deleted.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, number, user_id, showtime_id, status, status_reason,
       base_cents, fee_cents, tax_cents, total_cents,
       payment_order_ref, payment_ref, confirmed_at, created_at, expires_at, updated_at`

// Create inserts b and its seats in one transaction and returns the new id.
// A duplicate booking number is ErrConflict.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) (uint64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO bookings (number, user_id, showtime_id, status, base_cents, fee_cents, tax_cents, total_cents, created_at, expires_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.Number, b.UserID, b.ShowtimeID, string(b.Status),
		b.Price.BaseCents, b.Price.FeeCents, b.Price.TaxCents, b.Price.TotalCents,
		b.CreatedAt.UTC(), b.ExpiresAt.UTC(), b.UpdatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return 0, fmt.Errorf("booking number %s: %w", b.Number, ErrConflict)
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := createSeatsBulkTx(ctx, tx, uint64(id), b.ShowtimeID, b.Seats); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// createSeatsBulkTx inserts every seat of a booking in a single statement.
func createSeatsBulkTx(ctx context.Context, tx *sql.Tx, bookingID, showtimeID uint64, seats []string) error {
	if len(seats) == 0 {
		return nil
	}
	var q strings.Builder
	q.WriteString(`INSERT INTO booking_seats (booking_id, showtime_id, seat_label) VALUES `)
	args := make([]any, 0, len(seats)*3)
	for i, label := range seats {
		if i > 0 {
			q.WriteString(",")
		}
		q.WriteString("(?, ?, ?)")
		args = append(args, bookingID, showtimeID, label)
	}
	_, err := tx.ExecContext(ctx, q.String(), args...)
	return err
}

func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
}

func (r *BookingRepo) GetByNumber(ctx context.Context, number string) (*model.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE number = ?`, number)
}

// GetByPaymentOrder finds the booking a gateway order was created for.
func (r *BookingRepo) GetByPaymentOrder(ctx context.Context, orderRef string) (*model.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_order_ref = ?`, orderRef)
}

func (r *BookingRepo) getOne(ctx context.Context, q string, arg any) (*model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.attachSeats(ctx, []*model.Booking{b}); err != nil {
		return nil, err
	}
	return b, nil
}

// ListByUser returns every booking of a user, newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

func (r *BookingRepo) ListPendingByUserAndShowtime(ctx context.Context, userID, showtimeID uint64) ([]model.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings
                        WHERE user_id = ? AND showtime_id = ? AND status = 'PENDING'
                        ORDER BY id`, userID, showtimeID)
}

// ListExpiredPending serves the sweep from idx_bookings_status_expires.
func (r *BookingRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings
                        WHERE status = 'PENDING' AND expires_at < ?
                        ORDER BY expires_at, id LIMIT ?`, now.UTC(), limit)
}

func (r *BookingRepo) list(ctx context.Context, q string, args ...any) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ptrs []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		ptrs = append(ptrs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachSeats(ctx, ptrs); err != nil {
		return nil, err
	}
	out := make([]model.Booking, len(ptrs))
	for i, b := range ptrs {
		out[i] = *b
	}
	return out, nil
}

// attachSeats loads the seats of all bookings with one query.
func (r *BookingRepo) attachSeats(ctx context.Context, bookings []*model.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	byID := make(map[uint64]*model.Booking, len(bookings))
	args := make([]any, 0, len(bookings))
	for _, b := range bookings {
		b.Seats = []string{}
		byID[b.ID] = b
		args = append(args, b.ID)
	}
	q := `SELECT booking_id, seat_label FROM booking_seats WHERE booking_id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(args)), ",") + `) ORDER BY booking_id, seat_label`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id uint64
		var label string
		if err := rows.Scan(&id, &label); err != nil {
			return err
		}
		if b, ok := byID[id]; ok {
			b.Seats = append(b.Seats, label)
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var b model.Booking
	var status string
	var reason, orderRef, payRef sql.NullString
	var confirmedAt sql.NullTime
	err := row.Scan(&b.ID, &b.Number, &b.UserID, &b.ShowtimeID, &status, &reason,
		&b.Price.BaseCents, &b.Price.FeeCents, &b.Price.TaxCents, &b.Price.TotalCents,
		&orderRef, &payRef, &confirmedAt, &b.CreatedAt, &b.ExpiresAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = model.Status(status)
	b.StatusReason = nullString(reason)
	b.PaymentOrderRef = nullString(orderRef)
	b.PaymentRef = nullString(payRef)
	if confirmedAt.Valid {
		t := confirmedAt.Time.UTC()
		b.ConfirmedAt = &t
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.ExpiresAt = b.ExpiresAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// SetPaymentOrderIfNull stores the gateway order of a PENDING booking that
// has none yet.  The WHERE clause is the whole concurrency guard.
func (r *BookingRepo) SetPaymentOrderIfNull(ctx context.Context, id uint64, orderRef string, at time.Time) (bool, error) {
	const q = `UPDATE bookings SET payment_order_ref = ?, updated_at = ?
               WHERE id = ? AND status = 'PENDING' AND payment_order_ref IS NULL`
	res, err := r.db.ExecContext(ctx, q, orderRef, at.UTC(), id)
	if err != nil {
		if isDuplicate(err) {
			return false, fmt.Errorf("payment order %s: %w", orderRef, ErrConflict)
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Transition updates the status of a booking still in t.From and writes
// t.Audit in the same transaction.  Nullable columns are only overwritten
// when t carries a value.
func (r *BookingRepo) Transition(ctx context.Context, t model.StatusChange) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	const q = `UPDATE bookings
               SET status = ?, status_reason = COALESCE(?, status_reason),
                   payment_ref = COALESCE(?, payment_ref), confirmed_at = COALESCE(?, confirmed_at),
                   updated_at = ?
               WHERE id = ? AND status = ?`
	var confirmedAt any
	if t.ConfirmedAt != nil {
		confirmedAt = t.ConfirmedAt.UTC()
	}
	res, err := tx.ExecContext(ctx, q, string(t.To), t.Reason, t.PaymentRef, confirmedAt,
		t.At.UTC(), t.BookingID, string(t.From))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}
	if t.Audit != nil {
		if err := insertTransaction(ctx, tx, t.Audit); err != nil {
			return false, err
		}
	}
	return true, tx.Commit()
}

// AppendTransaction writes an audit row on its own.
func (r *BookingRepo) AppendTransaction(ctx context.Context, t *model.Transaction) error {
	return insertTransaction(ctx, r.db, t)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTransaction(ctx context.Context, db execer, t *model.Transaction) error {
	const q = `INSERT INTO payment_transactions (booking_id, kind, amount_cents, gateway_ref, raw_payload, created_at)
               VALUES (?, ?, ?, ?, ?, ?)`
	var payload any
	if len(t.RawPayload) > 0 {
		payload = string(t.RawPayload)
	}
	res, err := db.ExecContext(ctx, q, t.BookingID, string(t.Kind), t.AmountCents, t.GatewayRef, payload, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert %s transaction: %w", t.Kind, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		t.ID = uint64(id)
	}
	return nil
}
