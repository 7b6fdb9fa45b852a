package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/9bishal/movie-booking-system-sub000/internal/model"
)

// ShowtimeRepo reads shows and their hall's seat grid from the catalog
// tables.  It never writes.
type ShowtimeRepo struct {
	db *sql.DB
}

// NewShowtimeRepo returns a ShowtimeRepo bound to db.
func NewShowtimeRepo(db *sql.DB) *ShowtimeRepo { return &ShowtimeRepo{db: db} }

// GetShowtime returns the show with id and the labels of the active seats
// of its hall, ordered by row and seat number.  It returns ErrShowNotFound
// when there is no such show or it was cancelled.
func (r *ShowtimeRepo) GetShowtime(ctx context.Context, id uint64) (*model.Showtime, error) {
	const q = `SELECT id, hall_id, title, starts_at, base_price_cents
               FROM shows WHERE id = ? AND status <> 'CANCELLED'`
	var s model.Showtime
	var startsAt time.Time
	err := r.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.HallID, &s.Title, &startsAt, &s.PriceCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShowNotFound
		}
		return nil, err
	}
	s.StartsAt = startsAt.UTC()

	const seatQ = `SELECT row_label, seat_number FROM seats
                   WHERE hall_id = ? AND is_active = 1
                   ORDER BY row_label, seat_number`
	rows, err := r.db.QueryContext(ctx, seatQ, s.HallID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	s.SeatIDs = []string{}
	for rows.Next() {
		var row string
		var num uint32
		if err := rows.Scan(&row, &num); err != nil {
			return nil, err
		}
		s.SeatIDs = append(s.SeatIDs, model.SeatLabel(row, num))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &s, nil
}
