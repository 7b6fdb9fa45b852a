package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/9bishal/movie-booking-system-sub000/internal/cache"
	"github.com/9bishal/movie-booking-system-sub000/internal/config"
	"github.com/9bishal/movie-booking-system-sub000/internal/model"
	"github.com/9bishal/movie-booking-system-sub000/internal/pricing"
	"github.com/9bishal/movie-booking-system-sub000/internal/queue"
	"github.com/9bishal/movie-booking-system-sub000/internal/repository"
	"github.com/9bishal/movie-booking-system-sub000/internal/seats"
	"github.com/9bishal/movie-booking-system-sub000/internal/seatstore"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memRepo is a Repository over maps with the same guard semantics as the
// MySQL implementation.
type memRepo struct {
	mu       sync.Mutex
	nextID   uint64
	bookings map[uint64]*model.Booking
	txs      []model.Transaction

	failCreate     error
	failTransition error
	// beforeTransition runs inside Transition before the guard is checked.
	beforeTransition func(t model.StatusChange)
}

func newMemRepo() *memRepo { return &memRepo{bookings: make(map[uint64]*model.Booking)} }

func (r *memRepo) Create(_ context.Context, b *model.Booking) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return 0, r.failCreate
	}
	for _, o := range r.bookings {
		if o.Number == b.Number {
			return 0, repository.ErrConflict
		}
	}
	r.nextID++
	c := b.Clone()
	c.ID = r.nextID
	r.bookings[c.ID] = c
	return c.ID, nil
}

func (r *memRepo) GetByID(_ context.Context, id uint64) (*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (r *memRepo) GetByNumber(_ context.Context, number string) (*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.Number == number {
			return b.Clone(), nil
		}
	}
	return nil, repository.ErrBookingNotFound
}

func (r *memRepo) GetByPaymentOrder(_ context.Context, orderRef string) (*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.PaymentOrderRef != nil && *b.PaymentOrderRef == orderRef {
			return b.Clone(), nil
		}
	}
	return nil, repository.ErrBookingNotFound
}

func (r *memRepo) filter(keep func(*model.Booking) bool) []model.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Booking
	for _, b := range r.bookings {
		if keep(b) {
			out = append(out, *b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memRepo) ListByUser(_ context.Context, userID uint64) ([]model.Booking, error) {
	out := r.filter(func(b *model.Booking) bool { return b.UserID == userID })
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memRepo) ListPendingByUserAndShowtime(_ context.Context, userID, showtimeID uint64) ([]model.Booking, error) {
	return r.filter(func(b *model.Booking) bool {
		return b.UserID == userID && b.ShowtimeID == showtimeID && b.Status == model.StatusPending
	}), nil
}

func (r *memRepo) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]model.Booking, error) {
	out := r.filter(func(b *model.Booking) bool { return b.Status == model.StatusPending && b.ExpiresAt.Before(now) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) SetPaymentOrderIfNull(_ context.Context, id uint64, orderRef string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.Status != model.StatusPending || b.PaymentOrderRef != nil {
		return false, nil
	}
	b.PaymentOrderRef = &orderRef
	b.UpdatedAt = at
	return true, nil
}

func (r *memRepo) Transition(_ context.Context, t model.StatusChange) (bool, error) {
	if r.beforeTransition != nil {
		r.beforeTransition(t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTransition != nil {
		return false, r.failTransition
	}
	b, ok := r.bookings[t.BookingID]
	if !ok || b.Status != t.From {
		return false, nil
	}
	b.Status = t.To
	if t.Reason != nil {
		v := *t.Reason
		b.StatusReason = &v
	}
	if t.PaymentRef != nil {
		v := *t.PaymentRef
		b.PaymentRef = &v
	}
	if t.ConfirmedAt != nil {
		v := *t.ConfirmedAt
		b.ConfirmedAt = &v
	}
	b.UpdatedAt = t.At
	if t.Audit != nil {
		r.appendLocked(t.Audit)
	}
	return true, nil
}

func (r *memRepo) AppendTransaction(_ context.Context, tx *model.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(tx)
	return nil
}

func (r *memRepo) appendLocked(tx *model.Transaction) {
	tx.ID = uint64(len(r.txs) + 1)
	r.txs = append(r.txs, *tx)
}

// set forces a stored booking into a state, bypassing the guard.
func (r *memRepo) set(id uint64, status model.Status) {
	r.mu.Lock()
	r.bookings[id].Status = status
	r.mu.Unlock()
}

func (r *memRepo) transactions(kind model.TransactionKind) []model.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Transaction
	for _, tx := range r.txs {
		if tx.Kind == kind {
			out = append(out, tx)
		}
	}
	return out
}

type fakeGateway struct {
	calls atomic.Int32
	delay time.Duration
	fail  atomic.Bool
}

func (g *fakeGateway) CreateOrder(ctx context.Context, _ int64, _ string, _ map[string]string) (string, error) {
	n := g.calls.Add(1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.fail.Load() {
		return "", errors.New("connection reset")
	}
	return fmt.Sprintf("order_%d", n), nil
}

func (g *fakeGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return signature == sign(orderID, paymentID)
}

func sign(orderID, paymentID string) string { return "sig:" + orderID + "|" + paymentID }

type fakeNotifier struct {
	mu     sync.Mutex
	events []queue.BookingEvent
	err    error
}

func (n *fakeNotifier) Enqueue(_ context.Context, ev queue.BookingEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

func (n *fakeNotifier) types() []queue.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []queue.EventType
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeCatalog map[uint64]*model.Showtime

func (c fakeCatalog) GetShowtime(_ context.Context, id uint64) (*model.Showtime, error) {
	s, ok := c[id]
	if !ok {
		return nil, repository.ErrShowNotFound
	}
	cp := *s
	cp.SeatIDs = append([]string(nil), s.SeatIDs...)
	return &cp, nil
}

const (
	showID   = 7
	otherID  = 8
	holdTime = 5 * time.Minute
)

type env struct {
	svc      *Service
	repo     *memRepo
	store    *seatstore.MemoryStore
	seats    *seats.Manager
	gateway  *fakeGateway
	notifier *fakeNotifier
	clock    *clock
	redis    *miniredis.Miniredis
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)}
	catalog := fakeCatalog{
		showID:  {ID: showID, HallID: 1, Title: "Arrival", PriceCents: 25000, SeatIDs: []string{"A1", "A2", "A3", "B1", "B2"}},
		otherID: {ID: otherID, HallID: 1, Title: "Heat", PriceCents: 20000, SeatIDs: []string{"A1", "A2"}},
	}
	logger := slog.New(slog.DiscardHandler)
	store := seatstore.NewMemoryStore(clk.Now)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	layout := cache.NewSeatLayout(config.SeatCacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache"}, rdb)
	mgr := seats.NewManager(store, holdTime, catalog, layout, logger)
	e := &env{
		repo:     newMemRepo(),
		store:    store,
		seats:    mgr,
		gateway:  &fakeGateway{},
		notifier: &fakeNotifier{},
		clock:    clk,
		redis:    mr,
	}
	e.svc = NewService(Deps{
		Repo:     e.repo,
		Seats:    mgr,
		Catalog:  catalog,
		Pricer:   pricing.New(1000, 1800),
		Gateway:  e.gateway,
		Notifier: e.notifier,
		Logger:   logger,
	}, WithClock(clk.Now))
	return e
}

func (e *env) available(t *testing.T, showtimeID uint64) []string {
	t.Helper()
	free, err := e.svc.GetAvailableSeats(context.Background(), showtimeID)
	if err != nil {
		t.Fatalf("available seats: %v", err)
	}
	return free
}
