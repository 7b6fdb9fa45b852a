package booking

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/9bishal/movie-booking-system-sub000/internal/model"
	"github.com/9bishal/movie-booking-system-sub000/internal/queue"
	"github.com/9bishal/movie-booking-system-sub000/internal/seatstore"
)

var ctx = context.Background()

func TestHappyPath(t *testing.T) {
	e := newEnv(t)

	b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A2", "A1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, b.Status)
	assert.Equal(t, []string{"A1", "A2"}, b.Seats)
	assert.Equal(t, model.PriceBreakdown{BaseCents: 50000, FeeCents: 2000, TaxCents: 9360, TotalCents: 61360}, b.Price)
	assert.Equal(t, e.clock.Now().Add(holdTime), b.ExpiresAt)
	assert.Equal(t, []string{"A3", "B1", "B2"}, e.available(t, showID))

	order, err := e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, order.Created)
	assert.Equal(t, int64(61360), order.AmountCents)

	e.clock.Add(time.Minute)
	res, err := e.svc.VerifyAndConfirm(ctx, b.ID, order.OrderID, "pay_1", sign(order.OrderID, "pay_1"), []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, res.AlreadyConfirmed)
	assert.Equal(t, model.StatusConfirmed, res.Booking.Status)
	require.NotNil(t, res.Booking.PaymentRef)
	assert.Equal(t, "pay_1", *res.Booking.PaymentRef)

	stored, err := e.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, stored.Status)
	assert.Equal(t, []string{"A3", "B1", "B2"}, e.available(t, showID))

	// Confirmed seats never lapse.
	e.clock.Add(time.Hour)
	assert.Equal(t, []string{"A3", "B1", "B2"}, e.available(t, showID))

	assert.Len(t, e.repo.transactions(model.TxPaymentSuccess), 1)
	assert.Equal(t, []queue.EventType{queue.EventBookingConfirmed}, e.notifier.types())
}

func TestCreateConflict(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1", "A2"})
	require.NoError(t, err)

	_, err = e.svc.CreateBooking(ctx, 2, showID, []string{"A2", "A3"})
	require.ErrorIs(t, err, ErrSeatsUnavailable)
	var se *SeatsUnavailableError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"A2"}, se.Seats)

	assert.Contains(t, e.available(t, showID), "A3", "a failed batch claims nothing")
	mine, err := e.svc.ListUserBookings(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestCreateValidation(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name     string
		showtime uint64
		seats    []string
		want     error
	}{
		{"no seats", showID, nil, ErrNoSeats},
		{"blank seats", showID, []string{" ", ""}, ErrNoSeats},
		{"unknown seat", showID, []string{"A1", "Z9"}, ErrUnknownSeats},
		{"unknown showtime", 99, []string{"A1"}, ErrShowtimeNotFound},
		{"too many", showID, []string{"A1", "A2", "A3", "B1", "B2", "C1", "C2", "C3", "C4", "C5", "C6"}, ErrTooManySeats},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.CreateBooking(ctx, 1, tt.showtime, tt.seats)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Len(t, e.available(t, showID), 5)
}

func TestCreateSaveFailureReleasesSeats(t *testing.T) {
	e := newEnv(t)
	e.repo.failCreate = errors.New("db down")

	_, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
	require.ErrorContains(t, err, "db down")
	assert.Contains(t, e.available(t, showID), "A1")
}

func TestShowtimesAreIndependent(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
	require.NoError(t, err)
	_, err = e.svc.CreateBooking(ctx, 2, otherID, []string{"A1"})
	assert.NoError(t, err)
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	e := newEnv(t)
	const n = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	won, lost := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(user uint64) {
			defer wg.Done()
			_, err := e.svc.CreateBooking(ctx, user, showID, []string{"B1", "B2"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, ErrSeatsUnavailable):
				lost++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(uint64(i + 1))
	}
	wg.Wait()
	assert.Equal(t, 1, won)
	assert.Equal(t, n-1, lost)
}

func TestConfirmIsIdempotent(t *testing.T) {
	e := newEnv(t)
	b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
	require.NoError(t, err)

	first, err := e.svc.ConfirmPayment(ctx, b.ID, "pay_1", nil)
	require.NoError(t, err)
	e.clock.Add(time.Minute)
	second, err := e.svc.ConfirmPayment(ctx, b.ID, "pay_1", nil)
	require.NoError(t, err)

	assert.True(t, second.AlreadyConfirmed)
	assert.Equal(t, *first.Booking.PaymentRef, *second.Booking.PaymentRef)
	assert.True(t, first.Booking.ConfirmedAt.Equal(*second.Booking.ConfirmedAt))
	assert.Len(t, e.repo.transactions(model.TxPaymentSuccess), 1)
	assert.Len(t, e.notifier.types(), 1)
}

func TestConcurrentPaymentOrderCreatesOne(t *testing.T) {
	e := newEnv(t)
	e.gateway.delay = 20 * time.Millisecond
	b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
	require.NoError(t, err)

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
			assert.NoError(t, err)
			ids[i] = res.OrderID
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, e.gateway.calls.Load())
	for _, id := range ids {
		assert.Equal(t, "order_1", id)
	}
	again, err := e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, "order_1", again.OrderID)
}

func TestPaymentOrderRules(t *testing.T) {
	t.Run("gateway failure is retryable", func(t *testing.T) {
		e := newEnv(t)
		b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
		require.NoError(t, err)
		e.gateway.fail.Store(true)
		_, err = e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
		require.ErrorIs(t, err, ErrGatewayUnavailable)

		e.gateway.fail.Store(false)
		res, err := e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, res.Created)
	})
	t.Run("expired hold", func(t *testing.T) {
		e := newEnv(t)
		b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
		require.NoError(t, err)
		e.clock.Add(holdTime + time.Second)
		_, err = e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
		assert.ErrorIs(t, err, ErrExpiredReservation)
		assert.Zero(t, e.gateway.calls.Load())
	})
	t.Run("cancelled booking", func(t *testing.T) {
		e := newEnv(t)
		b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
		require.NoError(t, err)
		_, err = e.svc.CancelBooking(ctx, b.ID, "")
		require.NoError(t, err)
		_, err = e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
	})
	t.Run("existing order of a cancelled booking", func(t *testing.T) {
		e := newEnv(t)
		b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
		require.NoError(t, err)
		_, err = e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
		require.NoError(t, err)
		_, err = e.svc.CancelBooking(ctx, b.ID, "")
		require.NoError(t, err)

		_, err = e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
	})
	t.Run("existing order of a lapsed hold", func(t *testing.T) {
		e := newEnv(t)
		b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
		require.NoError(t, err)
		_, err = e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
		require.NoError(t, err)
		e.clock.Add(holdTime + time.Second)

		_, err = e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
		assert.ErrorIs(t, err, ErrExpiredReservation)
		assert.EqualValues(t, 1, e.gateway.calls.Load())
	})
	t.Run("confirmed booking reports its order", func(t *testing.T) {
		e := newEnv(t)
		b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
		require.NoError(t, err)
		order, err := e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
		require.NoError(t, err)
		_, err = e.svc.ConfirmOrderPayment(ctx, b.ID, order.OrderID, "pay_1", nil)
		require.NoError(t, err)
		e.clock.Add(time.Hour)

		again, err := e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
		require.NoError(t, err)
		assert.False(t, again.Created)
		assert.Equal(t, order.OrderID, again.OrderID)
	})
	t.Run("cancelled caller does not abort the shared call", func(t *testing.T) {
		e := newEnv(t)
		e.gateway.delay = 30 * time.Millisecond
		b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = e.svc.GetOrCreatePaymentOrder(cctx, b.ID)
		}()
		time.Sleep(5 * time.Millisecond)
		cancel()

		res, err := e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "order_1", res.OrderID)
		<-done
		assert.EqualValues(t, 1, e.gateway.calls.Load())
	})
	t.Run("missing booking", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.GetOrCreatePaymentOrder(ctx, 404)
		assert.ErrorIs(t, err, ErrBookingNotFound)
	})
}

func TestExpiryReleasesSeats(t *testing.T) {
	e := newEnv(t)
	b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1", "A2"})
	require.NoError(t, err)

	_, err = e.svc.ExpireBooking(ctx, b.ID)
	require.ErrorIs(t, err, ErrNotExpired)

	e.clock.Add(holdTime + time.Second)
	due, err := e.svc.PendingExpired(ctx, e.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	got, err := e.svc.ExpireBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, got.Status)
	assert.Equal(t, reasonHoldElapsed, *got.StatusReason)
	assert.Len(t, e.available(t, showID), 5)
	assert.Equal(t, []queue.EventType{queue.EventBookingExpired}, e.notifier.types())

	_, err = e.svc.ExpireBooking(ctx, b.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestPaymentAfterHoldLapsed(t *testing.T) {
	e := newEnv(t)
	b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
	require.NoError(t, err)

	e.clock.Add(5*time.Minute + time.Second)
	_, err = e.svc.ConfirmPayment(ctx, b.ID, "pay_late", []byte(`{"late":true}`))
	require.ErrorIs(t, err, ErrExpiredReservation)

	stored, err := e.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
	assert.Contains(t, e.available(t, showID), "A1")
	failures := e.repo.transactions(model.TxPaymentFailure)
	require.Len(t, failures, 1)
	assert.Equal(t, "pay_late", failures[0].GatewayRef)
	assert.Equal(t, []queue.EventType{queue.EventBookingFailed}, e.notifier.types())
}

func TestConfirmAfterSeatsTakenByOther(t *testing.T) {
	e := newEnv(t)
	b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
	require.NoError(t, err)
	e.clock.Add(holdTime + time.Second)
	other, err := e.svc.CreateBooking(ctx, 2, showID, []string{"A1"})
	require.NoError(t, err)

	_, err = e.svc.ConfirmPayment(ctx, b.ID, "pay_1", nil)
	require.ErrorIs(t, err, ErrExpiredReservation)

	held, err := e.seats.IsStillReservedForOwner(ctx, showID, []string{"A1"}, other.Number)
	require.NoError(t, err)
	assert.True(t, held, "the new holder keeps the seat")
}

func TestConfirmLosesCommitRace(t *testing.T) {
	e := newEnv(t)
	b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1", "A2"})
	require.NoError(t, err)
	e.repo.beforeTransition = func(c model.StatusChange) {
		if c.To == model.StatusConfirmed {
			e.repo.set(b.ID, model.StatusExpired)
		}
	}

	_, err = e.svc.ConfirmPayment(ctx, b.ID, "pay_1", nil)
	require.ErrorIs(t, err, ErrExpiredReservation)
	assert.Len(t, e.available(t, showID), 5, "promoted seats of the lost booking are freed")
	assert.Empty(t, e.repo.transactions(model.TxPaymentSuccess))
}

func TestConfirmCommitFailureCanBeRedelivered(t *testing.T) {
	e := newEnv(t)
	b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
	require.NoError(t, err)

	e.repo.failTransition = errors.New("lock wait timeout")
	_, err = e.svc.ConfirmPayment(ctx, b.ID, "pay_1", nil)
	require.ErrorContains(t, err, "lock wait timeout")
	assert.NotContains(t, e.available(t, showID), "A1")

	e.repo.failTransition = nil
	res, err := e.svc.ConfirmPayment(ctx, b.ID, "pay_1", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, res.Booking.Status)
}

func TestPromotedSeatsOfUncommittedConfirmAreReclaimed(t *testing.T) {
	for name, finish := range map[string]func(e *env, id uint64) (model.Status, error){
		"abandoned": func(e *env, id uint64) (model.Status, error) {
			_, err := e.svc.ForceExpireBooking(ctx, id, "")
			return model.StatusExpired, err
		},
		"swept": func(e *env, id uint64) (model.Status, error) {
			e.clock.Add(holdTime + time.Second)
			_, err := e.svc.ExpireBooking(ctx, id)
			return model.StatusExpired, err
		},
		"cancelled": func(e *env, id uint64) (model.Status, error) {
			_, err := e.svc.CancelBooking(ctx, id, "")
			return model.StatusCancelled, err
		},
	} {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1", "A2"})
			require.NoError(t, err)

			e.repo.failTransition = errors.New("lock wait timeout")
			_, err = e.svc.ConfirmPayment(ctx, b.ID, "pay_1", nil)
			require.ErrorContains(t, err, "lock wait timeout")
			e.repo.failTransition = nil

			// The booking is still PENDING but its seats are CONFIRMED.
			got, err := e.svc.GetBooking(ctx, b.ID)
			require.NoError(t, err)
			require.Equal(t, model.StatusPending, got.Status)
			entries, err := e.store.Entries(ctx, showID, b.Seats)
			require.NoError(t, err)
			for _, id := range b.Seats {
				require.Equal(t, seatstore.StateConfirmed, entries[id].State, id)
			}
			assert.NotContains(t, e.available(t, showID), "A1")

			want, err := finish(e, b.ID)
			require.NoError(t, err)
			got, err = e.svc.GetBooking(ctx, b.ID)
			require.NoError(t, err)
			assert.Equal(t, want, got.Status)

			left, err := e.seats.ReservedByOwner(ctx, showID, b.Seats, b.Number)
			require.NoError(t, err)
			assert.Empty(t, left)
			assert.Len(t, e.available(t, showID), 5)
		})
	}
}

func TestForceExpireRacesConfirm(t *testing.T) {
	for i := 0; i < 30; i++ {
		e := newEnv(t)
		b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1", "A2"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var expireErr, confirmErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, expireErr = e.svc.ForceExpireBooking(ctx, b.ID, "")
		}()
		go func() {
			defer wg.Done()
			_, confirmErr = e.svc.ConfirmPayment(ctx, b.ID, "pay_1", nil)
		}()
		wg.Wait()

		got, err := e.svc.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		held, err := e.seats.ReservedByOwner(ctx, showID, b.Seats, b.Number)
		require.NoError(t, err)
		free := e.available(t, showID)

		switch got.Status {
		case model.StatusConfirmed:
			assert.NoError(t, confirmErr, "round %d", i)
			assert.ErrorIs(t, expireErr, ErrInvalidStateTransition, "round %d", i)
			assert.Equal(t, b.Seats, held, "round %d", i)
			assert.NotContains(t, free, "A1", "round %d", i)
			assert.NotContains(t, free, "A2", "round %d", i)
			assert.Len(t, e.repo.transactions(model.TxPaymentSuccess), 1, "round %d", i)
		case model.StatusExpired, model.StatusFailed:
			assert.True(t, errors.Is(confirmErr, ErrExpiredReservation) || errors.Is(confirmErr, ErrInvalidStateTransition),
				"round %d: %v", i, confirmErr)
			assert.Empty(t, held, "round %d", i)
			assert.Len(t, free, 5, "round %d", i)
			assert.Empty(t, e.repo.transactions(model.TxPaymentSuccess), "round %d", i)
		default:
			t.Fatalf("round %d: booking left in %s", i, got.Status)
		}
	}
}

func TestLapsedHoldShowsUpInCachedSeatMap(t *testing.T) {
	t.Run("late payment", func(t *testing.T) {
		e := newEnv(t)
		b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
		require.NoError(t, err)
		assert.NotContains(t, e.available(t, showID), "A1")
		require.True(t, e.redis.Exists("cache:{7}:seat-layout"), "seat map is cached")

		e.clock.Add(holdTime + time.Minute)
		_, err = e.svc.ConfirmPayment(ctx, b.ID, "pay_late", nil)
		require.ErrorIs(t, err, ErrExpiredReservation)
		got, err := e.svc.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		require.Equal(t, model.StatusFailed, got.Status)

		assert.Contains(t, e.available(t, showID), "A1")
	})
	t.Run("sweep", func(t *testing.T) {
		e := newEnv(t)
		b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
		require.NoError(t, err)
		assert.NotContains(t, e.available(t, showID), "A1")

		e.clock.Add(holdTime + time.Minute)
		_, err = e.svc.ExpireBooking(ctx, b.ID)
		require.NoError(t, err)

		assert.Contains(t, e.available(t, showID), "A1")
	})
}

func TestForceExpireTakesSiblings(t *testing.T) {
	e := newEnv(t)
	b1, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
	require.NoError(t, err)
	b2, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A2", "A3"})
	require.NoError(t, err)
	b3, err := e.svc.CreateBooking(ctx, 1, otherID, []string{"A1"})
	require.NoError(t, err)
	b4, err := e.svc.CreateBooking(ctx, 2, showID, []string{"B1"})
	require.NoError(t, err)

	res, err := e.svc.ForceExpireBooking(ctx, b1.ID, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{b1.ID, b2.ID}, res.Expired)
	assert.ElementsMatch(t, []string{"A1", "A2", "A3"}, res.Released)

	for id, want := range map[uint64]model.Status{
		b1.ID: model.StatusExpired,
		b2.ID: model.StatusExpired,
		b3.ID: model.StatusPending,
		b4.ID: model.StatusPending,
	} {
		got, err := e.svc.GetBooking(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, "booking %d", id)
	}
	assert.Equal(t, []string{"A1", "A2", "A3", "B2"}, e.available(t, showID))

	_, err = e.svc.ForceExpireBooking(ctx, b1.ID, "")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestSignatureInvalid(t *testing.T) {
	t.Run("pending booking fails", func(t *testing.T) {
		e := newEnv(t)
		b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
		require.NoError(t, err)
		order, err := e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
		require.NoError(t, err)

		_, err = e.svc.VerifyAndConfirm(ctx, b.ID, order.OrderID, "pay_1", "forged", nil)
		require.ErrorIs(t, err, ErrSignatureInvalid)

		got, err := e.svc.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusFailed, got.Status)
		assert.Len(t, e.repo.transactions(model.TxSignatureInvalid), 1)
		assert.Contains(t, e.available(t, showID), "A1")
	})
	t.Run("confirmed booking stays confirmed", func(t *testing.T) {
		e := newEnv(t)
		b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
		require.NoError(t, err)
		order, err := e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
		require.NoError(t, err)
		_, err = e.svc.ConfirmOrderPayment(ctx, b.ID, order.OrderID, "pay_1", nil)
		require.NoError(t, err)

		_, err = e.svc.VerifyAndConfirm(ctx, b.ID, order.OrderID, "pay_2", "forged", nil)
		require.ErrorIs(t, err, ErrSignatureInvalid)
		got, err := e.svc.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusConfirmed, got.Status)
		assert.Len(t, e.repo.transactions(model.TxSignatureInvalid), 1)
	})
	t.Run("wrong order", func(t *testing.T) {
		e := newEnv(t)
		b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
		require.NoError(t, err)
		_, err = e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
		require.NoError(t, err)
		_, err = e.svc.VerifyAndConfirm(ctx, b.ID, "order_other", "pay_1", sign("order_other", "pay_1"), nil)
		assert.ErrorIs(t, err, ErrOrderMismatch)
	})
}

func TestFailPaymentIsIdempotent(t *testing.T) {
	e := newEnv(t)
	b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
	require.NoError(t, err)

	got, err := e.svc.FailPayment(ctx, b.ID, "pay_1", "card declined", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	again, err := e.svc.FailPayment(ctx, b.ID, "pay_1", "card declined", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, again.Status)

	assert.Len(t, e.repo.transactions(model.TxPaymentFailure), 1)
	assert.Len(t, e.notifier.types(), 1)
	assert.Contains(t, e.available(t, showID), "A1")
}

func TestTerminalBookingsDoNotMove(t *testing.T) {
	e := newEnv(t)
	b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
	require.NoError(t, err)
	_, err = e.svc.ConfirmPayment(ctx, b.ID, "pay_1", nil)
	require.NoError(t, err)

	_, err = e.svc.CancelBooking(ctx, b.ID, "")
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, model.StatusConfirmed, ite.From)
	assert.EqualError(t, err, "cannot cancel a CONFIRMED booking")

	_, err = e.svc.FailPayment(ctx, b.ID, "pay_2", "", nil)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.NotContains(t, e.available(t, showID), "A1")
}

func TestCancelThenConfirm(t *testing.T) {
	e := newEnv(t)
	b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
	require.NoError(t, err)
	got, err := e.svc.CancelBooking(ctx, b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, reasonCancelled, *got.StatusReason)

	_, err = e.svc.ConfirmPayment(ctx, b.ID, "pay_1", nil)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Contains(t, e.available(t, showID), "A1")
}

func TestEnqueueFailureKeepsTransition(t *testing.T) {
	e := newEnv(t)
	e.notifier.err = errors.New("broker unreachable")
	b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
	require.NoError(t, err)

	res, err := e.svc.ConfirmPayment(ctx, b.ID, "pay_1", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, res.Booking.Status)
}

func TestGetBookingByNumber(t *testing.T) {
	e := newEnv(t)
	b, err := e.svc.CreateBooking(ctx, 1, showID, []string{"A1"})
	require.NoError(t, err)
	got, err := e.svc.GetBookingByNumber(ctx, b.Number)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = e.svc.GetBookingByNumber(ctx, "BK-NOPE")
	assert.ErrorIs(t, err, ErrBookingNotFound)

	order, err := e.svc.GetOrCreatePaymentOrder(ctx, b.ID)
	require.NoError(t, err)
	byOrder, err := e.svc.GetBookingByOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, byOrder.ID)
}

func TestCanTransition(t *testing.T) {
	all := []model.Status{model.StatusPending, model.StatusConfirmed, model.StatusFailed, model.StatusExpired, model.StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			want := from == model.StatusPending && to != model.StatusPending
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestNewNumber(t *testing.T) {
	re := regexp.MustCompile(`^BK-[2-9A-HJ-NP-Z]{10}$`)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		n := NewNumber()
		assert.Regexp(t, re, n)
		assert.False(t, seen[n], "duplicate number %s", n)
		seen[n] = true
	}
}
