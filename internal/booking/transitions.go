package booking

import (
	"log/slog"

	"github.com/robbyt/go-fsm/v2"
	"github.com/robbyt/go-fsm/v2/transitions"

	"github.com/9bishal/movie-booking-system-sub000/internal/model"
)

// lifecycle lists every allowed status change.  Terminal statuses lead
// nowhere, so nothing leaves them.
var lifecycle = transitions.MustNew(map[string][]string{
	string(model.StatusPending): {
		string(model.StatusConfirmed),
		string(model.StatusFailed),
		string(model.StatusExpired),
		string(model.StatusCancelled),
	},
	string(model.StatusConfirmed): {},
	string(model.StatusFailed):    {},
	string(model.StatusExpired):   {},
	string(model.StatusCancelled): {},
})

// checkTransition seeds a lifecycle machine at from and asks it to move to
// to.  A refused move comes back as an *InvalidTransitionError for op.  The
// machine only vets the move; the stored status changes through the
// repository's guarded update.
func checkTransition(handler slog.Handler, op string, from, to model.Status) error {
	m, err := fsm.New(string(from), lifecycle, fsm.WithLogHandler(handler))
	if err != nil {
		return &InvalidTransitionError{Op: op, From: from}
	}
	if err := m.Transition(string(to)); err != nil {
		return &InvalidTransitionError{Op: op, From: from}
	}
	return nil
}

func (s *Service) checkTransition(op string, from, to model.Status) error {
	return checkTransition(s.log.Handler(), op, from, to)
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to model.Status) bool {
	return checkTransition(slog.DiscardHandler, "", from, to) == nil
}
