// Package pricing turns a showtime and a seat count into a price breakdown.
// It is a pure function of its inputs; currency handling beyond integer
// minor units is left to the payment gateway.
package pricing

import "github.com/9bishal/movie-booking-system-sub000/internal/model"

// Calculator adds a flat per-seat convenience fee and a percentage tax (in
// basis points, 1800 = 18%) on base + fee.
type Calculator struct {
	FeeCentsPerSeat int64
	TaxBasisPoints  int64
}

// New returns a Calculator.  Negative inputs are treated as zero.
func New(feeCentsPerSeat, taxBasisPoints int64) Calculator {
	return Calculator{FeeCentsPerSeat: max(feeCentsPerSeat, 0), TaxBasisPoints: max(taxBasisPoints, 0)}
}

// Calculate prices seatCount seats of show.  Tax is rounded half up to the
// nearest cent.
func (c Calculator) Calculate(show model.Showtime, seatCount int) model.PriceBreakdown {
	if seatCount <= 0 {
		return model.PriceBreakdown{}
	}
	n := int64(seatCount)
	base := show.PriceCents * n
	fee := c.FeeCentsPerSeat * n
	tax := ((base+fee)*c.TaxBasisPoints + 5000) / 10000
	return model.PriceBreakdown{
		BaseCents:  base,
		FeeCents:   fee,
		TaxCents:   tax,
		TotalCents: base + fee + tax,
	}
}
