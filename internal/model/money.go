package model

import "fmt"

// PriceBreakdown is the monetary breakdown of a booking in minor currency
// units (cents).  Amounts are integers; floating point is never used for
// money.  TotalCents always equals BaseCents + FeeCents + TaxCents.
type PriceBreakdown struct {
	BaseCents  int64 `json:"base_cents"`
	FeeCents   int64 `json:"fee_cents"`
	TaxCents   int64 `json:"tax_cents"`
	TotalCents int64 `json:"total_cents"`
}

// Consistent reports whether the total matches its parts and nothing is negative.
func (p PriceBreakdown) Consistent() bool {
	if p.BaseCents < 0 || p.FeeCents < 0 || p.TaxCents < 0 {
		return false
	}
	return p.TotalCents == p.BaseCents+p.FeeCents+p.TaxCents
}

// FormatCents renders an amount such as 12345 as "123.45".
func FormatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
