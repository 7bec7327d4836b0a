package commission

import "math"

// Revenue waterfall constants: 15% admin fee on the post-affiliate
// remainder, then a 60/40 founder/co-founder split of what is left.
const (
	adminFeePercent = 15
	founderPercent  = 60
)

// Shares is the four-way split of one transaction amount, in whole Rupiah.
type Shares struct {
	Affiliate int64
	AdminFee  int64
	Founder   int64
	CoFounder int64
}

// Total returns the sum of the four shares.
func (s Shares) Total() int64 {
	return s.Affiliate + s.AdminFee + s.Founder + s.CoFounder
}

// Amount computes the affiliate commission for a gross amount under the
// given regime, floored to whole Rupiah.
func Amount(gross int64, kind Kind, value float64) int64 {
	switch kind {
	case KindPercentage:
		return int64(math.Floor(float64(gross) * value / 100))
	default:
		return int64(math.Floor(value))
	}
}

// Split applies the fixed waterfall to a gross amount. Every derived share
// is floored; the co-founder share is the exact remainder, so the four
// shares always sum to gross. Callers pass value=0 when the order has no
// affiliate: the affiliate share is then zero and the waterfall runs over
// the full amount.
func Split(gross int64, kind Kind, value float64) Shares {
	affiliate := Amount(gross, kind, value)

	remaining := gross - affiliate
	adminFee := remaining * adminFeePercent / 100
	afterAdmin := remaining - adminFee
	founder := afterAdmin * founderPercent / 100
	coFounder := afterAdmin - founder

	return Shares{
		Affiliate: affiliate,
		AdminFee:  adminFee,
		Founder:   founder,
		CoFounder: coFounder,
	}
}
