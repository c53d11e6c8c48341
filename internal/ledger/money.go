package ledger

import "github.com/shopspring/decimal"

// centPlaces is the scale every USD basis/proceeds fragment is rounded to.
const centPlaces = 2

// roundHalfDown rounds a non-negative decimal to the given number of places,
// with an exact half rounding down. Used uniformly for splitting a lot's cost
// basis and a transaction's proceeds across disposal fragments: half-down
// never overstates basis, so realized gains are never understated.
func roundHalfDown(d decimal.Decimal, places int32) decimal.Decimal {
	shifted := d.Shift(places)
	floor := shifted.Floor()
	if shifted.Sub(floor).GreaterThan(decimal.New(5, -1)) {
		floor = floor.Add(decimal.New(1, 0))
	}
	return floor.Shift(-places)
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}
