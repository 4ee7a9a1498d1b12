// Package oracle derives settlement outcomes for open positions.
//
// Each venue's outcome is resolved independently against the threshold locked
// into the position at open time, trying data sources in priority order:
//
//  1. Official venue print (K only): the venue's own settlement-time
//     underlying value, when timestamped within a minute of close.
//  2. Last-trade history: the price sample closest to close within ±60 s.
//  3. Spot fallback: the live underlying price, if recent enough.
//
// When neither venue can be resolved long after close, force-resolution
// policy closes the position anyway so capital accounting never wedges on a
// dead market.
package oracle

import (
	"math"

	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

const (
	// officialPrintWindowMs bounds how far an official underlying print may
	// sit from market close and still be trusted.
	officialPrintWindowMs = 60_000

	// historyWindowMs bounds the last-trade history search around close.
	historyWindowMs = 60_000

	// spotFreshnessMs is how far before close a spot print may be taken from.
	spotFreshnessMs = 120_000

	// PartialForceAfterMs closes a position on one known side (plus any spot
	// print for the other) three minutes past close.
	PartialForceAfterMs = 180_000

	// TotalForceAfterMs closes a position as a loss ten minutes past close
	// when settlement data never arrived.
	TotalForceAfterMs = 600_000
)

// Resolution is the oracle's verdict for one position.
type Resolution struct {
	OutcomeP types.Outcome
	OutcomeK types.Outcome
	Forced   bool // set when a force-resolution deadline produced the verdict
}

// Resolved reports whether both venues have a definite outcome.
func (r Resolution) Resolved() bool {
	return r.OutcomeP != types.OutcomeUnknown && r.OutcomeK != types.OutcomeUnknown
}

// Resolve attempts to settle a position from the current snapshots. It
// returns a resolution and whether the position should be closed now.
//
// Before any force deadline, the position closes only when both venues
// resolve. Past PartialForceAfterMs, one known side is enough: the unknown
// side takes the most recent spot print regardless of freshness, or counts
// as lost if no spot exists. Past TotalForceAfterMs, the position closes
// unconditionally; still-unknown sides count as lost.
func Resolve(pos *types.OpenPosition, snapP, snapK *types.Snapshot, nowMs int64) (Resolution, bool) {
	res := Resolution{
		OutcomeP: VenueOutcome(snapP, pos.Locked.PriceToBeatP, pos.MarketCloseMs),
		OutcomeK: VenueOutcome(snapK, pos.Locked.PriceToBeatK, pos.MarketCloseMs),
	}

	if res.Resolved() {
		return res, true
	}

	age := nowMs - pos.MarketCloseMs
	if age >= TotalForceAfterMs {
		res.Forced = true
		return res, true
	}

	oneKnown := res.OutcomeP != types.OutcomeUnknown || res.OutcomeK != types.OutcomeUnknown
	if age >= PartialForceAfterMs && oneKnown {
		if res.OutcomeP == types.OutcomeUnknown {
			res.OutcomeP = spotOutcomeLoose(snapP, pos.Locked.PriceToBeatP)
		}
		if res.OutcomeK == types.OutcomeUnknown {
			res.OutcomeK = spotOutcomeLoose(snapK, pos.Locked.PriceToBeatK)
		}
		res.Forced = true
		return res, true
	}

	return res, false
}

// VenueOutcome resolves one venue's verdict against a locked threshold using
// the priority order documented on the package.
func VenueOutcome(snap *types.Snapshot, threshold float64, closeMs int64) types.Outcome {
	if snap == nil || threshold <= 0 {
		return types.OutcomeUnknown
	}

	// 1. Official settlement print (venue K publishes these).
	if snap.UnderlyingValue > 0 && snap.UnderlyingTs > 0 {
		if abs64(snap.UnderlyingTs-closeMs) <= officialPrintWindowMs {
			return compare(snap.UnderlyingValue, threshold)
		}
	}

	// 2. Last-trade history: closest sample to close within the window.
	if v, ok := closestHistory(snap.PriceHistory, closeMs); ok {
		return compare(v, threshold)
	}

	// 3. Spot fallback, only if the print is close enough to settlement.
	if snap.CryptoPrice > 0 && snap.CryptoPriceTimestamp >= closeMs-spotFreshnessMs {
		return compare(snap.CryptoPrice, threshold)
	}

	return types.OutcomeUnknown
}

// spotOutcomeLoose is the partial-force fallback: any spot print counts, no
// freshness requirement. No print at all means the leg is treated as lost,
// which the caller expresses as UNKNOWN.
func spotOutcomeLoose(snap *types.Snapshot, threshold float64) types.Outcome {
	if snap == nil || threshold <= 0 || snap.CryptoPrice <= 0 {
		return types.OutcomeUnknown
	}
	return compare(snap.CryptoPrice, threshold)
}

// compare applies the venues' settlement rule: the contract asks "above", so
// an exact tie resolves DOWN.
func compare(value, threshold float64) types.Outcome {
	if value > threshold {
		return types.OutcomeUp
	}
	return types.OutcomeDown
}

func closestHistory(history []types.PricePoint, closeMs int64) (float64, bool) {
	var (
		best     float64
		bestDist int64 = math.MaxInt64
		found    bool
	)
	for _, p := range history {
		d := abs64(p.Ts - closeMs)
		if d > historyWindowMs {
			continue
		}
		if d < bestDist {
			bestDist = d
			best = p.Price
			found = true
		}
	}
	return best, found
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
