package oracle

import (
	"testing"

	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

const closeMs = int64(1_000_000)

func TestVenueOutcomeOfficialPrint(t *testing.T) {
	t.Parallel()
	snap := &types.Snapshot{
		UnderlyingValue: 50_100,
		UnderlyingTs:    closeMs + 5_000,
		CryptoPrice:     49_000, // would say DOWN; the official print must win
		CryptoPriceTimestamp: closeMs,
	}

	if got := VenueOutcome(snap, 50_000, closeMs); got != types.OutcomeUp {
		t.Errorf("outcome = %v, want UP from official print", got)
	}
}

func TestVenueOutcomeStalePrintIgnored(t *testing.T) {
	t.Parallel()
	snap := &types.Snapshot{
		UnderlyingValue: 50_100,
		UnderlyingTs:    closeMs + officialPrintWindowMs + 1,
	}

	if got := VenueOutcome(snap, 50_000, closeMs); got != types.OutcomeUnknown {
		t.Errorf("outcome = %v, want UNKNOWN when the print is outside the window", got)
	}
}

func TestVenueOutcomeHistoryClosestSample(t *testing.T) {
	t.Parallel()
	snap := &types.Snapshot{
		PriceHistory: []types.PricePoint{
			{Price: 49_000, Ts: closeMs - 50_000}, // in window, farther
			{Price: 50_500, Ts: closeMs - 2_000},  // closest: decides
			{Price: 48_000, Ts: closeMs - 90_000}, // outside window
		},
	}

	if got := VenueOutcome(snap, 50_000, closeMs); got != types.OutcomeUp {
		t.Errorf("outcome = %v, want UP from closest history sample", got)
	}
}

func TestVenueOutcomeSpotFallbackFreshness(t *testing.T) {
	t.Parallel()
	snap := &types.Snapshot{
		CryptoPrice:          49_000,
		CryptoPriceTimestamp: closeMs - spotFreshnessMs - 1,
	}
	if got := VenueOutcome(snap, 50_000, closeMs); got != types.OutcomeUnknown {
		t.Errorf("outcome = %v, want UNKNOWN for a stale spot print", got)
	}

	snap.CryptoPriceTimestamp = closeMs - spotFreshnessMs + 1
	if got := VenueOutcome(snap, 50_000, closeMs); got != types.OutcomeDown {
		t.Errorf("outcome = %v, want DOWN from fresh spot", got)
	}
}

func TestVenueOutcomeTieResolvesDown(t *testing.T) {
	t.Parallel()
	snap := &types.Snapshot{
		UnderlyingValue: 50_000,
		UnderlyingTs:    closeMs,
	}
	if got := VenueOutcome(snap, 50_000, closeMs); got != types.OutcomeDown {
		t.Errorf("outcome = %v, want DOWN on exact tie", got)
	}
}

func testPosition() *types.OpenPosition {
	return &types.OpenPosition{
		Direction:     types.DirectionUpNo,
		MarketCloseMs: closeMs,
		Locked:        types.LockedThresholds{PriceToBeatP: 50_000, PriceToBeatK: 50_000},
	}
}

func TestResolveWaitsBeforeDeadlines(t *testing.T) {
	t.Parallel()
	pos := testPosition()

	_, done := Resolve(pos, &types.Snapshot{}, &types.Snapshot{}, closeMs+PartialForceAfterMs-1)
	if done {
		t.Error("Resolve closed an unresolved position before any force deadline")
	}
}

func TestResolveBothSidesCloseImmediately(t *testing.T) {
	t.Parallel()
	pos := testPosition()
	snapP := &types.Snapshot{UnderlyingValue: 50_100, UnderlyingTs: closeMs}
	snapK := &types.Snapshot{UnderlyingValue: 50_100, UnderlyingTs: closeMs}

	res, done := Resolve(pos, snapP, snapK, closeMs+1)
	if !done {
		t.Fatal("Resolve did not close with both sides resolved")
	}
	if res.Forced {
		t.Error("resolution marked forced with full data")
	}
	if res.OutcomeP != types.OutcomeUp || res.OutcomeK != types.OutcomeUp {
		t.Errorf("outcomes = (%v, %v), want (UP, UP)", res.OutcomeP, res.OutcomeK)
	}
}

func TestResolvePartialForceUsesLooseSpot(t *testing.T) {
	t.Parallel()
	pos := testPosition()
	snapP := &types.Snapshot{UnderlyingValue: 50_100, UnderlyingTs: closeMs}
	// K has only an ancient spot print: good enough past the partial deadline.
	snapK := &types.Snapshot{CryptoPrice: 49_000, CryptoPriceTimestamp: 1}

	res, done := Resolve(pos, snapP, snapK, closeMs+PartialForceAfterMs)
	if !done {
		t.Fatal("Resolve did not close past the partial-force deadline")
	}
	if !res.Forced {
		t.Error("resolution not marked forced")
	}
	if res.OutcomeK != types.OutcomeDown {
		t.Errorf("K outcome = %v, want DOWN from loose spot", res.OutcomeK)
	}
}

func TestResolvePartialForceNeedsOneKnownSide(t *testing.T) {
	t.Parallel()
	pos := testPosition()

	_, done := Resolve(pos, &types.Snapshot{}, &types.Snapshot{}, closeMs+PartialForceAfterMs)
	if done {
		t.Error("partial force closed a position with no known side")
	}
}

func TestResolveTotalForceClosesUnconditionally(t *testing.T) {
	t.Parallel()
	pos := testPosition()

	res, done := Resolve(pos, nil, nil, closeMs+TotalForceAfterMs)
	if !done {
		t.Fatal("Resolve did not close past the total-force deadline")
	}
	if !res.Forced {
		t.Error("resolution not marked forced")
	}
	if res.OutcomeP != types.OutcomeUnknown || res.OutcomeK != types.OutcomeUnknown {
		t.Errorf("outcomes = (%v, %v), want both UNKNOWN", res.OutcomeP, res.OutcomeK)
	}
}
