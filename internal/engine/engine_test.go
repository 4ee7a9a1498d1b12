package engine

import (
	"math"
	"strings"
	"testing"

	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/config"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/logging"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

// The standard fixture: P UP at 0.40, K NO at 0.50, so up_no combined cost is
// 0.90 and the gap is 0.10. The opposite direction has no liquidity at all.
func pairSnaps(keyP, keyK string, timeLeft float64, closeMs int64, strike float64) (*types.Snapshot, *types.Snapshot) {
	snapP := &types.Snapshot{
		Venue:             types.VenueP,
		Coin:              "BTC",
		MarketKey:         keyP,
		MarketCloseTimeMs: closeMs,
		TimeLeftSec:       timeLeft,
		PriceToBeat:       strike,
		ReferenceSource:   types.RefHTML,
		DataStatus:        types.DataHealthy,
		UpTokenID:         "p-up",
		DownTokenID:       "p-down",
		OrderBooks: map[string]*types.OrderBook{
			"p-up":   {Asks: []types.PriceLevel{{Price: 0.40, Size: 500}}},
			"p-down": {},
		},
		BestAsk: map[string]float64{"p-up": 0.40},
	}
	snapK := &types.Snapshot{
		Venue:             types.VenueK,
		Coin:              "BTC",
		MarketKey:         keyK,
		MarketCloseTimeMs: closeMs,
		TimeLeftSec:       timeLeft,
		PriceToBeat:       strike,
		ReferenceSource:   types.RefPriceToBeat,
		DataStatus:        types.DataHealthy,
		UpTokenID:         "k-yes",
		DownTokenID:       "k-no",
		OrderBooks: map[string]*types.OrderBook{
			"k-yes": {},
			"k-no":  {Asks: []types.PriceLevel{{Price: 0.50, Size: 500}}},
		},
		BestAsk: map[string]float64{"k-no": 0.50},
	}
	return snapP, snapK
}

func snapMaps(snapP, snapK *types.Snapshot) (map[string]*types.Snapshot, map[string]*types.Snapshot) {
	return map[string]*types.Snapshot{"BTC": snapP}, map[string]*types.Snapshot{"BTC": snapK}
}

func testParams() config.CoinParams {
	return config.CoinParams{
		TradeAllowedTimeLeft: 900,
		MinGap:               0.04,
		MaxSpendTotal:        1000,
		FillUSD:              500,
	}
}

func newTestEngine(t *testing.T, latencyMs int64, params config.CoinParams) (*Engine, *logging.Sink) {
	t.Helper()
	mismatch := logging.NewSink("", "mismatch", 100)
	e := New(config.ProfileConfig{
		Name:              "test",
		Coins:             []string{"BTC"},
		DecisionLatencyMs: latencyMs,
		Params:            params,
	}, logging.NewSink("", "test", 100), mismatch)
	return e, mismatch
}

// openFixturePosition drives the two-tick entry at t = 1000/1010 against a
// market closing at closeMs, returning the engine with one open position.
func openFixturePosition(t *testing.T, closeMs int64) (*Engine, *logging.Sink) {
	t.Helper()
	e, mismatch := newTestEngine(t, 0, testParams())

	snapP, snapK := pairSnaps("p-1", "KXBTC15M-1", 600, closeMs, 50_000)
	mp, mk := snapMaps(snapP, snapK)
	e.Evaluate(mp, mk, 1000)
	e.Evaluate(mp, mk, 1010)

	if e.states["BTC"].position == nil {
		t.Fatal("fixture position did not open")
	}
	return e, mismatch
}

func TestEntryBlockedOutsideTradeWindow(t *testing.T) {
	t.Parallel()
	params := testParams()
	params.TradeAllowedTimeLeft = 750
	e, _ := newTestEngine(t, 0, params)

	snapP, snapK := pairSnaps("p-1", "KXBTC15M-1", 800, 10_000_000, 50_000)
	mp, mk := snapMaps(snapP, snapK)
	e.Evaluate(mp, mk, 1000)

	st := e.states["BTC"]
	if st.pending != nil {
		t.Error("pending created outside the allowed time window")
	}
	if st.position != nil {
		t.Error("position opened outside the allowed time window")
	}
	if got := e.GetSummary().TotalTrades; got != 0 {
		t.Errorf("totalTrades = %d, want 0", got)
	}
}

func TestSuccessfulUpNoEntry(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, 0, testParams())

	snapP, snapK := pairSnaps("p-1", "KXBTC15M-1", 600, 10_000_000, 50_000)
	mp, mk := snapMaps(snapP, snapK)

	e.Evaluate(mp, mk, 1000)
	st := e.states["BTC"]
	if st.pending == nil {
		t.Fatal("first tick did not create a pending order")
	}
	if st.pending.Direction != types.DirectionUpNo {
		t.Errorf("pending direction = %v, want up_no", st.pending.Direction)
	}

	e.Evaluate(mp, mk, 1010)
	if st.position == nil {
		t.Fatal("second tick did not open the position")
	}
	if got := e.GetSummary().TotalTrades; got != 1 {
		t.Errorf("totalTrades = %d, want 1", got)
	}
	if math.Abs(st.position.Estimate.Gap-0.10) > 1e-9 {
		t.Errorf("gap = %v, want 0.10", st.position.Estimate.Gap)
	}
	if st.position.Locked.PriceToBeatP != 50_000 || st.position.Locked.PriceToBeatK != 50_000 {
		t.Errorf("locked thresholds = %+v, want 50000/50000", st.position.Locked)
	}
}

func TestPendingCanceledByMarketRoll(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, 100, testParams())

	snapP, snapK := pairSnaps("p-1", "KXBTC15M-1", 600, 10_000_000, 50_000)
	mp1, mk1 := snapMaps(snapP, snapK)
	e.Evaluate(mp1, mk1, 1000)
	if e.states["BTC"].pending == nil {
		t.Fatal("first tick did not create a pending order")
	}

	snapP2, snapK2 := pairSnaps("p-1", "KXBTC15M-DIFFERENT", 600, 10_000_000, 50_000)
	mp, mk := snapMaps(snapP2, snapK2)
	e.Evaluate(mp, mk, 1101)

	st := e.states["BTC"]
	if st.pending != nil {
		t.Error("pending survived a market roll")
	}
	if st.position != nil {
		t.Error("position opened across a market roll")
	}
	if got := e.GetSummary().TotalTrades; got != 0 {
		t.Errorf("totalTrades = %d, want 0", got)
	}
}

func TestForceResolutionWithNoData(t *testing.T) {
	t.Parallel()
	e, _ := openFixturePosition(t, 2000) // closes at t0+1000

	empty := &types.Snapshot{}
	mp, mk := snapMaps(empty, empty)
	for i := int64(0); i < 5; i++ {
		e.Evaluate(mp, mk, 701_000+i*10)
	}

	st := e.states["BTC"]
	if st.position != nil {
		t.Fatal("position survived past the total-force deadline")
	}
	s := e.GetSummary()
	if s.Losses != 1 || s.Wins != 0 {
		t.Errorf("wins/losses = %d/%d, want 0/1", s.Wins, s.Losses)
	}
	if s.TotalProfit >= 0 {
		t.Errorf("totalProfit = %v, want the full spend lost", s.TotalProfit)
	}
}

func TestPostForceReentry(t *testing.T) {
	t.Parallel()
	e, _ := openFixturePosition(t, 2000)

	empty := &types.Snapshot{}
	mp, mk := snapMaps(empty, empty)
	for i := int64(0); i < 5; i++ {
		e.Evaluate(mp, mk, 701_000+i*10)
	}

	snapP, snapK := pairSnaps("p-new", "KXBTC15M-NEW", 600, 20_000_000, 51_000)
	mp, mk = snapMaps(snapP, snapK)
	e.Evaluate(mp, mk, 701_100)
	e.Evaluate(mp, mk, 701_110)

	if got := e.GetSummary().TotalTrades; got != 2 {
		t.Errorf("totalTrades = %d, want 2", got)
	}
	if e.states["BTC"].position == nil {
		t.Error("re-entry did not open a position on the fresh market")
	}
}

func TestMissingThresholdBlocksEntry(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, 0, testParams())

	snapP, snapK := pairSnaps("p-1", "KXBTC15M-1", 600, 10_000_000, 50_000)
	snapP.PriceToBeat = 0
	snapP.ReferenceSource = types.RefMissing
	mp, mk := snapMaps(snapP, snapK)
	e.Evaluate(mp, mk, 1000)

	if e.states["BTC"].pending != nil {
		t.Error("pending created with a missing threshold")
	}
	if got := e.GetSummary().TotalTrades; got != 0 {
		t.Errorf("totalTrades = %d, want 0", got)
	}
}

func TestEvaluateIdempotentAtSameInstant(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, 0, testParams())

	snapP, snapK := pairSnaps("p-1", "KXBTC15M-1", 600, 10_000_000, 50_000)
	mp, mk := snapMaps(snapP, snapK)

	e.Evaluate(mp, mk, 1000)
	e.Evaluate(mp, mk, 1000)

	st := e.states["BTC"]
	if st.position != nil {
		t.Error("repeated evaluation at the same instant opened a position")
	}
	if st.pending == nil {
		t.Error("pending lost on repeated evaluation")
	}
	if got := e.GetSummary().TotalTrades; got != 0 {
		t.Errorf("totalTrades = %d, want 0", got)
	}
}

func TestPendingAndPositionMutuallyExclusive(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, 0, testParams())

	snapP, snapK := pairSnaps("p-1", "KXBTC15M-1", 600, 10_000_000, 50_000)
	mp, mk := snapMaps(snapP, snapK)

	for i := int64(0); i < 10; i++ {
		e.Evaluate(mp, mk, 1000+i*10)
		st := e.states["BTC"]
		if st.pending != nil && st.position != nil {
			t.Fatalf("tick %d: pending and position both set", i)
		}
	}
}

func TestTradeAccountingInvariant(t *testing.T) {
	t.Parallel()
	e, _ := openFixturePosition(t, 2000)

	check := func(when string) {
		s := e.GetSummary()
		if s.TotalTrades != s.Wins+s.Losses+e.OpenPositions() {
			t.Errorf("%s: totalTrades %d != wins %d + losses %d + open %d",
				when, s.TotalTrades, s.Wins, s.Losses, e.OpenPositions())
		}
	}
	check("while open")

	// Settle as a consistent win: both venues rule UP, so the P leg pays.
	snapP, snapK := pairSnaps("p-1", "KXBTC15M-1", -1, 2000, 50_000)
	snapP.UnderlyingValue, snapP.UnderlyingTs = 50_500, 2000
	snapK.UnderlyingValue, snapK.UnderlyingTs = 50_500, 2000
	mp, mk := snapMaps(snapP, snapK)
	e.Evaluate(mp, mk, 2500)
	check("after settlement")

	s := e.GetSummary()
	if s.Wins != 1 {
		t.Errorf("wins = %d, want 1", s.Wins)
	}
	// 500 units at combined cost 0.90 pay out 0.10 each.
	if math.Abs(s.TotalProfit-50) > 1e-9 {
		t.Errorf("totalProfit = %v, want 50", s.TotalProfit)
	}
}

func TestVenueDisagreementGoesToMismatchLog(t *testing.T) {
	t.Parallel()
	e, mismatch := openFixturePosition(t, 2000)

	// P rules UP, K rules DOWN: both legs of up_no pay out.
	snapP, snapK := pairSnaps("p-1", "KXBTC15M-1", -1, 2000, 50_000)
	snapP.UnderlyingValue, snapP.UnderlyingTs = 50_500, 2000
	snapK.UnderlyingValue, snapK.UnderlyingTs = 49_500, 2000
	mp, mk := snapMaps(snapP, snapK)
	e.Evaluate(mp, mk, 2500)

	s := e.GetSummary()
	// 500 units pay twice: 1000 − 450 spent.
	if math.Abs(s.TotalProfit-550) > 1e-9 {
		t.Errorf("totalProfit = %v, want 550", s.TotalProfit)
	}
	lines := mismatch.Tail(10)
	if len(lines) != 1 {
		t.Fatalf("mismatch log lines = %d, want 1", len(lines))
	}
	if !strings.Contains(lines[0], "BTC") {
		t.Errorf("mismatch line %q does not name the coin", lines[0])
	}
}

func TestCooldownBlocksImmediateReentry(t *testing.T) {
	t.Parallel()
	params := testParams()
	params.CooldownMs = 5000
	e, _ := newTestEngine(t, 0, params)

	snapP, snapK := pairSnaps("p-1", "KXBTC15M-1", 600, 2000, 50_000)
	mp, mk := snapMaps(snapP, snapK)
	e.Evaluate(mp, mk, 1000)
	e.Evaluate(mp, mk, 1010)
	if e.states["BTC"].position == nil {
		t.Fatal("position did not open")
	}

	// Settle, then retry inside the cooldown window on a fresh market.
	snapP.UnderlyingValue, snapP.UnderlyingTs = 50_500, 2000
	snapK.UnderlyingValue, snapK.UnderlyingTs = 50_500, 2000
	e.Evaluate(mp, mk, 2500)
	if e.states["BTC"].position != nil {
		t.Fatal("position did not settle")
	}

	snapP2, snapK2 := pairSnaps("p-2", "KXBTC15M-2", 600, 20_000_000, 50_000)
	mp2, mk2 := snapMaps(snapP2, snapK2)
	e.Evaluate(mp2, mk2, 3000) // roll tick
	e.Evaluate(mp2, mk2, 3010)
	if e.states["BTC"].pending != nil {
		t.Error("pending created inside the cooldown window")
	}

	e.Evaluate(mp2, mk2, 6100)
	if e.states["BTC"].pending == nil {
		t.Error("pending not created after the cooldown expired")
	}
}

func TestUnhealthyVenueBlocksEntry(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, 0, testParams())

	snapP, snapK := pairSnaps("p-1", "KXBTC15M-1", 600, 10_000_000, 50_000)
	snapK.DataStatus = types.DataStale
	mp, mk := snapMaps(snapP, snapK)
	e.Evaluate(mp, mk, 1000)

	if e.states["BTC"].pending != nil {
		t.Error("pending created with a stale venue")
	}
}

func TestPanicInOneCoinIsContained(t *testing.T) {
	t.Parallel()
	mismatch := logging.NewSink("", "mismatch", 100)
	e := New(config.ProfileConfig{
		Name:              "test",
		Coins:             []string{"BAD", "BTC"},
		DecisionLatencyMs: 0,
		Params:            testParams(),
	}, logging.NewSink("", "test", 100), mismatch)

	// A coin whose state is deliberately broken panics inside evaluate.
	e.states["BAD"] = nil

	snapP, snapK := pairSnaps("p-1", "KXBTC15M-1", 600, 10_000_000, 50_000)
	mp, mk := snapMaps(snapP, snapK)
	mp["BAD"], mk["BAD"] = snapP, snapK

	e.Evaluate(mp, mk, 1000)
	if e.states["BTC"].pending == nil {
		t.Error("healthy coin did not evaluate after a sibling panicked")
	}
}
