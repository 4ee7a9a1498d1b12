package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/config"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/logging"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/market"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/oracle"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

// directionTieEps: when both directions' gaps are this close, up_no wins.
const directionTieEps = 1e-9

// coinState is the per-(engine, coin) runtime record. It is only ever touched
// from Engine.Evaluate, which the multiplexer calls from a single goroutine,
// so it carries no locks.
type coinState struct {
	coin   string
	params config.CoinParams

	lastMarketKeyP string
	lastMarketKeyK string

	pending        *types.PendingOrder
	position       *types.OpenPosition
	lastDecisionMs int64

	view types.MarketView
}

// evaluate runs one tick of the state machine for this coin, in the fixed
// transition order: market-key refresh, settlement, pending confirmation,
// entry gate.
func (st *coinState) evaluate(e *Engine, snapP, snapK *types.Snapshot, nowMs int64) {
	canceledByRoll := st.refreshMarketKeys(e, snapP, snapK)

	if st.position != nil && nowMs >= st.position.MarketCloseMs {
		st.tryResolve(e, snapP, snapK, nowMs)
	}

	st.rebuildView(snapP, snapK, nowMs)

	if st.pending != nil {
		st.confirmPending(e, snapP, snapK, nowMs)
		return
	}

	if st.position != nil {
		return // no new entries while a position is open on this coin
	}
	if canceledByRoll {
		return // the rolled market gets a clean tick before re-entry
	}

	st.tryEnter(e, snapP, snapK, nowMs)
}

// refreshMarketKeys tracks expiry rolls. A roll cancels any pending order
// and reports that it did so; an open position survives, settling against
// its own locked market, and keeps new entries blocked until it resolves.
func (st *coinState) refreshMarketKeys(e *Engine, snapP, snapK *types.Snapshot) bool {
	keyP, keyK := st.lastMarketKeyP, st.lastMarketKeyK
	if snapP != nil && snapP.MarketKey != "" {
		keyP = snapP.MarketKey
	}
	if snapK != nil && snapK.MarketKey != "" {
		keyK = snapK.MarketKey
	}

	changed := keyP != st.lastMarketKeyP || keyK != st.lastMarketKeyK
	canceled := false
	if changed && st.pending != nil {
		e.logf(logging.LevelWarn, "%s: market rolled (%s/%s), canceling pending %s",
			st.coin, keyP, keyK, st.pending.Direction)
		st.pending = nil
		canceled = true
	}

	st.lastMarketKeyP = keyP
	st.lastMarketKeyK = keyK
	return canceled
}

// tryResolve asks the oracle for a settlement verdict and books the PnL when
// one is available (or forced).
func (st *coinState) tryResolve(e *Engine, snapP, snapK *types.Snapshot, nowMs int64) {
	res, done := oracle.Resolve(st.position, snapP, snapK, nowMs)
	if !done {
		return
	}
	e.settle(st, res, nowMs)
	st.position = nil
}

// confirmPending promotes a due pending order into an open position when the
// market keys are unchanged and a re-estimate still clears the gap threshold.
// A failed re-estimate cancels the pending and returns the coin to idle.
//
// Confirmation never happens within the tick that created the pending: with a
// zero decision latency the order still waits for the next tick, which also
// keeps Evaluate idempotent for a repeated (nowMs, snapshots) pair.
func (st *coinState) confirmPending(e *Engine, snapP, snapK *types.Snapshot, nowMs int64) {
	p := st.pending
	st.view.PendingDirection = p.Direction

	if nowMs < p.DueMs || nowMs <= p.CreatedMs {
		return
	}

	if snapP == nil || snapK == nil ||
		snapP.MarketKey != p.MarketKeyP || snapK.MarketKey != p.MarketKeyK {
		e.logf(logging.LevelWarn, "%s: pending %s canceled, market changed under it",
			st.coin, p.Direction)
		st.pending = nil
		st.view.PendingDirection = ""
		return
	}

	est := market.Estimate(p.Direction, snapP, snapK, st.notional())
	if est.Gap < st.params.MinGap || est.Source == types.SourceUnavailable {
		e.logf(logging.LevelInfo, "%s: pending %s canceled, gap %.4f below %.4f on re-estimate",
			st.coin, p.Direction, est.Gap, st.params.MinGap)
		st.pending = nil
		st.view.PendingDirection = ""
		return
	}

	st.open(e, p, est, snapP, snapK, nowMs)
}

// open converts a confirmed pending into an open position, locking both
// venues' thresholds for settlement.
func (st *coinState) open(e *Engine, p *types.PendingOrder, est types.FillEstimate, snapP, snapK *types.Snapshot, nowMs int64) {
	pos := &types.OpenPosition{
		ID:            uuid.NewString(),
		Direction:     p.Direction,
		Estimate:      est,
		OpenedMs:      nowMs,
		MarketKeyP:    p.MarketKeyP,
		MarketKeyK:    p.MarketKeyK,
		MarketCloseMs: snapK.MarketCloseTimeMs,
		Units:         est.Units(),
		SpendTotal:    est.SpendTotal(),
		Locked: types.LockedThresholds{
			PriceToBeatP: snapP.PriceToBeat,
			PriceToBeatK: snapK.PriceToBeat,
		},
	}
	if snapP.MarketCloseTimeMs > pos.MarketCloseMs {
		pos.MarketCloseMs = snapP.MarketCloseTimeMs
	}

	st.pending = nil
	st.position = pos
	st.lastDecisionMs = nowMs
	st.view.PendingDirection = ""
	st.view.Position = pos

	e.recordOpen()
	e.logf(logging.LevelInfo,
		"%s: OPEN %s units=%.2f spend=%.2f cost=%.4f gap=%.4f (P=%s K=%s)",
		st.coin, pos.Direction, pos.Units, pos.SpendTotal,
		est.CombinedCost, est.Gap, pos.MarketKeyP, pos.MarketKeyK)
}

// tryEnter runs the entry gate and, when everything passes, creates a pending
// order due after the engine's decision latency.
func (st *coinState) tryEnter(e *Engine, snapP, snapK *types.Snapshot, nowMs int64) {
	if !st.gatePasses(snapP, snapK, nowMs) {
		return
	}

	best, ok := pickEligible(st.view.EstimateUpNo, st.view.EstimateDownYes)
	if !ok {
		return
	}
	if best.Gap < st.params.MinGap {
		return
	}
	if best.SpendTotal() < st.params.MinSpendTotal {
		return
	}
	if !st.qualityChecks(best, snapP, snapK, nowMs) {
		return
	}

	st.view.SelectedDirection = best.Direction
	st.view.CurrentGap = best.Gap

	st.pending = &types.PendingOrder{
		ID:         uuid.NewString(),
		Direction:  best.Direction,
		MarketKeyP: snapP.MarketKey,
		MarketKeyK: snapK.MarketKey,
		Estimate:   best,
		CreatedMs:  nowMs,
		DueMs:      nowMs + e.decisionLatencyMs,
	}
	st.view.PendingDirection = best.Direction

	e.logf(logging.LevelInfo, "%s: pending %s gap=%.4f cost=%.4f due in %dms",
		st.coin, best.Direction, best.Gap, best.CombinedCost, e.decisionLatencyMs)
}

// gatePasses is the hard entry gate from the trade window and data-health
// requirements. Every condition must hold on both venues.
func (st *coinState) gatePasses(snapP, snapK *types.Snapshot, nowMs int64) bool {
	if snapP == nil || snapK == nil {
		return false
	}
	if snapP.DataStatus != types.DataHealthy || snapK.DataStatus != types.DataHealthy {
		return false
	}
	cp := st.params
	for _, s := range []*types.Snapshot{snapP, snapK} {
		if s.TimeLeftSec > cp.TradeAllowedTimeLeft {
			return false
		}
		if cp.TradeStopTimeLeft > 0 && s.TimeLeftSec <= cp.TradeStopTimeLeft {
			return false
		}
		if s.TimeLeftSec <= 0 {
			return false
		}
		if !s.HasThreshold() {
			return false
		}
	}
	if st.lastDecisionMs+cp.CooldownMs > nowMs {
		return false
	}
	return true
}

// qualityChecks applies the optional per-coin entry filters: venue spread,
// resting book depth, and spot print staleness.
func (st *coinState) qualityChecks(est types.FillEstimate, snapP, snapK *types.Snapshot, nowMs int64) bool {
	cp := st.params

	tokenP, tokenK := legTokens(est.Direction, snapP, snapK)

	if cp.MaxSpread > 0 {
		if spreadFor(snapP, tokenP) > cp.MaxSpread || spreadFor(snapK, tokenK) > cp.MaxSpread {
			return false
		}
	}
	if cp.MinDepthValue > 0 {
		if askDepth(snapP, tokenP) < cp.MinDepthValue || askDepth(snapK, tokenK) < cp.MinDepthValue {
			return false
		}
	}
	if cp.MaxPriceStalenessSec > 0 {
		maxAgeMs := int64(cp.MaxPriceStalenessSec * 1000)
		for _, s := range []*types.Snapshot{snapP, snapK} {
			if s.CryptoPriceTimestamp == 0 || nowMs-s.CryptoPriceTimestamp > maxAgeMs {
				return false
			}
		}
	}
	return true
}

// rebuildView recomputes the display projection. Estimates are computed for
// display whenever both snapshots exist, independent of the entry gate.
func (st *coinState) rebuildView(snapP, snapK *types.Snapshot, nowMs int64) {
	v := types.MarketView{
		Coin:           st.coin,
		DataStatusP:    statusOf(snapP),
		DataStatusK:    statusOf(snapK),
		Position:       st.position,
		LastDecisionMs: st.lastDecisionMs,
	}
	if snapK != nil {
		v.TimeLeftSec = snapK.TimeLeftSec
	} else if snapP != nil {
		v.TimeLeftSec = snapP.TimeLeftSec
	}

	if snapP != nil && snapK != nil {
		up := market.Estimate(types.DirectionUpNo, snapP, snapK, st.notional())
		down := market.Estimate(types.DirectionDownYes, snapP, snapK, st.notional())
		v.EstimateUpNo = &up
		v.EstimateDownYes = &down
		v.EstimateUpNoSource = up.Source
		v.EstimateDownYesSource = down.Source
		if best, ok := pickEligible(v.EstimateUpNo, v.EstimateDownYes); ok {
			v.CurrentGap = best.Gap
		}
	} else {
		v.EstimateUpNoSource = types.SourceUnavailable
		v.EstimateDownYesSource = types.SourceUnavailable
	}

	st.view = v
}

// notional is the per-leg estimation target: min(fillUsd, maxSpendTotal),
// with an unset fillUsd meaning the full spend cap.
func (st *coinState) notional() float64 {
	n := st.params.FillUSD
	if n <= 0 || n > st.params.MaxSpendTotal {
		n = st.params.MaxSpendTotal
	}
	return n
}

// pickEligible chooses between the two direction estimates, ignoring any
// whose pricing source is unavailable (an unpriced leg reads as zero cost and
// would otherwise fake a full gap). Larger gap wins; within directionTieEps,
// up_no wins.
func pickEligible(up, down *types.FillEstimate) (types.FillEstimate, bool) {
	upOK := up != nil && up.Source != types.SourceUnavailable
	downOK := down != nil && down.Source != types.SourceUnavailable
	switch {
	case upOK && downOK:
		if down.Gap-up.Gap > directionTieEps {
			return *down, true
		}
		return *up, true
	case upOK:
		return *up, true
	case downOK:
		return *down, true
	default:
		return types.FillEstimate{}, false
	}
}

func legTokens(dir types.Direction, snapP, snapK *types.Snapshot) (string, string) {
	if dir == types.DirectionUpNo {
		return snapP.UpTokenID, snapK.DownTokenID
	}
	return snapP.DownTokenID, snapK.UpTokenID
}

func spreadFor(s *types.Snapshot, token string) float64 {
	ask := s.BestAskFor(token)
	var bid float64
	if s.BestBid != nil {
		bid = s.BestBid[token]
	}
	if ask <= 0 || bid <= 0 {
		return 0 // unknown spread is not a reason to block; depth checks cover it
	}
	return ask - bid
}

func askDepth(s *types.Snapshot, token string) float64 {
	b := s.Book(token)
	if b == nil {
		return 0
	}
	if b.TotalAskValue > 0 {
		return b.TotalAskValue
	}
	var total float64
	for _, lvl := range b.Asks {
		if lvl.Size > 0 && lvl.Price > 0 {
			total += lvl.Price * lvl.Size
		}
	}
	return total
}

func statusOf(s *types.Snapshot) types.DataStatus {
	if s == nil {
		return types.DataDisconnected
	}
	return s.DataStatus
}

// describe is used in panic logs so a wedged coin names itself.
func (st *coinState) describe() string {
	if st == nil {
		return "unknown coin"
	}
	return fmt.Sprintf("%s (P=%s K=%s)", st.coin, st.lastMarketKeyP, st.lastMarketKeyK)
}
