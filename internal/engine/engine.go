// Package engine implements the per-profile arbitrage engine: one coin state
// machine per configured coin, driven tick by tick from the multiplexer.
//
// An engine owns no goroutines and no clocks. Evaluate receives the current
// snapshot maps and an explicit wall time in epoch ms; everything else —
// pending orders, open positions, settlement, PnL — follows deterministically
// from those inputs, which is what makes the whole trade path replayable in
// tests.
package engine

import (
	"fmt"

	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/config"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/logging"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/oracle"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

// pnlHistoryCap bounds the profit curve kept for the dashboard sparkline.
const pnlHistoryCap = 512

// Engine runs one profile: a named parameter set over a set of coins.
// All methods must be called from a single goroutine (the runner's loop);
// the read-side getters return copies so render code can hold them across
// ticks.
type Engine struct {
	name              string
	coins             []string
	decisionLatencyMs int64

	states map[string]*coinState

	log      logging.Logger
	mismatch logging.Logger

	startMs    int64
	lastNowMs  int64
	openCount  int
	summary    types.Summary
	pnlHistory []types.PnlPoint
}

// New builds an engine from one profile's configuration. The mismatch logger
// receives venue-disagreement settlements; pass the shared mismatch sink.
func New(profile config.ProfileConfig, log, mismatch logging.Logger) *Engine {
	e := &Engine{
		name:              profile.Name,
		coins:             append([]string(nil), profile.Coins...),
		decisionLatencyMs: profile.DecisionLatencyMs,
		states:            make(map[string]*coinState, len(profile.Coins)),
		log:               log,
		mismatch:          mismatch,
	}
	for _, coin := range profile.Coins {
		e.states[coin] = &coinState{
			coin:   coin,
			params: profile.ParamsFor(coin),
		}
	}
	return e
}

// Evaluate runs one tick over every coin. A panic in one coin's evaluation is
// logged and contained; the remaining coins still evaluate on the same tick.
func (e *Engine) Evaluate(snapsP, snapsK map[string]*types.Snapshot, nowMs int64) {
	if e.startMs == 0 {
		e.startMs = nowMs
	}
	e.lastNowMs = nowMs

	for _, coin := range e.coins {
		st := e.states[coin]
		e.evaluateCoin(st, snapsP[coin], snapsK[coin], nowMs)
	}
}

func (e *Engine) evaluateCoin(st *coinState, snapP, snapK *types.Snapshot, nowMs int64) {
	defer func() {
		if r := recover(); r != nil {
			e.logf(logging.LevelError, "panic evaluating %s: %v", st.describe(), r)
		}
	}()
	st.evaluate(e, snapP, snapK, nowMs)
}

// recordOpen books a confirmed entry. Trades count when they open, so
// totalTrades always equals wins + losses + currently open positions.
func (e *Engine) recordOpen() {
	e.summary.TotalTrades++
	e.openCount++
}

// settle books the oracle's verdict for one position and appends the PnL
// sample. Payout accounting:
//
//   - Consistent venues: exactly one leg pays, profit = units · (1 − cost).
//   - Venue disagreement: both legs pay or neither does; the realized payout
//     is taken as-is and the event goes to the mismatch log.
//   - Unresolvable leg (forced): treated as paying nothing, so a fully
//     unresolved position realizes −spendTotal.
func (e *Engine) settle(st *coinState, res oracle.Resolution, nowMs int64) {
	pos := st.position
	winP, winK := legWins(pos.Direction, res.OutcomeP, res.OutcomeK)

	var profit float64
	switch {
	case res.OutcomeP == types.OutcomeUnknown && res.OutcomeK == types.OutcomeUnknown:
		profit = -pos.SpendTotal
	case winP != winK:
		profit = pos.Units * (1 - pos.Estimate.CombinedCost)
	default:
		// Both legs won or both lost: the venues disagreed on the underlying
		// (or one side force-resolved against us).
		payout := 0.0
		if winP {
			payout += pos.Units
		}
		if winK {
			payout += pos.Units
		}
		profit = payout - pos.SpendTotal
		e.mismatch.Log(fmt.Sprintf(
			"%s %s %s: P=%s K=%s forced=%v units=%.2f spend=%.2f profit=%.2f",
			e.name, st.coin, pos.Direction, res.OutcomeP, res.OutcomeK,
			res.Forced, pos.Units, pos.SpendTotal, profit), logging.LevelWarn)
	}

	if profit > 0 {
		e.summary.Wins++
	} else {
		e.summary.Losses++
	}
	e.summary.TotalProfit += profit
	e.openCount--

	e.pnlHistory = append(e.pnlHistory, types.PnlPoint{Ts: nowMs, Profit: e.summary.TotalProfit})
	if len(e.pnlHistory) > pnlHistoryCap {
		e.pnlHistory = e.pnlHistory[len(e.pnlHistory)-pnlHistoryCap:]
	}

	e.logf(logging.LevelInfo,
		"%s: CLOSE %s P=%s K=%s forced=%v profit=%.2f total=%.2f",
		st.coin, pos.Direction, res.OutcomeP, res.OutcomeK, res.Forced,
		profit, e.summary.TotalProfit)
}

// legWins maps the two venue outcomes onto the position's legs.
func legWins(dir types.Direction, outP, outK types.Outcome) (bool, bool) {
	if dir == types.DirectionUpNo {
		return outP == types.OutcomeUp, outK == types.OutcomeDown
	}
	return outP == types.OutcomeDown, outK == types.OutcomeUp
}

func (e *Engine) logf(level logging.Level, format string, args ...any) {
	e.log.Log(fmt.Sprintf(format, args...), level)
}

// ————————————————————————————————————————————————————————————————————————
// Read side
// ————————————————————————————————————————————————————————————————————————

// GetName returns the profile name.
func (e *Engine) GetName() string { return e.name }

// GetSummary returns the aggregate results including runtime so far.
func (e *Engine) GetSummary() types.Summary {
	s := e.summary
	if e.startMs > 0 {
		s.RuntimeSec = float64(e.lastNowMs-e.startMs) / 1000
	}
	return s
}

// GetMarketViews returns the per-coin projections in configured coin order.
func (e *Engine) GetMarketViews() []types.MarketView {
	views := make([]types.MarketView, 0, len(e.coins))
	for _, coin := range e.coins {
		views = append(views, e.states[coin].view)
	}
	return views
}

// GetPnlHistory returns a copy of the bounded cumulative-profit curve.
func (e *Engine) GetPnlHistory() []types.PnlPoint {
	out := make([]types.PnlPoint, len(e.pnlHistory))
	copy(out, e.pnlHistory)
	return out
}

// GetLogs returns up to n recent log lines when the engine's logger is a
// sink; otherwise nil.
func (e *Engine) GetLogs(n int) []string {
	if s, ok := e.log.(*logging.Sink); ok {
		return s.Tail(n)
	}
	return nil
}

// OpenPositions reports how many positions are currently open across coins.
func (e *Engine) OpenPositions() int { return e.openCount }
