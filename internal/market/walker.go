// Package market prices notional trades against order-book snapshots.
//
// The walker consumes contiguous ask levels until a target USD notional is
// reached, producing units, spend, and a volume-weighted effective price. The
// estimator combines two walks — one leg per venue — into a single pair
// estimate whose gap (1 − combined cost) is the per-unit profit of the
// arbitrage. Both are pure functions over immutable snapshot data, safe to
// call for display even when trading is gated off.
package market

import (
	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

// WalkAsks prices notionalUSD against the ask side of a book, starting from
// the best level.
//
// Fully consumed levels contribute their whole size; the level where the
// notional is reached contributes a fractional slice. If the book runs out
// first, the accumulated numbers are still returned with Shortfall set and
// Source remaining "orderbook" (a partial walk is still book-priced). An
// empty ask side falls back to the published best ask with liquidity treated
// as infinite (display-only pricing); with no best ask either, the result is
// unavailable.
//
// Levels with size ≤ 0 are skipped, as are levels priced outside (0, 1) —
// binary contracts cannot trade at or beyond the payout bounds. Level
// ordering is trusted as published.
func WalkAsks(book *types.OrderBook, bestAsk float64, notionalUSD float64) types.WalkResult {
	if notionalUSD <= 0 {
		return types.WalkResult{Source: types.SourceUnavailable}
	}

	if book == nil || len(book.Asks) == 0 {
		if bestAsk > 0 && bestAsk < 1 {
			units := notionalUSD / bestAsk
			return types.WalkResult{
				Units:          units,
				EffectivePrice: bestAsk,
				Spend:          notionalUSD,
				Source:         types.SourceBestAsk,
			}
		}
		return types.WalkResult{Source: types.SourceUnavailable}
	}

	var units, spend float64
	remaining := notionalUSD

	for _, lvl := range book.Asks {
		if lvl.Size <= 0 {
			continue
		}
		if lvl.Price <= 0 || lvl.Price >= 1 {
			continue
		}

		levelValue := lvl.Price * lvl.Size
		if levelValue >= remaining {
			slice := remaining / lvl.Price
			units += slice
			spend += remaining
			remaining = 0
			break
		}

		units += lvl.Size
		spend += levelValue
		remaining -= levelValue
	}

	res := types.WalkResult{
		Units:     units,
		Spend:     spend,
		Shortfall: remaining,
		Source:    types.SourceOrderbook,
	}
	if units > 0 {
		res.EffectivePrice = spend / units
	} else {
		// Every level was unusable; same treatment as an empty side.
		return WalkAsks(nil, bestAsk, notionalUSD)
	}
	return res
}
