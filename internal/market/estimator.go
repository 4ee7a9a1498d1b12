package market

import (
	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

// Estimate prices one direction of the pair trade at the given notional.
//
// For up_no it walks P's UP asks and K's DOWN asks; for down_yes, P's DOWN
// asks and K's UP/YES asks — always the ask side of both venues, buying on
// the bid is never considered. The combined source is "orderbook" only when
// both walks were complete book walks; otherwise it degrades to the weaker
// of the two, and any shortfall also drags an orderbook-sourced pair down to
// the weaker tagging so the caller never mistakes a partial fill for a firm
// price.
func Estimate(dir types.Direction, snapP, snapK *types.Snapshot, notionalUSD float64) types.FillEstimate {
	var tokenP, tokenK string
	if dir == types.DirectionUpNo {
		tokenP = tokenID(snapP, true)
		tokenK = tokenID(snapK, false)
	} else {
		tokenP = tokenID(snapP, false)
		tokenK = tokenID(snapK, true)
	}

	walkP := WalkAsks(book(snapP, tokenP), bestAsk(snapP, tokenP), notionalUSD)
	walkK := WalkAsks(book(snapK, tokenK), bestAsk(snapK, tokenK), notionalUSD)

	combined := walkP.EffectivePrice + walkK.EffectivePrice

	est := types.FillEstimate{
		Direction:       dir,
		CombinedCost:    combined,
		Gap:             1 - combined,
		UnitsP:          walkP.Units,
		UnitsK:          walkK.Units,
		SpendP:          walkP.Spend,
		SpendK:          walkK.Spend,
		EffectivePriceP: walkP.EffectivePrice,
		EffectivePriceK: walkK.EffectivePrice,
		Source:          pairSource(walkP, walkK),
		ShortfallP:      walkP.Shortfall,
		ShortfallK:      walkK.Shortfall,
	}
	return est
}

// pairSource combines two walk sources: orderbook only when both legs walked
// a book to completion, otherwise the weaker leg wins.
func pairSource(p, k types.WalkResult) types.EstimateSource {
	src := p.Source
	if k.Source.Weaker(src) {
		src = k.Source
	}
	if src == types.SourceOrderbook && (p.Shortfall > 0 || k.Shortfall > 0) {
		src = types.SourceBestAsk
	}
	return src
}

func tokenID(s *types.Snapshot, up bool) string {
	if s == nil {
		return ""
	}
	if up {
		return s.UpTokenID
	}
	return s.DownTokenID
}

func book(s *types.Snapshot, token string) *types.OrderBook {
	if s == nil {
		return nil
	}
	return s.Book(token)
}

func bestAsk(s *types.Snapshot, token string) float64 {
	if s == nil {
		return 0
	}
	return s.BestAskFor(token)
}
