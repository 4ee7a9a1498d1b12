// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — venue snapshots, order
// books, fill estimates, pending orders and open positions. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Venue identifies which exchange produced a snapshot.
type Venue string

const (
	VenueP Venue = "P" // Polymarket-style CLOB venue
	VenueK Venue = "K" // Kalshi-style event venue
)

// DataStatus describes the health of a supplier's connection for one coin.
type DataStatus string

const (
	DataHealthy      DataStatus = "healthy"
	DataStale        DataStatus = "stale"
	DataDisconnected DataStatus = "disconnected"
)

// ReferenceSource records where a market's threshold (price to beat) came from.
type ReferenceSource string

const (
	RefPriceToBeat ReferenceSource = "price_to_beat" // venue published the strike directly
	RefHTML        ReferenceSource = "html"          // scraped from the market page
	RefMissing     ReferenceSource = "missing"       // no threshold known yet
)

// Direction is the two-variant tag for which leg is bought on which venue.
//
//	DirectionUpNo:    buy UP on venue P + buy DOWN/NO on venue K
//	DirectionDownYes: buy DOWN on venue P + buy UP/YES on venue K
type Direction string

const (
	DirectionUpNo    Direction = "up_no"
	DirectionDownYes Direction = "down_yes"
)

// Outcome is a venue's settlement verdict for one binary market.
type Outcome string

const (
	OutcomeUp      Outcome = "UP"
	OutcomeDown    Outcome = "DOWN"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// EstimateSource tags how a fill estimate was priced, from strongest to
// weakest: a real order-book walk, the published best ask with liquidity
// assumed infinite, or nothing at all.
type EstimateSource string

const (
	SourceOrderbook   EstimateSource = "orderbook"
	SourceBestAsk     EstimateSource = "best_ask"
	SourceUnavailable EstimateSource = "unavailable"
)

// Weaker reports whether a is a weaker pricing source than b.
// Ordering: unavailable < best_ask < orderbook.
func (a EstimateSource) Weaker(b EstimateSource) bool {
	return a.rank() < b.rank()
}

func (a EstimateSource) rank() int {
	switch a {
	case SourceOrderbook:
		return 2
	case SourceBestAsk:
		return 1
	default:
		return 0
	}
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level. Prices on binary markets live in
// (0, 1); sizes are contract counts.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is one token's book inside a snapshot. Asks are sorted ascending,
// bids descending; ordering is trusted as published, never re-sorted.
type OrderBook struct {
	Asks          []PriceLevel
	Bids          []PriceLevel
	LastTrade     float64
	TotalBidValue float64
	TotalAskValue float64
}

// PricePoint is one sample of the underlying's last-trade history, used as a
// settlement fallback when a venue publishes no official print.
type PricePoint struct {
	Price float64
	Ts    int64 // epoch ms
}

// ————————————————————————————————————————————————————————————————————————
// Snapshot (the per-tick market view)
// ————————————————————————————————————————————————————————————————————————

// Snapshot is one venue's view of one coin's binary up/down market at one
// instant. Suppliers build a fresh Snapshot for every update and publish it
// atomically; nothing mutates a Snapshot after publication, so readers treat
// every field as frozen for the duration of a tick.
type Snapshot struct {
	Venue Venue
	Coin  string

	// MarketKey identifies the specific contract (slug or ticker). It changes
	// when the venue rolls to a new expiry.
	MarketKey string

	MarketCloseTimeMs int64
	TimeLeftSec       float64 // seconds until close; negative after close

	// PriceToBeat is the strike: UP wins iff final underlying > PriceToBeat.
	PriceToBeat     float64
	ReferencePrice  float64
	ReferenceSource ReferenceSource

	CryptoPrice          float64
	CryptoPriceTimestamp int64 // epoch ms of the spot print

	// Venue-K only: the venue's own settlement-time underlying print.
	// Authoritative when fresh.
	UnderlyingValue float64
	UnderlyingTs    int64

	DataStatus DataStatus

	UpTokenID   string
	DownTokenID string
	UpOutcome   string // human label, e.g. "Up" / "Yes"
	DownOutcome string

	// OrderBooks maps tokenID → book. BestBid/BestAsk are the redundant
	// convenience views keyed the same way.
	OrderBooks map[string]*OrderBook
	BestBid    map[string]float64
	BestAsk    map[string]float64

	// PriceHistory is a bounded sequence of recent underlying prints used for
	// settlement fallback.
	PriceHistory []PricePoint
}

// Book returns the order book for a token ID, or nil.
func (s *Snapshot) Book(tokenID string) *OrderBook {
	if s == nil || s.OrderBooks == nil {
		return nil
	}
	return s.OrderBooks[tokenID]
}

// BestAskFor returns the published best ask for a token ID, 0 if unknown.
func (s *Snapshot) BestAskFor(tokenID string) float64 {
	if s == nil || s.BestAsk == nil {
		return 0
	}
	return s.BestAsk[tokenID]
}

// HasThreshold reports whether the snapshot carries a usable strike.
func (s *Snapshot) HasThreshold() bool {
	return s != nil && s.PriceToBeat > 0 && s.ReferenceSource != RefMissing
}

// ————————————————————————————————————————————————————————————————————————
// Fill estimation
// ————————————————————————————————————————————————————————————————————————

// WalkResult is what the order-book walker returns for one side of one book.
type WalkResult struct {
	Units          float64
	EffectivePrice float64
	Spend          float64
	Shortfall      float64 // notional the book could not absorb; 0 when fully filled
	Source         EstimateSource
}

// FillEstimate prices one direction of the pair trade: one leg on each venue,
// both walked for the same target notional.
type FillEstimate struct {
	Direction       Direction
	CombinedCost    float64 // EffectivePriceP + EffectivePriceK
	Gap             float64 // 1 - CombinedCost; per-unit profit of a filled pair
	UnitsP          float64
	UnitsK          float64
	SpendP          float64
	SpendK          float64
	EffectivePriceP float64
	EffectivePriceK float64
	Source          EstimateSource
	ShortfallP      float64
	ShortfallK      float64
}

// Units is the tradeable pair count: the lesser of the two legs.
func (e FillEstimate) Units() float64 {
	if e.UnitsP < e.UnitsK {
		return e.UnitsP
	}
	return e.UnitsK
}

// SpendTotal is the combined notional across both legs.
func (e FillEstimate) SpendTotal() float64 {
	return e.SpendP + e.SpendK
}

// ————————————————————————————————————————————————————————————————————————
// Trade lifecycle
// ————————————————————————————————————————————————————————————————————————

// PendingOrder is a committed intent to open, awaiting the configured
// decision-latency delay before a confirming re-estimate.
type PendingOrder struct {
	ID         string
	Direction  Direction
	MarketKeyP string
	MarketKeyK string
	Estimate   FillEstimate
	CreatedMs  int64
	DueMs      int64 // CreatedMs + decisionLatencyMs
}

// LockedThresholds snapshots each venue's strike at open time. A position
// settles against its own locked strikes, never against later snapshots.
type LockedThresholds struct {
	PriceToBeatP float64
	PriceToBeatK float64
}

// OpenPosition is a confirmed paper position: the same unit count bought on
// both venues, guaranteed to pay out one unit per pair at settlement as long
// as the venues rule consistently.
type OpenPosition struct {
	ID            string
	Direction     Direction
	Estimate      FillEstimate
	OpenedMs      int64
	MarketKeyP    string
	MarketKeyK    string
	MarketCloseMs int64
	Units         float64
	SpendTotal    float64
	Locked        LockedThresholds
}

// ————————————————————————————————————————————————————————————————————————
// Engine projections
// ————————————————————————————————————————————————————————————————————————

// MarketView is the per-coin read-only projection the dashboard renders.
type MarketView struct {
	Coin        string
	DataStatusP DataStatus
	DataStatusK DataStatus

	PendingDirection  Direction // empty when no pending exists
	SelectedDirection Direction // empty unless the entry gate passed this tick
	Position          *OpenPosition

	EstimateUpNo          *FillEstimate
	EstimateDownYes       *FillEstimate
	EstimateUpNoSource    EstimateSource
	EstimateDownYesSource EstimateSource

	CurrentGap     float64
	TimeLeftSec    float64
	LastDecisionMs int64
}

// Summary aggregates one engine's paper results.
type Summary struct {
	TotalTrades int
	Wins        int
	Losses      int
	TotalProfit float64
	RuntimeSec  float64
}

// PnlPoint is one sample of an engine's cumulative profit curve.
type PnlPoint struct {
	Ts     int64
	Profit float64
}
