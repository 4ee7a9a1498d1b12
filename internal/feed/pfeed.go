package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/config"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

// PSupplier feeds venue P: a CLOB-style prediction exchange with short-dated
// up/down crypto markets. Discovery polls the catalog REST API for each
// coin's current expiry; books stream over the public market WebSocket.
type PSupplier struct {
	cfg    config.PFeedConfig
	spot   *SpotSource
	client *resty.Client
	ws     *wsClient
	bucket *tokenBucket
	store  *store
	logger *slog.Logger

	mu      sync.Mutex
	coins   []string
	markets map[string]*pMarket   // coin → current market
	byToken map[string]string     // tokenID → coin
	books   map[string]*bookState // tokenID → live book

	cancel context.CancelFunc
}

// pMarket is the discovered contract for one coin's current expiry.
type pMarket struct {
	coin        string
	slug        string
	closeMs     int64
	upTokenID   string
	downTokenID string
	priceToBeat float64
	refSource   types.ReferenceSource
}

// bookState is one token's mutable book, keyed by price so deltas apply in
// O(1). Sorted levels are materialized only when a snapshot is built.
type bookState struct {
	asks      map[float64]float64
	bids      map[float64]float64
	lastTrade float64
}

func newBookState() *bookState {
	return &bookState{asks: make(map[float64]float64), bids: make(map[float64]float64)}
}

func NewPSupplier(cfg config.PFeedConfig, spot *SpotSource, logger *slog.Logger) *PSupplier {
	client := resty.New().
		SetBaseURL(cfg.GammaBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	s := &PSupplier{
		cfg:     cfg,
		spot:    spot,
		client:  client,
		bucket:  newTokenBucket(10, 2),
		store:   newStore(cfg.StaleAfter),
		logger:  logger.With("component", "feed_p"),
		markets: make(map[string]*pMarket),
		byToken: make(map[string]string),
		books:   make(map[string]*bookState),
	}
	s.ws = newWSClient(cfg.WSMarketURL, s.logger)
	s.ws.onConnect = s.resubscribe
	s.ws.onMessage = s.dispatch
	return s
}

func (s *PSupplier) Venue() types.Venue { return types.VenueP }

// Start launches discovery, the book WebSocket and the countdown reclock.
func (s *PSupplier) Start(ctx context.Context, coins []string) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.coins = append([]string(nil), coins...)

	go s.discoveryLoop(ctx)
	go s.ws.run(ctx)
	go s.store.runReclock(ctx, time.Second)
	return nil
}

func (s *PSupplier) Snapshots() map[string]*types.Snapshot { return s.store.snapshots() }

func (s *PSupplier) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.ws.close()
}

// ————————————————————————————————————————————————————————————————————————
// Discovery
// ————————————————————————————————————————————————————————————————————————

// pCatalogMarket is the catalog API's JSON shape for one market.
type pCatalogMarket struct {
	Question     string `json:"question"`
	Slug         string `json:"slug"`
	Active       bool   `json:"active"`
	Closed       bool   `json:"closed"`
	EndDate      string `json:"endDate"`
	Outcomes     string `json:"outcomes"`
	ClobTokenIds string `json:"clobTokenIds"`
	Description  string `json:"description"`
}

func (s *PSupplier) discoveryLoop(ctx context.Context) {
	s.discover(ctx)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.discover(ctx)
		}
	}
}

// discover re-resolves the current expiry market per coin and rolls
// subscriptions when the venue has moved to a new contract.
func (s *PSupplier) discover(ctx context.Context) {
	for _, coin := range s.coins {
		if err := s.bucket.wait(ctx); err != nil {
			return
		}
		m, err := s.fetchMarket(ctx, coin)
		if err != nil {
			s.logger.Warn("discovery failed", "coin", coin, "error", err)
			continue
		}
		s.adopt(m)
	}
}

func (s *PSupplier) fetchMarket(ctx context.Context, coin string) (*pMarket, error) {
	var page []pCatalogMarket
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"active":    "true",
			"closed":    "false",
			"order":     "endDate",
			"ascending": "true",
			"limit":     "100",
		}).
		SetResult(&page).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("fetch markets for %s: %w", coin, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch markets for %s: status %d", coin, resp.StatusCode())
	}

	needle := strings.ToLower(coin)
	now := time.Now()
	for _, m := range page {
		slug := strings.ToLower(m.Slug)
		if !strings.Contains(slug, needle) || !strings.Contains(slug, "up-or-down") {
			continue
		}
		end, err := time.Parse(time.RFC3339, m.EndDate)
		if err != nil || !end.After(now) {
			continue
		}
		return s.convertMarket(coin, m, end)
	}
	return nil, fmt.Errorf("no open up/down market for %s", coin)
}

// strikePattern pulls the dollar strike out of market copy, e.g. "$117,250.00".
var strikePattern = regexp.MustCompile(`\$([0-9][0-9,]*(?:\.[0-9]+)?)`)

func (s *PSupplier) convertMarket(coin string, m pCatalogMarket, end time.Time) (*pMarket, error) {
	var tokenIDs []string
	if err := json.Unmarshal([]byte(m.ClobTokenIds), &tokenIDs); err != nil || len(tokenIDs) < 2 {
		return nil, fmt.Errorf("market %s: bad token ids %q", m.Slug, m.ClobTokenIds)
	}

	out := &pMarket{
		coin:        coin,
		slug:        m.Slug,
		closeMs:     end.UnixMilli(),
		upTokenID:   tokenIDs[0],
		downTokenID: tokenIDs[1],
		refSource:   types.RefMissing,
	}

	// The strike is only published in the market copy, so it is scraped text.
	for _, text := range []string{m.Question, m.Description} {
		if match := strikePattern.FindStringSubmatch(text); match != nil {
			raw := strings.ReplaceAll(match[1], ",", "")
			if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
				out.priceToBeat = v
				out.refSource = types.RefHTML
				break
			}
		}
	}
	return out, nil
}

// adopt installs a discovered market, subscribing its tokens and dropping the
// previous expiry's books when the contract rolled.
func (s *PSupplier) adopt(m *pMarket) {
	s.mu.Lock()
	prev := s.markets[m.coin]
	rolled := prev == nil || prev.slug != m.slug
	if rolled {
		if prev != nil {
			delete(s.byToken, prev.upTokenID)
			delete(s.byToken, prev.downTokenID)
			delete(s.books, prev.upTokenID)
			delete(s.books, prev.downTokenID)
		}
		s.byToken[m.upTokenID] = m.coin
		s.byToken[m.downTokenID] = m.coin
		s.books[m.upTokenID] = newBookState()
		s.books[m.downTokenID] = newBookState()
	}
	s.markets[m.coin] = m
	s.mu.Unlock()

	if rolled {
		s.logger.Info("market adopted", "coin", m.coin, "slug", m.slug,
			"strike", m.priceToBeat)
		if err := s.subscribe([]string{m.upTokenID, m.downTokenID}); err != nil {
			s.logger.Warn("subscribe failed, will retry on reconnect", "error", err)
		}
	}
	s.publishCoin(m.coin)
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket book feed
// ————————————————————————————————————————————————————————————————————————

type pSubscribeMsg struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

func (s *PSupplier) subscribe(tokenIDs []string) error {
	return s.ws.writeJSON(pSubscribeMsg{Type: "market", AssetIDs: tokenIDs})
}

func (s *PSupplier) resubscribe() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.byToken))
	for id := range s.byToken {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	return s.subscribe(ids)
}

// pLevel is a wire book level; prices and sizes arrive as strings.
type pLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type pBookEvent struct {
	EventType string   `json:"event_type"`
	AssetID   string   `json:"asset_id"`
	Bids      []pLevel `json:"bids"`
	Asks      []pLevel `json:"asks"`
	Changes   []struct {
		Price string `json:"price"`
		Side  string `json:"side"`
		Size  string `json:"size"`
	} `json:"changes"`
	Price string `json:"price"` // last_trade_price events
}

func (s *PSupplier) dispatch(data []byte) {
	var evt pBookEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.logger.Debug("ignoring non-json ws message")
		return
	}

	s.mu.Lock()
	coin, tracked := s.byToken[evt.AssetID]
	book := s.books[evt.AssetID]
	s.mu.Unlock()
	if !tracked || book == nil {
		return
	}

	switch evt.EventType {
	case "book":
		s.applyFullBook(book, evt)
	case "price_change":
		s.applyDeltas(book, evt)
	case "last_trade_price":
		if v, ok := parseWireDecimal(evt.Price); ok {
			s.mu.Lock()
			book.lastTrade = v
			s.mu.Unlock()
		}
	default:
		return
	}

	s.publishCoin(coin)
}

func (s *PSupplier) applyFullBook(book *bookState, evt pBookEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book.asks = make(map[float64]float64, len(evt.Asks))
	book.bids = make(map[float64]float64, len(evt.Bids))
	for _, lvl := range evt.Asks {
		if p, sz, ok := parseWireLevel(lvl.Price, lvl.Size); ok {
			book.asks[p] = sz
		}
	}
	for _, lvl := range evt.Bids {
		if p, sz, ok := parseWireLevel(lvl.Price, lvl.Size); ok {
			book.bids[p] = sz
		}
	}
}

func (s *PSupplier) applyDeltas(book *bookState, evt pBookEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range evt.Changes {
		p, sz, ok := parseWireLevel(ch.Price, ch.Size)
		if !ok {
			continue
		}
		side := book.asks
		if strings.EqualFold(ch.Side, "buy") {
			side = book.bids
		}
		if sz <= 0 {
			delete(side, p)
		} else {
			side[p] = sz
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Snapshot assembly
// ————————————————————————————————————————————————————————————————————————

// publishCoin rebuilds and publishes one coin's snapshot from the live book
// state, the discovered market and the shared spot source.
func (s *PSupplier) publishCoin(coin string) {
	s.mu.Lock()
	m := s.markets[coin]
	if m == nil {
		s.mu.Unlock()
		return
	}
	upBook := materialize(s.books[m.upTokenID])
	downBook := materialize(s.books[m.downTokenID])
	s.mu.Unlock()

	spot := s.spot.Latest(coin)
	nowMs := time.Now().UnixMilli()

	snap := &types.Snapshot{
		Venue:                types.VenueP,
		Coin:                 coin,
		MarketKey:            m.slug,
		MarketCloseTimeMs:    m.closeMs,
		TimeLeftSec:          float64(m.closeMs-nowMs) / 1000,
		PriceToBeat:          m.priceToBeat,
		ReferencePrice:       m.priceToBeat,
		ReferenceSource:      m.refSource,
		CryptoPrice:          spot.Price,
		CryptoPriceTimestamp: spot.Ts,
		DataStatus:           types.DataHealthy,
		UpTokenID:            m.upTokenID,
		DownTokenID:          m.downTokenID,
		UpOutcome:            "Up",
		DownOutcome:          "Down",
		OrderBooks: map[string]*types.OrderBook{
			m.upTokenID:   upBook,
			m.downTokenID: downBook,
		},
		BestBid: map[string]float64{
			m.upTokenID:   bestOf(upBook.Bids),
			m.downTokenID: bestOf(downBook.Bids),
		},
		BestAsk: map[string]float64{
			m.upTokenID:   bestOf(upBook.Asks),
			m.downTokenID: bestOf(downBook.Asks),
		},
		PriceHistory: s.spot.History(coin),
	}

	s.store.publish(snap)
}

// materialize converts a live book into a frozen, sorted OrderBook.
// Must be called with s.mu held.
func materialize(b *bookState) *types.OrderBook {
	out := &types.OrderBook{}
	if b == nil {
		return out
	}

	out.LastTrade = b.lastTrade
	out.Asks = sortedLevels(b.asks, false)
	out.Bids = sortedLevels(b.bids, true)
	for _, lvl := range out.Asks {
		out.TotalAskValue += lvl.Price * lvl.Size
	}
	for _, lvl := range out.Bids {
		out.TotalBidValue += lvl.Price * lvl.Size
	}
	return out
}

func sortedLevels(side map[float64]float64, descending bool) []types.PriceLevel {
	levels := make([]types.PriceLevel, 0, len(side))
	for p, sz := range side {
		levels = append(levels, types.PriceLevel{Price: p, Size: sz})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	return levels
}

func bestOf(levels []types.PriceLevel) float64 {
	if len(levels) == 0 {
		return 0
	}
	return levels[0].Price
}

func parseWireLevel(price, size string) (float64, float64, bool) {
	p, ok := parseWireDecimal(price)
	if !ok {
		return 0, 0, false
	}
	sz, ok := parseWireDecimal(size)
	if !ok {
		return 0, 0, false
	}
	return p, sz, true
}

func parseWireDecimal(raw string) (float64, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}
