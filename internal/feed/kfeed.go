package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/config"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

// KSupplier feeds venue K: an event-contract exchange with YES/NO binaries.
// Markets are discovered per coin through a series-ticker prefix; books
// stream over the orderbook_delta WebSocket channel with prices in cents.
//
// The venue only publishes resting bids per side, so the YES ask ladder is
// the mirror of the NO bids (ask = 1 − opposing bid) and vice versa. After
// close the supplier holds the expiring market and polls for the official
// settlement print before rolling to the next expiry, so settlement data
// reaches the engines while the position is still resolving.
type KSupplier struct {
	cfg    config.KFeedConfig
	spot   *SpotSource
	client *resty.Client
	ws     *wsClient
	bucket *tokenBucket
	store  *store
	logger *slog.Logger

	mu       sync.Mutex
	coins    []string
	markets  map[string]*kMarket // coin → current market
	byTicker map[string]string   // ticker → coin
	books    map[string]*kBook   // ticker → live book

	cancel context.CancelFunc
}

// settleHold is how long past close a market is held for its settlement
// print before discovery rolls to the next expiry regardless.
const settleHold = 10 * time.Minute

type kMarket struct {
	coin    string
	ticker  string
	closeMs int64
	strike  float64

	settleValue float64 // official underlying print, 0 until published
	settleTs    int64
}

// kBook holds the venue's native bid-only ladders, price in cents.
type kBook struct {
	yesBids map[int64]float64
	noBids  map[int64]float64
}

func newKBook() *kBook {
	return &kBook{yesBids: make(map[int64]float64), noBids: make(map[int64]float64)}
}

func NewKSupplier(cfg config.KFeedConfig, spot *SpotSource, logger *slog.Logger) *KSupplier {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	s := &KSupplier{
		cfg:      cfg,
		spot:     spot,
		client:   client,
		bucket:   newTokenBucket(10, 2),
		store:    newStore(cfg.StaleAfter),
		logger:   logger.With("component", "feed_k"),
		markets:  make(map[string]*kMarket),
		byTicker: make(map[string]string),
		books:    make(map[string]*kBook),
	}
	s.ws = newWSClient(cfg.WSMarketURL, s.logger)
	s.ws.onConnect = s.resubscribe
	s.ws.onMessage = s.dispatch
	return s
}

func (s *KSupplier) Venue() types.Venue { return types.VenueK }

func (s *KSupplier) Start(ctx context.Context, coins []string) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.coins = append([]string(nil), coins...)

	for _, coin := range coins {
		if _, ok := s.cfg.TickerPrefixes[coin]; !ok {
			return fmt.Errorf("no ticker prefix configured for coin %s", coin)
		}
	}

	go s.discoveryLoop(ctx)
	go s.ws.run(ctx)
	go s.store.runReclock(ctx, time.Second)
	return nil
}

func (s *KSupplier) Snapshots() map[string]*types.Snapshot { return s.store.snapshots() }

func (s *KSupplier) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.ws.close()
}

// ————————————————————————————————————————————————————————————————————————
// Discovery and settlement polling
// ————————————————————————————————————————————————————————————————————————

type kApiMarket struct {
	Ticker      string  `json:"ticker"`
	CloseTime   string  `json:"close_time"`
	FloorStrike float64 `json:"floor_strike"`
	Status      string  `json:"status"`

	Result              string `json:"result"`
	SettlementValue     string `json:"settlement_value"`
	SettlementTimestamp string `json:"settlement_timestamp"`
}

func (s *KSupplier) discoveryLoop(ctx context.Context) {
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

func (s *KSupplier) discover(ctx context.Context) {
	nowMs := time.Now().UnixMilli()
	for _, coin := range s.coins {
		s.mu.Lock()
		cur := s.markets[coin]
		s.mu.Unlock()

		// Hold a just-closed market while its settlement print is pending.
		if cur != nil && nowMs >= cur.closeMs && cur.settleValue == 0 &&
			nowMs < cur.closeMs+settleHold.Milliseconds() {
			if err := s.bucket.wait(ctx); err != nil {
				return
			}
			s.pollSettlement(ctx, cur)
			s.publishCoin(coin)
			continue
		}
		if cur != nil && nowMs < cur.closeMs {
			s.publishCoin(coin)
			continue
		}

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

func (s *KSupplier) fetchMarket(ctx context.Context, coin string) (*kMarket, error) {
	var out struct {
		Markets []kApiMarket `json:"markets"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"series_ticker": s.cfg.TickerPrefixes[coin],
			"status":        "open",
			"limit":         "20",
		}).
		SetResult(&out).
		Get("/trade-api/v2/markets")
	if err != nil {
		return nil, fmt.Errorf("fetch markets for %s: %w", coin, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch markets for %s: status %d", coin, resp.StatusCode())
	}

	// Earliest future close wins: that is the current expiry.
	now := time.Now()
	var best *kMarket
	for _, m := range out.Markets {
		end, err := time.Parse(time.RFC3339, m.CloseTime)
		if err != nil || !end.After(now) {
			continue
		}
		cand := &kMarket{
			coin:    coin,
			ticker:  m.Ticker,
			closeMs: end.UnixMilli(),
			strike:  m.FloorStrike,
		}
		if best == nil || cand.closeMs < best.closeMs {
			best = cand
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no open market for %s", coin)
	}
	return best, nil
}

// pollSettlement fetches the closed market's detail looking for the official
// underlying print.
func (s *KSupplier) pollSettlement(ctx context.Context, m *kMarket) {
	var out struct {
		Market kApiMarket `json:"market"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/trade-api/v2/markets/" + m.ticker)
	if err != nil || resp.StatusCode() != 200 {
		s.logger.Warn("settlement poll failed", "ticker", m.ticker, "error", err)
		return
	}
	if out.Market.SettlementValue == "" {
		return
	}
	v, ok := parseWireDecimal(out.Market.SettlementValue)
	if !ok || v <= 0 {
		return
	}
	ts := time.Now().UnixMilli()
	if t, err := time.Parse(time.RFC3339, out.Market.SettlementTimestamp); err == nil {
		ts = t.UnixMilli()
	}

	s.mu.Lock()
	m.settleValue = v
	m.settleTs = ts
	s.mu.Unlock()

	s.logger.Info("settlement print received",
		"ticker", m.ticker, "value", v, "result", out.Market.Result)
}

func (s *KSupplier) adopt(m *kMarket) {
	s.mu.Lock()
	prev := s.markets[m.coin]
	rolled := prev == nil || prev.ticker != m.ticker
	if rolled {
		if prev != nil {
			delete(s.byTicker, prev.ticker)
			delete(s.books, prev.ticker)
		}
		s.byTicker[m.ticker] = m.coin
		s.books[m.ticker] = newKBook()
	}
	s.markets[m.coin] = m
	s.mu.Unlock()

	if rolled {
		s.logger.Info("market adopted", "coin", m.coin, "ticker", m.ticker,
			"strike", m.strike)
		if err := s.subscribe([]string{m.ticker}); err != nil {
			s.logger.Warn("subscribe failed, will retry on reconnect", "error", err)
		}
	}
	s.publishCoin(m.coin)
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket book feed
// ————————————————————————————————————————————————————————————————————————

type kSubscribeCmd struct {
	ID     int    `json:"id"`
	Cmd    string `json:"cmd"`
	Params struct {
		Channels      []string `json:"channels"`
		MarketTickers []string `json:"market_tickers"`
	} `json:"params"`
}

func (s *KSupplier) subscribe(tickers []string) error {
	cmd := kSubscribeCmd{ID: 1, Cmd: "subscribe"}
	cmd.Params.Channels = []string{"orderbook_delta"}
	cmd.Params.MarketTickers = tickers
	return s.ws.writeJSON(cmd)
}

func (s *KSupplier) resubscribe() error {
	s.mu.Lock()
	tickers := make([]string, 0, len(s.byTicker))
	for t := range s.byTicker {
		tickers = append(tickers, t)
	}
	s.mu.Unlock()

	if len(tickers) == 0 {
		return nil
	}
	return s.subscribe(tickers)
}

type kEnvelope struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
}

type kSnapshotMsg struct {
	MarketTicker string      `json:"market_ticker"`
	Yes          [][]float64 `json:"yes"` // [price_cents, quantity]
	No           [][]float64 `json:"no"`
}

type kDeltaMsg struct {
	MarketTicker string  `json:"market_ticker"`
	Price        int64   `json:"price"` // cents
	Delta        float64 `json:"delta"`
	Side         string  `json:"side"`
}

func (s *KSupplier) dispatch(data []byte) {
	var env kEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Debug("ignoring non-json ws message")
		return
	}

	switch env.Type {
	case "orderbook_snapshot":
		var msg kSnapshotMsg
		if err := json.Unmarshal(env.Msg, &msg); err != nil {
			s.logger.Error("unmarshal orderbook_snapshot", "error", err)
			return
		}
		s.applySnapshot(msg)
	case "orderbook_delta":
		var msg kDeltaMsg
		if err := json.Unmarshal(env.Msg, &msg); err != nil {
			s.logger.Error("unmarshal orderbook_delta", "error", err)
			return
		}
		s.applyDelta(msg)
	}
}

func (s *KSupplier) applySnapshot(msg kSnapshotMsg) {
	s.mu.Lock()
	coin, tracked := s.byTicker[msg.MarketTicker]
	book := s.books[msg.MarketTicker]
	if !tracked || book == nil {
		s.mu.Unlock()
		return
	}
	book.yesBids = make(map[int64]float64, len(msg.Yes))
	book.noBids = make(map[int64]float64, len(msg.No))
	for _, lvl := range msg.Yes {
		if len(lvl) == 2 && lvl[1] > 0 {
			book.yesBids[int64(lvl[0])] = lvl[1]
		}
	}
	for _, lvl := range msg.No {
		if len(lvl) == 2 && lvl[1] > 0 {
			book.noBids[int64(lvl[0])] = lvl[1]
		}
	}
	s.mu.Unlock()

	s.publishCoin(coin)
}

func (s *KSupplier) applyDelta(msg kDeltaMsg) {
	s.mu.Lock()
	coin, tracked := s.byTicker[msg.MarketTicker]
	book := s.books[msg.MarketTicker]
	if !tracked || book == nil {
		s.mu.Unlock()
		return
	}
	side := book.yesBids
	if strings.EqualFold(msg.Side, "no") {
		side = book.noBids
	}
	next := side[msg.Price] + msg.Delta
	if next <= 0 {
		delete(side, msg.Price)
	} else {
		side[msg.Price] = next
	}
	s.mu.Unlock()

	s.publishCoin(coin)
}

// ————————————————————————————————————————————————————————————————————————
// Snapshot assembly
// ————————————————————————————————————————————————————————————————————————

func (s *KSupplier) publishCoin(coin string) {
	s.mu.Lock()
	m := s.markets[coin]
	if m == nil {
		s.mu.Unlock()
		return
	}
	book := s.books[m.ticker]
	yesBook, noBook := mirrorBooks(book)
	strike := m.strike
	settleValue, settleTs := m.settleValue, m.settleTs
	ticker := m.ticker
	closeMs := m.closeMs
	s.mu.Unlock()

	yesToken := ticker + "-YES"
	noToken := ticker + "-NO"
	spot := s.spot.Latest(coin)
	nowMs := time.Now().UnixMilli()

	snap := &types.Snapshot{
		Venue:                types.VenueK,
		Coin:                 coin,
		MarketKey:            ticker,
		MarketCloseTimeMs:    closeMs,
		TimeLeftSec:          float64(closeMs-nowMs) / 1000,
		PriceToBeat:          strike,
		ReferencePrice:       strike,
		ReferenceSource:      types.RefPriceToBeat,
		CryptoPrice:          spot.Price,
		CryptoPriceTimestamp: spot.Ts,
		UnderlyingValue:      settleValue,
		UnderlyingTs:         settleTs,
		DataStatus:           types.DataHealthy,
		UpTokenID:            yesToken,
		DownTokenID:          noToken,
		UpOutcome:            "Yes",
		DownOutcome:          "No",
		OrderBooks: map[string]*types.OrderBook{
			yesToken: yesBook,
			noToken:  noBook,
		},
		BestBid: map[string]float64{
			yesToken: bestOf(yesBook.Bids),
			noToken:  bestOf(noBook.Bids),
		},
		BestAsk: map[string]float64{
			yesToken: bestOf(yesBook.Asks),
			noToken:  bestOf(noBook.Asks),
		},
		PriceHistory: s.spot.History(coin),
	}

	s.store.publish(snap)
}

// mirrorBooks converts the venue's native bid-only ladders into two full
// books: a side's asks are the complement of the opposing side's bids.
// Must be called with s.mu held.
func mirrorBooks(b *kBook) (yes, no *types.OrderBook) {
	yes, no = &types.OrderBook{}, &types.OrderBook{}
	if b == nil {
		return yes, no
	}

	yes.Bids = centsLevels(b.yesBids, false, true)
	no.Bids = centsLevels(b.noBids, false, true)
	yes.Asks = centsLevels(b.noBids, true, false)
	no.Asks = centsLevels(b.yesBids, true, false)

	for _, lvl := range yes.Asks {
		yes.TotalAskValue += lvl.Price * lvl.Size
	}
	for _, lvl := range yes.Bids {
		yes.TotalBidValue += lvl.Price * lvl.Size
	}
	for _, lvl := range no.Asks {
		no.TotalAskValue += lvl.Price * lvl.Size
	}
	for _, lvl := range no.Bids {
		no.TotalBidValue += lvl.Price * lvl.Size
	}
	return yes, no
}

// centsLevels converts a cents ladder into sorted dollar levels, optionally
// complementing each price (100 − cents) for the mirrored ask view.
func centsLevels(side map[int64]float64, complement, descending bool) []types.PriceLevel {
	levels := make([]types.PriceLevel, 0, len(side))
	for cents, qty := range side {
		if complement {
			cents = 100 - cents
		}
		price := decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).InexactFloat64()
		if price <= 0 || price >= 1 {
			continue
		}
		levels = append(levels, types.PriceLevel{Price: price, Size: qty})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	return levels
}
