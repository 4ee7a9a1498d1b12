package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/config"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

// SpotSource polls the underlying spot price per coin and serves the latest
// print with its timestamp. Both venue suppliers share one instance: it feeds
// the snapshots' CryptoPrice fields and the bounded price history used as a
// settlement fallback.
type SpotSource struct {
	client *resty.Client
	cfg    config.SpotFeedConfig
	logger *slog.Logger

	mu      sync.RWMutex
	prices  map[string]types.PricePoint   // coin → latest print
	history map[string][]types.PricePoint // coin → recent prints, bounded
}

// historyCap bounds per-coin print history; at the default 2s poll this spans
// well past the oracle's settlement search window.
const historyCap = 120

func NewSpotSource(cfg config.SpotFeedConfig, logger *slog.Logger) *SpotSource {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &SpotSource{
		client:  client,
		cfg:     cfg,
		logger:  logger.With("component", "spot"),
		prices:  make(map[string]types.PricePoint),
		history: make(map[string][]types.PricePoint),
	}
}

// Run polls all coins until ctx is cancelled.
func (s *SpotSource) Run(ctx context.Context, coins []string) {
	s.pollAll(ctx, coins)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollAll(ctx, coins)
		}
	}
}

func (s *SpotSource) pollAll(ctx context.Context, coins []string) {
	for _, coin := range coins {
		if err := s.poll(ctx, coin); err != nil {
			s.logger.Warn("spot poll failed", "coin", coin, "error", err)
		}
	}
}

func (s *SpotSource) poll(ctx context.Context, coin string) error {
	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", strings.ToUpper(coin)+"USDT").
		SetResult(&out).
		Get("/api/v3/ticker/price")
	if err != nil {
		return fmt.Errorf("fetch spot %s: %w", coin, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("fetch spot %s: status %d", coin, resp.StatusCode())
	}

	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return fmt.Errorf("parse spot price %q: %w", out.Price, err)
	}

	point := types.PricePoint{Price: price.InexactFloat64(), Ts: time.Now().UnixMilli()}

	s.mu.Lock()
	s.prices[coin] = point
	h := append(s.history[coin], point)
	if len(h) > historyCap {
		h = h[len(h)-historyCap:]
	}
	s.history[coin] = h
	s.mu.Unlock()
	return nil
}

// Latest returns the most recent print for a coin, zero-valued when none.
func (s *SpotSource) Latest(coin string) types.PricePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prices[coin]
}

// History returns a copy of the recent prints for a coin, oldest first.
func (s *SpotSource) History(coin string) []types.PricePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[coin]
	out := make([]types.PricePoint, len(h))
	copy(out, h)
	return out
}
