package dashboard

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

func TestSparklineWidth(t *testing.T) {
	t.Parallel()
	points := make([]types.PnlPoint, 100)
	for i := range points {
		points[i] = types.PnlPoint{Ts: int64(i), Profit: float64(i)}
	}

	line := Sparkline(points, 40)
	if got := utf8.RuneCountInString(line); got != 40 {
		t.Errorf("sparkline width = %d runes, want 40", got)
	}
	// Rising curve ends at the tallest glyph.
	if !strings.HasSuffix(line, "█") {
		t.Errorf("sparkline %q does not end at full height", line)
	}
}

func TestSparklineFlatAndEmpty(t *testing.T) {
	t.Parallel()
	flat := []types.PnlPoint{{Profit: 5}, {Profit: 5}, {Profit: 5}}
	line := Sparkline(flat, 10)
	if utf8.RuneCountInString(line) != 3 {
		t.Errorf("flat sparkline = %q, want 3 mid-height glyphs", line)
	}

	if got := Sparkline(nil, 5); utf8.RuneCountInString(stripANSI(got)) != 5 {
		t.Errorf("empty sparkline = %q, want 5 placeholder runes", got)
	}
}

func TestSummaryLine(t *testing.T) {
	t.Parallel()
	line := SummaryLine(types.Summary{
		TotalTrades: 3, Wins: 2, Losses: 1, TotalProfit: 12.5, RuntimeSec: 90,
	})
	for _, want := range []string{"trades=3", "wins=2", "losses=1", "+12.50", "1m30s"} {
		if !strings.Contains(line, want) {
			t.Errorf("summary line %q missing %q", line, want)
		}
	}
}

func TestRenderViewStates(t *testing.T) {
	t.Parallel()
	pos := &types.OpenPosition{Direction: types.DirectionUpNo}

	cases := []struct {
		name string
		view types.MarketView
		want string
	}{
		{"idle", types.MarketView{Coin: "BTC"}, "idle"},
		{"pending", types.MarketView{Coin: "BTC", PendingDirection: types.DirectionDownYes}, "pending down_yes"},
		{"open", types.MarketView{Coin: "BTC", Position: pos, TimeLeftSec: 100}, "open up_no"},
		{"resolving", types.MarketView{Coin: "BTC", Position: pos, TimeLeftSec: -5}, "resolving"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := renderView(tc.view); !strings.Contains(got, tc.want) {
				t.Errorf("renderView = %q, want state %q", got, tc.want)
			}
		})
	}
}

// stripANSI removes color escapes so width assertions see only glyphs.
func stripANSI(s string) string {
	var b strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		case r == '\x1b':
			inEscape = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
