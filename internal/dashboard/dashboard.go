// Package dashboard renders the terminal view: one panel per profile with
// its per-coin market table, summary line, PnL sparkline and recent log
// lines. Rendering is pull-free; the runner pushes complete frames and the
// renderer just draws the latest one.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

// Frame is one complete render input.
type Frame struct {
	GeneratedAt time.Time
	Armed       bool
	Profiles    []ProfileFrame
}

// ProfileFrame is one engine's slice of the frame.
type ProfileFrame struct {
	Name    string
	Summary types.Summary
	Views   []types.MarketView
	Pnl     []types.PnlPoint
	Logs    []string
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	healthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	staleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	downStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	profitStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	lossStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Renderer draws frames to a terminal.
type Renderer struct {
	out io.Writer
}

func NewRenderer() *Renderer {
	return &Renderer{out: os.Stdout}
}

// Run draws every frame received until ctx is done.
func (r *Renderer) Run(ctx context.Context, frames <-chan Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			fmt.Fprint(r.out, "\033[H\033[2J")
			fmt.Fprintln(r.out, r.render(frame))
		}
	}
}

func (r *Renderer) render(f Frame) string {
	var panels []string

	status := "ARMED"
	if !f.Armed {
		status = "DISARMED (press Enter to start)"
	}
	panels = append(panels, titleStyle.Render("paper arbitrage — "+status)+
		dimStyle.Render("  "+f.GeneratedAt.Format("15:04:05")))

	for _, p := range f.Profiles {
		panels = append(panels, panelStyle.Render(renderProfile(p)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, panels...)
}

func renderProfile(p ProfileFrame) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(p.Name))
	b.WriteString("  ")
	b.WriteString(SummaryLine(p.Summary))
	b.WriteString("\n")
	b.WriteString(Sparkline(p.Pnl, 40))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-6s %-5s %-5s %8s %8s %9s %-10s",
		"COIN", "P", "K", "GAP", "T-LEFT", "COST", "STATE")))
	b.WriteString("\n")
	for _, v := range p.Views {
		b.WriteString(renderView(v))
		b.WriteString("\n")
	}

	for _, line := range p.Logs {
		b.WriteString(dimStyle.Render(line))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderView(v types.MarketView) string {
	state := "idle"
	switch {
	case v.Position != nil && v.TimeLeftSec <= 0:
		state = "resolving"
	case v.Position != nil:
		state = "open " + string(v.Position.Direction)
	case v.PendingDirection != "":
		state = "pending " + string(v.PendingDirection)
	}

	cost := "-"
	if best := bestEstimate(v); best != nil {
		cost = fmt.Sprintf("%.4f", best.CombinedCost)
	}

	return fmt.Sprintf("%-6s %-5s %-5s %8.4f %8.0f %9s %-10s",
		v.Coin,
		statusCell(v.DataStatusP),
		statusCell(v.DataStatusK),
		v.CurrentGap,
		v.TimeLeftSec,
		cost,
		state)
}

func bestEstimate(v types.MarketView) *types.FillEstimate {
	up, down := v.EstimateUpNo, v.EstimateDownYes
	switch {
	case up == nil:
		return down
	case down == nil:
		return up
	case down.Gap > up.Gap:
		return down
	default:
		return up
	}
}

func statusCell(s types.DataStatus) string {
	switch s {
	case types.DataHealthy:
		return healthyStyle.Render("ok")
	case types.DataStale:
		return staleStyle.Render("stale")
	default:
		return downStyle.Render("down")
	}
}

// SummaryLine formats an engine summary for both the dashboard and the final
// shutdown log.
func SummaryLine(s types.Summary) string {
	profit := fmt.Sprintf("%+.2f", s.TotalProfit)
	if s.TotalProfit >= 0 {
		profit = profitStyle.Render(profit)
	} else {
		profit = lossStyle.Render(profit)
	}
	return fmt.Sprintf("trades=%d wins=%d losses=%d pnl=%s runtime=%s",
		s.TotalTrades, s.Wins, s.Losses, profit,
		(time.Duration(s.RuntimeSec) * time.Second).String())
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the cumulative PnL curve into a fixed-width run of block
// glyphs. Flat history renders mid-height.
func Sparkline(points []types.PnlPoint, width int) string {
	if len(points) == 0 || width <= 0 {
		return dimStyle.Render(strings.Repeat("·", max(width, 0)))
	}
	if len(points) > width {
		points = points[len(points)-width:]
	}

	lo, hi := points[0].Profit, points[0].Profit
	for _, p := range points {
		if p.Profit < lo {
			lo = p.Profit
		}
		if p.Profit > hi {
			hi = p.Profit
		}
	}

	var b strings.Builder
	for _, p := range points {
		idx := len(sparkRunes) / 2
		if hi > lo {
			idx = int((p.Profit - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}
