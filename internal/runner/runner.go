// Package runner drives the whole bot: it owns the evaluation loop that
// multiplexes every profile engine on one goroutine, the render feed to the
// dashboard, and the supplier lifecycle.
//
// Engines are strictly single-threaded by construction. Each evaluation tick
// loads both venues' snapshot maps once and hands every engine the same maps
// and the same wall clock, in registration order. The dashboard runs on its
// own goroutine and is fed through a non-blocking channel: a slow terminal
// drops frames, it never stalls trading.
package runner

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/dashboard"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/engine"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/feed"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/logging"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

// renderInterval is the dashboard frame cadence, independent of the
// evaluation cadence.
const renderInterval = 250 * time.Millisecond

// Runner wires engines, suppliers and the dashboard together.
type Runner struct {
	evalInterval time.Duration
	engines      []*engine.Engine
	supplierP    feed.Supplier
	supplierK    feed.Supplier
	spot         *feed.SpotSource
	coins        []string

	system   logging.Logger
	renderer *dashboard.Renderer // nil in headless mode

	armed   bool
	armCh   chan struct{}
	frameCh chan dashboard.Frame
}

// Options configures a Runner.
type Options struct {
	EvalIntervalMs int64
	Engines        []*engine.Engine
	SupplierP      feed.Supplier
	SupplierK      feed.Supplier
	Spot           *feed.SpotSource
	Coins          []string
	System         logging.Logger
	Renderer       *dashboard.Renderer // nil disables rendering
	AutoStart      bool                // arm trading immediately (--auto)
}

func New(opts Options) *Runner {
	interval := opts.EvalIntervalMs
	if interval < 1 {
		interval = 1
	}
	return &Runner{
		evalInterval: time.Duration(interval) * time.Millisecond,
		engines:      opts.Engines,
		supplierP:    opts.SupplierP,
		supplierK:    opts.SupplierK,
		spot:         opts.Spot,
		coins:        opts.Coins,
		system:       opts.System,
		renderer:     opts.Renderer,
		armed:        opts.AutoStart,
		armCh:        make(chan struct{}, 1),
		frameCh:      make(chan dashboard.Frame, 1),
	}
}

// Arm enables trading. Without --auto the command layer calls this when the
// operator confirms with Enter.
func (r *Runner) Arm() {
	select {
	case r.armCh <- struct{}{}:
	default:
	}
}

// Run starts everything and blocks until ctx is cancelled. On shutdown every
// engine's final summary is written to the system log before suppliers close.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if r.spot != nil {
		g.Go(func() error {
			r.spot.Run(ctx, r.coins)
			return nil
		})
	}
	if err := r.supplierP.Start(ctx, r.coins); err != nil {
		return err
	}
	if err := r.supplierK.Start(ctx, r.coins); err != nil {
		return err
	}

	if r.renderer != nil {
		g.Go(func() error {
			r.renderer.Run(ctx, r.frameCh)
			return nil
		})
	}

	g.Go(func() error {
		r.loop(ctx)
		return nil
	})

	err := g.Wait()

	r.logFinalSummaries()
	r.supplierP.Close()
	r.supplierK.Close()
	return err
}

// loop is the single evaluation goroutine: all engines, every tick, in
// registration order.
func (r *Runner) loop(ctx context.Context) {
	evalTicker := time.NewTicker(r.evalInterval)
	defer evalTicker.Stop()
	renderTicker := time.NewTicker(renderInterval)
	defer renderTicker.Stop()

	if !r.armed {
		r.system.Log("trading disarmed, waiting for confirmation", logging.LevelInfo)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-r.armCh:
			if !r.armed {
				r.armed = true
				r.system.Log("trading armed", logging.LevelInfo)
			}

		case <-evalTicker.C:
			if !r.armed {
				continue
			}
			snapsP := r.supplierP.Snapshots()
			snapsK := r.supplierK.Snapshots()
			nowMs := time.Now().UnixMilli()
			for _, e := range r.engines {
				e.Evaluate(snapsP, snapsK, nowMs)
			}

		case <-renderTicker.C:
			if r.renderer == nil {
				continue
			}
			r.publishFrame()
		}
	}
}

// publishFrame snapshots every engine's read side and hands the frame to the
// dashboard without blocking; an unconsumed frame is replaced.
func (r *Runner) publishFrame() {
	frame := dashboard.Frame{
		GeneratedAt: time.Now(),
		Armed:       r.armed,
	}
	for _, e := range r.engines {
		frame.Profiles = append(frame.Profiles, dashboard.ProfileFrame{
			Name:    e.GetName(),
			Summary: e.GetSummary(),
			Views:   e.GetMarketViews(),
			Pnl:     e.GetPnlHistory(),
			Logs:    e.GetLogs(8),
		})
	}

	select {
	case r.frameCh <- frame:
	default:
		select {
		case <-r.frameCh:
		default:
		}
		select {
		case r.frameCh <- frame:
		default:
		}
	}
}

func (r *Runner) logFinalSummaries() {
	for _, e := range r.engines {
		s := e.GetSummary()
		r.system.Log(formatSummary(e.GetName(), s), logging.LevelInfo)
	}
}

func formatSummary(name string, s types.Summary) string {
	return name + ": " + dashboard.SummaryLine(s)
}
