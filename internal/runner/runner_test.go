package runner

import (
	"context"
	"testing"
	"time"

	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/config"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/engine"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/internal/logging"
	"github.com/BenItBuhner/Arbitration-Bot-sub002/pkg/types"
)

// fakeSupplier serves a fixed snapshot map.
type fakeSupplier struct {
	venue types.Venue
	snaps map[string]*types.Snapshot
}

func (f *fakeSupplier) Venue() types.Venue                           { return f.venue }
func (f *fakeSupplier) Start(context.Context, []string) error        { return nil }
func (f *fakeSupplier) Snapshots() map[string]*types.Snapshot        { return f.snaps }
func (f *fakeSupplier) Close() error                                 { return nil }

func testEngine() *engine.Engine {
	return engine.New(config.ProfileConfig{
		Name:   "test",
		Coins:  []string{"BTC"},
		Params: config.DefaultCoinParams(),
	}, logging.NewSink("", "test", 50), logging.NewSink("", "mismatch", 50))
}

func newTestRunner(auto bool) *Runner {
	return New(Options{
		EvalIntervalMs: 1,
		Engines:        []*engine.Engine{testEngine()},
		SupplierP:      &fakeSupplier{venue: types.VenueP, snaps: map[string]*types.Snapshot{}},
		SupplierK:      &fakeSupplier{venue: types.VenueK, snaps: map[string]*types.Snapshot{}},
		Coins:          []string{"BTC"},
		System:         logging.NewSink("", "system", 50),
		AutoStart:      auto,
	})
}

func TestNewClampsEvalInterval(t *testing.T) {
	t.Parallel()
	r := New(Options{EvalIntervalMs: 0})
	if r.evalInterval != time.Millisecond {
		t.Errorf("interval = %v, want clamp to 1ms", r.evalInterval)
	}
	r = New(Options{EvalIntervalMs: 25})
	if r.evalInterval != 25*time.Millisecond {
		t.Errorf("interval = %v, want 25ms", r.evalInterval)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	r := newTestRunner(true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestArmEnablesEvaluation(t *testing.T) {
	t.Parallel()
	r := newTestRunner(false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Disarmed: no evaluation means no runtime accrual.
	time.Sleep(30 * time.Millisecond)
	r.Arm()
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	if s := r.engines[0].GetSummary(); s.RuntimeSec < 0 {
		t.Errorf("runtime = %v, want ≥ 0 after arming", s.RuntimeSec)
	}
	if !r.armed {
		t.Error("runner not armed after Arm()")
	}
}

func TestPublishFrameNeverBlocks(t *testing.T) {
	t.Parallel()
	r := newTestRunner(true)

	// Nobody consumes frames; repeated publishes must replace, not stall.
	for i := 0; i < 10; i++ {
		r.publishFrame()
	}

	select {
	case frame := <-r.frameCh:
		if len(frame.Profiles) != 1 {
			t.Errorf("frame profiles = %d, want 1", len(frame.Profiles))
		}
	default:
		t.Fatal("no frame buffered after publishing")
	}
}
