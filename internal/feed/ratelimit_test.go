package feed

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketBurst(t *testing.T) {
	t.Parallel()
	tb := newTokenBucket(3, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := tb.wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("burst of 3 took %v, want effectively instant", elapsed)
	}
}

func TestTokenBucketBlocksWhenEmpty(t *testing.T) {
	t.Parallel()
	tb := newTokenBucket(1, 10) // refill in ~100ms
	ctx := context.Background()

	if err := tb.wait(ctx); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := tb.wait(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("second token granted after %v, want ≈100ms refill wait", elapsed)
	}
}

func TestTokenBucketWaitHonorsContext(t *testing.T) {
	t.Parallel()
	tb := newTokenBucket(1, 0.001) // effectively never refills
	ctx := context.Background()

	if err := tb.wait(ctx); err != nil {
		t.Fatal(err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := tb.wait(cancelCtx); err == nil {
		t.Error("wait returned nil on a cancelled context")
	}
}
