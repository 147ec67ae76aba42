package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Fatalf("Opposite mismatch")
	}
}

func TestIsOrderNotFoundUnwraps(t *testing.T) {
	err := fmt.Errorf("cancel 42: %w", ErrOrderNotFound)
	if !IsOrderNotFound(err) {
		t.Fatalf("expected wrapped ErrOrderNotFound to match")
	}
	if IsOrderNotFound(errors.New("timeout")) {
		t.Fatalf("unrelated error matched")
	}
}

func TestRateLimiterUsage(t *testing.T) {
	rl := NewRateLimiter(100, time.Minute, 1000, 10, nil)
	rl.UpdateFromHeader("91")
	used, limit, pct := rl.GetUsage()
	if used != 91 || limit != 100 || pct < 90 {
		t.Fatalf("usage = %d/%d (%.1f)", used, limit, pct)
	}
	if !rl.ShouldDelay() {
		t.Fatalf("expected delay at 91%%")
	}
	rl.UpdateFromHeader("garbage")
	if used, _, _ := rl.GetUsage(); used != 91 {
		t.Fatalf("garbage header changed usage to %d", used)
	}
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(100, time.Hour, 1000, 10, nil)
	rl.UpdateFromHeader("99")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTimeSyncOffset(t *testing.T) {
	server := time.Now().UnixMilli() + 5000
	ts := NewTimeSync(func(context.Context) (int64, error) { return server, nil }, nil)
	if err := ts.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if off := ts.Offset(); off < 4900 || off > 5100 {
		t.Fatalf("offset = %d, want about 5000", off)
	}
}
