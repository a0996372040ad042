package safety

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"futures-engine/internal/core"
	"futures-engine/internal/exchange"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(true, 3, 10)
	boom := errors.New("503")

	if err := b.RecordOrder(boom); err != nil {
		t.Fatalf("RecordOrder(1) = %v, want nil before threshold", err)
	}
	if err := b.RecordOrder(boom); err != nil {
		t.Fatalf("RecordOrder(2) = %v, want nil before threshold", err)
	}
	err := b.RecordOrder(boom)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("RecordOrder(3) = %v, want ErrCircuitOpen", err)
	}
	if err := b.RecordOrder(boom); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open circuit must keep returning its error, got %v", err)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(true, 3, 10)
	boom := errors.New("503")

	_ = b.RecordOrder(boom)
	_ = b.RecordOrder(boom)
	_ = b.RecordOrder(nil)
	if err := b.RecordOrder(boom); err != nil {
		t.Fatalf("failure count must reset on success, got %v", err)
	}
}

func TestBreakerDisabledNeverTrips(t *testing.T) {
	b := NewBreaker(false, 1, 1)
	for i := 0; i < 5; i++ {
		if err := b.RecordOrder(errors.New("503")); err != nil {
			t.Fatalf("disabled breaker returned %v", err)
		}
	}
}

func TestAllowReconnectCooldown(t *testing.T) {
	b := NewBreaker(true, 5, 2)
	b.SetReconnectCooldown(50 * time.Millisecond)
	boom := errors.New("dial refused")

	_ = b.RecordReconnect(boom)
	if err := b.RecordReconnect(boom); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("RecordReconnect = %v, want trip at threshold", err)
	}
	if err := b.AllowReconnect(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("AllowReconnect during cooldown = %v, want ErrCircuitOpen", err)
	}

	time.Sleep(60 * time.Millisecond)
	if err := b.AllowReconnect(); err != nil {
		t.Fatalf("AllowReconnect after cooldown = %v, want probe allowed", err)
	}
	// The probe's failure must re-open the circuit immediately.
	if err := b.RecordReconnect(boom); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("failed probe = %v, want ErrCircuitOpen", err)
	}
	// A successful probe closes it for good.
	time.Sleep(60 * time.Millisecond)
	if err := b.AllowReconnect(); err != nil {
		t.Fatalf("AllowReconnect after second cooldown = %v", err)
	}
	_ = b.RecordReconnect(nil)
	if err := b.AllowReconnect(); err != nil {
		t.Fatalf("AllowReconnect after recovery = %v", err)
	}
}

type flakyTrading struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *flakyTrading) PlaceOrder(context.Context, exchange.OrderRequest) (*core.OrderReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, f.err
}

func (f *flakyTrading) CancelOrder(context.Context, string) (*core.OrderReport, error) {
	return nil, f.err
}

func (f *flakyTrading) OrderStatus(context.Context, string, string) (*core.OrderReport, error) {
	return &core.OrderReport{State: core.OrderNew}, nil
}

func TestGuardedTradingFeedsBreaker(t *testing.T) {
	inner := &flakyTrading{err: errors.New("503")}
	b := NewBreaker(true, 2, 10)
	guarded := NewGuardedTrading(inner, b)

	if _, err := guarded.PlaceOrder(context.Background(), exchange.OrderRequest{}); errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("first failure must surface the raw error, got %v", err)
	}
	if _, err := guarded.PlaceOrder(context.Background(), exchange.OrderRequest{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second failure must trip, got %v", err)
	}
	if _, err := guarded.OrderStatus(context.Background(), "XBTUSD", "o-1"); err != nil {
		t.Fatalf("status reads bypass the breaker, got %v", err)
	}
}
