package safety

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"futures-engine/internal/alert"
	"futures-engine/internal/core"
	"futures-engine/internal/exchange"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

const defaultReconnectCooldown = 30 * time.Second

type circuitState string

const (
	circuitClosed circuitState = "closed"
	circuitOpen   circuitState = "open"
)

type circuit struct {
	name        string
	maxFailures int
	failures    int
	state       circuitState
	openedAt    time.Time
	openErr     error
}

// Breaker trips an action after too many consecutive failures. The order
// circuit stays open until a successful call resets it from outside; the
// reconnect circuit cools down and lets one probe through.
type Breaker struct {
	enabled bool

	mu        sync.Mutex
	order     circuit
	reconnect circuit

	reconnectCooldown time.Duration
	alerter           alert.Alerter
}

func NewBreaker(enabled bool, maxOrderFailures, maxReconnectFailures int) *Breaker {
	return &Breaker{
		enabled:           enabled,
		order:             circuit{name: "order", maxFailures: maxOrderFailures, state: circuitClosed},
		reconnect:         circuit{name: "reconnect", maxFailures: maxReconnectFailures, state: circuitClosed},
		reconnectCooldown: defaultReconnectCooldown,
	}
}

func (b *Breaker) SetAlerter(alerter alert.Alerter) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.alerter = alerter
	b.mu.Unlock()
}

func (b *Breaker) SetReconnectCooldown(cooldown time.Duration) {
	if b == nil || cooldown <= 0 {
		return
	}
	b.mu.Lock()
	b.reconnectCooldown = cooldown
	b.mu.Unlock()
}

// RecordOrder feeds one order-path outcome into the breaker. Returns the
// circuit-open error once the threshold is crossed; before that the caller's
// own error stands.
func (b *Breaker) RecordOrder(err error) error {
	if b == nil {
		return nil
	}
	return b.record(&b.order, err)
}

func (b *Breaker) RecordReconnect(err error) error {
	if b == nil {
		return nil
	}
	return b.record(&b.reconnect, err)
}

// AllowReconnect gates the dial loop. While the reconnect circuit is open and
// cooling down it returns the open error; after the cooldown it closes the
// circuit so one attempt can probe the venue.
func (b *Breaker) AllowReconnect() error {
	if b == nil || !b.enabled {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reconnect.state != circuitOpen {
		return nil
	}
	if time.Since(b.reconnect.openedAt) < b.reconnectCooldown {
		return b.reconnect.openErr
	}
	b.reconnect.state = circuitClosed
	b.reconnect.failures = b.reconnect.maxFailures - 1
	b.reconnect.openErr = nil
	log.Printf("level=INFO event=circuit_breaker_probe action=%q cooldown=%s", b.reconnect.name, b.reconnectCooldown)
	return nil
}

func (b *Breaker) record(c *circuit, err error) error {
	if b == nil || !b.enabled || c.maxFailures < 1 {
		return nil
	}
	b.mu.Lock()
	if err == nil {
		recovered := c.state == circuitOpen || c.failures > 0
		prevFailures := c.failures
		c.state = circuitClosed
		c.failures = 0
		c.openErr = nil
		b.mu.Unlock()
		if recovered {
			log.Printf("level=INFO event=circuit_breaker_recovered action=%q previous_failures=%d", c.name, prevFailures)
		}
		return nil
	}

	if c.state == circuitOpen {
		openErr := c.openErr
		b.mu.Unlock()
		return openErr
	}

	c.failures++
	if c.failures < c.maxFailures {
		b.mu.Unlock()
		return nil
	}
	c.state = circuitOpen
	c.openedAt = time.Now().UTC()
	c.openErr = fmt.Errorf("%w: %s failed %d consecutive times, last error: %v", ErrCircuitOpen, c.name, c.failures, err)
	openErr := c.openErr
	alerter := b.alerter
	failures := c.failures
	threshold := c.maxFailures
	b.mu.Unlock()

	log.Printf(
		"level=ERROR event=circuit_breaker_trip action=%q consecutive_failures=%d threshold=%d last_error=%q",
		c.name,
		failures,
		threshold,
		err.Error(),
	)
	if alerter != nil {
		alerter.Important("circuit_breaker_trip", map[string]string{
			"action":               c.name,
			"consecutive_failures": strconv.Itoa(failures),
			"last_error":           err.Error(),
		})
	}
	return openErr
}

// GuardedTrading wraps a trading client so every order-path outcome feeds the
// breaker. Once tripped, callers see the circuit-open error instead of the
// transport error until a success closes the circuit again.
type GuardedTrading struct {
	inner   exchange.TradingClient
	breaker *Breaker
}

func NewGuardedTrading(inner exchange.TradingClient, breaker *Breaker) *GuardedTrading {
	return &GuardedTrading{inner: inner, breaker: breaker}
}

func (g *GuardedTrading) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*core.OrderReport, error) {
	report, err := g.inner.PlaceOrder(ctx, req)
	if trip := g.breaker.RecordOrder(err); trip != nil {
		return report, trip
	}
	return report, err
}

func (g *GuardedTrading) CancelOrder(ctx context.Context, orderID string) (*core.OrderReport, error) {
	report, err := g.inner.CancelOrder(ctx, orderID)
	if trip := g.breaker.RecordOrder(err); trip != nil {
		return report, trip
	}
	return report, err
}

// OrderStatus is read-only and never feeds the breaker; the poller has its
// own backoff for flaky status reads.
func (g *GuardedTrading) OrderStatus(ctx context.Context, symbol, orderID string) (*core.OrderReport, error) {
	return g.inner.OrderStatus(ctx, symbol, orderID)
}
