// Package gate implements the global dispatch pacing gate.
//
// Every individual message send, from every session sharing one gateway
// account, acquires the gate first. The gate reads the shared rate ledger,
// waits out the remaining interval, and advances the ledger before letting
// the caller proceed.
//
// This is an advisory pacing gate, not a critical-section lock: the ledger is
// read-then-written with no transactional isolation, so two callers can both
// observe a stale timestamp and produce an occasional closer-than-interval
// pair. That race is accepted; the minimum spacing is a soft target.
package gate

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"opsdispatch/internal/eventbus"
	logx "opsdispatch/pkg/logx"
)

// DefaultMinInterval is the minimum spacing between consecutive sends.
const DefaultMinInterval = 5 * time.Second

// Ledger is the single shared pacing record, one per gateway account.
type Ledger interface {
	// LastSend returns the recorded time of the most recent send
	// (zero time when nothing was recorded yet).
	LastSend(ctx context.Context) (time.Time, error)
	// RecordSend advances the ledger to t. Merge/upsert, not a transaction.
	RecordSend(ctx context.Context, t time.Time) error
}

type Config struct {
	MinInterval time.Duration
}

type Gate struct {
	mu  sync.Mutex
	cfg Config

	ledger Ledger
	log    logx.Logger
	bus    eventbus.Bus

	// Test hooks. Production uses time.Now / timer-based sleep.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, ledger Ledger, log logx.Logger, bus eventbus.Bus) *Gate {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{
		cfg:    cfg,
		ledger: ledger,
		log:    log,
		bus:    bus,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Apply updates the pacing interval at runtime.
func (g *Gate) Apply(cfg Config) {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

// SetClock overrides the time source and sleeper (tests only).
func (g *Gate) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	g.mu.Lock()
	if now != nil {
		g.now = now
	}
	if sleep != nil {
		g.sleep = sleep
	}
	g.mu.Unlock()
}

// Acquire blocks until the caller may send. Ledger write failures are retried
// indefinitely with a small jitter; contention is expected to be rare and
// brief. The only error returned is ctx cancellation.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	min := g.cfg.MinInterval
	now := g.now
	sleep := g.sleep
	g.mu.Unlock()

	start := now()
	for {
		last, err := g.ledger.LastSend(ctx)
		if err != nil {
			// A read failure degrades to "unknown": wait the full interval
			// rather than blasting through.
			g.log.Warn("rate ledger read failed", logx.Err(err))
			last = now()
		}

		if wait := min - now().Sub(last); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			// Someone else may have sent while we slept; re-read before
			// claiming the slot. The read-to-write window that remains is
			// the accepted residual race.
			continue
		}

		if err := g.ledger.RecordSend(ctx, now()); err == nil {
			if g.bus != nil {
				g.bus.Publish(eventbus.Event{Type: eventbus.GateWait, Data: eventbus.DispatchEvent{Wait: now().Sub(start), At: now()}})
			}
			return nil
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			jitter := time.Duration(50+rand.Intn(200)) * time.Millisecond
			g.log.Debug("rate ledger write conflict; retrying", logx.Err(err), logx.Duration("jitter", jitter))
			if err := sleep(ctx, jitter); err != nil {
				return err
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
