package recalc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Debouncer coalesces bursts of calls. The first call after a quiet period
// runs immediately; later calls within wait of each other collapse into one
// trailing call with the latest value, which is delayed at most maxWait after
// the first call it absorbed. A running call is never interrupted.
type Debouncer[T any] struct {
	wait    time.Duration
	maxWait time.Duration
	fn      func(T)

	mu           sync.Mutex
	timer        *time.Timer
	gen          uint64
	active       bool
	pending      bool
	latest       T
	firstPending time.Time
	stopped      bool
}

// NewDebouncer creates a debouncer. A maxWait of zero disables the ceiling.
func NewDebouncer[T any](wait, maxWait time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{wait: wait, maxWait: maxWait, fn: fn}
}

// Trigger schedules fn(v).
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	now := time.Now()
	if !d.active {
		d.active = true
		d.schedule(d.wait)
		d.mu.Unlock()
		d.fn(v)
		return
	}

	d.latest = v
	if !d.pending {
		d.pending = true
		d.firstPending = now
	}
	delay := d.wait
	if d.maxWait > 0 {
		if remaining := d.firstPending.Add(d.maxWait).Sub(now); remaining < delay {
			delay = max(remaining, 0)
		}
	}
	d.schedule(delay)
	d.mu.Unlock()
}

// schedule replaces the timer. Callers hold d.mu.
func (d *Debouncer[T]) schedule(delay time.Duration) {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(delay, func() { d.fire(gen) })
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.stopped {
		d.mu.Unlock()
		return
	}
	if !d.pending {
		d.active = false
		d.timer = nil
		d.mu.Unlock()
		return
	}
	v := d.take()
	// Keep the window open so a call right after the trailing edge is
	// debounced instead of running immediately.
	d.schedule(d.wait)
	d.mu.Unlock()
	d.fn(v)
}

// take clears the pending value. Callers hold d.mu.
func (d *Debouncer[T]) take() T {
	v := d.latest
	var zero T
	d.latest = zero
	d.pending = false
	d.firstPending = time.Time{}
	return v
}

// Pending reports whether a trailing call is waiting.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Flush runs a pending call now and closes the window.
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	if !d.pending || d.stopped {
		d.mu.Unlock()
		return
	}
	v := d.take()
	d.reset()
	d.mu.Unlock()
	d.fn(v)
}

// Cancel drops a pending call and closes the window.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.take()
	d.reset()
}

// Stop cancels and ignores every later Trigger.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.take()
	d.reset()
	d.stopped = true
}

func (d *Debouncer[T]) reset() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.active = false
}

// Recalculator runs one recalculation.
type Recalculator interface {
	Recalculate(ctx context.Context, req Request) (*Entry, error)
}

// Result is delivered for every recalculation a DebouncedCalculator runs.
// Seq is the sequence number Request returned for the request that ran;
// results can arrive out of order when an earlier run is slow.
type Result struct {
	Seq   uint64
	Entry *Entry
	Err   error
}

type debounced struct {
	seq uint64
	req Request
}

// DebouncedCalculator feeds rapid recalculation requests through a
// Debouncer and reports results through a callback.
type DebouncedCalculator struct {
	ctx      context.Context
	calc     Recalculator
	deb      *Debouncer[debounced]
	onResult func(Result)
	seq      atomic.Uint64
	done     atomic.Uint64
}

// NewDebouncedCalculator creates a calculator that debounces by wait and
// forces a run at least every maxWait during a burst.
func NewDebouncedCalculator(ctx context.Context, calc Recalculator, wait, maxWait time.Duration, onResult func(Result)) *DebouncedCalculator {
	d := &DebouncedCalculator{ctx: ctx, calc: calc, onResult: onResult}
	d.deb = NewDebouncer(wait, maxWait, d.run)
	return d
}

// NewDebouncedEngine wires a DebouncedCalculator with the engine's
// configured debounce timings.
func NewDebouncedEngine(ctx context.Context, e *Engine, onResult func(Result)) *DebouncedCalculator {
	cfg := e.Config()
	return NewDebouncedCalculator(ctx, e,
		time.Duration(cfg.DebounceMS)*time.Millisecond,
		time.Duration(cfg.MaxWaitMS)*time.Millisecond,
		onResult,
	)
}

// Request schedules a recalculation and returns its sequence number. A
// leading-edge request runs on the caller's goroutine before Request returns.
func (d *DebouncedCalculator) Request(req Request) uint64 {
	seq := d.seq.Add(1)
	d.deb.Trigger(debounced{seq: seq, req: req})
	return seq
}

// Latest returns the sequence number of the most recent request.
func (d *DebouncedCalculator) Latest() uint64 { return d.seq.Load() }

// Completed returns the highest sequence number that finished.
func (d *DebouncedCalculator) Completed() uint64 { return d.done.Load() }

// Flush runs a pending request immediately.
func (d *DebouncedCalculator) Flush() { d.deb.Flush() }

// Stop drops pending work and ignores later requests.
func (d *DebouncedCalculator) Stop() { d.deb.Stop() }

func (d *DebouncedCalculator) run(c debounced) {
	entry, err := d.calc.Recalculate(d.ctx, c.req)
	if err != nil {
		zap.L().Warn("recalc: debounced recalculation failed",
			zap.String("deal_id", c.req.DealID),
			zap.Uint64("seq", c.seq),
			zap.Error(err),
		)
	}
	for {
		cur := d.done.Load()
		if c.seq <= cur || d.done.CompareAndSwap(cur, c.seq) {
			break
		}
	}
	if d.onResult != nil {
		d.onResult(Result{Seq: c.seq, Entry: entry, Err: err})
	}
}
