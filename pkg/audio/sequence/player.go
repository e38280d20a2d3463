// Package sequence plays an ordered list of audio items one at a time, with a
// fixed delay between items and pause/resume/stop control.
//
// Every play call starts a new generation. Asynchronous continuations
// (element events and delay timers) capture the generation they were created
// for and become no-ops once it is no longer current, so a newly started
// sequence always wins over a stale one.
package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultDelay is the pause inserted between the end of one item and the
// start of the next.
const DefaultDelay = 1500 * time.Millisecond

// Option is a functional option for configuring a [Player].
type Option func(*Player)

// WithDelay sets the inter-item delay. Negative values are treated as zero.
func WithDelay(d time.Duration) Option {
	return func(p *Player) { p.delay = max(d, 0) }
}

// WithCallbacks registers progress callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(p *Player) { p.cb = cb }
}

// WithLogger sets the logger for playback diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Player) {
		if l != nil {
			p.log = l
		}
	}
}

// Player plays items from a [Loader]. It owns at most one [Element] at a
// time. All methods are safe for concurrent use.
type Player struct {
	loader Loader
	delay  time.Duration
	cb     Callbacks
	log    *slog.Logger

	mu          sync.Mutex
	items       []Item
	gen         uint64
	genCtx      context.Context
	genCancel   context.CancelFunc
	state       State
	current     int
	started     bool
	heldStart   bool
	attempt     uint64
	single      bool
	resumeIndex int
	elem        Element
	timer       *time.Timer
	waiter      chan error
}

// New creates a Player over items.
func New(loader Loader, items []Item, opts ...Option) *Player {
	p := &Player{
		loader:  loader,
		delay:   DefaultDelay,
		log:     slog.Default(),
		items:   items,
		current: -1,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetItems replaces the item list. Any active playback is stopped first.
func (p *Player) SetItems(items []Item) {
	p.Stop()
	p.mu.Lock()
	p.items = items
	p.mu.Unlock()
}

// Items returns the current item list.
func (p *Player) Items() []Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.items
}

// State returns the current playback state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CurrentIndex returns the index of the item being played, or -1.
func (p *Player) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// PlayItem cancels any active sequence and plays the item at index. It
// blocks until the item ends naturally and returns nil, or returns a
// [*PlaybackError], [ErrSuperseded], or the context error. Afterwards the
// current index is back to -1 and the player is idle.
func (p *Player) PlayItem(ctx context.Context, index int) error {
	p.mu.Lock()
	if index < 0 || index >= len(p.items) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	done := make(chan error, 1)
	var ev events
	gen := p.beginLocked(ctx, index, true, &ev)
	p.waiter = done
	p.mu.Unlock()
	ev.fire()

	p.startItem(gen, index)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.cancelGen(gen)
		return ctx.Err()
	}
}

// PlayAllFrom cancels any active sequence and plays items from start to the
// end of the list. It returns immediately; progress and failures are
// reported through [Callbacks]. Cancelling ctx stops the sequence.
func (p *Player) PlayAllFrom(ctx context.Context, start int) error {
	p.mu.Lock()
	if start < 0 || start >= len(p.items) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, start)
	}
	var ev events
	gen := p.beginLocked(ctx, start, false, &ev)
	p.mu.Unlock()
	ev.fire()

	p.log.Debug("sequence: playing", "from", start, "gen", gen)
	go p.startItem(gen, start)
	return nil
}

// Pause halts playback without discarding the position. Within a sequence
// the next Resume continues with the item after the current one, or replays
// the current item if it had not become audible yet; for a single item it
// un-pauses the same element.
func (p *Player) Pause() {
	p.mu.Lock()
	if p.state != StatePlaying {
		p.mu.Unlock()
		return
	}
	if p.elem != nil {
		p.elem.Pause()
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	switch {
	case p.single, !p.started:
		p.resumeIndex = p.current
	default:
		p.resumeIndex = p.current + 1
	}
	var ev events
	p.setStateLocked(StatePaused, &ev)
	p.mu.Unlock()
	ev.fire()
}

// Resume continues after Pause. It is a no-op unless the player is paused.
func (p *Player) Resume(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StatePaused {
		p.mu.Unlock()
		return nil
	}

	if p.single {
		elem, gen, idx, genCtx := p.elem, p.gen, p.current, p.genCtx
		var ev events
		p.setStateLocked(StatePlaying, &ev)
		if p.heldStart {
			p.heldStart = false
			p.started = true
			if cb := p.cb.OnItemStart; cb != nil {
				ev.add(p.ifGen(gen, func() { cb(idx) }))
			}
		}
		p.mu.Unlock()
		ev.fire()

		if elem == nil {
			// Paused before the item became audible: start it now.
			p.startItem(gen, idx)
			return nil
		}
		if err := elem.Resume(genCtx); err != nil {
			p.handleError(gen, idx, err)
		}
		return nil
	}

	next := p.resumeIndex
	if next < len(p.items) {
		p.mu.Unlock()
		return p.PlayAllFrom(ctx, next)
	}

	// Paused on the last item: resuming finishes the sequence.
	var ev events
	p.teardownLocked()
	p.setStateLocked(StateCompleted, &ev)
	if cb := p.cb.OnSequenceEnd; cb != nil {
		ev.add(cb)
	}
	p.mu.Unlock()
	ev.fire()
	return nil
}

// Stop tears down the active element and any pending delay and returns the
// player to idle, whatever its state.
func (p *Player) Stop() {
	p.mu.Lock()
	var ev events
	p.teardownLocked()
	p.setStateLocked(StateIdle, &ev)
	p.mu.Unlock()
	ev.fire()
}

// beginLocked starts a new generation in the playing state, positioned at
// index.
func (p *Player) beginLocked(ctx context.Context, index int, single bool, ev *events) uint64 {
	p.teardownLocked()
	p.current = index
	p.genCtx, p.genCancel = context.WithCancel(context.WithoutCancel(ctx))
	gen := p.gen
	stop := context.AfterFunc(ctx, func() { p.cancelGen(gen) })
	cancel := p.genCancel
	p.genCancel = func() {
		stop()
		cancel()
	}
	p.single = single
	p.setStateLocked(StatePlaying, ev)
	return gen
}

// teardownLocked invalidates the current generation and releases everything
// it owns.
func (p *Player) teardownLocked() {
	p.gen++
	if p.genCancel != nil {
		p.genCancel()
		p.genCancel = nil
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.elem != nil {
		p.elem.Close()
		p.elem = nil
	}
	if p.waiter != nil {
		p.waiter <- ErrSuperseded
		p.waiter = nil
	}
	p.current = -1
	p.started = false
	p.heldStart = false
	p.single = false
}

// cancelGen stops playback if gen is still current.
func (p *Player) cancelGen(gen uint64) {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	var ev events
	p.teardownLocked()
	p.setStateLocked(StateIdle, &ev)
	p.mu.Unlock()
	ev.fire()
}

func (p *Player) startItem(gen uint64, idx int) {
	p.mu.Lock()
	if gen != p.gen || p.state != StatePlaying {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	if p.elem != nil {
		p.elem.Close()
		p.elem = nil
	}
	p.current = idx
	p.started = false
	p.heldStart = false
	p.attempt++
	attempt := p.attempt
	item := p.items[idx]
	ctx := p.genCtx
	p.mu.Unlock()

	if item.URL == "" {
		p.handleError(gen, idx, fmt.Errorf("no audio resolved for %q", item.ID))
		return
	}

	elem, err := p.loader.Load(item, ElementEvents{
		OnLoadedMetadata: func() { p.handleLoaded(gen, idx) },
		OnEnded:          func() { p.handleEnded(gen, idx) },
		OnError:          func(err error) { p.handleError(gen, idx, err) },
	})
	if err != nil {
		p.handleError(gen, idx, fmt.Errorf("load: %w", err))
		return
	}

	p.mu.Lock()
	if gen != p.gen || attempt != p.attempt || p.state != StatePlaying {
		// Superseded, restarted, or paused while loading. A paused player
		// starts this item again on Resume.
		p.mu.Unlock()
		elem.Close()
		return
	}
	// started stays false until the element reports it is audible, so a
	// Pause during the fetch replays this item on Resume.
	p.elem = elem
	p.mu.Unlock()

	if err := elem.Play(ctx); err != nil {
		p.handleError(gen, idx, fmt.Errorf("play: %w", err))
	}
}

func (p *Player) handleLoaded(gen uint64, idx int) {
	p.mu.Lock()
	if gen != p.gen || idx != p.current {
		p.mu.Unlock()
		return
	}
	if p.state != StatePlaying {
		// A single item resumes in place, so OnItemStart waits for Resume.
		// A sequence replays the item instead.
		p.heldStart = p.single && p.state == StatePaused
		p.mu.Unlock()
		return
	}
	p.started = true
	var ev events
	if cb := p.cb.OnItemStart; cb != nil {
		ev.add(p.ifGen(gen, func() { cb(idx) }))
	}
	p.mu.Unlock()
	ev.fire()
}

func (p *Player) handleEnded(gen uint64, idx int) {
	p.mu.Lock()
	if gen != p.gen || idx != p.current {
		p.mu.Unlock()
		return
	}
	if p.elem != nil {
		p.elem.Close()
		p.elem = nil
	}

	var ev events
	// Completion tears the generation down before the callback runs, so the
	// generation to check is the one left after the switch.
	after := gen
	if cb := p.cb.OnItemEnd; cb != nil {
		ev.add(func() {
			if p.isGen(after) {
				cb(idx)
			}
		})
	}

	switch {
	case p.single:
		if p.waiter != nil {
			p.waiter <- nil
			p.waiter = nil
		}
		p.teardownLocked()
		p.setStateLocked(StateIdle, &ev)

	case p.state == StatePaused:
		// Resume continues at idx+1.

	case idx+1 < len(p.items):
		next := idx + 1
		p.timer = time.AfterFunc(p.delay, func() { p.startItem(gen, next) })

	default:
		p.teardownLocked()
		p.setStateLocked(StateCompleted, &ev)
		if cb := p.cb.OnSequenceEnd; cb != nil {
			ev.add(cb)
		}
	}
	after = p.gen
	p.mu.Unlock()
	ev.fire()
}

func (p *Player) handleError(gen uint64, idx int, err error) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	perr := &PlaybackError{Index: idx, Err: err}
	if idx >= 0 && idx < len(p.items) {
		perr.ItemID = p.items[idx].ID
	}
	if p.waiter != nil {
		p.waiter <- perr
		p.waiter = nil
	}

	var ev events
	p.teardownLocked()
	p.setStateLocked(StateIdle, &ev)
	if cb := p.cb.OnError; cb != nil {
		ev.add(func() { cb(perr) })
	}
	p.mu.Unlock()

	p.log.Warn("sequence: playback failed", "index", idx, "item", perr.ItemID, "err", err)
	ev.fire()
}

func (p *Player) setStateLocked(s State, ev *events) {
	if p.state == s {
		return
	}
	p.state = s
	if cb := p.cb.OnStateChange; cb != nil {
		ev.add(func() { cb(s) })
	}
}

// isGen reports whether gen is still the current generation.
func (p *Player) isGen(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen
}

// ifGen wraps fn so it is skipped when a newer generation started between
// queueing and firing.
func (p *Player) ifGen(gen uint64, fn func()) func() {
	return func() {
		if p.isGen(gen) {
			fn()
		}
	}
}

// events collects callbacks to run once the lock is released.
type events []func()

func (e *events) add(fn func()) { *e = append(*e, fn) }

func (e events) fire() {
	for _, fn := range e {
		fn()
	}
}
