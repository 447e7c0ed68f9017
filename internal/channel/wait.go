package channel

import (
	"context"
	"sync"
	"time"

	"github.com/sserrano44/GibberWallet/internal/message"
)

// Wait is an armed waiter. At most one is registered per adapter; it is resolved by
// the first received envelope its predicate accepts.
type Wait struct {
	a     *Adapter
	match Predicate

	result    chan *message.Envelope
	stopped   chan struct{}
	abortOnce sync.Once
}

// Expect registers a waiter and starts capture if needed. Arming the waiter before
// transmitting a request guarantees a fast reply cannot slip past it.
func (a *Adapter) Expect(match Predicate) (*Wait, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}

	w := &Wait{
		a:       a,
		match:   match,
		result:  make(chan *message.Envelope, 1),
		stopped: make(chan struct{}),
	}

	a.mu.Lock()
	if a.waiter != nil {
		a.mu.Unlock()
		return nil, ErrWaitInProgress
	}
	a.waiter = w
	a.mu.Unlock()

	if err := a.startCapture(); err != nil {
		w.Cancel()
		return nil, err
	}
	return w, nil
}

// WaitFor blocks until an envelope satisfying match arrives, the timeout elapses or
// ctx is done
func (a *Adapter) WaitFor(ctx context.Context, match Predicate, timeout time.Duration) (*message.Envelope, error) {
	w, err := a.Expect(match)
	if err != nil {
		return nil, err
	}
	return w.Wait(ctx, timeout)
}

// Wait blocks until the waiter is resolved. On timeout the waiter is deregistered
// first, so an envelope decoded afterwards goes to the general handler; one that
// resolved it in the meantime is still returned.
func (w *Wait) Wait(ctx context.Context, timeout time.Duration) (*message.Envelope, error) {
	defer w.Cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-w.result:
		return env, nil
	case <-w.stopped:
		return w.late(ErrNotListening)
	case <-timer.C:
		w.Cancel()
		return w.late(ErrWaitTimeout)
	case <-ctx.Done():
		w.Cancel()
		return w.late(ctx.Err())
	}
}

func (w *Wait) late(err error) (*message.Envelope, error) {
	select {
	case env := <-w.result:
		return env, nil
	default:
		return nil, err
	}
}

// Cancel deregisters the waiter if it is still registered
func (w *Wait) Cancel() {
	w.a.mu.Lock()
	defer w.a.mu.Unlock()
	if w.a.waiter == w {
		w.a.waiter = nil
	}
}

// claim deregisters w if it is still the active waiter
func (a *Adapter) claim(w *Wait) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.waiter != w {
		return false
	}
	a.waiter = nil
	return true
}

func (w *Wait) resolve(env *message.Envelope) {
	w.result <- env
}

func (w *Wait) abort() {
	w.abortOnce.Do(func() { close(w.stopped) })
}
