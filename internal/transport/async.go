package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrAsyncClosed = errors.New("async sender closed")
	ErrOverflow    = errors.New("async sender overflow")
)

// AsyncSender funnels line writes through a single goroutine so producers
// never block on the socket. When the queue is full Send calls OnDrop and
// returns its error, or ErrOverflow when no hook is set.
//
//	a := NewAsyncSender(ctx, buf, sess.Send, hooks)
//	a.Send(line)
//	a.Close() // drains what was queued
type AsyncSender struct {
	mu     sync.Mutex
	ch     chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(string) error
	hooks  Hooks
	closed atomic.Bool

	sent   atomic.Uint64
	failed atomic.Uint64
	errMu  sync.Mutex
	err    error
}

// Hooks customize AsyncSender behavior.
type Hooks struct {
	// OnError is called when send returns a non-nil error.
	OnError func(error)
	// OnAfter is called after each successful send.
	OnAfter func()
	// OnDrop is called when the queue is full; its error is returned from Send.
	OnDrop func() error
}

func NewAsyncSender(parent context.Context, buf int, send func(string) error, hooks Hooks) *AsyncSender {
	if buf < 1 {
		buf = 1
	}
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncSender{
		ch:     make(chan string, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncSender) loop() {
	defer a.wg.Done()
	for {
		select {
		case line, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(line); err != nil {
				a.failed.Add(1)
				a.errMu.Lock()
				if a.err == nil {
					a.err = err
				}
				a.errMu.Unlock()
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			a.sent.Add(1)
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Send queues line or fails fast when the queue is full or closed.
func (a *AsyncSender) Send(line string) error {
	if a.closed.Load() {
		return ErrAsyncClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncClosed
	}
	select {
	case a.ch <- line:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return ErrOverflow
	}
}

// Close stops accepting lines, waits for the queue to drain and returns the
// first send error seen. Cancelling the parent context abandons the drain.
func (a *AsyncSender) Close() error {
	if !a.closed.Swap(true) {
		a.mu.Lock()
		close(a.ch)
		a.mu.Unlock()
	}
	a.wg.Wait()
	a.cancel()
	return a.Err()
}

// Err returns the first send error observed by the worker.
func (a *AsyncSender) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.err
}

func (a *AsyncSender) Sent() uint64   { return a.sent.Load() }
func (a *AsyncSender) Failed() uint64 { return a.failed.Load() }
