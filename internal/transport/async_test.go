package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var (
	errDrop     = errors.New("drop")
	errSendFail = errors.New("send fail")
)

func TestAsyncSenderDrainsOnClose(t *testing.T) {
	var got []string
	var after atomic.Int64
	a := NewAsyncSender(context.Background(), 16, func(l string) error {
		got = append(got, l)
		return nil
	}, Hooks{OnAfter: func() { after.Add(1) }})
	for _, l := range []string{"a", "b", "c"} {
		if err := a.Send(l); err != nil {
			t.Fatalf("unexpected send error: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("lines not drained in order: %v", got)
	}
	if after.Load() != 3 || a.Sent() != 3 {
		t.Fatalf("expected 3 sent, got after=%d sent=%d", after.Load(), a.Sent())
	}
}

func TestAsyncSenderOverflow(t *testing.T) {
	release := make(chan struct{})
	a := NewAsyncSender(context.Background(), 1, func(string) error { <-release; return nil }, Hooks{OnDrop: func() error { return errDrop }})
	defer func() { close(release); _ = a.Close() }()
	// One line in flight, one queued.
	_ = a.Send("1")
	deadline := time.Now().Add(time.Second)
	for {
		if err := a.Send("x"); errors.Is(err, errDrop) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected overflow")
		}
	}
}

func TestAsyncSenderOverflowDefault(t *testing.T) {
	release := make(chan struct{})
	a := NewAsyncSender(context.Background(), 1, func(string) error { <-release; return nil }, Hooks{})
	defer func() { close(release); _ = a.Close() }()
	deadline := time.Now().Add(time.Second)
	for {
		if err := a.Send("x"); errors.Is(err, ErrOverflow) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected ErrOverflow")
		}
	}
}

func TestAsyncSenderReportsFirstError(t *testing.T) {
	var errs atomic.Int64
	a := NewAsyncSender(context.Background(), 4, func(string) error { return errSendFail }, Hooks{OnError: func(error) { errs.Add(1) }})
	_ = a.Send("a")
	_ = a.Send("b")
	if err := a.Close(); !errors.Is(err, errSendFail) {
		t.Fatalf("expected send failure, got %v", err)
	}
	if errs.Load() != 2 || a.Failed() != 2 {
		t.Fatalf("expected 2 failures, got hook=%d failed=%d", errs.Load(), a.Failed())
	}
}

func TestAsyncSenderSendAfterClose(t *testing.T) {
	a := NewAsyncSender(context.Background(), 2, func(string) error { return nil }, Hooks{})
	_ = a.Close()
	if err := a.Send("late"); !errors.Is(err, ErrAsyncClosed) {
		t.Fatalf("expected ErrAsyncClosed, got %v", err)
	}
	_ = a.Close()
}

func TestAsyncSenderCloseConcurrentSend(t *testing.T) {
	for i := 0; i < 100; i++ {
		a := NewAsyncSender(context.Background(), 1, func(string) error { return nil }, Hooks{})
		done := make(chan error, 1)
		go func() { done <- a.Send("x") }()
		time.Sleep(time.Millisecond)
		_ = a.Close()
		if err := <-done; err != nil && !errors.Is(err, ErrAsyncClosed) && !errors.Is(err, ErrOverflow) {
			t.Fatalf("iteration %d: unexpected send error %v", i, err)
		}
	}
}
