package metrics

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapMirrorsCounters(t *testing.T) {
	before := Snap()
	IncSent()
	IncSent()
	IncReceived()
	IncFlood()
	IncScenario(ResultPass)
	IncScenario(ResultFail)
	IncScenario(ResultFixture)
	IncScenario("bogus")
	IncError(ErrTimeout)
	AddRefOut(3)
	AddRefOut(0)
	AddRefOut(-2)
	IncRefIn()
	after := Snap()

	assert.Equal(t, uint64(2), after.Sent-before.Sent)
	assert.Equal(t, uint64(1), after.Received-before.Received)
	assert.Equal(t, uint64(1), after.Flood-before.Flood)
	assert.Equal(t, uint64(1), after.Pass-before.Pass)
	assert.Equal(t, uint64(1), after.Fail-before.Fail)
	assert.Equal(t, uint64(1), after.Fixture-before.Fixture)
	assert.Equal(t, uint64(1), after.Errors-before.Errors)
	assert.Equal(t, uint64(3), after.RefOut-before.RefOut)
	assert.Equal(t, uint64(1), after.RefIn-before.RefIn)
}

func TestSessionGauge(t *testing.T) {
	before := Snap().Sessions
	SessionOpened()
	SessionOpened()
	SessionClosed()
	assert.Equal(t, before+1, Snap().Sessions)
	SessionClosed()
	assert.Equal(t, before, Snap().Sessions)
}

func TestReadiness(t *testing.T) {
	t.Cleanup(func() { SetReadinessFunc(nil) })
	SetReadinessFunc(nil)
	assert.True(t, IsReady(), "unset readiness counts as ready")
	ready := false
	SetReadinessFunc(func() bool { return ready })
	assert.False(t, IsReady())
	ready = true
	assert.True(t, IsReady())
}

func TestLogSnapshot(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	LogSnapshot(l)
	out := buf.String()
	require.Contains(t, out, "msg=metrics_snapshot")
	for _, key := range []string{"lines_sent=", "flood=", "pass=", "hub_drops=", "errors="} {
		assert.Contains(t, out, key)
	}
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestStartLogger(t *testing.T) {
	var buf syncBuffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	StartLogger(ctx, 5*time.Millisecond, l, &wg)
	require.Eventually(t, func() bool {
		return strings.Count(buf.String(), "metrics_snapshot") >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()
}

func TestStartLoggerDisabled(t *testing.T) {
	var wg sync.WaitGroup
	StartLogger(context.Background(), 0, slog.Default(), &wg)
	wg.Wait()
}
