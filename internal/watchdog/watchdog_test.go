package watchdog

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExiter struct {
	code int32
	hit  chan struct{}
}

func newFakeExiter() *fakeExiter {
	return &fakeExiter{hit: make(chan struct{}, 1)}
}

func (f *fakeExiter) Exit(code int) {
	atomic.StoreInt32(&f.code, int32(code))
	f.hit <- struct{}{}
}

func TestWatchdog_ExpiresWithoutReset(t *testing.T) {
	exiter := newFakeExiter()
	w := newWithExiter(5*time.Millisecond, zap.NewNop(), exiter)

	stop := make(chan struct{})
	defer close(stop)
	go w.Run(stop)

	select {
	case <-exiter.hit:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not expire")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&exiter.code))
}

func TestWatchdog_ResetPreventsExpiry(t *testing.T) {
	exiter := newFakeExiter()
	w := newWithExiter(10*time.Millisecond, zap.NewNop(), exiter)

	stop := make(chan struct{})
	go w.Run(stop)

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		w.Reset()
		time.Sleep(2 * time.Millisecond)
	}
	close(stop)

	select {
	case <-exiter.hit:
		t.Fatal("watchdog expired despite resets")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestWatchdog_ResetIsNonBlockingWhenFull(t *testing.T) {
	w := New(time.Second, zap.NewNop())
	w.Reset()
	require.NotPanics(t, func() { w.Reset() })
}
