package utils

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestWatchdogFiresAfterTimeout(t *testing.T) {
	mock := clock.NewMock()
	fired := make(chan struct{}, 1)
	w := NewWatchdog(mock)
	w.Start(context.Background(), time.Second, func() { fired <- struct{}{} })

	mock.Add(500 * time.Millisecond)
	w.Reset()
	mock.Add(700 * time.Millisecond)
	select {
	case <-fired:
		t.Fatal("watchdog fired although it was reset")
	default:
	}

	mock.Add(400 * time.Millisecond)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}
	assert.True(t, w.Fired())
}

func TestWatchdogCancel(t *testing.T) {
	mock := clock.NewMock()
	fired := make(chan struct{}, 1)
	w := NewWatchdog(mock)
	w.Start(context.Background(), time.Second, func() { fired <- struct{}{} })
	w.Cancel()
	w.Cancel()
	mock.Add(2 * time.Second)
	select {
	case <-fired:
		t.Fatal("cancelled watchdog fired")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, w.Fired())
}

func TestStatusManagerCompareAndSet(t *testing.T) {
	s := NewStatusManager()
	assert.True(t, s.Is(Init))
	assert.True(t, s.CompareAndSet(Serving, Init))
	assert.False(t, s.CompareAndSet(Serving, Init))
	assert.True(t, s.CompareAndSet(TearingDown, Init, Serving))
	assert.Equal(t, TearingDown, s.Get())
}
