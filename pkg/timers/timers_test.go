package timers

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleFires(t *testing.T) {
	s := NewSet()
	defer s.Stop()

	done := make(chan struct{})
	s.Schedule("a", 10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("action never fired")
	}
	assert.False(t, s.Pending("a"))
}

func TestRescheduleSupersedes(t *testing.T) {
	s := NewSet()
	defer s.Stop()

	var first, second atomic.Int32
	s.Schedule("k", 20*time.Millisecond, func() { first.Add(1) })
	s.Schedule("k", 20*time.Millisecond, func() { second.Add(1) })

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load(), "superseded action must not fire")
	assert.Equal(t, int32(1), second.Load())
}

func TestCancel(t *testing.T) {
	s := NewSet()
	defer s.Stop()

	var fired atomic.Int32
	s.Schedule("k", 20*time.Millisecond, func() { fired.Add(1) })
	s.Cancel("k")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, s.Pending("k"))
}

func TestIndependentKeys(t *testing.T) {
	s := NewSet()
	defer s.Stop()

	var a, b atomic.Int32
	s.Schedule("a", 10*time.Millisecond, func() { a.Add(1) })
	s.Schedule("b", 10*time.Millisecond, func() { b.Add(1) })
	s.Cancel("a")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), a.Load())
	assert.Equal(t, int32(1), b.Load())
}
