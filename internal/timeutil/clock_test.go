package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	now := c.Now()
	if now.Before(before) {
		t.Errorf("Now() = %v, before %v", now, before)
	}
	if c.Since(before) < 0 {
		t.Error("Since() is negative")
	}
}

func TestMockClockFrozen(t *testing.T) {
	start := time.Date(2020, 8, 28, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	if !c.Now().Equal(start) || !c.Now().Equal(start) {
		t.Error("frozen clock moved")
	}
	c.Advance(90 * time.Second)
	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}
	later := start.Add(time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", c.Now(), later)
	}
}

func TestTickingClock(t *testing.T) {
	start := time.Date(2020, 8, 28, 0, 0, 0, 0, time.UTC)
	c := NewTickingClock(start, time.Second)
	a := c.Now()
	b := c.Now()
	if got := b.Sub(a); got != time.Second {
		t.Errorf("consecutive reads %v apart, want 1s", got)
	}
	// a, b consumed two ticks; Since reads without advancing.
	if got := c.Since(a); got != 2*time.Second {
		t.Errorf("Since() = %v, want 2s", got)
	}
	if got := c.Since(a); got != 2*time.Second {
		t.Errorf("Since() advanced the clock: %v", got)
	}
}
