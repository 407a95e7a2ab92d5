package clock_test

import (
	"testing"
	"time"

	"github.com/xraph/approvals/clock"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestFake_TimerFiresOnAdvance(t *testing.T) {
	c := clock.NewFake(epoch)
	timer := c.NewTimer(5 * time.Minute)

	c.Advance(4 * time.Minute)
	select {
	case <-timer.C():
		t.Fatal("timer fired before its deadline")
	default:
	}

	c.Advance(time.Minute)
	select {
	case got := <-timer.C():
		if !got.Equal(epoch.Add(5 * time.Minute)) {
			t.Errorf("fired at %v, want %v", got, epoch.Add(5*time.Minute))
		}
	default:
		t.Fatal("timer did not fire at its deadline")
	}
}

func TestFake_StopIsIdempotent(t *testing.T) {
	c := clock.NewFake(epoch)
	timer := c.NewTimer(time.Minute)

	if !timer.Stop() {
		t.Error("first Stop = false, want true")
	}
	if timer.Stop() {
		t.Error("second Stop = true, want false")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", c.Pending())
	}
}

func TestFake_StopAfterFire(t *testing.T) {
	c := clock.NewFake(epoch)
	timer := c.NewTimer(time.Minute)
	c.Advance(2 * time.Minute)

	if timer.Stop() {
		t.Error("Stop after fire = true, want false")
	}
}

func TestFake_NonPositiveFiresImmediately(t *testing.T) {
	c := clock.NewFake(epoch)
	timer := c.NewTimer(-time.Second)

	select {
	case <-timer.C():
	default:
		t.Fatal("expected immediate fire for a past deadline")
	}
}

func TestFake_WaitForTimers(t *testing.T) {
	c := clock.NewFake(epoch)
	done := make(chan struct{})

	go func() {
		c.WaitForTimers(1)
		close(done)
	}()

	c.NewTimer(time.Minute)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForTimers did not return")
	}
}

func TestReal_Now(t *testing.T) {
	if (clock.Real{}).Now().Location() != time.UTC {
		t.Error("Real.Now should be UTC")
	}
}
