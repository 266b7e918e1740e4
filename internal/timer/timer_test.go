package timer

import (
	"context"
	"testing"
	"time"
)

func fixed(v float64) func() float64 {
	return func() float64 { return v }
}

func TestDelayRange(t *testing.T) {
	base := 100 * time.Millisecond

	if d := New(base, Options{Rand: fixed(0)}).Delay(); d != base {
		t.Errorf("Expected %v, got %v", base, d)
	}
	if d := New(base, Options{Rand: fixed(0.5)}).Delay(); d != 125*time.Millisecond {
		t.Errorf("Expected 125ms, got %v", d)
	}
	if d := New(base, Options{Simple: true, Rand: fixed(0)}).Delay(); d != 0 {
		t.Errorf("Expected 0, got %v", d)
	}
	if d := New(base, Options{Simple: true, Rand: fixed(0.5)}).Delay(); d != 75*time.Millisecond {
		t.Errorf("Expected 75ms, got %v", d)
	}

	tm := New(base, Options{})
	for range 100 {
		d := tm.Delay()
		if d < base || d >= base+base/2 {
			t.Fatalf("Delay %v out of range", d)
		}
	}
}

func TestWaitFires(t *testing.T) {
	tm := New(5*time.Millisecond, Options{})
	defer tm.Destroy()

	select {
	case ok := <-tm.Wait():
		if !ok {
			t.Error("Expected wait to fire")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for timer")
	}
}

func TestWaitIsReentrant(t *testing.T) {
	tm := New(time.Hour, Options{})
	defer tm.Destroy()

	first := tm.Wait()
	second := tm.Wait()

	select {
	case ok := <-first:
		if ok {
			t.Error("Expected superseded wait to resolve false")
		}
	case <-time.After(time.Second):
		t.Fatal("Superseded wait did not resolve")
	}

	select {
	case <-second:
		t.Fatal("Expected second wait to still be armed")
	default:
	}
}

func TestDestroy(t *testing.T) {
	tm := New(time.Hour, Options{})
	w := tm.Wait()

	tm.Destroy()
	tm.Destroy()

	if ok := <-w; ok {
		t.Error("Expected destroyed wait to resolve false")
	}
	if ok := <-tm.Wait(); ok {
		t.Error("Expected wait after destroy to resolve false")
	}
}

func TestSleepContext(t *testing.T) {
	tm := New(time.Hour, Options{})
	defer tm.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if tm.Sleep(ctx) {
		t.Error("Expected sleep to be cut short by context")
	}
}
