package roam_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/hostnetstate/kernelnet/roam"
)

func TestFireWithinWindowCallsListenerOnce(t *testing.T) {
	var calls int32
	d := roam.New(func(bool) { atomic.AddInt32(&calls, 1) })

	for i := 0; i < 5; i++ {
		d.Fire(i%2 == 0)
	}

	time.Sleep(roam.RoamDelay + 50*time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("listener called %d times within one window, want 1", got)
	}
}

func TestFireAcrossWindowsCallsListenerEachTime(t *testing.T) {
	var calls int32
	d := roam.New(func(bool) { atomic.AddInt32(&calls, 1) })

	for i := 0; i < 3; i++ {
		d.Fire(true)
		time.Sleep(roam.RoamDelay + 20*time.Millisecond)
	}

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("listener called %d times across 3 windows, want 3", got)
	}
}

func TestFireDeliversFirstCallsBoolean(t *testing.T) {
	results := make(chan bool, 1)
	d := roam.New(func(changed bool) { results <- changed })

	d.Fire(true)
	d.Fire(false) // lands inside the same window, must not overwrite the boolean

	select {
	case got := <-results:
		if !got {
			t.Fatalf("listener received false, want true (the first call's argument)")
		}
	case <-time.After(roam.RoamDelay + 100*time.Millisecond):
		t.Fatalf("listener was never called")
	}
}
