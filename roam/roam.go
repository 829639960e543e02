// Package roam coalesces repeated topology-change signals (address and
// link events) into at most one outbound roaming notification per
// window, so the IKE layer isn't flooded by a burst of kernel events
// describing the same underlying change.
package roam

import (
	"strconv"
	"sync"
	"time"

	"github.com/hostnetstate/kernelnet/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// RoamDelay is the debounce window: at most one listener call is
// scheduled per RoamDelay, regardless of how many Fire calls land inside
// it.
const RoamDelay = 100 * time.Millisecond

// Listener is called, at most once per RoamDelay window, with whichever
// Fire call's argument scheduled the live job.
type Listener func(addressChanged bool)

// Debouncer implements the roaming debounce policy described above.
type Debouncer struct {
	listener Listener
	delay    time.Duration

	mu       sync.Mutex
	lastRoam time.Time
}

// New returns a Debouncer that calls listener for each window that
// produces at least one Fire, using the default RoamDelay window.
func New(listener Listener) *Debouncer {
	return NewWithDelay(listener, RoamDelay)
}

// NewWithDelay returns a Debouncer using a caller-supplied debounce
// window instead of the default RoamDelay, for callers that expose it
// as configuration (kernelnet.Config.RoamDelay).
func NewWithDelay(listener Listener, delay time.Duration) *Debouncer {
	return &Debouncer{listener: listener, delay: delay}
}

// Fire requests a roaming notification. If the current time is strictly
// after the previously scheduled window's end, a new job is scheduled
// one delay from now and the window is extended; a call landing inside
// an already-scheduled window is a no-op and does not change which
// boolean the pending job will deliver.
func (d *Debouncer) Fire(addressChanged bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if !now.After(d.lastRoam) {
		metrics.RoamSuppressedCount.Inc()
		return
	}
	d.lastRoam = now.Add(d.delay)
	time.AfterFunc(d.delay, func() {
		metrics.RoamEventCount.With(prometheus.Labels{"address_changed": strconv.FormatBool(addressChanged)}).Inc()
		d.listener(addressChanged)
	})
}
