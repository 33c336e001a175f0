package media

import (
	"sync/atomic"
	"time"
)

// SyncClock publishes the master (audio) stream position in milliseconds.
// One writer sets it; any number of readers may poll it without locking.
// Readers must tolerate a brief skew window: the clock is advisory.
//
// A session creates one SyncClock and hands it to every component that
// needs lip-sync.
type SyncClock struct {
	ms atomic.Int64
}

// NewSyncClock returns a clock at zero.
func NewSyncClock() *SyncClock { return &SyncClock{} }

// Set publishes the current master position. Last write wins.
func (c *SyncClock) Set(ms int64) { c.ms.Store(ms) }

// Get returns the last published position.
func (c *SyncClock) Get() int64 { return c.ms.Load() }

// Reset sets the clock back to zero, e.g. on stream restart.
func (c *SyncClock) Reset() { c.ms.Store(0) }

// SetDuration publishes d truncated to milliseconds.
func (c *SyncClock) SetDuration(d time.Duration) { c.ms.Store(d.Milliseconds()) }

// Time returns the position as a time.Duration.
func (c *SyncClock) Time() time.Duration {
	return time.Duration(c.ms.Load()) * time.Millisecond
}

// SetPts publishes a timestamp expressed in tb ticks. NoPts is ignored.
func (c *SyncClock) SetPts(pts int64, tb Timebase) {
	if pts == NoPts {
		return
	}
	c.ms.Store(Rescale(pts, tb, TimebaseMillis))
}
