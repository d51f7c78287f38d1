// Package vardiff retargets per-session difficulty so each miner submits
// shares at a steady rate regardless of its hashrate.
package vardiff

import (
	"time"
)

// Config holds one port's retargeting policy.
type Config struct {
	MinDiff         uint64
	MaxDiff         uint64
	TargetTime      time.Duration // desired time between shares
	Variance        float64       // tolerated rate deviation, e.g. 0.3
	WindowSize      int           // share timestamps retained
	RetargetMinimum time.Duration // minimum window span before retargeting
}

// Window is the sliding window of accepted-share timestamps for one session.
type Window struct {
	timestamps []time.Time
}

// Record appends a share timestamp, evicting the oldest beyond size.
func (w *Window) Record(now time.Time, size int) {
	w.timestamps = append(w.timestamps, now)
	if size > 0 && len(w.timestamps) > size {
		w.timestamps = w.timestamps[len(w.timestamps)-size:]
	}
}

// Len returns the number of retained timestamps.
func (w *Window) Len() int {
	return len(w.timestamps)
}

// Reset clears the window, typically after a retarget is applied.
func (w *Window) Reset() {
	w.timestamps = w.timestamps[:0]
}

// Controller computes difficulty retargets from share arrival rates.
type Controller struct {
	cfg Config
}

// NewController creates a vardiff controller for one port policy.
func NewController(cfg Config) *Controller {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 50
	}
	return &Controller{cfg: cfg}
}

// Config returns the controller's policy.
func (c *Controller) Config() Config {
	return c.cfg
}

// Clamp bounds a difficulty to the port's range.
func (c *Controller) Clamp(diff uint64) uint64 {
	if diff < c.cfg.MinDiff {
		return c.cfg.MinDiff
	}
	if c.cfg.MaxDiff > 0 && diff > c.cfg.MaxDiff {
		return c.cfg.MaxDiff
	}
	return diff
}

// Retarget evaluates the window after an accepted share. It returns the new
// difficulty and true when the observed rate deviates from the target by
// more than the variance; the window resets when a retarget fires.
func (c *Controller) Retarget(w *Window, now time.Time, current uint64) (uint64, bool) {
	if len(w.timestamps) == 0 || current == 0 {
		return current, false
	}

	span := now.Sub(w.timestamps[0])
	if span < c.cfg.RetargetMinimum || span <= 0 {
		return current, false
	}

	actualRate := float64(len(w.timestamps)) / span.Seconds()
	targetRate := 1 / c.cfg.TargetTime.Seconds()

	ratio := actualRate / targetRate
	if diff := ratio - 1; diff < c.cfg.Variance && diff > -c.cfg.Variance {
		return current, false
	}

	next := c.Clamp(uint64(float64(current) * ratio))
	if next == current || next == 0 {
		return current, false
	}

	w.Reset()
	return next, true
}
