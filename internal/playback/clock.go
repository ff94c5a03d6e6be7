package playback

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// AudioClock is the audio master clock in seconds. It is written only by the
// audio callback and read from any goroutine. While playing it never moves
// backwards; Reset is the only way to lower it.
type AudioClock struct {
	bits atomic.Uint64
}

// Load returns the clock in seconds.
func (c *AudioClock) Load() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Advance moves the clock to t if t is later than the current value.
func (c *AudioClock) Advance(t float64) {
	for {
		old := c.bits.Load()
		if t <= math.Float64frombits(old) {
			return
		}
		if c.bits.CompareAndSwap(old, math.Float64bits(t)) {
			return
		}
	}
}

// Reset sets the clock to zero.
func (c *AudioClock) Reset() {
	c.bits.Store(0)
}

// WallClock measures playback time from a steady timer. It runs only
// between Start and Pause.
type WallClock struct {
	mu      sync.Mutex
	now     func() time.Time
	running bool
	since   time.Time
	base    float64
}

// NewWallClock creates a stopped clock at zero. now defaults to time.Now.
func NewWallClock(now func() time.Time) *WallClock {
	if now == nil {
		now = time.Now
	}
	return &WallClock{now: now}
}

// Start resumes the clock. Starting a running clock is a no-op.
func (w *WallClock) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.since = w.now()
}

// Pause freezes the clock at its current value.
func (w *WallClock) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.base += w.now().Sub(w.since).Seconds()
	w.running = false
}

// Set moves the clock to t without changing whether it runs.
func (w *WallClock) Set(t float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.base = t
	w.since = w.now()
}

// Reset stops the clock and sets it to zero.
func (w *WallClock) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.base = 0
	w.running = false
}

// Seconds returns the elapsed playing time.
func (w *WallClock) Seconds() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return w.base
	}
	return w.base + w.now().Sub(w.since).Seconds()
}

// Running reports whether the clock is advancing.
func (w *WallClock) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// atomicFloat is a float64 readable from any goroutine.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *atomicFloat) Store(v float64) {
	f.bits.Store(math.Float64bits(v))
}
