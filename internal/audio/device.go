// Package audio is the audio output boundary. A Device pulls PCM from a
// Filler on its own real-time goroutine; the playback session is the Filler.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/cadence/internal/media"
)

// Filler produces interleaved PCM in the format the device was opened with.
// Fill must not block and must return len(buf) (padding with silence when
// it has nothing to play).
type Filler interface {
	Fill(buf []byte) int
}

// Device is an audio output. Open negotiates the output format and
// registers the Filler; Start and Stop control the callback; Stop returns
// only after any in-flight Fill call has finished.
type Device interface {
	Open(want media.AudioFormat, f Filler) (media.AudioFormat, error)
	Start() error
	Stop() error
	Close() error
}

// PumpConfig configures a Pump.
type PumpConfig struct {
	// Period is the callback interval (default 20ms).
	Period time.Duration
	// Sink receives every pulled buffer, e.g. a WAVWriter. Optional.
	Sink io.Writer
	Log  *slog.Logger
}

// Pump is a software audio device: it calls Fill at real-time cadence from
// its own goroutine and hands the PCM to an optional sink. It stands in for
// a hardware backend in headless playback and tests.
type Pump struct {
	cfg PumpConfig
	log *slog.Logger

	mu     sync.Mutex
	filler Filler
	format media.AudioFormat
	cancel context.CancelFunc
	wg     sync.WaitGroup

	frames    atomic.Int64
	callbacks atomic.Int64
}

// NewPump creates a Pump.
func NewPump(cfg PumpConfig) *Pump {
	if cfg.Period <= 0 {
		cfg.Period = 20 * time.Millisecond
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Pump{cfg: cfg, log: cfg.Log.With("component", "audio-pump")}
}

// Open accepts any valid format as-is.
func (p *Pump) Open(want media.AudioFormat, f Filler) (media.AudioFormat, error) {
	if !want.Valid() {
		return media.AudioFormat{}, fmt.Errorf("audio: invalid format %s", want)
	}
	if f == nil {
		return media.AudioFormat{}, errors.New("audio: nil filler")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filler != nil {
		return media.AudioFormat{}, errors.New("audio: device already open")
	}
	p.filler = f
	p.format = want
	p.log.Debug("opened", "format", want.String(), "period", p.cfg.Period)
	return want, nil
}

// Start begins pulling. Starting a running pump is a no-op.
func (p *Pump) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filler == nil {
		return errors.New("audio: device not open")
	}
	if p.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx, p.filler, p.format)
	return nil
}

// Stop halts pulling and waits for the callback goroutine to exit.
func (p *Pump) Stop() error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return nil
}

// Close stops the pump and releases the filler.
func (p *Pump) Close() error {
	if err := p.Stop(); err != nil {
		return err
	}
	p.mu.Lock()
	p.filler = nil
	p.mu.Unlock()
	return nil
}

// Frames returns the number of sample frames pulled so far.
func (p *Pump) Frames() int64 {
	return p.frames.Load()
}

// Callbacks returns the number of Fill calls made so far.
func (p *Pump) Callbacks() int64 {
	return p.callbacks.Load()
}

func (p *Pump) run(ctx context.Context, f Filler, format media.AudioFormat) {
	defer p.wg.Done()

	bpf := format.BytesPerFrame()
	periodFrames := int(int64(format.SampleRate) * int64(p.cfg.Period) / int64(time.Second))
	periodFrames = max(periodFrames, 1)
	buf := make([]byte, periodFrames*bpf)

	ticker := time.NewTicker(p.cfg.Period)
	defer ticker.Stop()
	start := time.Now()
	var pulled int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// Pull whatever is due so ticker jitter does not drift the rate.
		due := int64(time.Since(start).Seconds()*float64(format.SampleRate)) - pulled
		for due > 0 && ctx.Err() == nil {
			n := min(int(due), periodFrames)
			chunk := buf[:n*bpf]
			f.Fill(chunk)
			p.callbacks.Add(1)
			p.frames.Add(int64(n))
			pulled += int64(n)
			due -= int64(n)
			if p.cfg.Sink != nil {
				if _, err := p.cfg.Sink.Write(chunk); err != nil {
					p.log.Warn("sink write failed", "error", err)
				}
			}
		}
	}
}
