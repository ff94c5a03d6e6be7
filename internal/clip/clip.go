// Package clip synthesizes short test clips: an AVI with an MJPEG test
// pattern and a PCM tone, or an MPEG-TS with an HDMV LPCM tone.
package clip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zsiec/cadence/internal/avi"
	"github.com/zsiec/cadence/internal/codec"
	"github.com/zsiec/cadence/internal/mpegts"
)

// Options describe the generated clip. Zero fields take DefaultOptions.
type Options struct {
	Duration   time.Duration
	FPS        int
	Width      int
	Height     int
	SampleRate int
	Channels   int
	// Tone is the sine frequency in Hz.
	Tone float64
	// NoVideo writes an audio-only AVI.
	NoVideo bool
}

// DefaultOptions is a five second 320x180 clip at 30fps with a 440Hz tone.
func DefaultOptions() Options {
	return Options{
		Duration:   5 * time.Second,
		FPS:        30,
		Width:      320,
		Height:     180,
		SampleRate: 48000,
		Channels:   2,
		Tone:       440,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.Duration <= 0 {
		o.Duration = d.Duration
	}
	if o.FPS <= 0 {
		o.FPS = d.FPS
	}
	if o.Width <= 0 {
		o.Width = d.Width
	}
	if o.Height <= 0 {
		o.Height = d.Height
	}
	if o.SampleRate <= 0 {
		o.SampleRate = d.SampleRate
	}
	if o.Channels <= 0 {
		o.Channels = d.Channels
	}
	if o.Tone <= 0 {
		o.Tone = d.Tone
	}
}

// frames returns the number of video frames covering the duration.
func (o Options) frames() int {
	return int(math.Ceil(o.Duration.Seconds() * float64(o.FPS)))
}

// WriteFile writes a clip to path, choosing the container by extension
// (.avi, .ts or .m2ts).
func WriteFile(path string, opts Options) error {
	var write func(io.Writer, Options) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".avi":
		write = WriteAVI
	case ".ts", ".m2ts":
		write = WriteTS
	default:
		return fmt.Errorf("clip: unsupported extension %q (want .avi or .ts)", filepath.Ext(path))
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("clip: %w", err)
	}
	if err := write(f, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteAVI writes an MJPEG + 16-bit PCM AVI. Each video frame is followed
// by the audio covering the same interval.
func WriteAVI(w io.Writer, opts Options) error {
	opts.applyDefaults()
	aw := avi.NewWriter()
	v := -1
	if !opts.NoVideo {
		v = aw.AddVideo("MJPG", opts.Width, opts.Height, 24, 1, uint32(opts.FPS))
	}
	a := aw.AddAudio(avi.WaveFormatPCM, opts.Channels, opts.SampleRate, 16)

	tone := newSine(opts.Tone, opts.SampleRate, opts.Channels)
	var jbuf bytes.Buffer
	written := 0
	for i := range opts.frames() {
		if v >= 0 {
			jbuf.Reset()
			if err := jpeg.Encode(&jbuf, Pattern(opts.Width, opts.Height, i), &jpeg.Options{Quality: 80}); err != nil {
				return fmt.Errorf("clip: encode frame %d: %w", i, err)
			}
			if err := aw.WriteChunk(v, jbuf.Bytes(), true); err != nil {
				return err
			}
		}
		end := (i + 1) * opts.SampleRate / opts.FPS
		if err := aw.WriteChunk(a, tone.next(end-written, binary.LittleEndian), true); err != nil {
			return err
		}
		written = end
	}
	if _, err := aw.WriteTo(w); err != nil {
		return fmt.Errorf("clip: %w", err)
	}
	return nil
}

// HDMV LPCM carriage.
const (
	lpcmPID        uint16 = 0x1100
	lpcmStreamID   uint8  = 0xBD
	lpcmFrameDur          = 20 * time.Millisecond
	tablesEvery           = 10
	ticksPerSecond        = 90000
)

// WriteTS writes a single-program transport stream carrying a 16-bit HDMV
// LPCM tone in 20ms PES units. Only 48, 96 and 192kHz with one or two
// channels are representable.
func WriteTS(w io.Writer, opts Options) error {
	opts.applyDefaults()
	if opts.Channels > 2 {
		return errors.New("clip: HDMV LPCM output supports at most two channels")
	}
	mux := mpegts.NewMuxer(w, mpegts.MuxerStream{
		PID:         lpcmPID,
		StreamType:  mpegts.StreamTypeHDMVLPCM,
		StreamID:    lpcmStreamID,
		Descriptors: []mpegts.Descriptor{{Tag: mpegts.DescriptorRegistration, Data: []byte("HDMV")}},
	})

	perUnit := int(int64(opts.SampleRate) * int64(lpcmFrameDur) / int64(time.Second))
	units := int(math.Ceil(float64(opts.Duration) / float64(lpcmFrameDur)))
	tone := newSine(opts.Tone, opts.SampleRate, opts.Channels)
	for i := range units {
		if i%tablesEvery == 0 {
			if err := mux.WriteTables(); err != nil {
				return err
			}
		}
		samples := tone.next(perUnit, binary.BigEndian)
		payload := make([]byte, codec.BlurayHeaderSize+len(samples))
		if err := codec.PutBlurayHeader(payload, codec.BlurayHeader{
			Size:          len(samples),
			Channels:      opts.Channels,
			SampleRate:    opts.SampleRate,
			BitsPerSample: 16,
		}); err != nil {
			return fmt.Errorf("clip: %w", err)
		}
		copy(payload[codec.BlurayHeaderSize:], samples)
		pts := int64(i) * ticksPerSecond * int64(lpcmFrameDur) / int64(time.Second)
		if err := mux.WritePES(lpcmPID, pts, payload); err != nil {
			return err
		}
	}
	return nil
}

// sine generates a continuous 16-bit tone across calls.
type sine struct {
	step     float64
	phase    float64
	channels int
}

func newSine(freq float64, rate, channels int) *sine {
	return &sine{step: 2 * math.Pi * freq / float64(rate), channels: channels}
}

func (s *sine) next(frames int, order binary.ByteOrder) []byte {
	out := make([]byte, frames*s.channels*2)
	for i := range frames {
		v := int16(math.Sin(s.phase) * 0.25 * math.MaxInt16)
		for c := range s.channels {
			order.PutUint16(out[(i*s.channels+c)*2:], uint16(v))
		}
		s.phase += s.step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	return out
}

var bars = []color.RGBA{
	{0xc0, 0xc0, 0xc0, 0xff},
	{0xc0, 0xc0, 0x00, 0xff},
	{0x00, 0xc0, 0xc0, 0xff},
	{0x00, 0xc0, 0x00, 0xff},
	{0xc0, 0x00, 0xc0, 0xff},
	{0xc0, 0x00, 0x00, 0xff},
	{0x00, 0x00, 0xc0, 0xff},
}

// Pattern draws colour bars with a white square that moves one step per
// frame, so consecutive frames are distinguishable.
func Pattern(width, height, frame int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		c := bars[x*len(bars)/width]
		for y := range height {
			img.SetRGBA(x, y, c)
		}
	}
	size := max(height/6, 2)
	span := max(width-size, 1)
	x0 := (frame * 4) % span
	y0 := height/2 - size/2
	for y := y0; y < y0+size && y < height; y++ {
		for x := x0; x < x0+size; x++ {
			img.SetRGBA(x, y, color.RGBA{0xff, 0xff, 0xff, 0xff})
		}
	}
	return img
}
