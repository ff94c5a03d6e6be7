// Package convert rewrites decoded units into the fixed output formats a
// playback session chooses at open time: interleaved PCM in the device's
// format and RGBA8 pictures.
package convert

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zsiec/cadence/internal/media"
)

// Resampler converts audio chunks to a fixed output format. It remaps
// channels (duplicate up, average down) and changes the sample rate by
// linear interpolation, carrying the interpolation phase and the last input
// frame across chunks so consecutive chunks join without clicks.
type Resampler struct {
	out media.AudioFormat
	in  media.AudioFormat

	pos     float64
	last    []float32
	hasLast bool

	work []float32
}

// NewResampler creates a Resampler producing out.
func NewResampler(out media.AudioFormat) (*Resampler, error) {
	if !out.Valid() {
		return nil, fmt.Errorf("convert: invalid output format %s", out)
	}
	return &Resampler{out: out}, nil
}

// Output returns the output format.
func (r *Resampler) Output() media.AudioFormat {
	return r.out
}

// Reset discards carried state. Call it when the input stream restarts.
func (r *Resampler) Reset() {
	r.pos = 0
	r.hasLast = false
	r.in = media.AudioFormat{}
}

// Convert returns c in the output format. A chunk already in the output
// format is returned unchanged. The result may hold zero frames when the
// rate ratio consumes the whole chunk into carried state.
func (r *Resampler) Convert(c *media.AudioChunk) (*media.AudioChunk, error) {
	if c.Format == r.out {
		return c, nil
	}
	if !c.Format.Valid() {
		return nil, fmt.Errorf("convert: invalid input format %s", c.Format)
	}
	if c.Format != r.in {
		r.Reset()
		r.in = c.Format
	}

	n := c.Frames()
	outCh := r.out.Channels
	frames := r.remap(c, n)

	if r.in.SampleRate != r.out.SampleRate {
		frames = r.rate(frames, n)
	}

	data := make([]byte, len(frames)/outCh*r.out.BytesPerFrame())
	encode(data, frames, r.out.Sample)
	return &media.AudioChunk{Format: r.out, Data: data, PTS: c.PTS, HasPTS: c.HasPTS}, nil
}

// remap decodes c into float frames with the output channel count.
func (r *Resampler) remap(c *media.AudioChunk, n int) []float32 {
	inCh, outCh := c.Format.Channels, r.out.Channels
	if cap(r.work) < n*inCh {
		r.work = make([]float32, n*inCh)
	}
	src := r.work[:n*inCh]
	decode(src, c.Data, c.Format.Sample)
	if inCh == outCh {
		return append([]float32(nil), src...)
	}

	dst := make([]float32, n*outCh)
	for f := 0; f < n; f++ {
		in := src[f*inCh : (f+1)*inCh]
		out := dst[f*outCh : (f+1)*outCh]
		switch {
		case inCh < outCh:
			for o := range out {
				out[o] = in[o%inCh]
			}
		default:
			for o := range out {
				var sum float32
				var cnt int
				for i := o; i < inCh; i += outCh {
					sum += in[i]
					cnt++
				}
				out[o] = sum / float32(cnt)
			}
		}
	}
	return dst
}

// rate converts n frames of src (already remapped) to the output rate.
func (r *Resampler) rate(src []float32, n int) []float32 {
	ch := r.out.Channels
	step := float64(r.in.SampleRate) / float64(r.out.SampleRate)
	if !r.hasLast {
		r.pos = 0
	}
	at := func(i int) []float32 {
		if i < 0 {
			return r.last
		}
		return src[i*ch : (i+1)*ch]
	}

	est := int(float64(n)/step) + 2
	dst := make([]float32, 0, est*ch)
	pos := r.pos
	for n > 0 && pos <= float64(n-1) {
		i := int(math.Floor(pos))
		frac := float32(pos - float64(i))
		a, b := at(i), at(min(i+1, n-1))
		for c := 0; c < ch; c++ {
			dst = append(dst, a[c]+(b[c]-a[c])*frac)
		}
		pos += step
	}
	if n > 0 {
		r.pos = pos - float64(n)
		r.last = append(r.last[:0], src[(n-1)*ch:n*ch]...)
		r.hasLast = true
	}
	return dst
}

func decode(dst []float32, data []byte, s media.SampleFormat) {
	switch s {
	case media.SampleS16:
		for i := range dst {
			dst[i] = float32(int16(binary.LittleEndian.Uint16(data[2*i:]))) / 32768
		}
	case media.SampleF32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
	}
}

func encode(dst []byte, src []float32, s media.SampleFormat) {
	switch s {
	case media.SampleS16:
		for i, v := range src {
			x := math.Round(float64(v) * 32768)
			x = max(-32768, min(32767, x))
			binary.LittleEndian.PutUint16(dst[2*i:], uint16(int16(x)))
		}
	case media.SampleF32:
		for i, v := range src {
			binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
		}
	}
}
