// Package media defines the data units that flow through the playback
// engine: compressed packets from the container, decoded audio chunks and
// RGBA video frames, plus the stream descriptors that describe them.
package media

import "fmt"

// Queue sizing shared by the demuxer (producer) and the decode paths
// (consumers). The packet high-water mark bounds memory when a consumer is
// slow; the presentation queue holds roughly a third of a second at 30fps.
const (
	PacketHighWaterMark   = 100
	PresentationQueueSize = 10
)

// Kind identifies the elementary stream a packet belongs to.
type Kind int

// Elementary stream kinds.
const (
	KindUnknown Kind = iota
	KindAudio
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// TimeBase is the rational unit of a stream's timestamps (Num/Den seconds
// per tick). MPEG-TS streams use 1/90000; AVI video uses scale/rate.
type TimeBase struct {
	Num int64
	Den int64
}

// MPEGTimeBase is the 90 kHz clock used by MPEG-TS PES timestamps.
var MPEGTimeBase = TimeBase{Num: 1, Den: 90000}

// Seconds converts ts from this time base to seconds.
func (tb TimeBase) Seconds(ts int64) float64 {
	if tb.Den == 0 {
		return 0
	}
	return float64(ts) * float64(tb.Num) / float64(tb.Den)
}

func (tb TimeBase) String() string {
	return fmt.Sprintf("%d/%d", tb.Num, tb.Den)
}

// StreamInfo describes one elementary stream discovered in a container.
// Video fields are zero for audio streams and vice versa.
type StreamInfo struct {
	Index    int
	Kind     Kind
	Codec    string
	TimeBase TimeBase

	Width     int
	Height    int
	FrameRate float64
	// TopDown is set for uncompressed pictures stored first row first.
	TopDown bool

	SampleRate    int
	Channels      int
	BitsPerSample int

	// Extra carries codec specific setup bytes (e.g. the BITMAPINFOHEADER
	// or WAVEFORMATEX tail) for decoders that need them.
	Extra []byte
}

// Packet is one compressed unit of a single elementary stream. A packet is
// owned by exactly one queue at a time and is consumed by the decode path
// that pops it.
type Packet struct {
	Kind        Kind
	StreamIndex int
	PTS         int64
	HasPTS      bool
	TimeBase    TimeBase
	Keyframe    bool
	Data        []byte
}

// Seconds returns the packet PTS in seconds.
func (p *Packet) Seconds() float64 {
	return p.TimeBase.Seconds(p.PTS)
}

// SampleFormat is the encoding of a single PCM sample.
type SampleFormat int

// Supported sample encodings.
const (
	SampleS16 SampleFormat = iota // signed 16-bit, native little endian
	SampleF32                     // 32-bit float, little endian
)

func (s SampleFormat) String() string {
	switch s {
	case SampleS16:
		return "s16"
	case SampleF32:
		return "f32"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the size of one sample of this format.
func (s SampleFormat) BytesPerSample() int {
	switch s {
	case SampleS16:
		return 2
	case SampleF32:
		return 4
	default:
		return 0
	}
}

// AudioFormat is an interleaved PCM layout.
type AudioFormat struct {
	SampleRate int
	Channels   int
	Sample     SampleFormat
}

// BytesPerFrame returns the size of one sample for every channel.
func (f AudioFormat) BytesPerFrame() int {
	return f.Channels * f.Sample.BytesPerSample()
}

// BytesPerSecond returns the byte rate of this format.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.BytesPerFrame()
}

// Valid reports whether the format describes playable PCM.
func (f AudioFormat) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && f.Sample.BytesPerSample() > 0
}

func (f AudioFormat) String() string {
	return fmt.Sprintf("%dHz/%dch/%s", f.SampleRate, f.Channels, f.Sample)
}

// AudioChunk is a run of interleaved PCM samples. Decoders emit chunks in
// the source format; the resampler rewrites them into the output format.
type AudioChunk struct {
	Format AudioFormat
	Data   []byte
	PTS    float64
	HasPTS bool
}

// Frames returns the number of sample frames in the chunk.
func (c *AudioChunk) Frames() int {
	bpf := c.Format.BytesPerFrame()
	if bpf == 0 {
		return 0
	}
	return len(c.Data) / bpf
}

// VideoFrame is a decoded picture converted to RGBA8 at the source's native
// resolution. Pix is tightly packed: stride is always 4*Width.
type VideoFrame struct {
	Width  int
	Height int
	Pix    []byte
	PTS    float64
}

// Stride returns the byte length of one row.
func (f *VideoFrame) Stride() int {
	return 4 * f.Width
}
