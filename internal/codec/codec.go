// Package codec is the decoder boundary of the playback engine. Decoders
// follow a send/receive model: Receive returns ErrNeedInput when the decoder
// has nothing buffered, the caller then Sends one packet and calls Receive
// again. Decoders are created from a Registry keyed by codec id.
package codec

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/zsiec/cadence/internal/media"
)

var (
	// ErrNeedInput is returned by Receive when the decoder must be fed.
	ErrNeedInput = errors.New("codec: decoder needs input")
	// ErrUnsupported is returned by NewDecoder for unregistered codec ids.
	ErrUnsupported = errors.New("codec: unsupported codec")
	// ErrBusy is returned by Send when a previous packet has not been
	// received yet.
	ErrBusy = errors.New("codec: decoder has pending output")
)

// Frame is one decoded unit. Exactly one of Audio or Picture is set.
type Frame struct {
	Audio   *media.AudioChunk
	Picture image.Image
	PTS     float64
	HasPTS  bool
}

// Decoder turns packets of a single stream into frames. A Decoder is used
// from one goroutine at a time.
type Decoder interface {
	Send(pkt *media.Packet) error
	// Receive returns the next frame, ErrNeedInput, or a decode error. A
	// decode error consumes the offending packet.
	Receive() (*Frame, error)
	// Reset drops any buffered input and output.
	Reset()
	Close() error
}

// Factory creates a decoder for a stream.
type Factory func(info media.StreamInfo) (Decoder, error)

// Registry maps codec ids to decoder factories. Create one at startup and
// share it between sessions.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry returns a registry holding the built-in decoders.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(PCMS16LE, newPCMDecoder)
	r.Register(PCMU8, newPCMDecoder)
	r.Register(PCMF32LE, newPCMDecoder)
	r.Register(PCMBluray, newBlurayDecoder)
	r.Register(MJPEG, newJPEGDecoder)
	r.Register(RawBGR24, newRawDecoder)
	r.Register(RawBGRA, newRawDecoder)
	return r
}

// Register installs or replaces the factory for id.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// Supports reports whether id has a registered factory.
func (r *Registry) Supports(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// Codecs lists the registered codec ids in sorted order.
func (r *Registry) Codecs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewDecoder creates a decoder for the stream's codec.
func (r *Registry) NewDecoder(info media.StreamInfo) (Decoder, error) {
	r.mu.RLock()
	f, ok := r.factories[info.Codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, info.Codec)
	}
	d, err := f(info)
	if err != nil {
		return nil, fmt.Errorf("codec: open %s decoder: %w", info.Codec, err)
	}
	return d, nil
}

// Codec ids for the built-in decoders and the common ids containers report
// for streams no built-in decoder handles.
const (
	PCMS16LE  = "pcm_s16le"
	PCMU8     = "pcm_u8"
	PCMF32LE  = "pcm_f32le"
	PCMBluray = "pcm_bluray"
	MJPEG     = "mjpeg"
	RawBGR24  = "rawvideo_bgr24"
	RawBGRA   = "rawvideo_bgra"

	H264 = "h264"
	H265 = "hevc"
	AAC  = "aac"
	MP2  = "mp2"
	MP3  = "mp3"
	AC3  = "ac3"
)

// slot is the single-packet input buffer shared by the built-in decoders.
type slot struct {
	pkt *media.Packet
}

func (s *slot) send(pkt *media.Packet) error {
	if s.pkt != nil {
		return ErrBusy
	}
	s.pkt = pkt
	return nil
}

func (s *slot) take() (*media.Packet, error) {
	if s.pkt == nil {
		return nil, ErrNeedInput
	}
	p := s.pkt
	s.pkt = nil
	return p, nil
}

func (s *slot) Reset() { s.pkt = nil }

func (s *slot) Close() error {
	s.pkt = nil
	return nil
}

func framePTS(pkt *media.Packet) (float64, bool) {
	if !pkt.HasPTS {
		return 0, false
	}
	return pkt.Seconds(), true
}
