package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/zsiec/cadence/internal/media"
)

// HDMV LPCM (Blu-ray PCM in MPEG-TS) carries a 4-byte header ahead of
// big-endian samples:
//
//	bytes 0-1  audio data size
//	byte 2     channel assignment (high nibble), sample rate (low nibble)
//	byte 3     bits per sample (top two bits)
//
// Odd channel counts are stored padded to an even count.
const BlurayHeaderSize = 4

var blurayChannels = [16]int{0, 1, 0, 2, 3, 3, 4, 4, 5, 6, 7, 8}

// BlurayHeader is the decoded HDMV LPCM header.
type BlurayHeader struct {
	Size          int
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// ParseBlurayHeader decodes the HDMV LPCM header at the start of b.
func ParseBlurayHeader(b []byte) (BlurayHeader, error) {
	if len(b) < BlurayHeaderSize {
		return BlurayHeader{}, errors.New("codec: HDMV LPCM header truncated")
	}
	h := BlurayHeader{
		Size:     int(binary.BigEndian.Uint16(b[0:2])),
		Channels: blurayChannels[b[2]>>4],
	}
	switch b[2] & 0x0F {
	case 1:
		h.SampleRate = 48000
	case 4:
		h.SampleRate = 96000
	case 5:
		h.SampleRate = 192000
	}
	switch b[3] >> 6 {
	case 1:
		h.BitsPerSample = 16
	case 2:
		h.BitsPerSample = 20
	case 3:
		h.BitsPerSample = 24
	}
	if h.Channels == 0 || h.SampleRate == 0 || h.BitsPerSample == 0 {
		return h, fmt.Errorf("codec: invalid HDMV LPCM header % x", b[:BlurayHeaderSize])
	}
	return h, nil
}

// PutBlurayHeader encodes a header for stereo or mono 16/24-bit audio at
// 48/96/192 kHz.
func PutBlurayHeader(b []byte, h BlurayHeader) error {
	if len(b) < BlurayHeaderSize {
		return errors.New("codec: short buffer")
	}
	var ch, rate, bits byte
	switch h.Channels {
	case 1:
		ch = 1
	case 2:
		ch = 3
	default:
		return fmt.Errorf("codec: HDMV LPCM writer supports 1 or 2 channels, got %d", h.Channels)
	}
	switch h.SampleRate {
	case 48000:
		rate = 1
	case 96000:
		rate = 4
	case 192000:
		rate = 5
	default:
		return fmt.Errorf("codec: HDMV LPCM sample rate %d", h.SampleRate)
	}
	switch h.BitsPerSample {
	case 16:
		bits = 1
	case 24:
		bits = 3
	default:
		return fmt.Errorf("codec: HDMV LPCM bit depth %d", h.BitsPerSample)
	}
	binary.BigEndian.PutUint16(b[0:2], uint16(h.Size))
	b[2] = ch<<4 | rate
	b[3] = bits << 6
	return nil
}

// blurayDecoder converts HDMV LPCM to native S16 (16-bit input) or F32
// (20/24-bit input).
type blurayDecoder struct {
	slot
}

func newBlurayDecoder(media.StreamInfo) (Decoder, error) {
	return &blurayDecoder{}, nil
}

func (d *blurayDecoder) Send(pkt *media.Packet) error { return d.send(pkt) }

func (d *blurayDecoder) Receive() (*Frame, error) {
	pkt, err := d.take()
	if err != nil {
		return nil, err
	}
	h, err := ParseBlurayHeader(pkt.Data)
	if err != nil {
		return nil, err
	}

	stored := h.Channels + h.Channels%2
	width := 2
	if h.BitsPerSample > 16 {
		width = 3
	}
	payload := pkt.Data[BlurayHeaderSize:]
	frames := len(payload) / (stored * width)
	if frames == 0 {
		return nil, errors.New("codec: empty HDMV LPCM packet")
	}

	format := media.AudioFormat{SampleRate: h.SampleRate, Channels: h.Channels, Sample: media.SampleS16}
	if width == 3 {
		format.Sample = media.SampleF32
	}
	out := make([]byte, frames*format.BytesPerFrame())
	o := 0
	for f := 0; f < frames; f++ {
		in := payload[f*stored*width:]
		for c := 0; c < h.Channels; c++ {
			s := in[c*width:]
			if width == 2 {
				binary.LittleEndian.PutUint16(out[o:], binary.BigEndian.Uint16(s))
				o += 2
				continue
			}
			v := int32(uint32(s[0])<<24|uint32(s[1])<<16|uint32(s[2])<<8) >> 8
			binary.LittleEndian.PutUint32(out[o:], math.Float32bits(float32(v)/(1<<23)))
			o += 4
		}
	}

	pts, ok := framePTS(pkt)
	return &Frame{
		Audio:  &media.AudioChunk{Format: format, Data: out, PTS: pts, HasPTS: ok},
		PTS:    pts,
		HasPTS: ok,
	}, nil
}
