package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/zsiec/cadence/internal/media"
)

// pcmDecoder handles little-endian interleaved PCM as stored in AVI/WAV.
// Unsigned 8-bit input is widened to S16.
type pcmDecoder struct {
	slot
	codec  string
	format media.AudioFormat
}

func newPCMDecoder(info media.StreamInfo) (Decoder, error) {
	if info.SampleRate <= 0 || info.Channels <= 0 {
		return nil, fmt.Errorf("invalid format %dHz/%dch", info.SampleRate, info.Channels)
	}
	d := &pcmDecoder{codec: info.Codec}
	d.format = media.AudioFormat{SampleRate: info.SampleRate, Channels: info.Channels, Sample: media.SampleS16}
	if info.Codec == PCMF32LE {
		d.format.Sample = media.SampleF32
	}
	return d, nil
}

func (d *pcmDecoder) Send(pkt *media.Packet) error { return d.send(pkt) }

func (d *pcmDecoder) Receive() (*Frame, error) {
	pkt, err := d.take()
	if err != nil {
		return nil, err
	}

	var data []byte
	switch d.codec {
	case PCMU8:
		data = make([]byte, 2*len(pkt.Data))
		for i, v := range pkt.Data {
			binary.LittleEndian.PutUint16(data[2*i:], uint16(int16(int(v)-128)<<8))
		}
	default:
		data = pkt.Data
	}

	bpf := d.format.BytesPerFrame()
	if rem := len(data) % bpf; rem != 0 {
		data = data[:len(data)-rem]
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("codec: %s packet shorter than one frame", d.codec)
	}

	pts, ok := framePTS(pkt)
	return &Frame{
		Audio:  &media.AudioChunk{Format: d.format, Data: data, PTS: pts, HasPTS: ok},
		PTS:    pts,
		HasPTS: ok,
	}, nil
}
