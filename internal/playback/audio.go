package playback

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/cadence/internal/codec"
	"github.com/zsiec/cadence/internal/convert"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/queue"
)

// audioPath turns queued audio packets into output PCM on the audio
// callback. Everything except the counters is owned by the callback
// goroutine while the device runs and by the control path while it is
// stopped.
type audioPath struct {
	log     *slog.Logger
	info    media.StreamInfo
	dec     codec.Decoder
	res     *convert.Resampler
	packets *queue.Queue[*media.Packet]
	clock   *AudioClock
	out     media.AudioFormat

	// pending is the converted PCM not yet handed to the device; pos is
	// the stream time of its first byte.
	pending []byte
	pos     float64

	ended        atomic.Bool
	chunks       atomic.Int64
	underruns    atomic.Int64
	decodeErrors atomic.Int64
}

func newAudioPath(log *slog.Logger, info media.StreamInfo, dec codec.Decoder, out media.AudioFormat, hwm int, clock *AudioClock) (*audioPath, error) {
	res, err := convert.NewResampler(out)
	if err != nil {
		return nil, err
	}
	return &audioPath{
		log:     log.With("component", "audio"),
		info:    info,
		dec:     dec,
		res:     res,
		packets: queue.New[*media.Packet](hwm),
		clock:   clock,
		out:     out,
	}, nil
}

// fill writes exactly len(buf) bytes. It never blocks: when the packet
// queue runs dry the rest of buf is silence. eof reports whether the
// demuxer has reached the end of the container.
func (a *audioPath) fill(buf []byte, eof bool) int {
	n := 0
	for n < len(buf) {
		if len(a.pending) > 0 {
			c := copy(buf[n:], a.pending)
			a.pending = a.pending[c:]
			n += c
			a.pos += float64(c) / float64(a.out.BytesPerSecond())
			a.clock.Advance(a.pos)
			continue
		}

		frame, err := a.dec.Receive()
		switch {
		case err == nil:
			if frame.Audio == nil {
				continue
			}
			chunk, err := a.res.Convert(frame.Audio)
			if err != nil {
				a.decodeErrors.Add(1)
				a.log.Debug("convert failed", "error", err)
				continue
			}
			a.chunks.Add(1)
			a.pending = chunk.Data
			if chunk.HasPTS {
				a.pos = chunk.PTS
			}
		case errors.Is(err, codec.ErrNeedInput):
			pkt, ok := a.packets.TryPop()
			if !ok {
				if eof {
					a.ended.Store(true)
				} else {
					a.underruns.Add(1)
				}
				clear(buf[n:])
				return len(buf)
			}
			if err := a.dec.Send(pkt); err != nil {
				a.decodeErrors.Add(1)
				a.log.Debug("send failed", "error", err)
			}
		default:
			// The failing unit is consumed; move on to the next packet.
			a.decodeErrors.Add(1)
			a.log.Debug("decode failed", "error", err)
		}
	}
	return n
}

// reset drops all buffered state. The device must be stopped.
func (a *audioPath) reset() {
	a.packets.Flush()
	a.dec.Reset()
	a.res.Reset()
	a.pending = nil
	a.pos = 0
	a.ended.Store(false)
}
