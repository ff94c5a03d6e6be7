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

// videoPath decodes queued video packets into RGBA frames for the
// presentation queue. It runs on the update goroutine only.
type videoPath struct {
	log     *slog.Logger
	info    media.StreamInfo
	dec     codec.Decoder
	packets *queue.Queue[*media.Packet]
	frames  *queue.Queue[*media.VideoFrame]

	// frameDur stamps pictures that arrive without a PTS.
	frameDur float64
	lastPTS  float64
	hasLast  bool

	ended        atomic.Bool
	decoded      atomic.Int64
	decodeErrors atomic.Int64
}

func newVideoPath(log *slog.Logger, info media.StreamInfo, dec codec.Decoder, hwm, presentation int) *videoPath {
	v := &videoPath{
		log:     log.With("component", "video"),
		info:    info,
		dec:     dec,
		packets: queue.New[*media.Packet](hwm),
		frames:  queue.New[*media.VideoFrame](presentation),
	}
	if info.FrameRate > 0 {
		v.frameDur = 1 / info.FrameRate
	}
	return v
}

// decode fills the presentation queue with at most max new frames. It
// returns early when the queue is full or the packet queue is empty.
func (v *videoPath) decode(max int, eof bool) {
	for produced := 0; produced < max && !v.frames.Full(); {
		pic, err := v.dec.Receive()
		switch {
		case err == nil:
			if pic.Picture == nil {
				continue
			}
			pts := pic.PTS
			if !pic.HasPTS && v.hasLast {
				pts = v.lastPTS + v.frameDur
			}
			v.lastPTS, v.hasLast = pts, true
			v.frames.TryPush(convert.ToFrame(pic.Picture, pts))
			v.decoded.Add(1)
			produced++
		case errors.Is(err, codec.ErrNeedInput):
			pkt, ok := v.packets.TryPop()
			if !ok {
				if eof {
					v.ended.Store(true)
				}
				return
			}
			if err := v.dec.Send(pkt); err != nil {
				v.decodeErrors.Add(1)
				v.log.Debug("send failed", "error", err)
			}
		default:
			v.decodeErrors.Add(1)
			v.log.Debug("decode failed", "error", err)
		}
	}
}

// reset drops every queued packet and frame along with decoder state.
func (v *videoPath) reset() {
	v.packets.Flush()
	v.frames.Flush()
	v.dec.Reset()
	v.hasLast = false
	v.lastPTS = 0
	v.ended.Store(false)
}
