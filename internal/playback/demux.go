package playback

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/zsiec/cadence/internal/container"
	"github.com/zsiec/cadence/internal/media"
)

// demux is the only goroutine that performs blocking reads. It routes
// packets to the stream queues until ctx is cancelled, throttling while
// every present queue is at the high-water mark. At end of container it
// keeps polling so a stopped session can be rewound and replayed.
func (s *Session) demux(ctx context.Context, c container.Container, a *audioPath, v *videoPath) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if queuesFull(a, v) {
			sleepCtx(ctx, s.cfg.DemuxBackoff)
			continue
		}

		pkt, err := c.ReadPacket()
		switch {
		case errors.Is(err, io.EOF):
			if !s.eof.Swap(true) {
				s.log.Debug("end of container")
			}
			sleepCtx(ctx, s.cfg.EOFPoll)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			s.readErrors.Add(1)
			s.log.Warn("read failed", "error", err)
			sleepCtx(ctx, s.cfg.ErrorBackoff)
			continue
		}

		s.packetsRead.Add(1)
		switch {
		case pkt.Kind == media.KindAudio && a != nil && pkt.StreamIndex == a.info.Index:
			a.packets.Push(pkt)
		case pkt.Kind == media.KindVideo && v != nil && pkt.StreamIndex == v.info.Index:
			v.packets.Push(pkt)
		}
	}
}

// queuesFull reports whether every present stream's packet queue has
// reached its high-water mark.
func queuesFull(a *audioPath, v *videoPath) bool {
	if a == nil && v == nil {
		return true
	}
	return (a == nil || a.packets.Full()) && (v == nil || v.packets.Full())
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
