package playback

import "github.com/zsiec/cadence/internal/media"

// DefaultSyncThreshold is how far (seconds) a frame may lead the master
// clock and still be shown.
const DefaultSyncThreshold = 0.03

// DefaultLateThreshold is how far (seconds) a frame may trail the master
// clock before it is dropped. MaxLateThreshold caps it.
const (
	DefaultLateThreshold = 0.1
	MaxLateThreshold     = 0.2
)

// syncAction is the decision for the head of the presentation queue.
type syncAction int

const (
	actionDisplay syncAction = iota
	actionHold
	actionDrop
)

func (a syncAction) String() string {
	switch a {
	case actionHold:
		return "hold"
	case actionDrop:
		return "drop"
	default:
		return "display"
	}
}

// decide compares a frame's PTS with the clock. A frame more than early
// seconds ahead is held; one more than late seconds behind is dropped. late
// never falls below early.
func decide(pts, clock, early, late float64) syncAction {
	late = max(late, early)
	switch diff := pts - clock; {
	case diff > early:
		return actionHold
	case diff < -late:
		return actionDrop
	default:
		return actionDisplay
	}
}

// present runs one sync tick against clock. Late frames are dropped until
// the head is on time, early, or the queue is empty; an on-time frame is
// published and popped. It returns the frame published, if any.
func (s *Session) present(v *videoPath, clock float64) *media.VideoFrame {
	for {
		head, ok := v.frames.Peek()
		if !ok {
			return nil
		}
		switch decide(head.PTS, clock, s.cfg.SyncThreshold, s.cfg.LateThreshold) {
		case actionHold:
			return nil
		case actionDrop:
			v.frames.TryPop()
			s.dropped.Add(1)
		default:
			v.frames.TryPop()
			s.current.Store(head)
			s.videoClock.Store(head.PTS)
			s.displayed.Add(1)
			return head
		}
	}
}
