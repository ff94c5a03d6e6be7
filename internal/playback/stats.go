package playback

import (
	"github.com/zsiec/cadence/internal/container"
	"github.com/zsiec/cadence/internal/mpegts"
	"github.com/zsiec/cadence/internal/source"
)

// Stats is a point-in-time view of a session, suitable for JSON.
type Stats struct {
	State    string `json:"state"`
	Location string `json:"location,omitempty"`
	Format   string `json:"format,omitempty"`

	Clock      float64 `json:"clock"`
	AudioClock float64 `json:"audioClock"`
	VideoClock float64 `json:"videoClock"`
	WallClock  bool    `json:"wallClock"`

	Audio *AudioStats `json:"audio,omitempty"`
	Video *VideoStats `json:"video,omitempty"`

	PacketsRead int64 `json:"packetsRead"`
	ReadErrors  int64 `json:"readErrors"`
	DemuxEOF    bool  `json:"demuxEOF"`
	EndOfFile   bool  `json:"endOfFile"`

	Source    *source.Stats                `json:"source,omitempty"`
	Transport *mpegts.DemuxerStatsSnapshot `json:"transport,omitempty"`
}

// AudioStats describes the audio path.
type AudioStats struct {
	Codec        string `json:"codec"`
	SampleRate   int    `json:"sampleRate"`
	Channels     int    `json:"channels"`
	Output       string `json:"output"`
	Queue        int    `json:"queue"`
	Chunks       int64  `json:"chunks"`
	Underruns    int64  `json:"underruns"`
	DecodeErrors int64  `json:"decodeErrors"`
	Ended        bool   `json:"ended"`
}

// VideoStats describes the video path.
type VideoStats struct {
	Codec        string  `json:"codec"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	FrameRate    float64 `json:"frameRate"`
	Queue        int     `json:"queue"`
	Frames       int     `json:"frames"`
	Decoded      int64   `json:"decoded"`
	Displayed    int64   `json:"displayed"`
	Dropped      int64   `json:"dropped"`
	DecodeErrors int64   `json:"decodeErrors"`
	Ended        bool    `json:"ended"`
}

// Stats returns a snapshot of the session.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		State:       s.State().String(),
		Clock:       s.Clock(),
		AudioClock:  s.audioClock.Load(),
		VideoClock:  s.videoClock.Load(),
		WallClock:   !s.hasAudio.Load() || s.handoff.Load(),
		PacketsRead: s.packetsRead.Load(),
		ReadErrors:  s.readErrors.Load(),
		DemuxEOF:    s.eof.Load(),
		EndOfFile:   s.endOfFileLocked(),
	}
	if s.State() == StateClosed {
		return st
	}
	st.Location = s.location
	st.Format = s.cont.Format()

	if a := s.audio; a != nil {
		st.Audio = &AudioStats{
			Codec:        a.info.Codec,
			SampleRate:   a.info.SampleRate,
			Channels:     a.info.Channels,
			Output:       s.out.String(),
			Queue:        a.packets.Len(),
			Chunks:       a.chunks.Load(),
			Underruns:    a.underruns.Load(),
			DecodeErrors: a.decodeErrors.Load(),
			Ended:        a.ended.Load(),
		}
	}
	if v := s.video; v != nil {
		st.Video = &VideoStats{
			Codec:        v.info.Codec,
			Width:        v.info.Width,
			Height:       v.info.Height,
			FrameRate:    v.info.FrameRate,
			Queue:        v.packets.Len(),
			Frames:       v.frames.Len(),
			Decoded:      v.decoded.Load(),
			Displayed:    s.displayed.Load(),
			Dropped:      s.dropped.Load(),
			DecodeErrors: v.decodeErrors.Load(),
			Ended:        v.ended.Load(),
		}
	}

	src := s.src.Stats()
	st.Source = &src
	if tr, ok := s.cont.(container.TransportReporter); ok {
		ts := tr.TransportStats()
		st.Transport = &ts
	}
	return st
}
