// Package playback is the synchronization engine. A Session demultiplexes a
// container on a background goroutine, decodes audio on the device's
// callback and video on the host's update tick, and keeps both aligned to
// the audio clock (or a wall clock when there is no audio).
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/cadence/internal/audio"
	"github.com/zsiec/cadence/internal/codec"
	"github.com/zsiec/cadence/internal/container"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/source"
)

// ErrNoStreams is returned by Open when neither an audio nor a video
// stream could be initialised.
var ErrNoStreams = errors.New("playback: no decodable audio or video stream")

// State is the session lifecycle state.
type State int32

// Session states.
const (
	StateClosed State = iota
	StateOpen
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "closed"
	}
}

// Config holds session parameters. Zero fields take the DefaultConfig
// values.
type Config struct {
	// Registry provides decoders. Create it once and share it between
	// sessions.
	Registry *codec.Registry
	// Device is the audio output. Defaults to a Pump with no sink.
	Device audio.Device
	// Source configures how locations are opened.
	Source source.Options
	// ProbePackets bounds MPEG-TS probing.
	ProbePackets int64

	// SyncThreshold is how far a frame may lead the clock; LateThreshold
	// how far it may trail it. LateThreshold is clamped to
	// [SyncThreshold, MaxLateThreshold].
	SyncThreshold     float64
	LateThreshold     float64
	HighWaterMark     int
	PresentationQueue int
	// DecodePerUpdate bounds the frames decoded in one Update call.
	DecodePerUpdate int

	DemuxBackoff time.Duration
	EOFPoll      time.Duration
	ErrorBackoff time.Duration

	// Now is the wall clock time source.
	Now func() time.Time
	Log *slog.Logger
}

// DefaultConfig returns the standard timing and queue sizes.
func DefaultConfig() Config {
	return Config{
		SyncThreshold:     DefaultSyncThreshold,
		LateThreshold:     DefaultLateThreshold,
		HighWaterMark:     media.PacketHighWaterMark,
		PresentationQueue: media.PresentationQueueSize,
		DecodePerUpdate:   media.PresentationQueueSize,
		DemuxBackoff:      10 * time.Millisecond,
		EOFPoll:           100 * time.Millisecond,
		ErrorBackoff:      50 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.SyncThreshold <= 0 {
		c.SyncThreshold = d.SyncThreshold
	}
	if c.LateThreshold <= 0 {
		c.LateThreshold = d.LateThreshold
	}
	c.LateThreshold = min(max(c.LateThreshold, c.SyncThreshold), MaxLateThreshold)
	if c.HighWaterMark <= 0 {
		c.HighWaterMark = d.HighWaterMark
	}
	if c.PresentationQueue <= 0 {
		c.PresentationQueue = d.PresentationQueue
	}
	if c.DecodePerUpdate <= 0 {
		c.DecodePerUpdate = c.PresentationQueue
	}
	if c.DemuxBackoff <= 0 {
		c.DemuxBackoff = d.DemuxBackoff
	}
	if c.EOFPoll <= 0 {
		c.EOFPoll = d.EOFPoll
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Registry == nil {
		c.Registry = codec.NewDefaultRegistry()
	}
	if c.Device == nil {
		c.Device = audio.NewPump(audio.PumpConfig{Log: c.Log})
	}
	if c.Source.Log == nil {
		c.Source.Log = c.Log
	}
}

// Session plays one container at a time.
//
// Control methods (Open, Close, Play, Pause, Toggle, Stop, Update) are
// serialised by a mutex. Fill runs on the audio device's goroutine and
// never takes it; Clock, GrabCurrentFrame, IsOpen and IsPlaying are
// lock-free.
type Session struct {
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	state atomic.Int32

	location string
	src      source.Source
	cont     container.Container
	audio    *audioPath
	video    *videoPath
	out      media.AudioFormat

	cancel context.CancelFunc
	group  *errgroup.Group

	hasAudio   atomic.Bool
	hasVideo   atomic.Bool
	audioClock AudioClock
	wall       *WallClock
	// handoff is set once audio has ended while video remains; the master
	// clock then continues on the wall clock from the last audio time.
	handoff    atomic.Bool
	videoClock atomicFloat
	current    atomic.Pointer[media.VideoFrame]

	eof         atomic.Bool
	packetsRead atomic.Int64
	readErrors  atomic.Int64
	displayed   atomic.Int64
	dropped     atomic.Int64
}

// NewSession creates a closed session.
func NewSession(cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:  cfg,
		log:  cfg.Log.With("component", "session"),
		wall: NewWallClock(cfg.Now),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Open opens location (a path or URL) and prepares its streams. A session
// that is already open is closed first. On failure the session is Closed
// and holds no resources.
func (s *Session) Open(location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateClosed {
		if err := s.closeLocked(); err != nil {
			s.log.Warn("close before reopen failed", "error", err)
		}
	}

	src, err := source.Open(location, s.cfg.Source)
	if err != nil {
		return fmt.Errorf("playback: open %s: %w", location, err)
	}
	c, err := container.Open(src, container.Options{Log: s.cfg.Log, ProbePackets: s.cfg.ProbePackets})
	if err != nil {
		src.Close()
		return fmt.Errorf("playback: open %s: %w", location, err)
	}
	if err := s.attach(c); err != nil {
		c.Close()
		return err
	}

	s.location = location
	s.src = src
	s.cont = c
	s.state.Store(int32(StateOpen))
	s.log.Info("opened",
		"location", location,
		"format", c.Format(),
		"audio", s.audio != nil,
		"video", s.video != nil,
	)
	return nil
}

// attach creates the decode paths for the first audio and video stream of
// c. A stream whose decoder cannot be created is disabled; failing to open
// the audio device fails the whole open.
func (s *Session) attach(c container.Container) error {
	var vinfo, ainfo *media.StreamInfo
	streams := c.Streams()
	for i := range streams {
		switch {
		case streams[i].Kind == media.KindVideo && vinfo == nil:
			vinfo = &streams[i]
		case streams[i].Kind == media.KindAudio && ainfo == nil:
			ainfo = &streams[i]
		}
	}

	var v *videoPath
	if vinfo != nil {
		dec, err := s.cfg.Registry.NewDecoder(*vinfo)
		if err != nil {
			s.log.Warn("video disabled", "codec", vinfo.Codec, "error", err)
		} else {
			v = newVideoPath(s.cfg.Log, *vinfo, dec, s.cfg.HighWaterMark, s.cfg.PresentationQueue)
		}
	}

	var a *audioPath
	var out media.AudioFormat
	if ainfo != nil {
		var err error
		a, out, err = s.openAudio(*ainfo)
		if err != nil {
			if v != nil {
				v.dec.Close()
			}
			return err
		}
	}

	if a == nil && v == nil {
		return ErrNoStreams
	}
	s.audio, s.video, s.out = a, v, out
	s.hasAudio.Store(a != nil)
	s.hasVideo.Store(v != nil)
	return nil
}

// openAudio returns a nil path (and no error) when the stream cannot be
// decoded.
func (s *Session) openAudio(info media.StreamInfo) (*audioPath, media.AudioFormat, error) {
	dec, err := s.cfg.Registry.NewDecoder(info)
	if err != nil {
		s.log.Warn("audio disabled", "codec", info.Codec, "error", err)
		return nil, media.AudioFormat{}, nil
	}
	want := media.AudioFormat{SampleRate: info.SampleRate, Channels: info.Channels, Sample: media.SampleS16}
	if !want.Valid() {
		dec.Close()
		s.log.Warn("audio disabled", "codec", info.Codec, "error", "unknown sample rate or channel count")
		return nil, media.AudioFormat{}, nil
	}
	out, err := s.cfg.Device.Open(want, s)
	if err != nil {
		dec.Close()
		return nil, media.AudioFormat{}, fmt.Errorf("playback: open audio device: %w", err)
	}
	a, err := newAudioPath(s.cfg.Log, info, dec, out, s.cfg.HighWaterMark, &s.audioClock)
	if err != nil {
		dec.Close()
		s.cfg.Device.Close()
		return nil, media.AudioFormat{}, fmt.Errorf("playback: audio output %s: %w", out, err)
	}
	if out != want {
		s.log.Info("resampling audio", "source", want.String(), "output", out.String())
	}
	return a, out, nil
}

// Close stops playback and releases every resource. Closing a closed
// session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	if s.State() == StateClosed {
		return nil
	}
	s.haltLocked()
	s.state.Store(int32(StateClosed))

	var errs []error
	if s.audio != nil {
		errs = append(errs, s.audio.dec.Close(), s.cfg.Device.Close())
	}
	if s.video != nil {
		errs = append(errs, s.video.dec.Close())
	}
	errs = append(errs, s.cont.Close())

	s.audio, s.video, s.cont, s.src = nil, nil, nil, nil
	s.out = media.AudioFormat{}
	s.hasAudio.Store(false)
	s.hasVideo.Store(false)
	s.resetClocks()
	s.log.Info("closed", "location", s.location)
	return errors.Join(errs...)
}

// Play starts or resumes playback. It reports false unless the session was
// Open or Paused.
func (s *Session) Play() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playLocked()
}

func (s *Session) playLocked() bool {
	prev := s.State()
	if prev != StateOpen && prev != StatePaused {
		return false
	}
	if s.group == nil {
		s.startDemux()
	}
	s.state.Store(int32(StatePlaying))
	s.wall.Start()
	if s.audio != nil {
		if err := s.cfg.Device.Start(); err != nil {
			s.log.Error("audio start failed", "error", err)
			s.wall.Pause()
			s.state.Store(int32(prev))
			return false
		}
	}
	s.log.Debug("playing", "from", prev.String())
	return true
}

// Pause halts audio output and the clock, keeping every buffer. It reports
// false unless the session was Playing.
func (s *Session) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseLocked()
}

func (s *Session) pauseLocked() bool {
	if s.State() != StatePlaying {
		return false
	}
	s.state.Store(int32(StatePaused))
	if s.audio != nil {
		if err := s.cfg.Device.Stop(); err != nil {
			s.log.Warn("audio stop failed", "error", err)
		}
	}
	s.wall.Pause()
	return true
}

// Toggle pauses a playing session and plays any other.
func (s *Session) Toggle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == StatePlaying {
		return s.pauseLocked()
	}
	return s.playLocked()
}

// Stop halts playback, discards all buffered data, rewinds the container
// and zeroes the clocks. The session returns to Open. It reports false only
// for a closed session.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == StateClosed {
		return false
	}
	s.haltLocked()
	s.state.Store(int32(StateOpen))

	if s.audio != nil {
		s.audio.reset()
	}
	if s.video != nil {
		s.video.reset()
	}
	s.resetClocks()
	if err := s.cont.Rewind(); err != nil {
		s.readErrors.Add(1)
		s.log.Warn("rewind failed", "error", err)
	}
	s.log.Debug("stopped")
	return true
}

func (s *Session) startDemux() {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	c, a, v := s.cont, s.audio, s.video
	g.Go(func() error {
		return s.demux(gctx, c, a, v)
	})
	s.cancel, s.group = cancel, g
}

// haltLocked joins the demux goroutine and stops the audio callback.
func (s *Session) haltLocked() {
	if s.cancel != nil {
		s.cancel()
		s.src.Interrupt()
		if err := s.group.Wait(); err != nil {
			s.log.Warn("demux exited with error", "error", err)
		}
		s.cancel, s.group = nil, nil
	}
	if s.audio != nil {
		if err := s.cfg.Device.Stop(); err != nil {
			s.log.Warn("audio stop failed", "error", err)
		}
	}
}

func (s *Session) resetClocks() {
	s.audioClock.Reset()
	s.wall.Reset()
	s.videoClock.Store(0)
	s.handoff.Store(false)
	s.eof.Store(false)
	s.current.Store(nil)
}

// Fill implements audio.Filler. It is called from the audio device's
// goroutine, never blocks, and always fills buf completely.
func (s *Session) Fill(buf []byte) int {
	a := s.audio
	if a == nil || s.State() != StatePlaying {
		clear(buf)
		return len(buf)
	}
	return a.fill(buf, s.eof.Load())
}

// Update runs one host tick: decode video into the presentation queue and,
// while playing, publish the frame due at the current clock.
func (s *Session) Update() {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.State()
	if st != StatePlaying && st != StatePaused {
		return
	}
	if s.audio != nil && s.video != nil && !s.handoff.Load() && s.audio.ended.Load() {
		at := s.audioClock.Load()
		s.wall.Set(at)
		s.handoff.Store(true)
		s.log.Debug("audio ended, clock continues on wall time", "at", at)
	}
	if s.video == nil {
		return
	}
	s.video.decode(s.cfg.DecodePerUpdate, s.eof.Load())
	if st == StatePlaying {
		s.present(s.video, s.Clock())
	}
}

// GrabCurrentFrame returns the frame most recently published by Update, or
// nil. The frame is never modified after publication.
func (s *Session) GrabCurrentFrame() *media.VideoFrame {
	return s.current.Load()
}

// Clock returns the master clock in seconds.
func (s *Session) Clock() float64 {
	if s.hasAudio.Load() && !s.handoff.Load() {
		return s.audioClock.Load()
	}
	return s.wall.Seconds()
}

// IsOpen reports whether a container is open.
func (s *Session) IsOpen() bool {
	return s.State() != StateClosed
}

// IsPlaying reports whether the session is Playing.
func (s *Session) IsPlaying() bool {
	return s.State() == StatePlaying
}

// IsEndOfFile reports whether the container is exhausted and every enabled
// stream has played out.
func (s *Session) IsEndOfFile() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endOfFileLocked()
}

func (s *Session) endOfFileLocked() bool {
	if s.State() == StateClosed || !s.eof.Load() {
		return false
	}
	audioDone := s.audio == nil || s.audio.ended.Load()
	videoDone := s.video == nil || (s.video.ended.Load() && s.video.frames.Len() == 0)
	return audioDone && videoDone
}

// HasAudio reports whether an audio stream is playing through the device.
func (s *Session) HasAudio() bool {
	return s.hasAudio.Load()
}

// HasVideo reports whether a video stream is being decoded.
func (s *Session) HasVideo() bool {
	return s.hasVideo.Load()
}

// Width returns the video width in pixels, or 0 without video.
func (s *Session) Width() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video == nil {
		return 0
	}
	return s.video.info.Width
}

// Height returns the video height in pixels, or 0 without video.
func (s *Session) Height() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video == nil {
		return 0
	}
	return s.video.info.Height
}

// SampleRate returns the output sample rate, or 0 without audio.
func (s *Session) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.SampleRate
}

// Channels returns the output channel count, or 0 without audio.
func (s *Session) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Channels
}
