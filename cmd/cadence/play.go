package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/cadence/internal/audio"
	"github.com/zsiec/cadence/internal/certs"
	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/monitor"
	"github.com/zsiec/cadence/internal/playback"
	"github.com/zsiec/cadence/internal/source"
)

const statsEvery = 5 * time.Second

func newPlayCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <path|url>",
		Short: "Play a clip until it ends or the process is interrupted",
		Example: `  cadence play clip.avi
  cadence play --wav out.wav --fps 30 clip.ts
  cadence play --monitor :4443 --loop srt://10.0.0.5:6000?streamid=live`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case sig := <-sigCh:
					slog.Info("received signal, stopping", "signal", sig)
					cancel()
				case <-ctx.Done():
				}
			}()

			return runPlay(ctx, cfg, args[0])
		},
	}

	flags := cmd.Flags()
	flags.Float64("fps", 60, "Presentation loop rate")
	flags.Bool("loop", false, "Restart from the beginning at end of file")
	flags.Float64("sync-threshold", playback.DefaultSyncThreshold, "Seconds a frame may lead the clock before it is held")
	flags.Float64("late-threshold", playback.DefaultLateThreshold, "Seconds a frame may trail the clock before it is dropped")
	flags.Int("high-water", media.PacketHighWaterMark, "Per-stream packet queue limit")
	flags.Int64("probe-packets", 20000, "MPEG-TS packets to scan for stream tables")
	flags.Duration("period", 20*time.Millisecond, "Audio callback period")
	flags.String("wav", "", "Write the played audio to a WAV file")
	flags.String("monitor", "", "Serve the monitor API on this address (e.g. :4443)")
	flags.StringSlice("monitor-host", nil, "Extra host names for the monitor certificate")
	flags.Duration("dial-timeout", 10*time.Second, "SRT connection timeout")
	flags.Bool("insecure", false, "Skip TLS verification for https sources")
	return cmd
}

func runPlay(ctx context.Context, cfg config.Config, location string) error {
	sink := &wavSink{path: cfg.Audio.WAV}
	defer func() {
		if err := sink.Close(); err != nil {
			slog.Error("closing wav output", "error", err)
		}
	}()

	pump := audio.NewPump(audio.PumpConfig{Period: cfg.Audio.Period, Sink: sink})
	srcOpts := source.Options{DialTimeout: cfg.Source.DialTimeout}
	if cfg.Source.Insecure {
		srcOpts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	sess := playback.NewSession(playback.Config{
		Device:            pump,
		Source:            srcOpts,
		ProbePackets:      cfg.Playback.ProbePackets,
		SyncThreshold:     cfg.Playback.SyncThreshold,
		LateThreshold:     cfg.Playback.LateThreshold,
		HighWaterMark:     cfg.Playback.HighWaterMark,
		PresentationQueue: cfg.Playback.PresentationQueue,
	})
	if err := sess.Open(location); err != nil {
		return err
	}
	defer sess.Close()

	if sess.HasAudio() {
		sink.setFormat(media.AudioFormat{
			SampleRate: sess.SampleRate(),
			Channels:   sess.Channels(),
			Sample:     media.SampleS16,
		})
	}
	slog.Info("opened", "location", location,
		"audio", sess.HasAudio(), "video", sess.HasVideo(),
		"width", sess.Width(), "height", sess.Height(),
		"sampleRate", sess.SampleRate(), "channels", sess.Channels())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if cfg.Monitor.Addr != "" {
		srv, err := newMonitor(cfg.Monitor, sess)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Start(ctx) })
	}
	g.Go(func() error {
		// The monitor lives only as long as playback.
		defer cancel()
		return present(ctx, sess, cfg.Playback)
	})
	return g.Wait()
}

func newMonitor(cfg config.MonitorConfig, sess *playback.Session) (*monitor.Server, error) {
	cert, err := certs.Generate(certs.MaxValidity, cfg.Hosts...)
	if err != nil {
		return nil, err
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)
	return monitor.NewServer(monitor.Config{
		Addr:   cfg.Addr,
		Cert:   cert,
		Player: sess,
	})
}

// present drives Update at the configured rate until end of file (or
// forever with Loop) or until ctx is done.
func present(ctx context.Context, sess *playback.Session, cfg config.PlaybackConfig) error {
	if !sess.Play() {
		return fmt.Errorf("play: session in state %s", sess.State())
	}

	tick := time.NewTicker(time.Duration(float64(time.Second) / cfg.FPS))
	defer tick.Stop()
	report := time.NewTicker(statsEvery)
	defer report.Stop()

	var last *media.VideoFrame
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-report.C:
			logStats(sess.Stats())
			continue
		case <-tick.C:
		}

		sess.Update()
		if f := sess.GrabCurrentFrame(); f != nil && f != last {
			last = f
			slog.Debug("frame", "pts", f.PTS, "clock", sess.Clock())
		}

		if sess.IsEndOfFile() {
			logStats(sess.Stats())
			if !cfg.Loop {
				slog.Info("end of file")
				return nil
			}
			slog.Info("end of file, restarting")
			sess.Stop()
			last = nil
			if !sess.Play() {
				return fmt.Errorf("play: restart failed in state %s", sess.State())
			}
		}
	}
}

func logStats(st playback.Stats) {
	attrs := []any{"state", st.State, "clock", fmt.Sprintf("%.3f", st.Clock), "packets", st.PacketsRead}
	if a := st.Audio; a != nil {
		attrs = append(attrs, "audioQueue", a.Queue, "underruns", a.Underruns)
	}
	if v := st.Video; v != nil {
		attrs = append(attrs, "videoQueue", v.Queue, "displayed", v.Displayed, "dropped", v.Dropped)
	}
	slog.Info("stats", attrs...)
}

// wavSink is the Pump's sink. The WAV file is created on the first write
// after the output format is known; writes before that are dropped.
type wavSink struct {
	path string

	mu     sync.Mutex
	format media.AudioFormat
	w      *audio.WAVWriter
	err    error
}

func (s *wavSink) setFormat(f media.AudioFormat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = f
}

func (s *wavSink) Write(p []byte) (int, error) {
	if s.path == "" {
		return len(p), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if s.w == nil {
		if !s.format.Valid() {
			return len(p), nil
		}
		f, err := os.Create(s.path)
		if err != nil {
			s.err = err
			return 0, err
		}
		w, err := audio.NewWAVWriter(f, s.format)
		if err != nil {
			f.Close()
			s.err = err
			return 0, err
		}
		s.w = w
		slog.Info("writing audio", "path", s.path, "format", s.format)
	}
	return s.w.Write(p)
}

func (s *wavSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	err := s.w.Close()
	s.w = nil
	return err
}
