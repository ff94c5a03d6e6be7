package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zsiec/cadence/internal/codec"
	"github.com/zsiec/cadence/internal/container"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/source"
)

type probeOptions struct {
	Count bool
}

func newProbeCommand(root *rootOptions) *cobra.Command {
	opts := &probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe <path|url>",
		Short: "List the streams of a clip",
		Example: `  cadence probe clip.avi
  cadence probe --count recording.ts`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			defer closer.Close()

			src, err := source.Open(args[0], source.Options{DialTimeout: cfg.Source.DialTimeout})
			if err != nil {
				return err
			}
			c, err := container.Open(src, container.Options{ProbePackets: cfg.Playback.ProbePackets})
			if err != nil {
				src.Close()
				return err
			}
			defer c.Close()
			return runProbe(cmd.OutOrStdout(), args[0], c, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Count, "count", false, "Read the whole clip and report packets and duration per stream")
	cmd.Flags().Int64("probe-packets", 20000, "MPEG-TS packets to scan for stream tables")
	return cmd
}

type streamTally struct {
	packets int
	bytes   int64
	lastPTS float64
}

func runProbe(out io.Writer, location string, c container.Container, opts *probeOptions) error {
	streams := c.Streams()
	reg := codec.NewDefaultRegistry()

	fmt.Fprintf(out, "%s  %s\n", color.New(color.Bold).Sprint(location), color.New(color.Faint).Sprint(c.Format()))
	for _, s := range streams {
		kind := color.New(color.FgCyan).Sprint(s.Kind)
		name := s.Codec
		if name == "" {
			name = "unknown"
		}
		if reg.Supports(s.Codec) {
			name = color.GreenString(name)
		} else {
			name = color.YellowString(name + " (no decoder)")
		}
		fmt.Fprintf(out, "  #%-5d %s  %s  %s\n", s.Index, kind, name, describeStream(s))
	}

	if !opts.Count {
		return nil
	}
	tally := make(map[int]*streamTally)
	for {
		p, err := c.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		t := tally[p.StreamIndex]
		if t == nil {
			t = &streamTally{}
			tally[p.StreamIndex] = t
		}
		t.packets++
		t.bytes += int64(len(p.Data))
		if p.HasPTS {
			t.lastPTS = max(t.lastPTS, p.Seconds())
		}
	}
	for _, s := range streams {
		t := tally[s.Index]
		if t == nil {
			t = &streamTally{}
		}
		d := time.Duration(t.lastPTS * float64(time.Second)).Round(time.Millisecond)
		fmt.Fprintf(out, "  #%-5d %d packets, %d bytes, last pts %s\n", s.Index, t.packets, t.bytes, d)
	}
	return nil
}

func describeStream(s media.StreamInfo) string {
	switch s.Kind {
	case media.KindVideo:
		if s.FrameRate > 0 {
			return fmt.Sprintf("%dx%d @ %.3g fps", s.Width, s.Height, s.FrameRate)
		}
		return fmt.Sprintf("%dx%d", s.Width, s.Height)
	case media.KindAudio:
		desc := fmt.Sprintf("%d Hz, %d ch", s.SampleRate, s.Channels)
		if s.BitsPerSample > 0 {
			desc += fmt.Sprintf(", %d bit", s.BitsPerSample)
		}
		return desc
	}
	return ""
}
