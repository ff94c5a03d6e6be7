package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zsiec/cadence/internal/clip"
)

func newGenCommand() *cobra.Command {
	opts := clip.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "gen <out.avi|out.ts>",
		Short: "Generate a synthetic test clip",
		Long: `Generate a test clip. An .avi gets an MJPEG colour bar pattern and a 16-bit
PCM sine tone; a .ts gets a 16-bit HDMV LPCM sine tone.`,
		Example: `  cadence gen clip.avi
  cadence gen --duration 10s --fps 25 --size 640x360 clip.avi
  cadence gen --rate 96000 tone.ts`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, _ := cmd.Flags().GetString("size")
			if _, err := fmt.Sscanf(size, "%dx%d", &opts.Width, &opts.Height); err != nil {
				return fmt.Errorf("invalid --size %q (want WxH): %w", size, err)
			}
			if err := clip.WriteFile(args[0], opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", args[0], opts.Duration)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&opts.Duration, "duration", opts.Duration, "Clip length")
	flags.IntVar(&opts.FPS, "fps", opts.FPS, "Video frame rate")
	flags.String("size", fmt.Sprintf("%dx%d", opts.Width, opts.Height), "Video size")
	flags.IntVar(&opts.SampleRate, "rate", opts.SampleRate, "Audio sample rate")
	flags.IntVar(&opts.Channels, "channels", opts.Channels, "Audio channels")
	flags.Float64Var(&opts.Tone, "tone", opts.Tone, "Tone frequency in Hz")
	flags.BoolVar(&opts.NoVideo, "no-video", false, "Write audio only")
	return cmd
}
