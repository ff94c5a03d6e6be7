// Package config resolves CLI settings from flags, CADENCE_* environment
// variables and an optional cadence.yaml, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the resolved CLI configuration.
type Config struct {
	Log      LogConfig
	Playback PlaybackConfig
	Audio    AudioConfig
	Monitor  MonitorConfig
	Source   SourceConfig
}

// LogConfig controls the slog handler. An empty File logs to stderr;
// otherwise logs go to a size-rotated file.
type LogConfig struct {
	Level      slog.Level
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// PlaybackConfig tunes the session and the presentation loop.
type PlaybackConfig struct {
	FPS               float64
	Loop              bool
	SyncThreshold     float64
	LateThreshold     float64
	HighWaterMark     int
	PresentationQueue int
	ProbePackets      int64
}

// AudioConfig configures the software audio device.
type AudioConfig struct {
	Period time.Duration
	WAV    string
}

// MonitorConfig enables the HTTPS/HTTP3 monitor when Addr is set.
type MonitorConfig struct {
	Addr  string
	Hosts []string
}

// SourceConfig configures network sources.
type SourceConfig struct {
	DialTimeout time.Duration
	Insecure    bool
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-file":       "log.file",
	"fps":            "playback.fps",
	"loop":           "playback.loop",
	"sync-threshold": "playback.sync_threshold",
	"late-threshold": "playback.late_threshold",
	"high-water":     "playback.high_water_mark",
	"probe-packets":  "playback.probe_packets",
	"period":         "audio.period",
	"wav":            "audio.wav",
	"monitor":        "monitor.addr",
	"monitor-host":   "monitor.hosts",
	"dial-timeout":   "source.dial_timeout",
	"insecure":       "source.insecure",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("playback.fps", 60.0)
	v.SetDefault("playback.loop", false)
	v.SetDefault("playback.sync_threshold", 0.03)
	v.SetDefault("playback.late_threshold", 0.1)
	v.SetDefault("playback.high_water_mark", 100)
	v.SetDefault("playback.presentation_queue", 10)
	v.SetDefault("playback.probe_packets", 20000)

	v.SetDefault("audio.period", 20*time.Millisecond)
	v.SetDefault("audio.wav", "")

	v.SetDefault("monitor.addr", "")
	v.SetDefault("monitor.hosts", []string{})

	v.SetDefault("source.dial_timeout", 10*time.Second)
	v.SetDefault("source.insecure", false)
}

// Load resolves the configuration. flags may be nil. configFile, when set,
// names an explicit file that must exist; otherwise cadence.yaml is looked
// up in ., $HOME/.cadence and /etc/cadence and is optional.
func Load(flags *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CADENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("config: bind %s: %w", name, err)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("cadence")
		v.SetConfigType("yaml")
		for _, path := range []string{".", "$HOME/.cadence", "/etc/cadence"} {
			v.AddConfigPath(os.ExpandEnv(path))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: %w", err)
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		return Config{}, fmt.Errorf("config: log.level: %w", err)
	}

	cfg := Config{
		Log: LogConfig{
			Level:      level,
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		Playback: PlaybackConfig{
			FPS:               v.GetFloat64("playback.fps"),
			Loop:              v.GetBool("playback.loop"),
			SyncThreshold:     v.GetFloat64("playback.sync_threshold"),
			LateThreshold:     v.GetFloat64("playback.late_threshold"),
			HighWaterMark:     v.GetInt("playback.high_water_mark"),
			PresentationQueue: v.GetInt("playback.presentation_queue"),
			ProbePackets:      v.GetInt64("playback.probe_packets"),
		},
		Audio: AudioConfig{
			Period: v.GetDuration("audio.period"),
			WAV:    v.GetString("audio.wav"),
		},
		Monitor: MonitorConfig{
			Addr:  v.GetString("monitor.addr"),
			Hosts: v.GetStringSlice("monitor.hosts"),
		},
		Source: SourceConfig{
			DialTimeout: v.GetDuration("source.dial_timeout"),
			Insecure:    v.GetBool("source.insecure"),
		},
	}

	if cfg.Playback.FPS <= 0 || cfg.Playback.FPS > 1000 {
		return Config{}, fmt.Errorf("config: playback.fps %v out of range (0, 1000]", cfg.Playback.FPS)
	}
	if cfg.Playback.SyncThreshold < 0 {
		return Config{}, fmt.Errorf("config: playback.sync_threshold %v is negative", cfg.Playback.SyncThreshold)
	}
	if lt := cfg.Playback.LateThreshold; lt < 0 || lt > 0.2 {
		return Config{}, fmt.Errorf("config: playback.late_threshold %v out of range [0, 0.2]", lt)
	}
	if cfg.Audio.Period <= 0 {
		return Config{}, fmt.Errorf("config: audio.period %v must be positive", cfg.Audio.Period)
	}
	return cfg, nil
}
