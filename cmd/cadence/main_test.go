package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func emptyConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cadence.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGenAndProbe(t *testing.T) {
	dir := t.TempDir()
	clipPath := filepath.Join(dir, "clip.avi")

	if _, err := run(t, "gen", "--duration", "500ms", "--fps", "10", "--size", "32x18", "--rate", "8000", clipPath); err != nil {
		t.Fatalf("gen: %v", err)
	}

	out, err := run(t, "probe", "--config", emptyConfig(t), "--count", clipPath)
	if err != nil {
		t.Fatalf("probe: %v\n%s", err, out)
	}
	for _, want := range []string{"avi", "mjpeg", "32x18", "pcm_s16le", "8000 Hz", "5 packets"} {
		if !strings.Contains(out, want) {
			t.Errorf("probe output missing %q:\n%s", want, out)
		}
	}
}

func TestGenRejectsBadSize(t *testing.T) {
	if _, err := run(t, "gen", "--size", "big", filepath.Join(t.TempDir(), "x.avi")); err == nil {
		t.Fatal("expected error for --size big")
	}
}

func TestPlayWritesWAV(t *testing.T) {
	dir := t.TempDir()
	clipPath := filepath.Join(dir, "tone.ts")
	wavPath := filepath.Join(dir, "out.wav")

	if _, err := run(t, "gen", "--duration", "300ms", clipPath); err != nil {
		t.Fatalf("gen: %v", err)
	}
	out, err := run(t, "play", "--config", emptyConfig(t), "--fps", "100", "--period", "10ms", "--wav", wavPath, clipPath)
	if err != nil {
		t.Fatalf("play: %v\n%s", err, out)
	}

	data, err := os.ReadFile(wavPath)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("not a WAV file (%d bytes)", len(data))
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 48000 {
		t.Errorf("sample rate = %d, want 48000", got)
	}
	dataSize := binary.LittleEndian.Uint32(data[40:44])
	if int(dataSize) != len(data)-44 {
		t.Errorf("data size = %d, file has %d bytes of samples", dataSize, len(data)-44)
	}
	// 300ms of 48kHz stereo S16 is 57600 bytes.
	if dataSize < 57600 {
		t.Errorf("data size = %d, want at least 57600", dataSize)
	}
}

func TestPlayMissingFile(t *testing.T) {
	if _, err := run(t, "play", "--config", emptyConfig(t), filepath.Join(t.TempDir(), "missing.avi")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}
