package avi

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func buildClip(t *testing.T, frames int) []byte {
	t.Helper()
	w := NewWriter()
	v := w.AddVideo("MJPG", 64, 48, 24, 1, 30)
	a := w.AddAudio(WaveFormatPCM, 2, 44100, 16)
	for i := 0; i < frames; i++ {
		// Odd sizes exercise the pad byte.
		if err := w.WriteChunk(v, bytes.Repeat([]byte{byte(i)}, 101+i), true); err != nil {
			t.Fatal(err)
		}
		if err := w.WriteChunk(a, make([]byte, 1470*4), true); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReaderHeaders(t *testing.T) {
	t.Parallel()
	r, err := NewReader(bytes.NewReader(buildClip(t, 3)))
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Streams) != 2 {
		t.Fatalf("streams = %d, want 2", len(r.Streams))
	}
	if r.Main.TotalFrames != 3 {
		t.Errorf("total frames = %d, want 3", r.Main.TotalFrames)
	}
	if r.Main.MicroSecPerFrame != 33333 {
		t.Errorf("usec/frame = %d, want 33333", r.Main.MicroSecPerFrame)
	}

	v := r.Streams[0]
	if v.Type() != TypeVideo || v.Video == nil {
		t.Fatalf("stream 0 = %q, want video", v.Type())
	}
	if v.Handler() != "MJPG" {
		t.Errorf("handler = %q, want MJPG", v.Handler())
	}
	if v.Video.Width != 64 || v.Video.Height != 48 {
		t.Errorf("size = %dx%d, want 64x48", v.Video.Width, v.Video.Height)
	}
	if got := v.FrameRate(); got != 30 {
		t.Errorf("frame rate = %v, want 30", got)
	}

	a := r.Streams[1]
	if a.Type() != TypeAudio || a.Audio == nil {
		t.Fatalf("stream 1 = %q, want audio", a.Type())
	}
	if a.Audio.SamplesPerSec != 44100 || a.Audio.Channels != 2 || a.Audio.BitsPerSample != 16 {
		t.Errorf("audio = %+v", *a.Audio)
	}
	if a.Header.Length != 3*1470 {
		t.Errorf("audio length = %d, want %d", a.Header.Length, 3*1470)
	}
}

func TestReaderChunks(t *testing.T) {
	t.Parallel()
	r, err := NewReader(bytes.NewReader(buildClip(t, 4)))
	if err != nil {
		t.Fatal(err)
	}

	var video, audio int
	for {
		c, err := r.ReadChunk()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		switch c.StreamIndex {
		case 0:
			if c.Kind != "dc" {
				t.Errorf("video chunk kind = %q, want dc", c.Kind)
			}
			if len(c.Data) != 101+video || c.Data[0] != byte(video) {
				t.Errorf("video chunk %d: len %d first %d", video, len(c.Data), c.Data[0])
			}
			video++
		case 1:
			if c.Kind != "wb" || len(c.Data) != 1470*4 {
				t.Errorf("audio chunk: kind %q len %d", c.Kind, len(c.Data))
			}
			audio++
		}
	}
	if video != 4 || audio != 4 {
		t.Errorf("chunks video=%d audio=%d, want 4/4", video, audio)
	}
	// Further reads stay at EOF.
	if _, err := r.ReadChunk(); !errors.Is(err, io.EOF) {
		t.Errorf("second EOF read: got %v", err)
	}
}

func TestReaderUncompressedVideo(t *testing.T) {
	t.Parallel()
	w := NewWriter()
	v := w.AddVideo("", 2, 2, 24, 1, 25)
	if err := w.WriteChunk(v, make([]byte, 12), true); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if r.Streams[0].Video.Compression != [4]byte{} {
		t.Errorf("compression = %q, want BI_RGB", r.Streams[0].Video.Compression)
	}
	c, err := r.ReadChunk()
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind != "db" {
		t.Errorf("kind = %q, want db", c.Kind)
	}
}

func TestReaderTruncated(t *testing.T) {
	t.Parallel()
	clip := buildClip(t, 2)

	// Cut inside the movi list: reads end cleanly at the last whole chunk.
	r, err := NewReader(bytes.NewReader(clip[:len(clip)-200]))
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for {
		_, err := r.ReadChunk()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n == 0 || n >= 4 {
		t.Errorf("chunks read = %d, want 1..3", n)
	}
}

func TestReaderRejectsNonAVI(t *testing.T) {
	t.Parallel()
	cases := map[string][]byte{
		"short": []byte("RIFF"),
		"wave":  append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 16)...),
		"ts":    append([]byte{0x47}, make([]byte, 187)...),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := NewReader(bytes.NewReader(data))
			if err == nil {
				t.Fatal("expected error")
			}
			var aerr *Error
			if !errors.As(err, &aerr) {
				t.Errorf("error %v is not *avi.Error", err)
			}
		})
	}
}

func TestWriterInvalidStream(t *testing.T) {
	t.Parallel()
	w := NewWriter()
	if err := w.WriteChunk(0, []byte{1}, true); err == nil {
		t.Error("WriteChunk without streams should fail")
	}
	if _, err := w.WriteTo(io.Discard); err == nil {
		t.Error("WriteTo without streams should fail")
	}
}

func TestReaderCorruptChunkSize(t *testing.T) {
	t.Parallel()
	for _, size := range []uint32{0xFFFFFFFF, 0xFFFFFFFE, 0x7FFFFFFF, 1 << 20} {
		data := buildClip(t, 3)
		movi := bytes.Index(data, []byte(fccMovi))
		at := movi + bytes.Index(data[movi:], []byte("00dc"))
		le.PutUint32(data[at+4:], size)

		r, err := NewReader(bytes.NewReader(data))
		if err != nil {
			t.Fatal(err)
		}
		_, err = r.ReadChunk()
		var aerr *Error
		if !errors.Is(err, ErrCorrupt) || !errors.As(err, &aerr) {
			t.Fatalf("size 0x%X: err = %v, want ErrCorrupt", size, err)
		}
		if _, err := r.ReadChunk(); !errors.Is(err, io.EOF) {
			t.Errorf("size 0x%X: after corrupt chunk err = %v, want io.EOF", size, err)
		}
	}
}

func TestReaderCorruptLaterChunk(t *testing.T) {
	t.Parallel()
	data := buildClip(t, 3)
	movi := bytes.Index(data, []byte(fccMovi))
	at := movi + bytes.Index(data[movi:], []byte("01wb"))
	le.PutUint32(data[at+4:], 0xFFFFFFFF)

	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	c, err := r.ReadChunk()
	if err != nil || c.StreamIndex != 0 || len(c.Data) != 101 {
		t.Fatalf("first chunk = %+v, %v", c, err)
	}
	if _, err := r.ReadChunk(); !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}

func TestReaderOversizedHeaderList(t *testing.T) {
	t.Parallel()
	data := buildClip(t, 1)
	at := bytes.Index(data, []byte(fccHdrl)) - 4
	le.PutUint32(data[at:], 0xFFFFFFF0)

	if _, err := NewReader(bytes.NewReader(data)); !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}
