package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/zsiec/cadence/internal/media"
)

const wavHeaderSize = 44

// WAVWriter writes interleaved PCM as a RIFF WAVE file. Sizes in the header
// are patched on Close when the destination can seek; otherwise they are
// left at the streaming placeholder (0xFFFFFFFF).
type WAVWriter struct {
	mu     sync.Mutex
	w      io.Writer
	format media.AudioFormat
	n      int64
	err    error
}

// NewWAVWriter writes the header for format to w.
func NewWAVWriter(w io.Writer, format media.AudioFormat) (*WAVWriter, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("audio: invalid WAV format %s", format)
	}
	ww := &WAVWriter{w: w, format: format}
	if _, err := w.Write(wavHeader(format, math.MaxUint32-wavHeaderSize+8)); err != nil {
		return nil, fmt.Errorf("audio: write WAV header: %w", err)
	}
	return ww, nil
}

// Write appends PCM bytes. It is safe to call from the audio goroutine.
func (ww *WAVWriter) Write(p []byte) (int, error) {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.err != nil {
		return 0, ww.err
	}
	n, err := ww.w.Write(p)
	ww.n += int64(n)
	ww.err = err
	return n, err
}

// Close patches the header sizes if possible and closes the destination if
// it is an io.Closer.
func (ww *WAVWriter) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	var err error
	if ws, ok := ww.w.(io.WriteSeeker); ok && ww.n <= math.MaxUint32-wavHeaderSize {
		if _, serr := ws.Seek(0, io.SeekStart); serr == nil {
			_, err = ws.Write(wavHeader(ww.format, uint32(ww.n)))
		}
	}
	if c, ok := ww.w.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	if ww.err == nil {
		ww.err = errors.New("audio: WAV writer closed")
	}
	return err
}

func wavHeader(f media.AudioFormat, dataSize uint32) []byte {
	h := make([]byte, wavHeaderSize)
	tag := uint16(1)
	if f.Sample == media.SampleF32 {
		tag = 3
	}
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], dataSize+wavHeaderSize-8)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], tag)
	binary.LittleEndian.PutUint16(h[22:], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(h[32:], uint16(f.BytesPerFrame()))
	binary.LittleEndian.PutUint16(h[34:], uint16(8*f.Sample.BytesPerSample()))
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], dataSize)
	return h
}
