package avi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Writer assembles an AVI file in memory. Add every stream before the first
// WriteChunk, then emit the file with WriteTo.
type Writer struct {
	streams []Stream
	units   []uint32
	movi    bytes.Buffer
	index   []indexEntry
}

type indexEntry struct {
	ID     [4]byte
	Flags  uint32
	Offset uint32
	Size   uint32
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// AddVideo declares a video stream with a frame duration of scale/rate
// seconds and returns its index. An empty compression writes an
// uncompressed (BI_RGB) stream.
func (w *Writer) AddVideo(compression string, width, height, bitCount int, scale, rate uint32) int {
	bi := BitmapInfo{
		Size:      bitmapInfoSize,
		Width:     int32(width),
		Height:    int32(height),
		Planes:    1,
		BitCount:  uint16(bitCount),
		SizeImage: uint32(width * height * bitCount / 8),
	}
	if compression != "" {
		bi.Compression = fourCC(compression)
	}
	s := Stream{
		Index: len(w.streams),
		Header: StreamHeader{
			Type:    fourCC(TypeVideo),
			Handler: bi.Compression,
			Scale:   scale,
			Rate:    rate,
			Frame:   [4]uint16{0, 0, uint16(width), uint16(height)},
		},
		Video: &bi,
	}
	w.streams = append(w.streams, s)
	w.units = append(w.units, 0)
	return s.Index
}

// AddAudio declares an audio stream and returns its index.
func (w *Writer) AddAudio(formatTag uint16, channels, sampleRate, bitsPerSample int) int {
	blockAlign := channels * bitsPerSample / 8
	wf := WaveFormat{
		FormatTag:      formatTag,
		Channels:       uint16(channels),
		SamplesPerSec:  uint32(sampleRate),
		AvgBytesPerSec: uint32(sampleRate * blockAlign),
		BlockAlign:     uint16(blockAlign),
		BitsPerSample:  uint16(bitsPerSample),
	}
	s := Stream{
		Index: len(w.streams),
		Header: StreamHeader{
			Type:       fourCC(TypeAudio),
			Scale:      uint32(blockAlign),
			Rate:       wf.AvgBytesPerSec,
			SampleSize: uint32(blockAlign),
		},
		Audio: &wf,
	}
	w.streams = append(w.streams, s)
	w.units = append(w.units, 0)
	return s.Index
}

// WriteChunk appends one data chunk for stream.
func (w *Writer) WriteChunk(stream int, data []byte, keyframe bool) error {
	if stream < 0 || stream >= len(w.streams) {
		return &Error{Op: "write chunk", Err: fmt.Errorf("invalid stream index %d", stream)}
	}
	s := &w.streams[stream]
	var twoCC string
	switch {
	case s.Audio != nil:
		twoCC = "wb"
		if s.Header.SampleSize > 0 {
			w.units[stream] += uint32(len(data)) / s.Header.SampleSize
		}
	case s.Video != nil && s.Video.Compression == [4]byte{}:
		twoCC = "db"
		w.units[stream]++
	default:
		twoCC = "dc"
		w.units[stream]++
	}

	id := chunkID(stream, twoCC)
	var flags uint32
	if keyframe {
		flags = indexKeyframe
	}
	w.index = append(w.index, indexEntry{
		ID:     id,
		Flags:  flags,
		Offset: uint32(4 + w.movi.Len()),
		Size:   uint32(len(data)),
	})
	writeChunk(&w.movi, string(id[:]), data)
	return nil
}

// WriteTo writes the complete file to out.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	if len(w.streams) == 0 {
		return 0, &Error{Op: "write", Err: fmt.Errorf("no streams")}
	}

	var hdrl bytes.Buffer
	hdrl.WriteString(fccHdrl)
	writeChunk(&hdrl, fccAvih, mustBinary(w.mainHeader()))
	for i := range w.streams {
		s := w.streams[i]
		s.Header.Length = w.units[i]
		var strl bytes.Buffer
		strl.WriteString(fccStrl)
		writeChunk(&strl, fccStrh, mustBinary(&s.Header))
		switch {
		case s.Video != nil:
			writeChunk(&strl, fccStrf, mustBinary(s.Video))
		case s.Audio != nil:
			// WAVEFORMATEX with a zero cbSize.
			writeChunk(&strl, fccStrf, append(mustBinary(s.Audio), 0, 0))
		}
		writeChunk(&hdrl, fccLIST, strl.Bytes())
	}

	var idx bytes.Buffer
	for _, e := range w.index {
		_ = binary.Write(&idx, le, &e)
	}

	var body bytes.Buffer
	body.WriteString(fccAVI)
	writeChunk(&body, fccLIST, hdrl.Bytes())
	body.Grow(12 + w.movi.Len())
	var moviHdr [12]byte
	copy(moviHdr[0:4], fccLIST)
	le.PutUint32(moviHdr[4:8], uint32(4+w.movi.Len()))
	copy(moviHdr[8:12], fccMovi)
	body.Write(moviHdr[:])
	body.Write(w.movi.Bytes())
	writeChunk(&body, fccIdx1, idx.Bytes())

	var riff [8]byte
	copy(riff[0:4], fccRIFF)
	le.PutUint32(riff[4:8], uint32(body.Len()))
	n, err := out.Write(riff[:])
	if err != nil {
		return int64(n), &Error{Op: "write", Err: err}
	}
	m, err := body.WriteTo(out)
	if err != nil {
		return int64(n) + m, &Error{Op: "write", Err: err}
	}
	return int64(n) + m, nil
}

func (w *Writer) mainHeader() *MainHeader {
	h := &MainHeader{
		Flags:   flagHasIndex | flagIsInterleave,
		Streams: uint32(len(w.streams)),
	}
	for i, s := range w.streams {
		if s.Video == nil {
			continue
		}
		if s.Header.Rate > 0 {
			h.MicroSecPerFrame = uint32(uint64(s.Header.Scale) * 1_000_000 / uint64(s.Header.Rate))
		}
		h.TotalFrames = w.units[i]
		h.Width = uint32(s.Video.Width)
		h.Height = uint32(max(s.Video.Height, -s.Video.Height))
		break
	}
	return h
}

func writeChunk(buf *bytes.Buffer, id string, data []byte) {
	var hdr [8]byte
	copy(hdr[0:4], id)
	le.PutUint32(hdr[4:8], uint32(len(data)))
	buf.Write(hdr[:])
	buf.Write(data)
	if len(data)%2 == 1 {
		buf.WriteByte(0)
	}
}

// mustBinary encodes a fixed-size struct. The types passed here are all
// fixed-size so encoding cannot fail.
func mustBinary(v any) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, le, v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
