// Package avi reads and writes RIFF AVI files. The reader is streaming: it
// parses the header list and then yields movi chunks in file order without
// seeking, so it works on pipes and network sources as well as files. The
// writer buffers everything in memory and is meant for short clips.
package avi

import (
	"encoding/binary"
	"fmt"
)

// RIFF identifiers.
const (
	fccRIFF = "RIFF"
	fccAVI  = "AVI "
	fccLIST = "LIST"
	fccHdrl = "hdrl"
	fccStrl = "strl"
	fccMovi = "movi"
	fccRec  = "rec "
	fccAvih = "avih"
	fccStrh = "strh"
	fccStrf = "strf"
	fccIdx1 = "idx1"
	fccJunk = "JUNK"
)

// Stream types found in strh.
const (
	TypeVideo = "vids"
	TypeAudio = "auds"
)

// WAVE format tags.
const (
	WaveFormatPCM   uint16 = 0x0001
	WaveFormatFloat uint16 = 0x0003
	WaveFormatMP3   uint16 = 0x0055
	WaveFormatAAC   uint16 = 0x00FF
	WaveFormatAC3   uint16 = 0x2000
)

// AVIF / AVIIF flags.
const (
	flagHasIndex     uint32 = 0x00000010
	flagIsInterleave uint32 = 0x00000100
	indexKeyframe    uint32 = 0x00000010
)

// MainHeader is the avih chunk.
type MainHeader struct {
	MicroSecPerFrame    uint32
	MaxBytesPerSec      uint32
	PaddingGranularity  uint32
	Flags               uint32
	TotalFrames         uint32
	InitialFrames       uint32
	Streams             uint32
	SuggestedBufferSize uint32
	Width               uint32
	Height              uint32
	Reserved            [4]uint32
}

// StreamHeader is the strh chunk.
type StreamHeader struct {
	Type                [4]byte
	Handler             [4]byte
	Flags               uint32
	Priority            uint16
	Language            uint16
	InitialFrames       uint32
	Scale               uint32
	Rate                uint32
	Start               uint32
	Length              uint32
	SuggestedBufferSize uint32
	Quality             uint32
	SampleSize          uint32
	Frame               [4]uint16
}

// BitmapInfo is the BITMAPINFOHEADER carried in a video strf. A positive
// Height means a bottom-up DIB.
type BitmapInfo struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   [4]byte
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

// WaveFormat is the WAVEFORMATEX carried in an audio strf, without the
// trailing cbSize extension.
type WaveFormat struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
}

const (
	mainHeaderSize   = 56
	streamHeaderSize = 56
	bitmapInfoSize   = 40
	waveFormatSize   = 16
)

// Stream describes one strl entry.
type Stream struct {
	Index  int
	Header StreamHeader
	Video  *BitmapInfo
	Audio  *WaveFormat
	// Format is the raw strf payload.
	Format []byte
}

// Type returns the four-character stream type ("vids", "auds", ...).
func (s *Stream) Type() string {
	return string(s.Header.Type[:])
}

// Handler returns the four-character codec handler with NUL padding
// trimmed.
func (s *Stream) Handler() string {
	return trimFourCC(s.Header.Handler)
}

// FrameRate returns Rate/Scale, or zero if Scale is unset.
func (s *Stream) FrameRate() float64 {
	if s.Header.Scale == 0 {
		return 0
	}
	return float64(s.Header.Rate) / float64(s.Header.Scale)
}

// Chunk is one data chunk from the movi list.
type Chunk struct {
	StreamIndex int
	// Kind is the two-character suffix of the chunk id: "dc", "db", "wb"...
	Kind string
	Data []byte
}

// Error wraps a failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("avi: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// chunkID builds "NNxx" for stream n.
func chunkID(stream int, twoCC string) [4]byte {
	return [4]byte{byte('0' + stream/10), byte('0' + stream%10), twoCC[0], twoCC[1]}
}

// parseChunkID splits "NNxx" into a stream number and suffix.
func parseChunkID(id [4]byte) (int, string, bool) {
	if id[0] < '0' || id[0] > '9' || id[1] < '0' || id[1] > '9' {
		return 0, "", false
	}
	return int(id[0]-'0')*10 + int(id[1]-'0'), string(id[2:]), true
}

func fourCC(s string) [4]byte {
	var id [4]byte
	copy(id[:], s)
	return id
}

func trimFourCC(id [4]byte) string {
	n := 4
	for n > 0 && (id[n-1] == 0 || id[n-1] == ' ') {
		n--
	}
	return string(id[:n])
}

// align rounds a chunk size up to the RIFF word boundary. It works in int64
// so 0xFFFFFFFF does not wrap to zero.
func align(n uint32) int64 {
	return (int64(n) + 1) &^ 1
}

var le = binary.LittleEndian
