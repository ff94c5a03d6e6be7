package mpegts

import (
	"errors"
	"testing"
)

const noTS = -1

// pesUnit builds a PES unit. A negative pts or dts omits the field. Video
// stream ids get PES_packet_length 0, as muxers write for unbounded units.
func pesUnit(streamID byte, pts, dts int64, data []byte) []byte {
	var opt []byte
	var flags byte
	switch {
	case pts >= 0 && dts >= 0:
		flags = 0xC0
		opt = append(putTimestamp(0x3, pts), putTimestamp(0x1, dts)...)
	case pts >= 0:
		flags = 0x80
		opt = putTimestamp(0x2, pts)
	}

	length := pesOptHeader + len(opt) + len(data)
	if streamID&0xF0 == 0xE0 {
		length = 0
	}
	b := []byte{0x00, 0x00, 0x01, streamID, byte(length >> 8), byte(length), 0x80, flags, byte(len(opt))}
	b = append(b, opt...)
	return append(b, data...)
}

func TestParsePES(t *testing.T) {
	t.Parallel()
	long := make([]byte, 500)
	for i := range long {
		long[i] = byte(i)
	}

	tests := []struct {
		name     string
		unit     []byte
		streamID uint8
		pts, dts int64 // noTS when absent
		dataLen  int
	}{
		{"lpcm audio", pesUnit(0xBD, 1800, noTS, []byte{1, 2, 3}), 0xBD, 1800, noTS, 3},
		{"video with dts", pesUnit(0xE0, 2790000, 2782492, []byte{1, 2}), 0xE0, 2790000, 2782492, 2},
		{"no timestamps", pesUnit(0xC0, noTS, noTS, []byte{1}), 0xC0, noTS, noTS, 1},
		{"unbounded video", pesUnit(0xE0, 90000, noTS, long), 0xE0, 90000, noTS, 500},
		{"max pts", pesUnit(0xC0, PTSModulus-1, noTS, []byte{0}), 0xC0, PTSModulus - 1, noTS, 1},
		{"length shorter than payload", append(pesUnit(0xC0, 0, noTS, []byte{9}), 0xEE, 0xEE), 0xC0, 0, noTS, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pes, err := parsePES(tt.unit)
			if err != nil {
				t.Fatal(err)
			}
			if pes.Header.StreamID != tt.streamID {
				t.Errorf("stream id = 0x%02X, want 0x%02X", pes.Header.StreamID, tt.streamID)
			}
			opt := pes.Header.OptionalHeader
			if opt == nil {
				t.Fatal("optional header missing")
			}
			if got := tsOrNone(opt.PTS); got != tt.pts {
				t.Errorf("PTS = %d, want %d", got, tt.pts)
			}
			if got := tsOrNone(opt.DTS); got != tt.dts {
				t.Errorf("DTS = %d, want %d", got, tt.dts)
			}
			if len(pes.Data) != tt.dataLen {
				t.Errorf("data length = %d, want %d", len(pes.Data), tt.dataLen)
			}
		})
	}
}

func tsOrNone(cr *ClockReference) int64 {
	if cr == nil {
		return noTS
	}
	return cr.Base
}

func TestParsePESWithoutOptionalHeader(t *testing.T) {
	t.Parallel()
	for _, id := range []byte{0xBE, 0xBF, 0xF0, 0xFF} {
		unit := []byte{0x00, 0x00, 0x01, id, 0x00, 0x04, 0x80, 0x80, 0x05, 0xFF}
		pes, err := parsePES(unit)
		if err != nil {
			t.Fatalf("stream 0x%02X: %v", id, err)
		}
		if pes.Header.OptionalHeader != nil || len(pes.Data) != 4 {
			t.Errorf("stream 0x%02X: optional header %v, %d data bytes", id, pes.Header.OptionalHeader, len(pes.Data))
		}
	}
}

func TestParsePESErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		unit    []byte
		wantErr error // nil accepts any error
	}{
		{"no start code", []byte{0x00, 0x00, 0x00, 0xE0, 0x00, 0x00}, ErrPESStartCode},
		{"fixed header short", []byte{0x00, 0x00, 0x01}, nil},
		{"optional header short", []byte{0x00, 0x00, 0x01, 0xC0, 0x00, 0x00, 0x80}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := parsePES(tt.unit)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParsePESDataAlignment(t *testing.T) {
	t.Parallel()
	unit := pesUnit(0xBD, 1800, noTS, []byte{0x01, 0x02})
	pes, err := parsePES(unit)
	if err != nil {
		t.Fatal(err)
	}
	if pes.Header.OptionalHeader.DataAlignment {
		t.Error("DataAlignment = true for an unaligned unit")
	}
	unit[6] |= 0x04
	if pes, err = parsePES(unit); err != nil {
		t.Fatal(err)
	}
	if !pes.Header.OptionalHeader.DataAlignment {
		t.Error("DataAlignment = false, want true")
	}
}

func TestParsePESHeaderLengthPastEnd(t *testing.T) {
	t.Parallel()
	unit := pesUnit(0xC0, 90000, noTS, []byte{0xAA})
	unit[8] = 0xFF
	pes, err := parsePES(unit)
	if err != nil {
		t.Fatal(err)
	}
	if len(pes.Data) != 0 {
		t.Errorf("data length = %d, want 0", len(pes.Data))
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	t.Parallel()
	for _, v := range []int64{0, 1, 1800, 90000, 2790000, PTSModulus - 1} {
		if got := parsePTSOrDTS(putTimestamp(0x2, v)); got == nil || got.Base != v {
			t.Errorf("round trip %d: got %+v", v, got)
		}
	}
	if parsePTSOrDTS([]byte{0x21, 0x00}) != nil {
		t.Error("short timestamp parsed")
	}
}
