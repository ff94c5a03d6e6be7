package mpegts

import (
	"errors"
	"fmt"
)

// ErrPESStartCode reports a PES unit without the 0x000001 prefix.
var ErrPESStartCode = errors.New("mpegts: missing PES start code")

const (
	pesFixedHeader = 6 // start code, stream_id, PES_packet_length
	pesOptHeader   = 3 // flag bytes and PES_header_data_length
)

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// pesHasOptionalHeader reports whether units of streamID carry the optional
// header. Padding, private_stream_2, ECM, EMM, DSM-CC, H.222.1 type E and
// the program stream directory do not.
func pesHasOptionalHeader(streamID uint8) bool {
	switch streamID {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

// parsePES decodes a reassembled PES unit. A zero PES_packet_length means
// the unit runs to the end of the payload, as video streams do.
func parsePES(payload []byte) (*PESData, error) {
	if len(payload) < pesFixedHeader {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return nil, ErrPESStartCode
	}

	streamID := payload[3]
	end := len(payload)
	if n := int(payload[4])<<8 | int(payload[5]); n > 0 {
		end = min(pesFixedHeader+n, len(payload))
	}
	pes := &PESData{Header: &PESHeader{StreamID: streamID}}

	if !pesHasOptionalHeader(streamID) {
		pes.Data = payload[pesFixedHeader:end]
		return pes, nil
	}
	if len(payload) < pesFixedHeader+pesOptHeader {
		return nil, errors.New("mpegts: PES optional header too short")
	}

	flags := payload[7]
	fields := payload[pesFixedHeader+pesOptHeader:]
	opt := &PESOptionalHeader{DataAlignment: payload[6]&0x04 != 0}
	switch flags >> 6 {
	case 0b10:
		opt.PTS = parsePTSOrDTS(fields)
	case 0b11:
		opt.PTS = parsePTSOrDTS(fields)
		if len(fields) >= 10 {
			opt.DTS = parsePTSOrDTS(fields[5:])
		}
	}
	pes.Header.OptionalHeader = opt

	start := min(pesFixedHeader+pesOptHeader+int(payload[8]), end)
	pes.Data = payload[start:end]
	return pes, nil
}

// parsePTSOrDTS extracts a 33-bit timestamp from the first 5 bytes of bs,
// ignoring the marker bits. It returns nil when bs is short.
func parsePTSOrDTS(bs []byte) *ClockReference {
	if len(bs) < 5 {
		return nil
	}
	base := int64(bs[0]>>1&0x07)<<30 |
		int64(bs[1])<<22 |
		int64(bs[2]>>1)<<15 |
		int64(bs[3])<<7 |
		int64(bs[4]>>1)
	return &ClockReference{Base: base}
}
