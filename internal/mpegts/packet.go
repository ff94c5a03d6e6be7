package mpegts

import (
	"errors"
	"fmt"
)

const (
	packetSize = 188
	syncByte   = 0x47
)

// Adaptation field flag bits.
const (
	afDiscontinuity = 0x80
	afRandomAccess  = 0x40
	afPCR           = 0x10
)

// ErrSyncByte reports a packet that does not start with 0x47.
var ErrSyncByte = errors.New("mpegts: lost sync")

// parsePacket decodes one 188-byte packet. The payload is copied because
// the caller reuses buf.
func parsePacket(buf []byte) (*Packet, error) {
	if len(buf) != packetSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("%w: byte 0x%02X", ErrSyncByte, buf[0])
	}

	p := &Packet{Header: PacketHeader{
		TransportErrorIndicator:   buf[1]&0x80 != 0,
		PayloadUnitStartIndicator: buf[1]&0x40 != 0,
		PID:                       uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
		HasAdaptationField:        buf[3]&0x20 != 0,
		HasPayload:                buf[3]&0x10 != 0,
		ContinuityCounter:         buf[3] & 0x0F,
	}}

	start := 4
	if p.Header.HasAdaptationField {
		afLen := int(buf[4])
		start = min(5+afLen, packetSize)
		parseAdaptationField(&p.Header, buf[5:start])
	}
	if p.Header.HasPayload && start < packetSize {
		p.Payload = append([]byte(nil), buf[start:]...)
	}
	return p, nil
}

// parseAdaptationField reads the flags byte and the PCR if present. af
// excludes the length byte and may be truncated.
func parseAdaptationField(h *PacketHeader, af []byte) {
	if len(af) == 0 {
		return
	}
	flags := af[0]
	h.DiscontinuityIndicator = flags&afDiscontinuity != 0
	h.RandomAccessIndicator = flags&afRandomAccess != 0
	if flags&afPCR != 0 && len(af) >= 7 {
		h.PCR = parsePCR(af[1:7])
	}
}

// parsePCR decodes the 33-bit base and 9-bit extension of a program clock
// reference.
func parsePCR(b []byte) *ClockReference {
	base := int64(b[0])<<25 | int64(b[1])<<17 | int64(b[2])<<9 | int64(b[3])<<1 | int64(b[4])>>7
	ext := uint16(b[4]&0x01)<<8 | uint16(b[5])
	return &ClockReference{Base: base, Extension: ext}
}
