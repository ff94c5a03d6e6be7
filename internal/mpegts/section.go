package mpegts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrSectionCRC reports a PSI section whose CRC32 does not verify.
var ErrSectionCRC = errors.New("mpegts: section CRC32 mismatch")

// errSectionTruncated reports a section that continues past the payload.
var errSectionTruncated = errors.New("mpegts: section truncated")

const (
	sectionHeader = 8 // table_id through last_section_number
	sectionCRCLen = 4
)

// crcTable drives the MPEG-2 CRC32: polynomial 0x04C11DB7, MSB first, no
// final XOR. hash/crc32 only implements the reflected form.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for range 8 {
			c = c<<1 ^ 0x04C11DB7*(c>>31)
		}
		t[i] = c
	}
	return t
}()

// sectionCRC returns the CRC of b. Over a whole section including its
// trailing CRC the result is zero.
func sectionCRC(b []byte) uint32 {
	crc := ^uint32(0)
	for _, v := range b {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^v]
	}
	return crc
}

// psiSection is one long-form PSI section with its framing removed.
type psiSection struct {
	tableID uint8
	// extension is the transport_stream_id of a PAT or the program_number
	// of a PMT.
	extension uint16
	version   uint8
	body      []byte
}

// readSection validates the section at the start of b and returns it with
// the number of bytes it occupies.
func readSection(b []byte) (psiSection, int, error) {
	if len(b) < 3 {
		return psiSection{}, 0, errSectionTruncated
	}
	n := 3 + int(binary.BigEndian.Uint16(b[1:])&0x0FFF)
	if n > len(b) {
		return psiSection{}, 0, errSectionTruncated
	}
	if n < sectionHeader+sectionCRCLen {
		return psiSection{}, 0, fmt.Errorf("mpegts: section length %d below minimum", n)
	}
	if sectionCRC(b[:n]) != 0 {
		return psiSection{}, 0, fmt.Errorf("%w (table 0x%02X)", ErrSectionCRC, b[0])
	}
	return psiSection{
		tableID:   b[0],
		extension: binary.BigEndian.Uint16(b[3:]),
		version:   b[5] >> 1 & 0x1F,
		body:      b[sectionHeader : n-sectionCRCLen],
	}, n, nil
}

// sealSection fills in section_length of s, whose header is in place, and
// appends the CRC32.
func sealSection(s []byte) []byte {
	n := len(s) - 3 + sectionCRCLen
	s[1] = 0xB0 | byte(n>>8)&0x0F
	s[2] = byte(n)
	return binary.BigEndian.AppendUint32(s, sectionCRC(s))
}
