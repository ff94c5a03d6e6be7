package mpegts

import (
	"errors"
	"fmt"
	"io"
)

// Default PIDs used by Muxer for its single program.
const (
	DefaultPMTPID     uint16 = 0x1000
	DefaultProgramNum uint16 = 1
)

// MuxerStream declares one elementary stream of the muxed program.
type MuxerStream struct {
	PID         uint16
	StreamType  uint8
	StreamID    uint8
	Descriptors []Descriptor
}

// Muxer writes a single-program transport stream. Tables are emitted by
// WriteTables; PES units by WritePES. The first declared stream carries the
// PCR.
type Muxer struct {
	w       io.Writer
	streams []MuxerStream
	pmtPID  uint16
	cc      map[uint16]uint8
	pkt     [packetSize]byte
}

// NewMuxer creates a Muxer writing to w.
func NewMuxer(w io.Writer, streams ...MuxerStream) *Muxer {
	return &Muxer{
		w:       w,
		streams: streams,
		pmtPID:  DefaultPMTPID,
		cc:      make(map[uint16]uint8),
	}
}

// WriteTables writes one PAT and one PMT. Call it before the first PES and
// periodically thereafter so readers can join mid-stream.
func (m *Muxer) WriteTables() error {
	if len(m.streams) == 0 {
		return errors.New("mpegts: muxer has no streams")
	}
	if err := m.writeSection(pidPAT, patSection(1, PATProgram{ProgramNumber: DefaultProgramNum, ProgramMapID: m.pmtPID})); err != nil {
		return fmt.Errorf("mpegts: write PAT: %w", err)
	}
	if err := m.writeSection(m.pmtPID, pmtSection(DefaultProgramNum, m.streams[0].PID, m.streams)); err != nil {
		return fmt.Errorf("mpegts: write PMT: %w", err)
	}
	return nil
}

// WritePES writes data as one PES packet with a 90 kHz PTS on pid.
func (m *Muxer) WritePES(pid uint16, pts int64, data []byte) error {
	var st *MuxerStream
	for i := range m.streams {
		if m.streams[i].PID == pid {
			st = &m.streams[i]
			break
		}
	}
	if st == nil {
		return fmt.Errorf("mpegts: PID 0x%04X not declared", pid)
	}

	pts &= PTSModulus - 1
	pesLen := 3 + 5 + len(data)
	pes := make([]byte, 0, 6+pesLen)
	pes = append(pes, 0x00, 0x00, 0x01, st.StreamID)
	if pesLen <= 0xFFFF {
		pes = append(pes, byte(pesLen>>8), byte(pesLen))
	} else {
		pes = append(pes, 0, 0)
	}
	pes = append(pes, 0x80, 0x80, 5)
	pes = append(pes, putTimestamp(0x2, pts)...)
	pes = append(pes, data...)

	withPCR := pid == m.streams[0].PID
	return m.writePackets(pid, pes, pts, withPCR)
}

func (m *Muxer) writeSection(pid uint16, section []byte) error {
	payload := make([]byte, 0, packetSize-4)
	payload = append(payload, 0x00) // pointer_field
	payload = append(payload, section...)
	for len(payload)%(packetSize-4) != 0 {
		payload = append(payload, 0xFF)
	}
	return m.writePackets(pid, payload, 0, false)
}

// writePackets splits payload into TS packets on pid, filling the final
// packet with adaptation-field stuffing. When withPCR is set the first packet
// carries a PCR equal to pcrBase.
func (m *Muxer) writePackets(pid uint16, payload []byte, pcrBase int64, withPCR bool) error {
	first := true
	for first || len(payload) > 0 {
		pkt := m.pkt[:]
		pkt[0] = syncByte
		pkt[1] = byte(pid>>8) & 0x1F
		if first {
			pkt[1] |= 0x40
		}
		pkt[2] = byte(pid)
		cc := m.cc[pid]
		m.cc[pid] = (cc + 1) & 0x0F
		pkt[3] = 0x10 | cc

		var af []byte
		hasAF := false
		if first && withPCR {
			af = append(af, 0x10)
			af = append(af, putPCR(pcrBase)...)
			hasAF = true
		}
		room := packetSize - 4
		if hasAF {
			room -= 1 + len(af)
		}
		n := min(len(payload), room)
		if stuff := room - n; stuff > 0 {
			if !hasAF {
				hasAF = true
				stuff-- // length byte
				if stuff > 0 {
					af = append(af, 0x00)
					stuff--
				}
			}
			for ; stuff > 0; stuff-- {
				af = append(af, 0xFF)
			}
		}

		off := 4
		if hasAF {
			pkt[3] |= 0x20
			pkt[4] = byte(len(af))
			copy(pkt[5:], af)
			off = 5 + len(af)
		}
		copy(pkt[off:], payload[:n])
		payload = payload[n:]
		first = false

		if _, err := m.w.Write(pkt); err != nil {
			return err
		}
	}
	return nil
}

func patSection(tsID uint16, programs ...PATProgram) []byte {
	s := []byte{tableIDPAT, 0, 0, byte(tsID >> 8), byte(tsID), 0xC1, 0x00, 0x00}
	for _, p := range programs {
		s = append(s, byte(p.ProgramNumber>>8), byte(p.ProgramNumber),
			0xE0|byte(p.ProgramMapID>>8), byte(p.ProgramMapID))
	}
	return sealSection(s)
}

func pmtSection(program, pcrPID uint16, streams []MuxerStream) []byte {
	s := []byte{
		tableIDPMT, 0, 0,
		byte(program >> 8), byte(program),
		0xC1, 0x00, 0x00,
		0xE0 | byte(pcrPID>>8), byte(pcrPID),
		0xF0, 0x00, // program_info_length
	}
	for _, st := range streams {
		info := appendDescriptors(nil, st.Descriptors)
		s = append(s, st.StreamType, 0xE0|byte(st.PID>>8), byte(st.PID),
			0xF0|byte(len(info)>>8), byte(len(info)))
		s = append(s, info...)
	}
	return sealSection(s)
}

func appendDescriptors(b []byte, ds []Descriptor) []byte {
	for _, d := range ds {
		b = append(b, d.Tag, byte(len(d.Data)))
		b = append(b, d.Data...)
	}
	return b
}

// putTimestamp encodes a 33-bit PTS/DTS with the given 4-bit prefix.
func putTimestamp(prefix byte, ts int64) []byte {
	return []byte{
		prefix<<4 | byte(ts>>29)&0x0E | 0x01,
		byte(ts >> 22),
		byte(ts>>14)&0xFE | 0x01,
		byte(ts >> 7),
		byte(ts<<1)&0xFE | 0x01,
	}
}

// putPCR encodes a program clock reference with a zero extension.
func putPCR(base int64) []byte {
	return []byte{
		byte(base >> 25),
		byte(base >> 17),
		byte(base >> 9),
		byte(base >> 1),
		byte(base<<7)&0x80 | 0x7E,
		0x00,
	}
}
