package mpegts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

func isPSIPayload(pid uint16, pm *programMap) bool {
	return pid == pidPAT || pm.isPMTPID(pid)
}

// parsePSI decodes the PAT and PMT sections of a reassembled PSI payload.
// Parsing stops at stuffing, at a short-form section, or at a section that
// runs past the payload; other table ids are skipped.
func parsePSI(payload []byte, first *Packet) ([]*DemuxerData, error) {
	if len(payload) == 0 {
		return nil, errors.New("mpegts: empty PSI payload")
	}
	b := payload[1:]
	if int(payload[0]) >= len(b) {
		return nil, fmt.Errorf("mpegts: pointer field %d past payload", payload[0])
	}
	b = b[payload[0]:]

	var out []*DemuxerData
	for len(b) >= 3 && b[0] != 0xFF && b[1]&0x80 != 0 {
		sec, n, err := readSection(b)
		if errors.Is(err, errSectionTruncated) {
			break
		}
		if err != nil {
			return out, err
		}
		b = b[n:]

		switch sec.tableID {
		case tableIDPAT:
			out = append(out, &DemuxerData{FirstPacket: first, PAT: parsePAT(sec)})
		case tableIDPMT:
			pmt, err := parsePMT(sec)
			if err != nil {
				return out, err
			}
			out = append(out, &DemuxerData{FirstPacket: first, PMT: pmt})
		}
	}
	return out, nil
}

// parsePAT lists the programs of a PAT. Program 0 names the network PID
// and is skipped.
func parsePAT(sec psiSection) *PATData {
	pat := &PATData{TransportStreamID: sec.extension, Version: sec.version}
	for b := sec.body; len(b) >= 4; b = b[4:] {
		num := binary.BigEndian.Uint16(b)
		if num == 0 {
			continue
		}
		pat.Programs = append(pat.Programs, &PATProgram{
			ProgramNumber: num,
			ProgramMapID:  binary.BigEndian.Uint16(b[2:]) & 0x1FFF,
		})
	}
	return pat
}

func parsePMT(sec psiSection) (*PMTData, error) {
	b := sec.body
	if len(b) < 4 {
		return nil, fmt.Errorf("mpegts: PMT body %d bytes", len(b))
	}
	pmt := &PMTData{
		ProgramNumber: sec.extension,
		Version:       sec.version,
		PCRPID:        binary.BigEndian.Uint16(b) & 0x1FFF,
	}
	infoLen := int(binary.BigEndian.Uint16(b[2:]) & 0x0FFF)
	b = b[4:]
	if infoLen > len(b) {
		return nil, errors.New("mpegts: PMT program_info overruns section")
	}
	pmt.ProgramDescriptors = parseDescriptors(b[:infoLen])

	for b = b[infoLen:]; len(b) >= 5; {
		esLen := int(binary.BigEndian.Uint16(b[3:]) & 0x0FFF)
		if 5+esLen > len(b) {
			return nil, errors.New("mpegts: PMT ES_info overruns section")
		}
		pmt.ElementaryStreams = append(pmt.ElementaryStreams, &PMTElementaryStream{
			StreamType:    b[0],
			ElementaryPID: binary.BigEndian.Uint16(b[1:]) & 0x1FFF,
			Descriptors:   parseDescriptors(b[5 : 5+esLen]),
		})
		b = b[5+esLen:]
	}
	return pmt, nil
}

// parseDescriptors splits a descriptor loop into tag/length/value entries.
// A truncated trailing descriptor is dropped.
func parseDescriptors(loop []byte) []Descriptor {
	var ds []Descriptor
	for len(loop) >= 2 {
		tag, n := loop[0], int(loop[1])
		if 2+n > len(loop) {
			break
		}
		ds = append(ds, Descriptor{Tag: tag, Data: append([]byte(nil), loop[2:2+n]...)})
		loop = loop[2+n:]
	}
	return ds
}
