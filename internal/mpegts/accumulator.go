package mpegts

import "sort"

const pidPAT = 0x0000

// programMap tracks which PIDs carry PMT sections.
type programMap struct {
	m map[uint16]bool
}

func newProgramMap() *programMap {
	return &programMap{m: make(map[uint16]bool)}
}

func (pm *programMap) addPMTPID(pid uint16) {
	pm.m[pid] = true
}

func (pm *programMap) isPMTPID(pid uint16) bool {
	return pm.m[pid]
}

// packetAccumulator buffers packets for a single PID until a flush trigger.
type packetAccumulator struct {
	pid        uint16
	packets    []*Packet
	programMap *programMap
	stats      *DemuxerStats
	lastCC     int
}

func newPacketAccumulator(pid uint16, pm *programMap, stats *DemuxerStats) *packetAccumulator {
	if stats == nil {
		stats = &DemuxerStats{}
	}
	return &packetAccumulator{
		pid:        pid,
		programMap: pm,
		stats:      stats,
		lastCC:     -1,
	}
}

func (pa *packetAccumulator) add(p *Packet) []*Packet {
	// Skip packets with transport errors.
	if p.Header.TransportErrorIndicator {
		pa.packets = nil
		return nil
	}

	// Skip adaptation-only packets (no payload).
	if !p.Header.HasPayload {
		return nil
	}

	// A signaled discontinuity indicator means the CC jump is expected.
	if pa.lastCC >= 0 && !p.Header.DiscontinuityIndicator {
		prev := uint8(pa.lastCC)
		expected := (prev + 1) & 0x0F
		if p.Header.ContinuityCounter != expected {
			if p.Header.ContinuityCounter == prev {
				pa.stats.Duplicates.Add(1)
				return nil
			}
			// Unsignaled discontinuity: the buffered unit is incomplete.
			pa.stats.Discontinuities.Add(1)
			pa.packets = nil
		}
	}
	pa.lastCC = int(p.Header.ContinuityCounter)

	var flushed []*Packet

	if p.Header.PayloadUnitStartIndicator && len(pa.packets) > 0 {
		flushed = pa.packets
		pa.packets = nil
	}

	pa.packets = append(pa.packets, p)

	// Complete sections and bounded PES units go out without waiting for
	// the next unit start.
	if flushed == nil {
		var done bool
		if pa.isPSI() {
			done = isPSIComplete(pa.packets)
		} else {
			done = isPESComplete(pa.packets)
		}
		if done {
			flushed = pa.packets
			pa.packets = nil
		}
	}

	return flushed
}

// isPESComplete reports whether packets hold a whole PES unit with a
// non-zero PES_packet_length. Unbounded units (video) complete only at the
// next unit start.
func isPESComplete(packets []*Packet) bool {
	first := packets[0]
	if !first.Header.PayloadUnitStartIndicator || !isPESPayload(first.Payload) || len(first.Payload) < pesFixedHeader {
		return false
	}
	want := pesFixedHeader + (int(first.Payload[4])<<8 | int(first.Payload[5]))
	if want == pesFixedHeader {
		return false
	}
	have := 0
	for _, p := range packets {
		have += len(p.Payload)
	}
	return have >= want
}

func (pa *packetAccumulator) isPSI() bool {
	return pa.pid == pidPAT || pa.programMap.isPMTPID(pa.pid)
}

func (pa *packetAccumulator) flush() []*Packet {
	if len(pa.packets) == 0 {
		return nil
	}
	flushed := pa.packets
	pa.packets = nil
	return flushed
}

// isPSIComplete checks whether the accumulated payloads contain a complete PSI section.
func isPSIComplete(packets []*Packet) bool {
	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.Payload...)
	}
	if len(payload) < 1 {
		return false
	}

	pointerField := int(payload[0])
	offset := 1 + pointerField
	if offset >= len(payload) {
		return false
	}

	// Walk sections.
	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return true // stuffing bytes, section is complete
		}
		if offset+3 > len(payload) {
			return false
		}
		// section_syntax_indicator must be 1 for PAT/PMT.
		// Zero-padding bytes will have this bit clear.
		if payload[offset+1]&0x80 == 0 {
			return true // not a valid section header, treat as padding
		}
		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		needed := 3 + sectionLength
		if offset+needed > len(payload) {
			return false
		}
		offset += needed
	}
	return true
}

// packetPool manages per-PID accumulators.
type packetPool struct {
	accs       map[uint16]*packetAccumulator
	programMap *programMap
	stats      *DemuxerStats
}

func newPacketPool(pm *programMap, stats *DemuxerStats) *packetPool {
	return &packetPool{
		accs:       make(map[uint16]*packetAccumulator),
		programMap: pm,
		stats:      stats,
	}
}

func (pp *packetPool) add(p *Packet) []*Packet {
	pid := p.Header.PID
	acc, ok := pp.accs[pid]
	if !ok {
		acc = newPacketAccumulator(pid, pp.programMap, pp.stats)
		pp.accs[pid] = acc
	}
	return acc.add(p)
}

func (pp *packetPool) dump() [][]*Packet {
	// Sort by PID so PAT (PID 0) is processed before PMT PIDs.
	pids := make([]int, 0, len(pp.accs))
	for pid := range pp.accs {
		pids = append(pids, int(pid))
	}
	sort.Ints(pids)

	var all [][]*Packet
	for _, pid := range pids {
		if packets := pp.accs[uint16(pid)].flush(); packets != nil {
			all = append(all, packets)
		}
	}
	return all
}
