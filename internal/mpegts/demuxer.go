package mpegts

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync/atomic"
)

// DemuxerStats counts transport-level anomalies seen by a Demuxer. All
// fields are safe to read while the demuxer runs.
type DemuxerStats struct {
	Packets         atomic.Int64
	CorruptPackets  atomic.Int64
	Resyncs         atomic.Int64
	Discontinuities atomic.Int64
	Duplicates      atomic.Int64
	CorruptSections atomic.Int64
}

// DemuxerStatsSnapshot is a point-in-time copy of DemuxerStats.
type DemuxerStatsSnapshot struct {
	Packets         int64 `json:"packets"`
	CorruptPackets  int64 `json:"corruptPackets"`
	Resyncs         int64 `json:"resyncs"`
	Discontinuities int64 `json:"discontinuities"`
	Duplicates      int64 `json:"duplicates"`
	CorruptSections int64 `json:"corruptSections"`
}

// Snapshot copies the current counter values.
func (s *DemuxerStats) Snapshot() DemuxerStatsSnapshot {
	return DemuxerStatsSnapshot{
		Packets:         s.Packets.Load(),
		CorruptPackets:  s.CorruptPackets.Load(),
		Resyncs:         s.Resyncs.Load(),
		Discontinuities: s.Discontinuities.Load(),
		Duplicates:      s.Duplicates.Load(),
		CorruptSections: s.CorruptSections.Load(),
	}
}

// Demuxer reads MPEG-TS packets from a reader and produces DemuxerData
// containing parsed PAT, PMT, and PES payloads.
type Demuxer struct {
	ctx        context.Context
	reader     *bufio.Reader
	readBuf    []byte
	pool       *packetPool
	programMap *programMap
	dataBuffer []*DemuxerData
	pktSize    int
	eof        bool
	eofData    []*DemuxerData
	stats      DemuxerStats
}

// NewDemuxer creates a new MPEG-TS demuxer reading from r.
func NewDemuxer(ctx context.Context, r io.Reader, opts ...func(*Demuxer)) *Demuxer {
	d := &Demuxer{
		ctx:        ctx,
		pktSize:    packetSize,
		programMap: newProgramMap(),
	}
	d.pool = newPacketPool(d.programMap, &d.stats)
	for _, opt := range opts {
		opt(d)
	}
	d.readBuf = make([]byte, d.pktSize)
	d.reader = bufio.NewReaderSize(r, 64*d.pktSize)
	return d
}

// DemuxerOptPacketSize sets the TS packet size (default 188). Sizes above
// 188 (e.g. 192-byte M2TS) carry a prefix that is skipped.
func DemuxerOptPacketSize(size int) func(*Demuxer) {
	return func(d *Demuxer) {
		if size >= packetSize {
			d.pktSize = size
		}
	}
}

// Stats returns the demuxer's live counters.
func (d *Demuxer) Stats() *DemuxerStats {
	return &d.stats
}

// NextData returns the next parsed unit from the stream. Returns io.EOF
// when all data has been consumed.
func (d *Demuxer) NextData() (*DemuxerData, error) {
	for {
		if len(d.dataBuffer) > 0 {
			data := d.dataBuffer[0]
			d.dataBuffer = d.dataBuffer[1:]
			return data, nil
		}

		if d.eof {
			if len(d.eofData) > 0 {
				data := d.eofData[0]
				d.eofData = d.eofData[1:]
				return data, nil
			}
			return nil, io.EOF
		}

		if d.ctx.Err() != nil {
			return nil, d.ctx.Err()
		}

		err := d.readPacket()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				d.drainPool()
				continue
			}
			return nil, err
		}
		d.stats.Packets.Add(1)

		pkt, err := parsePacket(d.readBuf[d.pktSize-packetSize:])
		if err != nil {
			d.stats.CorruptPackets.Add(1)
			continue
		}

		flushed := d.pool.add(pkt)
		if flushed == nil {
			continue
		}

		results, err := d.processPackets(flushed)
		if err != nil {
			d.stats.CorruptSections.Add(1)
			continue
		}
		if len(results) == 0 {
			continue
		}
		d.learnPrograms(results)

		d.dataBuffer = results[1:]
		return results[0], nil
	}
}

// readPacket fills readBuf with the next packet, realigning first if the
// sync byte is not where it should be.
func (d *Demuxer) readPacket() error {
	off := d.pktSize - packetSize
	buf, err := d.reader.Peek(d.pktSize)
	if err != nil {
		return err
	}
	if buf[off] != syncByte {
		d.stats.CorruptPackets.Add(1)
		d.stats.Resyncs.Add(1)
		if err := d.resync(off); err != nil {
			return err
		}
		if buf, err = d.reader.Peek(d.pktSize); err != nil {
			return err
		}
	}
	copy(d.readBuf, buf)
	_, err = d.reader.Discard(d.pktSize)
	return err
}

// resync discards bytes until the sync byte at off repeats one packet
// later. Near the end of the stream a lone sync byte with a full packet
// behind it is accepted.
func (d *Demuxer) resync(off int) error {
	for {
		if err := d.ctx.Err(); err != nil {
			return err
		}
		if _, err := d.reader.Discard(1); err != nil {
			return err
		}
		buf, err := d.reader.Peek(2 * d.pktSize)
		if len(buf) < d.pktSize {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
		if buf[off] != syncByte {
			continue
		}
		if next := off + d.pktSize; len(buf) > next && buf[next] != syncByte {
			continue
		}
		return nil
	}
}

// learnPrograms registers PMT PIDs announced by any PAT in results so their
// sections are routed to the PSI parser.
func (d *Demuxer) learnPrograms(results []*DemuxerData) {
	for _, r := range results {
		if r.PAT != nil {
			for _, p := range r.PAT.Programs {
				d.programMap.addPMTPID(p.ProgramMapID)
			}
		}
	}
}

func (d *Demuxer) drainPool() {
	for _, packets := range d.pool.dump() {
		results, err := d.processPackets(packets)
		if err != nil {
			d.stats.CorruptSections.Add(1)
			continue
		}
		d.learnPrograms(results)
		d.eofData = append(d.eofData, results...)
	}
}

func (d *Demuxer) processPackets(packets []*Packet) ([]*DemuxerData, error) {
	if len(packets) == 0 {
		return nil, nil
	}

	firstPacket := packets[0]
	pid := firstPacket.Header.PID

	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.Payload...)
	}
	if len(payload) == 0 {
		return nil, nil
	}

	if isPSIPayload(pid, d.programMap) {
		return parsePSI(payload, firstPacket)
	}

	if isPESPayload(payload) {
		pes, err := parsePES(payload)
		if err != nil {
			return nil, err
		}
		return []*DemuxerData{{
			FirstPacket: firstPacket,
			PES:         pes,
		}}, nil
	}

	return nil, nil
}
