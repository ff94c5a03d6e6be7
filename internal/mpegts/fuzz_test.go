package mpegts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func FuzzParsePacket(f *testing.F) {
	f.Add(makePacket(pidPAT, 0, true, nil))
	f.Add(makePacketWithAF(0x100, 7, append([]byte{afPCR | afRandomAccess}, putPCR(PTSModulus-1)...), []byte{0x47}))
	f.Add(makePacketWithAF(0x100, 183, []byte{afDiscontinuity}, nil))
	f.Add(makePacketWithAF(0x100, 255, nil, nil))

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) != packetSize {
			return
		}
		p, err := parsePacket(data)
		if err != nil {
			if !errors.Is(err, ErrSyncByte) {
				t.Fatalf("unexpected error %v", err)
			}
			return
		}
		if len(p.Payload) > packetSize-4 {
			t.Fatalf("payload %d bytes", len(p.Payload))
		}
		if pcr := p.Header.PCR; pcr != nil && (pcr.Base >= PTSModulus || pcr.Extension >= 512) {
			t.Fatalf("PCR out of range: %+v", pcr)
		}
	})
}

func FuzzParsePSI(f *testing.F) {
	f.Add(psiPayload(0, patSection(1, PATProgram{ProgramNumber: 1, ProgramMapID: 0x1000})))
	f.Add(psiPayload(2, pmtSection(1, 0x1100, hdmvStreams())))
	f.Add([]byte{0x00, 0x02, 0xB0, 0xFF})

	f.Fuzz(func(t *testing.T, payload []byte) {
		results, _ := parsePSI(payload, &Packet{})
		for _, r := range results {
			if (r.PAT == nil) == (r.PMT == nil) {
				t.Fatalf("result carries PAT %v and PMT %v", r.PAT != nil, r.PMT != nil)
			}
		}
	})
}

// FuzzDemuxer feeds arbitrary bytes, optionally after a valid stream
// prefix, and requires the demuxer to terminate with io.EOF.
func FuzzDemuxer(f *testing.F) {
	var clip bytes.Buffer
	mux := NewMuxer(&clip, MuxerStream{PID: 0x1100, StreamType: StreamTypeHDMVLPCM, StreamID: 0xBD})
	if err := mux.WriteTables(); err != nil {
		f.Fatal(err)
	}
	for i := range 3 {
		if err := mux.WritePES(0x1100, int64(i)*1800, bytes.Repeat([]byte{0xAB}, 400)); err != nil {
			f.Fatal(err)
		}
	}
	f.Add(clip.Bytes())
	f.Add(append([]byte{0x00, 0x47}, clip.Bytes()...))
	f.Add(bytes.Repeat([]byte{0x47}, 3*packetSize))

	f.Fuzz(func(t *testing.T, stream []byte) {
		dmx := NewDemuxer(context.Background(), bytes.NewReader(stream))
		for range len(stream) + 1 {
			if _, err := dmx.NextData(); err != nil {
				if !errors.Is(err, io.EOF) {
					t.Fatalf("err = %v, want io.EOF", err)
				}
				return
			}
		}
		t.Fatal("demuxer produced more units than input bytes")
	})
}
