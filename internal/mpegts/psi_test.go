package mpegts

import (
	"bytes"
	"errors"
	"testing"
)

// psiPayload prefixes sections with a pointer field skipping pointer
// filler bytes.
func psiPayload(pointer int, sections ...[]byte) []byte {
	b := append([]byte{byte(pointer)}, bytes.Repeat([]byte{0xFF}, pointer)...)
	for _, s := range sections {
		b = append(b, s...)
	}
	return b
}

// withVersion re-seals section with a new version_number.
func withVersion(section []byte, v uint8) []byte {
	s := append([]byte(nil), section[:len(section)-sectionCRCLen]...)
	s[5] = 0xC1 | v<<1
	return sealSection(s)
}

func hdmvStreams() []MuxerStream {
	return []MuxerStream{
		{PID: 0x1100, StreamType: StreamTypeHDMVLPCM, Descriptors: []Descriptor{
			{Tag: DescriptorRegistration, Data: []byte("HDMV")},
			{Tag: 0x0A, Data: []byte{'e', 'n', 'g', 0}},
		}},
		{PID: 0x1011, StreamType: StreamTypeH264},
		{PID: 0x1101, StreamType: StreamTypePrivatePES, Descriptors: []Descriptor{
			{Tag: DescriptorRegistration, Data: []byte("AC-3")},
		}},
	}
}

func TestSectionCRC(t *testing.T) {
	t.Parallel()
	if got := sectionCRC([]byte("123456789")); got != 0x0376E6E7 {
		t.Errorf("check value = 0x%08X, want 0x0376E6E7", got)
	}
	sec := pmtSection(1, 0x1100, hdmvStreams())
	if got := sectionCRC(sec); got != 0 {
		t.Errorf("CRC over sealed section = 0x%08X, want 0", got)
	}
}

func TestReadSection(t *testing.T) {
	t.Parallel()
	pat := patSection(0x22, PATProgram{ProgramNumber: 1, ProgramMapID: 0x1000})
	badCRC := append([]byte(nil), pat...)
	badCRC[len(badCRC)-1] ^= 0x01
	tiny := sealSection([]byte{tableIDPAT, 0, 0, 0, 1})

	tests := []struct {
		name    string
		b       []byte
		wantErr error
		wantLen int
	}{
		{"valid", pat, nil, len(pat)},
		{"valid with trailing stuffing", append(append([]byte(nil), pat...), 0xFF, 0xFF), nil, len(pat)},
		{"bad crc", badCRC, ErrSectionCRC, 0},
		{"truncated", pat[:len(pat)-2], errSectionTruncated, 0},
		{"header only", pat[:2], errSectionTruncated, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sec, n, err := readSection(tt.b)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if n != tt.wantLen || sec.tableID != tableIDPAT || sec.extension != 0x22 {
				t.Errorf("section = %+v, n = %d", sec, n)
			}
		})
	}

	if _, _, err := readSection(tiny); err == nil {
		t.Error("section shorter than its fixed header: expected error")
	}
}

func TestParsePAT(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		programs []PATProgram
		want     []uint16 // PMT PIDs
	}{
		{"one program", []PATProgram{{ProgramNumber: 1, ProgramMapID: 0x1000}}, []uint16{0x1000}},
		{"two programs", []PATProgram{{ProgramNumber: 1, ProgramMapID: 0x100}, {ProgramNumber: 2, ProgramMapID: 0x200}}, []uint16{0x100, 0x200}},
		{"network PID skipped", []PATProgram{{ProgramNumber: 0, ProgramMapID: 0x10}, {ProgramNumber: 1, ProgramMapID: 0x1000}}, []uint16{0x1000}},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sec, _, err := readSection(withVersion(patSection(7, tt.programs...), 5))
			if err != nil {
				t.Fatal(err)
			}
			pat := parsePAT(sec)
			if pat.TransportStreamID != 7 || pat.Version != 5 {
				t.Errorf("tsid/version = %d/%d, want 7/5", pat.TransportStreamID, pat.Version)
			}
			if len(pat.Programs) != len(tt.want) {
				t.Fatalf("programs = %d, want %d", len(pat.Programs), len(tt.want))
			}
			for i, p := range pat.Programs {
				if p.ProgramMapID != tt.want[i] || p.ProgramNumber == 0 {
					t.Errorf("program %d = %+v, want PMT PID 0x%X", i, p, tt.want[i])
				}
			}
		})
	}
}

func TestParsePMT(t *testing.T) {
	t.Parallel()
	sec, _, err := readSection(pmtSection(7, 0x1011, hdmvStreams()))
	if err != nil {
		t.Fatal(err)
	}
	pmt, err := parsePMT(sec)
	if err != nil {
		t.Fatal(err)
	}
	if pmt.ProgramNumber != 7 || pmt.PCRPID != 0x1011 || len(pmt.ProgramDescriptors) != 0 {
		t.Errorf("pmt = %+v", pmt)
	}

	want := []struct {
		pid          uint16
		streamType   uint8
		registration string
		descriptors  int
	}{
		{0x1100, StreamTypeHDMVLPCM, "HDMV", 2},
		{0x1011, StreamTypeH264, "", 0},
		{0x1101, StreamTypePrivatePES, "AC-3", 1},
	}
	if len(pmt.ElementaryStreams) != len(want) {
		t.Fatalf("streams = %d, want %d", len(pmt.ElementaryStreams), len(want))
	}
	for i, w := range want {
		es := pmt.ElementaryStreams[i]
		if es.ElementaryPID != w.pid || es.StreamType != w.streamType {
			t.Errorf("stream %d = PID 0x%X type 0x%02X, want 0x%X 0x%02X", i, es.ElementaryPID, es.StreamType, w.pid, w.streamType)
		}
		if got := es.RegistrationID(); got != w.registration {
			t.Errorf("stream %d registration = %q, want %q", i, got, w.registration)
		}
		if len(es.Descriptors) != w.descriptors {
			t.Errorf("stream %d descriptors = %d, want %d", i, len(es.Descriptors), w.descriptors)
		}
	}
	if lang := pmt.ElementaryStreams[0].Descriptors[1]; lang.Tag != 0x0A || string(lang.Data[:3]) != "eng" {
		t.Errorf("language descriptor = %+v", lang)
	}
}

func TestParsePMTProgramDescriptors(t *testing.T) {
	t.Parallel()
	info := appendDescriptors(nil, []Descriptor{{Tag: DescriptorRegistration, Data: []byte("HDMV")}})
	s := []byte{tableIDPMT, 0, 0, 0, 1, 0xC1, 0, 0, 0xF1, 0x00, 0xF0, byte(len(info))}
	s = append(s, info...)
	s = append(s, StreamTypeHDMVLPCM, 0xF1, 0x00, 0xF0, 0x00)

	sec, _, err := readSection(sealSection(s))
	if err != nil {
		t.Fatal(err)
	}
	pmt, err := parsePMT(sec)
	if err != nil {
		t.Fatal(err)
	}
	if len(pmt.ProgramDescriptors) != 1 || string(pmt.ProgramDescriptors[0].Data) != "HDMV" {
		t.Errorf("program descriptors = %+v", pmt.ProgramDescriptors)
	}
	if len(pmt.ElementaryStreams) != 1 || pmt.ElementaryStreams[0].ElementaryPID != 0x1100 {
		t.Errorf("streams = %+v", pmt.ElementaryStreams)
	}
}

func TestParsePMTOverruns(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body []byte // after the 8-byte header
	}{
		{"short body", []byte{0xE1, 0x00}},
		{"program info", []byte{0xE1, 0x00, 0xF0, 0x20, 0x05, 0x00}},
		{"es info", []byte{0xE1, 0x00, 0xF0, 0x00, 0x80, 0xF1, 0x00, 0xF0, 0x09, 0x05, 0x04}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := append([]byte{tableIDPMT, 0, 0, 0, 1, 0xC1, 0, 0}, tt.body...)
			sec, _, err := readSection(sealSection(s))
			if err != nil {
				t.Fatal(err)
			}
			if _, err := parsePMT(sec); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParsePSI(t *testing.T) {
	t.Parallel()
	pat := patSection(1, PATProgram{ProgramNumber: 1, ProgramMapID: 0x1000})
	pmt := pmtSection(1, 0x1100, hdmvStreams())
	sdt := sealSection([]byte{0x42, 0, 0, 0, 1, 0xC1, 0, 0, 0, 1, 0xFF})

	tests := []struct {
		name    string
		payload []byte
		want    string // one letter per result: A for PAT, M for PMT
	}{
		{"pat", psiPayload(0, pat), "A"},
		{"pointer field", psiPayload(3, pat), "A"},
		{"stuffing after section", append(psiPayload(0, pat), 0xFF, 0xFF, 0xFF), "A"},
		{"zero padding after section", append(psiPayload(0, pmt), 0, 0, 0), "M"},
		{"two sections", psiPayload(0, pat, pmt), "AM"},
		{"unknown table skipped", psiPayload(0, sdt, pmt), "M"},
		{"truncated second section", psiPayload(0, pat, pmt[:10]), "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			results, err := parsePSI(tt.payload, &Packet{})
			if err != nil {
				t.Fatal(err)
			}
			var got string
			for _, r := range results {
				switch {
				case r.PAT != nil:
					got += "A"
				case r.PMT != nil:
					got += "M"
				}
			}
			if got != tt.want {
				t.Errorf("results = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParsePSIErrors(t *testing.T) {
	t.Parallel()
	pat := patSection(1, PATProgram{ProgramNumber: 1, ProgramMapID: 0x1000})
	bad := append([]byte(nil), pat...)
	bad[9] ^= 0x40

	if _, err := parsePSI(nil, &Packet{}); err == nil {
		t.Error("empty payload: expected error")
	}
	if _, err := parsePSI([]byte{5, 0xFF, 0xFF}, &Packet{}); err == nil {
		t.Error("pointer past payload: expected error")
	}
	results, err := parsePSI(psiPayload(0, pat, bad), &Packet{})
	if !errors.Is(err, ErrSectionCRC) {
		t.Errorf("err = %v, want ErrSectionCRC", err)
	}
	if len(results) != 1 || results[0].PAT == nil {
		t.Errorf("sections before the bad one = %d, want 1 PAT", len(results))
	}
}

func TestParseDescriptorsTruncated(t *testing.T) {
	t.Parallel()
	ds := parseDescriptors([]byte{0x05, 0x04, 'H', 'D', 'M', 'V', 0x0A, 0x09, 'e'})
	if len(ds) != 1 || string(ds[0].Data) != "HDMV" {
		t.Errorf("descriptors = %+v, want one HDMV registration", ds)
	}
}
