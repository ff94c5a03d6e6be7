// Package mpegts implements MPEG-TS demuxing and muxing. The demuxer covers
// PAT/PMT discovery (including elementary stream descriptors), PES
// reassembly with PTS/DTS extraction and continuity tracking; the muxer
// writes single-program streams and is used to produce test clips.
package mpegts

// Stream types carried in PMT elementary stream entries.
const (
	StreamTypeMPEG1Audio uint8 = 0x03
	StreamTypeMPEG2Audio uint8 = 0x04
	StreamTypePrivatePES uint8 = 0x06
	StreamTypeAAC        uint8 = 0x0F
	StreamTypeH264       uint8 = 0x1B
	StreamTypeH265       uint8 = 0x24
	StreamTypeHDMVLPCM   uint8 = 0x80
	StreamTypeAC3        uint8 = 0x81
)

// Descriptor tags understood by the PMT parser.
const (
	DescriptorRegistration uint8 = 0x05
)

// Packet is a parsed 188-byte MPEG-TS transport stream packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
}

// PacketHeader contains the parsed header fields of a transport stream packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
	// PCR is set when the adaptation field carries a program clock reference.
	PCR *ClockReference
}

// DemuxerData is the output of the demuxer for each logical unit (PAT, PMT,
// or PES packet). Exactly one of PAT, PMT, or PES will be non-nil.
type DemuxerData struct {
	FirstPacket *Packet
	PAT         *PATData
	PMT         *PMTData
	PES         *PESData
}

// PATData contains the parsed Program Association Table.
type PATData struct {
	TransportStreamID uint16
	Version           uint8
	Programs          []*PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramMapID  uint16
	ProgramNumber uint16
}

// PMTData contains the parsed Program Map Table.
type PMTData struct {
	ProgramNumber      uint16
	Version            uint8
	PCRPID             uint16
	ProgramDescriptors []Descriptor
	ElementaryStreams  []*PMTElementaryStream
}

// PMTElementaryStream describes a single elementary stream in a PMT.
type PMTElementaryStream struct {
	ElementaryPID uint16
	StreamType    uint8
	Descriptors   []Descriptor
}

// RegistrationID returns the format_identifier of the stream's registration
// descriptor (e.g. "HDMV", "Opus"), or "" if none is present.
func (es *PMTElementaryStream) RegistrationID() string {
	for _, d := range es.Descriptors {
		if d.Tag == DescriptorRegistration && len(d.Data) >= 4 {
			return string(d.Data[:4])
		}
	}
	return ""
}

// Descriptor is a raw tag/length/value descriptor from a PMT descriptor
// loop.
type Descriptor struct {
	Tag  uint8
	Data []byte
}

// PESData contains a reassembled Packetized Elementary Stream.
type PESData struct {
	Data   []byte
	Header *PESHeader
}

// PESHeader contains the parsed PES packet header.
type PESHeader struct {
	OptionalHeader *PESOptionalHeader
	StreamID       uint8
}

// PESOptionalHeader carries optional PES fields including timestamps.
type PESOptionalHeader struct {
	PTS           *ClockReference
	DTS           *ClockReference
	DataAlignment bool
}

// ClockReference holds a 33-bit MPEG-TS timestamp base value (90 kHz clock).
// Extension is the 27 MHz remainder and is only set for PCRs.
type ClockReference struct {
	Base      int64
	Extension uint16
}

// PTSModulus is the wrap-around period of a 33-bit PTS.
const PTSModulus int64 = 1 << 33
