package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/zsiec/cadence/internal/codec"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/mpegts"
)

// TransportReporter is implemented by containers that count transport
// level anomalies.
type TransportReporter interface {
	TransportStats() mpegts.DemuxerStatsSnapshot
}

// tsStream is one selected elementary stream and its timestamp unwrapping
// state.
type tsStream struct {
	pid  uint16
	info media.StreamInfo

	lastRaw int64
	offset  int64
	seen    bool
}

// unwrap extends a 33-bit PTS across wrap-around by tracking jumps of more
// than half the modulus.
func (s *tsStream) unwrap(raw int64) int64 {
	if s.seen {
		switch d := raw - s.lastRaw; {
		case d < -mpegts.PTSModulus/2:
			s.offset += mpegts.PTSModulus
		case d > mpegts.PTSModulus/2:
			s.offset -= mpegts.PTSModulus
		}
	}
	s.seen = true
	s.lastRaw = raw
	return raw + s.offset
}

type tsReader struct {
	src     Source
	log     *slog.Logger
	pktSize int
	demux   atomic.Pointer[mpegts.Demuxer]

	video   *tsStream
	audio   *tsStream
	pending []*mpegts.DemuxerData

	base    int64
	hasBase bool
}

func openTS(src Source, r io.Reader, pktSize int, opts Options) (Container, error) {
	t := &tsReader{
		src:     src,
		log:     opts.Log.With("component", "ts-reader"),
		pktSize: pktSize,
	}
	d := t.newDemuxer(r)
	if err := t.probe(d, opts.ProbePackets); err != nil {
		return nil, err
	}
	t.log.Debug("probed", "streams", len(t.Streams()), "packet_size", pktSize)
	return t, nil
}

func (t *tsReader) newDemuxer(r io.Reader) *mpegts.Demuxer {
	d := mpegts.NewDemuxer(context.Background(), r, mpegts.DemuxerOptPacketSize(t.pktSize))
	t.demux.Store(d)
	return d
}

// probe reads until the PMT has been seen and every selected stream has
// delivered its first PES, keeping those PES for ReadPacket.
func (t *tsReader) probe(d *mpegts.Demuxer, limit int64) error {
	havePMT := false
	described := make(map[uint16]bool)
	for d.Stats().Packets.Load() < limit {
		data, err := d.NextData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("container: probe transport stream: %w", err)
		}
		switch {
		case data.PMT != nil && !havePMT:
			t.selectStreams(data.PMT)
			if t.video == nil && t.audio == nil {
				return errors.New("container: program has no audio or video stream")
			}
			havePMT = true
		case data.PES != nil && havePMT && data.FirstPacket != nil:
			s := t.stream(data.FirstPacket.Header.PID)
			if s == nil {
				continue
			}
			if !described[s.pid] {
				describe(&s.info, data.PES.Data)
				described[s.pid] = true
			}
			t.pending = append(t.pending, data)
		}
		if havePMT && len(described) == len(t.Streams()) {
			return nil
		}
	}
	if !havePMT {
		return fmt.Errorf("container: no program map table in the first %d packets", limit)
	}
	return nil
}

func (t *tsReader) selectStreams(pmt *mpegts.PMTData) {
	for _, es := range pmt.ElementaryStreams {
		kind, id := tsCodec(es)
		s := &tsStream{
			pid: es.ElementaryPID,
			info: media.StreamInfo{
				Index:    int(es.ElementaryPID),
				Kind:     kind,
				Codec:    id,
				TimeBase: media.MPEGTimeBase,
			},
		}
		switch {
		case kind == media.KindVideo && t.video == nil:
			t.video = s
		case kind == media.KindAudio && t.audio == nil:
			t.audio = s
		default:
			t.log.Debug("ignoring elementary stream", "pid", es.ElementaryPID, "stream_type", es.StreamType)
		}
	}
}

func tsCodec(es *mpegts.PMTElementaryStream) (media.Kind, string) {
	switch es.StreamType {
	case mpegts.StreamTypeH264:
		return media.KindVideo, codec.H264
	case mpegts.StreamTypeH265:
		return media.KindVideo, codec.H265
	case mpegts.StreamTypeMPEG1Audio, mpegts.StreamTypeMPEG2Audio:
		return media.KindAudio, codec.MP2
	case mpegts.StreamTypeAAC:
		return media.KindAudio, codec.AAC
	case mpegts.StreamTypeHDMVLPCM:
		return media.KindAudio, codec.PCMBluray
	case mpegts.StreamTypeAC3:
		return media.KindAudio, codec.AC3
	case mpegts.StreamTypePrivatePES:
		if es.RegistrationID() == "AC-3" {
			return media.KindAudio, codec.AC3
		}
	}
	return media.KindUnknown, ""
}

// describe fills stream parameters from the first PES payload where the
// codec carries them in-band.
func describe(info *media.StreamInfo, payload []byte) {
	switch info.Codec {
	case codec.PCMBluray:
		if h, err := codec.ParseBlurayHeader(payload); err == nil {
			info.SampleRate = h.SampleRate
			info.Channels = h.Channels
			info.BitsPerSample = h.BitsPerSample
		}
	case codec.AAC:
		var pkts mpeg4audio.ADTSPackets
		if err := pkts.Unmarshal(payload); err == nil && len(pkts) > 0 {
			info.SampleRate = pkts[0].SampleRate
			info.Channels = pkts[0].ChannelCount
		}
	case codec.H264:
		var au h264.AnnexB
		if err := au.Unmarshal(payload); err != nil {
			return
		}
		for _, nalu := range au {
			if len(nalu) == 0 || h264.NALUType(nalu[0]&0x1F) != h264.NALUTypeSPS {
				continue
			}
			var sps h264.SPS
			if err := sps.Unmarshal(nalu); err != nil {
				return
			}
			info.Width = sps.Width()
			info.Height = sps.Height()
			info.FrameRate = sps.FPS()
			return
		}
	}
}

// isIDR reports whether an H.264 access unit starts a new GOP.
func isIDR(payload []byte) bool {
	var au h264.AnnexB
	if err := au.Unmarshal(payload); err != nil {
		return false
	}
	for _, nalu := range au {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

func (t *tsReader) stream(pid uint16) *tsStream {
	if t.video != nil && t.video.pid == pid {
		return t.video
	}
	if t.audio != nil && t.audio.pid == pid {
		return t.audio
	}
	return nil
}

func (t *tsReader) Format() string { return "mpegts" }

func (t *tsReader) Streams() []media.StreamInfo {
	var out []media.StreamInfo
	if t.video != nil {
		out = append(out, t.video.info)
	}
	if t.audio != nil {
		out = append(out, t.audio.info)
	}
	return out
}

func (t *tsReader) ReadPacket() (*media.Packet, error) {
	for {
		var data *mpegts.DemuxerData
		if len(t.pending) > 0 {
			data = t.pending[0]
			t.pending = t.pending[1:]
		} else {
			var err error
			data, err = t.demux.Load().NextData()
			if err != nil {
				return nil, err
			}
		}
		if data.PES == nil || data.FirstPacket == nil {
			continue
		}
		if s := t.stream(data.FirstPacket.Header.PID); s != nil {
			return t.packet(s, data.FirstPacket, data.PES), nil
		}
	}
}

// packet converts a PES to a Packet whose PTS is unwrapped and rebased so
// the first timestamp after open or rewind is zero.
func (t *tsReader) packet(s *tsStream, first *mpegts.Packet, pes *mpegts.PESData) *media.Packet {
	pkt := &media.Packet{
		Kind:        s.info.Kind,
		StreamIndex: s.info.Index,
		TimeBase:    s.info.TimeBase,
		Keyframe:    true,
		Data:        pes.Data,
	}
	if s.info.Codec == codec.H264 {
		pkt.Keyframe = first.Header.RandomAccessIndicator || isIDR(pes.Data)
	}
	if h := pes.Header; h != nil && h.OptionalHeader != nil && h.OptionalHeader.PTS != nil {
		pts := s.unwrap(h.OptionalHeader.PTS.Base)
		if !t.hasBase {
			t.base = pts
			t.hasBase = true
		}
		pkt.PTS = pts - t.base
		pkt.HasPTS = true
	}
	return pkt
}

// Rewind restarts the source. Stream selection is kept; the timestamp base
// is re-established from the first PES that follows.
func (t *tsReader) Rewind() error {
	if err := t.src.Rewind(); err != nil {
		return fmt.Errorf("container: rewind: %w", err)
	}
	t.newDemuxer(t.src)
	t.pending = nil
	t.hasBase = false
	for _, s := range []*tsStream{t.video, t.audio} {
		if s != nil {
			s.seen, s.offset, s.lastRaw = false, 0, 0
		}
	}
	return nil
}

func (t *tsReader) Close() error {
	return t.src.Close()
}

// TransportStats reports the counters of the current demuxer.
func (t *tsReader) TransportStats() mpegts.DemuxerStatsSnapshot {
	return t.demux.Load().Stats().Snapshot()
}
