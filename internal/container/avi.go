package container

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/zsiec/cadence/internal/avi"
	"github.com/zsiec/cadence/internal/codec"
	"github.com/zsiec/cadence/internal/media"
)

// aviStream is one selected AVI stream. AVI carries no timestamps; ts
// counts frames (video) or sample blocks (audio) in the stream's
// scale/rate time base.
type aviStream struct {
	index      int
	info       media.StreamInfo
	sampleSize uint32
	ts         int64
}

type aviReader struct {
	src Source
	log *slog.Logger
	r   *avi.Reader

	video *aviStream
	audio *aviStream
}

func openAVI(src Source, r io.Reader, opts Options) (Container, error) {
	ar, err := avi.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("container: %w", err)
	}
	a := &aviReader{
		src: src,
		log: opts.Log.With("component", "avi-reader"),
		r:   ar,
	}
	for i := range ar.Streams {
		s := &ar.Streams[i]
		switch {
		case s.Type() == avi.TypeVideo && s.Video != nil && a.video == nil:
			a.video = &aviStream{index: s.Index, info: aviVideoInfo(s), sampleSize: s.Header.SampleSize}
		case s.Type() == avi.TypeAudio && s.Audio != nil && a.audio == nil:
			a.audio = &aviStream{index: s.Index, info: aviAudioInfo(s), sampleSize: s.Header.SampleSize}
		default:
			a.log.Debug("ignoring stream", "index", s.Index, "type", s.Type())
		}
	}
	if a.video == nil && a.audio == nil {
		return nil, fmt.Errorf("container: AVI has no audio or video stream")
	}
	return a, nil
}

func aviTimeBase(s *avi.Stream, fallbackRate int) media.TimeBase {
	if s.Header.Scale > 0 && s.Header.Rate > 0 {
		return media.TimeBase{Num: int64(s.Header.Scale), Den: int64(s.Header.Rate)}
	}
	if fallbackRate > 0 {
		return media.TimeBase{Num: 1, Den: int64(fallbackRate)}
	}
	return media.TimeBase{Num: 1, Den: 25}
}

func aviVideoInfo(s *avi.Stream) media.StreamInfo {
	bi := s.Video
	info := media.StreamInfo{
		Index:         s.Index,
		Kind:          media.KindVideo,
		Codec:         aviVideoCodec(bi),
		TimeBase:      aviTimeBase(s, 0),
		Width:         int(bi.Width),
		Height:        int(bi.Height),
		FrameRate:     s.FrameRate(),
		BitsPerSample: int(bi.BitCount),
		Extra:         s.Format,
	}
	if bi.Height < 0 {
		info.Height = int(-bi.Height)
		info.TopDown = true
	}
	return info
}

func aviAudioInfo(s *avi.Stream) media.StreamInfo {
	wf := s.Audio
	return media.StreamInfo{
		Index:         s.Index,
		Kind:          media.KindAudio,
		Codec:         aviAudioCodec(wf),
		TimeBase:      aviTimeBase(s, int(wf.SamplesPerSec)),
		SampleRate:    int(wf.SamplesPerSec),
		Channels:      int(wf.Channels),
		BitsPerSample: int(wf.BitsPerSample),
		Extra:         s.Format,
	}
}

func aviVideoCodec(bi *avi.BitmapInfo) string {
	if bi.Compression == [4]byte{} {
		switch bi.BitCount {
		case 24:
			return codec.RawBGR24
		case 32:
			return codec.RawBGRA
		}
		return fmt.Sprintf("rawvideo_%dbpp", bi.BitCount)
	}
	switch fcc := strings.ToUpper(strings.TrimRight(string(bi.Compression[:]), "\x00 ")); fcc {
	case "MJPG", "AVRN", "LJPG":
		return codec.MJPEG
	case "H264", "AVC1", "X264", "DAVC":
		return codec.H264
	case "HEVC", "H265", "HEV1", "HVC1":
		return codec.H265
	default:
		return strings.ToLower(fcc)
	}
}

func aviAudioCodec(wf *avi.WaveFormat) string {
	switch wf.FormatTag {
	case avi.WaveFormatPCM:
		switch wf.BitsPerSample {
		case 8:
			return codec.PCMU8
		case 16:
			return codec.PCMS16LE
		}
		return fmt.Sprintf("pcm_s%dle", wf.BitsPerSample)
	case avi.WaveFormatFloat:
		if wf.BitsPerSample == 32 {
			return codec.PCMF32LE
		}
		return fmt.Sprintf("pcm_f%dle", wf.BitsPerSample)
	case avi.WaveFormatMP3:
		return codec.MP3
	case avi.WaveFormatAAC:
		return codec.AAC
	case avi.WaveFormatAC3:
		return codec.AC3
	}
	return fmt.Sprintf("wav_0x%04x", wf.FormatTag)
}

func (a *aviReader) Format() string { return "avi" }

func (a *aviReader) Streams() []media.StreamInfo {
	var out []media.StreamInfo
	if a.video != nil {
		out = append(out, a.video.info)
	}
	if a.audio != nil {
		out = append(out, a.audio.info)
	}
	return out
}

func (a *aviReader) stream(index int) *aviStream {
	if a.video != nil && a.video.index == index {
		return a.video
	}
	if a.audio != nil && a.audio.index == index {
		return a.audio
	}
	return nil
}

func (a *aviReader) ReadPacket() (*media.Packet, error) {
	for {
		c, err := a.r.ReadChunk()
		if err != nil {
			return nil, err
		}
		s := a.stream(c.StreamIndex)
		if s == nil {
			continue
		}
		// Palette changes carry no picture.
		if c.Kind == "pc" {
			continue
		}
		pts := s.ts
		if s.sampleSize > 0 {
			s.ts += int64(uint32(len(c.Data)) / s.sampleSize)
		} else {
			s.ts++
		}
		// A zero-length video chunk repeats the previous frame.
		if len(c.Data) == 0 {
			continue
		}
		return &media.Packet{
			Kind:        s.info.Kind,
			StreamIndex: s.info.Index,
			PTS:         pts,
			HasPTS:      true,
			TimeBase:    s.info.TimeBase,
			Keyframe:    true,
			Data:        c.Data,
		}, nil
	}
}

// Rewind restarts the source and re-reads the AVI header.
func (a *aviReader) Rewind() error {
	if err := a.src.Rewind(); err != nil {
		return fmt.Errorf("container: rewind: %w", err)
	}
	ar, err := avi.NewReader(a.src)
	if err != nil {
		return fmt.Errorf("container: rewind: %w", err)
	}
	a.r = ar
	for _, s := range []*aviStream{a.video, a.audio} {
		if s != nil {
			s.ts = 0
		}
	}
	return nil
}

func (a *aviReader) Close() error {
	return a.src.Close()
}
