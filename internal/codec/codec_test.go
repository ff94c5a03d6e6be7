package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"

	"github.com/zsiec/cadence/internal/media"
)

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewDefaultRegistry()

	for _, id := range []string{PCMS16LE, PCMU8, PCMF32LE, PCMBluray, MJPEG, RawBGR24, RawBGRA} {
		if !r.Supports(id) {
			t.Errorf("default registry missing %s", id)
		}
	}
	if r.Supports(H264) {
		t.Error("h264 should not be built in")
	}

	_, err := r.NewDecoder(media.StreamInfo{Codec: H264})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("NewDecoder(h264): got %v, want ErrUnsupported", err)
	}

	_, err = r.NewDecoder(media.StreamInfo{Codec: PCMS16LE})
	if err == nil {
		t.Error("PCM decoder without a sample rate should fail")
	}

	empty := NewRegistry()
	if len(empty.Codecs()) != 0 {
		t.Errorf("empty registry lists %v", empty.Codecs())
	}
	empty.Register("fake", func(media.StreamInfo) (Decoder, error) { return &pcmDecoder{}, nil })
	if got := empty.Codecs(); len(got) != 1 || got[0] != "fake" {
		t.Errorf("Codecs = %v, want [fake]", got)
	}
}

func TestSendReceiveProtocol(t *testing.T) {
	t.Parallel()
	d, err := NewDefaultRegistry().NewDecoder(media.StreamInfo{Codec: PCMS16LE, SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Receive(); !errors.Is(err, ErrNeedInput) {
		t.Fatalf("Receive on empty decoder: got %v, want ErrNeedInput", err)
	}

	pkt := &media.Packet{Kind: media.KindAudio, Data: []byte{1, 0, 2, 0}, PTS: 8000, HasPTS: true, TimeBase: media.TimeBase{Num: 1, Den: 8000}}
	if err := d.Send(pkt); err != nil {
		t.Fatal(err)
	}
	if err := d.Send(pkt); !errors.Is(err, ErrBusy) {
		t.Errorf("second Send: got %v, want ErrBusy", err)
	}

	f, err := d.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if f.Audio == nil || f.Audio.Frames() != 2 {
		t.Fatalf("frame = %+v, want 2 audio frames", f)
	}
	if !f.HasPTS || f.PTS != 1.0 {
		t.Errorf("PTS = %v/%v, want 1.0/true", f.PTS, f.HasPTS)
	}

	_ = d.Send(pkt)
	d.Reset()
	if _, err := d.Receive(); !errors.Is(err, ErrNeedInput) {
		t.Errorf("Receive after Reset: got %v, want ErrNeedInput", err)
	}
}

func TestPCMU8Widening(t *testing.T) {
	t.Parallel()
	d, _ := NewDefaultRegistry().NewDecoder(media.StreamInfo{Codec: PCMU8, SampleRate: 8000, Channels: 1})
	_ = d.Send(&media.Packet{Data: []byte{0x00, 0x80, 0xFF}})
	f, err := d.Receive()
	if err != nil {
		t.Fatal(err)
	}
	want := []int16{-32768, 0, 32512}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(f.Audio.Data[2*i:]))
		if got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
	if f.Audio.Format.Sample != media.SampleS16 {
		t.Errorf("format = %v, want s16", f.Audio.Format)
	}
}

func TestPCMDecodeErrorConsumesPacket(t *testing.T) {
	t.Parallel()
	d, _ := NewDefaultRegistry().NewDecoder(media.StreamInfo{Codec: PCMS16LE, SampleRate: 8000, Channels: 2})
	_ = d.Send(&media.Packet{Data: []byte{1, 2}})
	if _, err := d.Receive(); err == nil || errors.Is(err, ErrNeedInput) {
		t.Fatalf("short packet: got %v, want decode error", err)
	}
	if _, err := d.Receive(); !errors.Is(err, ErrNeedInput) {
		t.Errorf("after error: got %v, want ErrNeedInput", err)
	}
}

func TestBlurayHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []BlurayHeader{
		{Size: 960, Channels: 2, SampleRate: 48000, BitsPerSample: 16},
		{Size: 1440, Channels: 1, SampleRate: 96000, BitsPerSample: 24},
	}
	for _, want := range tests {
		var b [BlurayHeaderSize]byte
		if err := PutBlurayHeader(b[:], want); err != nil {
			t.Fatal(err)
		}
		got, err := ParseBlurayHeader(b[:])
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("header = %+v, want %+v", got, want)
		}
	}
	if _, err := ParseBlurayHeader([]byte{0, 0, 0, 0}); err == nil {
		t.Error("zero header should be rejected")
	}
}

func TestBlurayDecode(t *testing.T) {
	t.Parallel()
	d, _ := NewDefaultRegistry().NewDecoder(media.StreamInfo{Codec: PCMBluray})

	// Stereo 16-bit, two frames, big endian.
	data := make([]byte, BlurayHeaderSize+8)
	_ = PutBlurayHeader(data, BlurayHeader{Size: 8, Channels: 2, SampleRate: 48000, BitsPerSample: 16})
	binary.BigEndian.PutUint16(data[4:], 0x1234)
	binary.BigEndian.PutUint16(data[6:], 0xFFFE)
	binary.BigEndian.PutUint16(data[8:], 0x0001)
	binary.BigEndian.PutUint16(data[10:], 0x8000)
	_ = d.Send(&media.Packet{Data: data})
	f, err := d.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if f.Audio.Format != (media.AudioFormat{SampleRate: 48000, Channels: 2, Sample: media.SampleS16}) {
		t.Errorf("format = %v", f.Audio.Format)
	}
	want := []uint16{0x1234, 0xFFFE, 0x0001, 0x8000}
	for i, w := range want {
		if got := binary.LittleEndian.Uint16(f.Audio.Data[2*i:]); got != w {
			t.Errorf("sample %d = %#04x, want %#04x", i, got, w)
		}
	}

	// Mono 24-bit is stored as two channels; only one is output.
	data = make([]byte, BlurayHeaderSize+6)
	_ = PutBlurayHeader(data, BlurayHeader{Size: 6, Channels: 1, SampleRate: 48000, BitsPerSample: 24})
	copy(data[4:], []byte{0x40, 0x00, 0x00, 0x7F, 0xFF, 0xFF})
	_ = d.Send(&media.Packet{Data: data})
	f, err = d.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if f.Audio.Format.Sample != media.SampleF32 || f.Audio.Frames() != 1 {
		t.Fatalf("format = %v frames = %d", f.Audio.Format, f.Audio.Frames())
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(f.Audio.Data)); got != 0.5 {
		t.Errorf("sample = %v, want 0.5", got)
	}
}

func TestJPEGDecode(t *testing.T) {
	t.Parallel()
	src := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for i := range src.Pix {
		src.Pix[i] = 0x80
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, nil); err != nil {
		t.Fatal(err)
	}

	d, _ := NewDefaultRegistry().NewDecoder(media.StreamInfo{Codec: MJPEG})
	_ = d.Send(&media.Packet{Data: buf.Bytes()})
	f, err := d.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if b := f.Picture.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("bounds = %v, want 16x8", b)
	}

	_ = d.Send(&media.Packet{Data: []byte("not a jpeg")})
	if _, err := d.Receive(); err == nil {
		t.Error("corrupt jpeg should fail")
	}
}

func TestRawBGR24BottomUp(t *testing.T) {
	t.Parallel()
	d, err := NewDefaultRegistry().NewDecoder(media.StreamInfo{Codec: RawBGR24, Width: 1, Height: 2})
	if err != nil {
		t.Fatal(err)
	}
	// 1 pixel rows padded to 4 bytes; the first stored row is the bottom.
	data := []byte{
		0x00, 0x00, 0xFF, 0, // bottom: red
		0xFF, 0x00, 0x00, 0, // top: blue
	}
	_ = d.Send(&media.Packet{Data: data})
	f, err := d.Receive()
	if err != nil {
		t.Fatal(err)
	}
	img := f.Picture.(*image.RGBA)
	if got := img.RGBAAt(0, 0); got != (color.RGBA{0, 0, 0xFF, 0xFF}) {
		t.Errorf("top = %v, want blue", got)
	}
	if got := img.RGBAAt(0, 1); got != (color.RGBA{0xFF, 0, 0, 0xFF}) {
		t.Errorf("bottom = %v, want red", got)
	}

	_ = d.Send(&media.Packet{Data: data[:4]})
	if _, err := d.Receive(); err == nil {
		t.Error("short raw frame should fail")
	}
}
