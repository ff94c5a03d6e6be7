package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/zsiec/cadence/internal/media"
)

// jpegDecoder decodes Motion JPEG, one baseline JPEG image per packet.
type jpegDecoder struct {
	slot
}

func newJPEGDecoder(media.StreamInfo) (Decoder, error) {
	return &jpegDecoder{}, nil
}

func (d *jpegDecoder) Send(pkt *media.Packet) error { return d.send(pkt) }

func (d *jpegDecoder) Receive() (*Frame, error) {
	pkt, err := d.take()
	if err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(pkt.Data))
	if err != nil {
		return nil, fmt.Errorf("codec: mjpeg: %w", err)
	}
	pts, ok := framePTS(pkt)
	return &Frame{Picture: img, PTS: pts, HasPTS: ok}, nil
}

// rawDecoder unpacks uncompressed DIB frames (BGR24 or BGRA). Rows are
// padded to four bytes; a positive height is stored bottom-up.
type rawDecoder struct {
	slot
	width, height int
	bottomUp      bool
	bpp           int
}

func newRawDecoder(info media.StreamInfo) (Decoder, error) {
	d := &rawDecoder{width: info.Width, height: info.Height, bpp: 3, bottomUp: !info.TopDown}
	if info.Codec == RawBGRA {
		d.bpp = 4
	}
	if d.width <= 0 || d.height <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", d.width, d.height)
	}
	return d, nil
}

func (d *rawDecoder) Send(pkt *media.Packet) error { return d.send(pkt) }

func (d *rawDecoder) Receive() (*Frame, error) {
	pkt, err := d.take()
	if err != nil {
		return nil, err
	}
	stride := (d.width*d.bpp + 3) &^ 3
	if len(pkt.Data) < stride*d.height {
		return nil, fmt.Errorf("codec: raw frame %d bytes, want %d", len(pkt.Data), stride*d.height)
	}

	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	for y := 0; y < d.height; y++ {
		srcY := y
		if d.bottomUp {
			srcY = d.height - 1 - y
		}
		src := pkt.Data[srcY*stride:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < d.width; x++ {
			s := src[x*d.bpp:]
			dst[4*x+0] = s[2]
			dst[4*x+1] = s[1]
			dst[4*x+2] = s[0]
			dst[4*x+3] = 0xFF
		}
	}
	pts, ok := framePTS(pkt)
	return &Frame{Picture: img, PTS: pts, HasPTS: ok}, nil
}
