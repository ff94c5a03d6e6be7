package convert

import (
	"image"
	"image/draw"

	"github.com/zsiec/cadence/internal/media"
)

// ToFrame converts a decoded picture to a tightly packed RGBA8 frame at its
// native size. An *image.RGBA with a packed stride and zero origin is
// adopted without copying; anything else is drawn into a new buffer.
func ToFrame(img image.Image, pts float64) *media.VideoFrame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == 4*w {
		return &media.VideoFrame{Width: w, Height: h, Pix: rgba.Pix[:4*w*h], PTS: pts}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return &media.VideoFrame{Width: w, Height: h, Pix: dst.Pix, PTS: pts}
}

// Image wraps a frame as an *image.RGBA sharing its pixels.
func Image(f *media.VideoFrame) *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Stride(),
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}
