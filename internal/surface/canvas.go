package surface

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"

	"shroud/internal/noise"
)

// Canvas is a 2D drawing surface that can be exported.
type Canvas interface {
	Size() (width, height int)
	RGBAAt(x, y int) color.RGBA
	SetRGBA(x, y int, c color.RGBA)
	Encode(mime string) ([]byte, error)
}

// ImageCanvas is a Canvas backed by an in-memory RGBA image.
type ImageCanvas struct {
	Img *image.RGBA
}

func NewImageCanvas(width, height int) *ImageCanvas {
	return &ImageCanvas{Img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

func (c *ImageCanvas) Size() (int, int) {
	b := c.Img.Bounds()
	return b.Dx(), b.Dy()
}

func (c *ImageCanvas) RGBAAt(x, y int) color.RGBA {
	b := c.Img.Bounds()
	return c.Img.RGBAAt(b.Min.X+x, b.Min.Y+y)
}

func (c *ImageCanvas) SetRGBA(x, y int, px color.RGBA) {
	b := c.Img.Bounds()
	c.Img.SetRGBA(b.Min.X+x, b.Min.Y+y, px)
}

// Encode writes JPEG for image/jpeg and PNG for everything else.
func (c *ImageCanvas) Encode(mime string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if mime == "image/jpeg" {
		err = jpeg.Encode(&buf, c.Img, &jpeg.Options{Quality: 92})
	} else {
		err = png.Encode(&buf, c.Img)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportCanvas encodes c. Lossless exports carry a sparse per-session noise
// grid; the canvas itself is left exactly as it was.
func (a *Adapter) ExportCanvas(c Canvas, mime string) ([]byte, error) {
	if mime == "" || mime == "image/png" {
		restore := a.applyCanvasNoise(c)
		defer restore()
	}
	return c.Encode(mime)
}

type savedPixel struct {
	x, y int
	c    color.RGBA
}

func (a *Adapter) applyCanvasNoise(c Canvas) func() {
	width, height := c.Size()
	snap := a.Snapshot()
	magnitude := snap.Profile.CanvasNoise
	if width <= 0 || height <= 0 || magnitude == 0 {
		return func() {}
	}

	stepX := max(1, width/10)
	stepY := max(1, height/10)
	seed := noise.CanvasSeed(snap.Seed, width, height)

	saved := make([]savedPixel, 0, (width/stepX+1)*(height/stepY+1))
	for x := 0; x < width; x += stepX {
		for y := 0; y < height; y += stepY {
			orig := c.RGBAAt(x, y)
			saved = append(saved, savedPixel{x: x, y: y, c: orig})

			px := orig
			px.R = clampChannel(float64(orig.R) + noise.Delta(seed, x, y, 0, magnitude))
			px.G = clampChannel(float64(orig.G) + noise.Delta(seed, x, y, 1, magnitude))
			px.B = clampChannel(float64(orig.B) + noise.Delta(seed, x, y, 2, magnitude))
			c.SetRGBA(x, y, px)
		}
	}

	return func() {
		for _, p := range saved {
			c.SetRGBA(p.x, p.y, p.c)
		}
	}
}

func clampChannel(v float64) uint8 {
	return uint8(math.RoundToEven(math.Max(0, math.Min(255, v))))
}
