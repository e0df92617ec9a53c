package guestcore

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DEFAULT_SCREEN_WIDTH  = 160
	DEFAULT_SCREEN_HEIGHT = 160
	SURFACE_BPP           = 2 // RGB565, big-endian
)

// FramebufferSurface mirrors a guest RGB565 framebuffer into host memory.
// Guest writes arrive through DisplaySink from the interpreter goroutine;
// Snapshot may be called from any goroutine.
type FramebufferSurface struct {
	mu     sync.Mutex
	start  GuestAddr
	width  int
	height int
	pix    []byte
	writes uint64
}

func NewFramebufferSurface(start GuestAddr, width, height int) *FramebufferSurface {
	return &FramebufferSurface{
		start:  start,
		width:  width,
		height: height,
		pix:    make([]byte, width*height*SURFACE_BPP),
	}
}

// Move relocates the framebuffer to start. The mirrored pixels are kept.
func (f *FramebufferSurface) Move(start GuestAddr) {
	f.mu.Lock()
	f.start = start
	f.mu.Unlock()
}

func (f *FramebufferSurface) FramebufferRange() (GuestAddr, GuestAddr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.start, f.start + GuestAddr(len(f.pix))
}

func (f *FramebufferSurface) put(offset uint32, b ...byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range b {
		if int(offset)+i < len(f.pix) {
			f.pix[int(offset)+i] = v
		}
	}
	f.writes++
}

func (f *FramebufferSurface) Mirror8(offset uint32, value uint8) { f.put(offset, value) }

func (f *FramebufferSurface) Mirror16(offset uint32, value uint16) {
	f.put(offset, byte(value>>8), byte(value))
}

func (f *FramebufferSurface) Mirror32(offset uint32, value uint32) {
	f.put(offset, byte(value>>24), byte(value>>16), byte(value>>8), byte(value))
}

// Writes is the number of mirrored guest writes.
func (f *FramebufferSurface) Writes() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func rgb565(v uint16) color.RGBA {
	r := uint8(v>>11) & 0x1F
	g := uint8(v>>5) & 0x3F
	b := uint8(v) & 0x1F
	return color.RGBA{R: r<<3 | r>>2, G: g<<2 | g>>4, B: b<<3 | b>>2, A: 0xFF}
}

// Image converts the mirrored framebuffer to RGBA.
func (f *FramebufferSurface) Image() *image.RGBA {
	f.mu.Lock()
	defer f.mu.Unlock()
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	for y := 0; y < f.height; y++ {
		for x := 0; x < f.width; x++ {
			i := (y*f.width + x) * SURFACE_BPP
			img.SetRGBA(x, y, rgb565(uint16(f.pix[i])<<8|uint16(f.pix[i+1])))
		}
	}
	return img
}

// Snapshot scales the framebuffer by scale with nearest-neighbour sampling
// and, when banner is set, draws it across the top on a dark strip.
func (f *FramebufferSurface) Snapshot(scale int, banner string) *image.RGBA {
	if scale < 1 {
		scale = 1
	}
	src := f.Image()
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	if banner != "" {
		face := basicfont.Face7x13
		strip := image.Rect(0, 0, dst.Bounds().Dx(), face.Height+4)
		draw.Draw(dst, strip, image.NewUniform(color.RGBA{A: 0xC0}), image.Point{}, draw.Over)
		d := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(color.RGBA{R: 0xFF, G: 0x40, B: 0x40, A: 0xFF}),
			Face: face,
			Dot:  fixed.P(2, face.Ascent+2),
		}
		d.DrawString(banner)
	}
	return dst
}

// WritePNG encodes a snapshot as PNG.
func (f *FramebufferSurface) WritePNG(w io.Writer, scale int, banner string) error {
	return png.Encode(w, f.Snapshot(scale, banner))
}
