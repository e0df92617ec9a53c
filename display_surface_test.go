package guestcore

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRGB565(t *testing.T) {
	tests := []struct {
		in   uint16
		want color.RGBA
	}{
		{0x0000, color.RGBA{0, 0, 0, 0xFF}},
		{0xFFFF, color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}},
		{0xF800, color.RGBA{0xFF, 0, 0, 0xFF}},
		{0x07E0, color.RGBA{0, 0xFF, 0, 0xFF}},
		{0x001F, color.RGBA{0, 0, 0xFF, 0xFF}},
		{0x8410, color.RGBA{0x84, 0x82, 0x84, 0xFF}},
	}
	for _, tt := range tests {
		if got := rgb565(tt.in); got != tt.want {
			t.Errorf("rgb565(0x%04X) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFramebufferImage(t *testing.T) {
	fb := NewFramebufferSurface(0x1000, 4, 2)
	fb.Mirror16(0, 0xF800)
	fb.Mirror32(4*SURFACE_BPP, 0x07E0001F)
	fb.Mirror8(7*SURFACE_BPP, 0xFF)
	fb.Mirror8(7*SURFACE_BPP+1, 0xFF)
	fb.Mirror16(100, 0xFFFF) // beyond the surface

	img := fb.Image()
	got := []color.RGBA{img.RGBAAt(0, 0), img.RGBAAt(0, 1), img.RGBAAt(1, 1), img.RGBAAt(3, 1), img.RGBAAt(2, 0)}
	want := []color.RGBA{
		{0xFF, 0, 0, 0xFF},
		{0, 0xFF, 0, 0xFF},
		{0, 0, 0xFF, 0xFF},
		{0xFF, 0xFF, 0xFF, 0xFF},
		{0, 0, 0, 0xFF},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pixels (-want +got):\n%s", diff)
	}
	if fb.Writes() != 5 {
		t.Errorf("Writes = %d, want 5", fb.Writes())
	}
}

func TestFramebufferMove(t *testing.T) {
	fb := NewFramebufferSurface(0x1000, 4, 2)
	fb.Mirror16(0, 0xFFFF)
	fb.Move(0x2000)
	start, end := fb.FramebufferRange()
	if start != 0x2000 || end != 0x2000+4*2*SURFACE_BPP {
		t.Errorf("range = 0x%X-0x%X", uint32(start), uint32(end))
	}
	if fb.Image().RGBAAt(0, 0).R != 0xFF {
		t.Error("pixels lost on move")
	}
}

func TestFramebufferSnapshot(t *testing.T) {
	fb := NewFramebufferSurface(0, 20, 20)
	for off := uint32(0); off < 20*20*SURFACE_BPP; off += SURFACE_BPP {
		fb.Mirror16(off, 0xFFFF)
	}

	plain := fb.Snapshot(3, "")
	if plain.Bounds() != image.Rect(0, 0, 60, 60) {
		t.Fatalf("bounds = %v", plain.Bounds())
	}
	if c := plain.RGBAAt(59, 59); c != (color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("scaled corner = %v", c)
	}
	if fb.Snapshot(0, "").Bounds().Dx() != 20 {
		t.Error("scale below 1 not clamped")
	}

	banner := fb.Snapshot(3, "Fatal")
	if c := banner.RGBAAt(59, 2); c.R == 0xFF && c.G == 0xFF {
		t.Errorf("banner strip not darkened: %v", c)
	}
	if c := banner.RGBAAt(59, 59); c != (color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("banner touched pixels below the strip: %v", c)
	}
	if !hasTextColour(banner) {
		t.Error("banner text not drawn")
	}
}

func hasTextColour(img *image.RGBA) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Min.Y+16; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if c := img.RGBAAt(x, y); c.R > 0xC0 && c.G < 0x80 {
				return true
			}
		}
	}
	return false
}

func TestFramebufferWritePNG(t *testing.T) {
	fb := NewFramebufferSurface(0, 8, 4)
	fb.Mirror16(0, 0x001F)
	var buf bytes.Buffer
	if err := fb.WritePNG(&buf, 2, ""); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds() != image.Rect(0, 0, 16, 8) {
		t.Errorf("bounds = %v", img.Bounds())
	}
	if r, g, b, _ := img.At(1, 1).RGBA(); r != 0 || g != 0 || b != 0xFFFF {
		t.Errorf("pixel = %d %d %d", r, g, b)
	}
}
