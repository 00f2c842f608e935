package memproc

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAlphaComposite(t *testing.T) {
	// fully opaque red base
	base := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			base.SetRGBA(x, y, color.RGBA{R: 200, G: 0, B: 0, A: 255})
		}
	}
	// overlay with a known alpha pattern: opaque blue, half blue,
	// transparent, quarter blue (premultiplied values)
	overlay := image.NewRGBA(image.Rect(0, 0, 2, 2))
	overlay.SetRGBA(0, 0, color.RGBA{R: 0, G: 0, B: 255, A: 255})
	overlay.SetRGBA(1, 0, color.RGBA{R: 0, G: 0, B: 128, A: 128})
	overlay.SetRGBA(0, 1, color.RGBA{})
	overlay.SetRGBA(1, 1, color.RGBA{R: 0, G: 0, B: 64, A: 64})

	got := AlphaComposite(base, overlay)

	// standard alpha over, channel-wise on premultiplied values:
	// out = src + dst * (1 - srcA), in the operator's 16 bit fixed point
	over := func(dst, src color.RGBA) color.RGBA {
		const m = 0xffff
		a := m - uint32(src.A)*0x101
		ch := func(d, s uint8) uint8 {
			return uint8((uint32(d)*0x101*a/m + uint32(s)*0x101) >> 8)
		}
		return color.RGBA{ch(dst.R, src.R), ch(dst.G, src.G), ch(dst.B, src.B), ch(dst.A, src.A)}
	}
	points := []image.Point{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	for _, p := range points {
		want := over(base.RGBAAt(p.X, p.Y), overlay.RGBAAt(p.X, p.Y))
		if got := got.RGBAAt(p.X, p.Y); got != want {
			t.Fatalf("pixel %v: got %v, want %v", p, got, want)
		}
	}

	// determinism: re-running yields identical pixels
	again := AlphaComposite(base, overlay)
	if diff := cmp.Diff(got.Pix, again.Pix); diff != "" {
		t.Fatalf("composite not deterministic (-first +second):\n%s", diff)
	}
}

func writeTestPNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCombineImagesDeterministic(t *testing.T) {
	dir := t.TempDir()
	base := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			base.SetRGBA(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	overlay := image.NewRGBA(image.Rect(0, 0, 2, 2))
	overlay.SetRGBA(0, 0, color.RGBA{R: 100, G: 100, B: 100, A: 100})
	mainPath := filepath.Join(dir, "x-main.png")
	overlayPath := filepath.Join(dir, "x-overlay.png")
	writeTestPNG(t, mainPath, base)
	writeTestPNG(t, overlayPath, overlay)

	out1 := filepath.Join(dir, "out1.png")
	out2 := filepath.Join(dir, "out2.png")
	if err := CombineImages(mainPath, overlayPath, out1); err != nil {
		t.Fatalf("combine: %v", err)
	}
	if err := CombineImages(mainPath, overlayPath, out2); err != nil {
		t.Fatalf("combine: %v", err)
	}
	b1, _ := os.ReadFile(out1)
	b2, _ := os.ReadFile(out2)
	if !bytes.Equal(b1, b2) {
		t.Fatalf("outputs differ between runs")
	}
}

func TestFindOverlayGroups(t *testing.T) {
	dir := t.TempDir()
	// a complete pair
	pair := filepath.Join(dir, "20210403_182455_abc-123")
	if err := os.MkdirAll(pair, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"abc-123-main.jpg", "abc-123-overlay.png"} {
		if err := os.WriteFile(filepath.Join(pair, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	// a directory with only a main file
	lonely := filepath.Join(dir, "lonely")
	if err := os.MkdirAll(lonely, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(lonely, "a-main.jpg"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	// a flat file at the top level, ignored
	if err := os.WriteFile(filepath.Join(dir, "flat.jpg"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	groups, err := FindOverlayGroups(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	g := groups[0]
	if g.Name != "20210403_182455_abc-123" {
		t.Fatalf("got group name %v", g.Name)
	}
	if filepath.Base(g.Main) != "abc-123-main.jpg" || filepath.Base(g.Overlay) != "abc-123-overlay.png" {
		t.Fatalf("unexpected pair: %+v", g)
	}
}

func TestCompositorImageGroup(t *testing.T) {
	dir := t.TempDir()
	pair := filepath.Join(dir, "20210403_182455_abc-123")
	if err := os.MkdirAll(pair, 0755); err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	writeTestPNG(t, filepath.Join(pair, "abc-123-main.png"), img)
	writeTestPNG(t, filepath.Join(pair, "abc-123-overlay.png"), img)

	c := NewCompositor(dir, nil)
	stats, err := c.Run()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Combined != 1 {
		t.Fatalf("got %+v, want 1 combined", stats)
	}
	// merged file sits beside the deleted source directory
	if _, err := os.Stat(filepath.Join(dir, "20210403_182455_abc-123.png")); err != nil {
		t.Fatalf("merged output missing: %v", err)
	}
	if _, err := os.Stat(pair); !os.IsNotExist(err) {
		t.Fatalf("source directory still present")
	}
}
