package pdf

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRasterArgs(t *testing.T) {
	args := rasterArgs("in.pdf", "out", 300, 95)
	joined := strings.Join(args, " ")
	for _, want := range []string{"-sDEVICE=jpeg", "-r300", "-dJPEGQ=95", "-dBATCH", "-dNOPAUSE"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %s: %v", want, args)
		}
	}
	if args[len(args)-1] != "in.pdf" {
		t.Fatalf("input path must be last: %v", args)
	}
	if want := "-sOutputFile=" + filepath.Join("out", "page_%d.jpg"); args[len(args)-2] != want {
		t.Fatalf("output arg = %s, want %s", args[len(args)-2], want)
	}
}

func TestPageImagesNumericOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"page_10.jpg", "page_2.jpg", "page_1.jpg", "notes.txt", "page_x.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := pageImages(dir)
	if err != nil {
		t.Fatalf("pageImages returned error: %v", err)
	}
	want := []string{"page_1.jpg", "page_2.jpg", "page_10.jpg"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if filepath.Base(got[i]) != want[i] {
			t.Fatalf("got[%d] = %s, want %s", i, filepath.Base(got[i]), want[i])
		}
	}
}

func TestPageImagesEmpty(t *testing.T) {
	if _, err := pageImages(t.TempDir()); err == nil {
		t.Fatal("expected error when no pages were produced")
	}
}

func TestGhostscriptRasterizerMissingBinary(t *testing.T) {
	r := NewGhostscriptRasterizer(filepath.Join(t.TempDir(), "no-such-gs"), 0, 0)
	if r.dpi != DefaultDPI || r.quality != DefaultJPEGQuality {
		t.Fatalf("defaults not applied: %+v", r)
	}
	if _, err := r.Rasterize(context.Background(), "in.pdf", t.TempDir()); err == nil {
		t.Fatal("expected error for missing ghostscript binary")
	}
}
