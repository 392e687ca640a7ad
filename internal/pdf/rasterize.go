package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// 既定の変換パラメータ
const (
	DefaultDPI         = 300
	DefaultJPEGQuality = 95
)

const pageImagePattern = "page_%d.jpg"

// GhostscriptRasterizer は Ghostscript の jpeg デバイスで各ページを JPEG に変換します。
type GhostscriptRasterizer struct {
	path    string
	dpi     int
	quality int
}

// NewGhostscriptRasterizer は GhostscriptRasterizer を作成します。
func NewGhostscriptRasterizer(path string, dpi, quality int) *GhostscriptRasterizer {
	if path == "" {
		path = "gs"
	}
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	return &GhostscriptRasterizer{path: path, dpi: dpi, quality: quality}
}

// Rasterize は outDir に page_<n>.jpg を書き出し、ページ順のパスを返します。
func (g *GhostscriptRasterizer) Rasterize(ctx context.Context, documentPath, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, g.path, rasterArgs(documentPath, outDir, g.dpi, g.quality)...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ghostscript failed: %s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return pageImages(outDir)
}

func rasterArgs(inputPath, outDir string, dpi, quality int) []string {
	return []string{
		"-sDEVICE=jpeg",
		fmt.Sprintf("-r%d", dpi),
		fmt.Sprintf("-dJPEGQ=%d", quality),
		"-dNOPAUSE",
		"-dBATCH",
		"-dQUIET",
		"-dSAFER",
		fmt.Sprintf("-sOutputFile=%s", filepath.Join(outDir, pageImagePattern)),
		inputPath,
	}
}

// pageImages は dir 内の page_<n>.jpg をページ番号順に返します。
func pageImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list page images: %w", err)
	}

	type page struct {
		n    int
		path string
	}
	var pages []page
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, ok := pageNumber(e.Name())
		if !ok {
			continue
		}
		pages = append(pages, page{n: n, path: filepath.Join(dir, e.Name())})
	}
	if len(pages) == 0 {
		return nil, errors.New("no page images were produced")
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })
	paths := make([]string, len(pages))
	for i, p := range pages {
		paths[i] = p.path
	}
	return paths, nil
}

func pageNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, "page_") || !strings.HasSuffix(name, ".jpg") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "page_"), ".jpg"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
