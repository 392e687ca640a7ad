package pdf

import (
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
)

// FitzRasterizer は MuPDF（go-fitz）でページを描画します。外部コマンドは不要です。
type FitzRasterizer struct {
	dpi     int
	quality int
}

// NewFitzRasterizer は FitzRasterizer を作成します。
func NewFitzRasterizer(dpi, quality int) *FitzRasterizer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	return &FitzRasterizer{dpi: dpi, quality: quality}
}

// Rasterize は outDir に page_<n>.jpg を書き出し、ページ順のパスを返します。
func (f *FitzRasterizer) Rasterize(ctx context.Context, documentPath, outDir string) ([]string, error) {
	doc, err := fitz.New(documentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	paths := make([]string, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, float64(f.dpi))
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}

		path := filepath.Join(outDir, fmt.Sprintf(pageImagePattern, i+1))
		out, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create image for page %d: %w", i+1, err)
		}
		err = jpeg.Encode(out, img, &jpeg.Options{Quality: f.quality})
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
