// Package ocr turns scanned receipt documents into plain text: pages are
// rendered to images with MuPDF and read back with Tesseract.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// DefaultDPI is a resolution Tesseract reads receipts reliably at
const DefaultDPI = 200

// ErrNotPDF is returned for documents without a .pdf extension
var ErrNotPDF = errors.New("document is not a PDF")

// PageRenderer renders PDF pages to PNG files using go-fitz
type PageRenderer struct {
	dpi    float64
	logger *zap.Logger
}

// NewPageRenderer creates a renderer. A non-positive dpi uses DefaultDPI.
func NewPageRenderer(dpi float64, logger *zap.Logger) *PageRenderer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &PageRenderer{dpi: dpi, logger: logger}
}

// PageImageName returns the file name of a rendered page
func PageImageName(index int) string {
	return fmt.Sprintf("page_%d.png", index)
}

// Render writes every page of documentPath to targetDir as page_<i>.png and
// returns the image paths in page order. Existing images are kept unless
// overwrite is set.
func (r *PageRenderer) Render(ctx context.Context, documentPath, targetDir string, overwrite bool) ([]string, error) {
	info, err := os.Stat(documentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	if info.IsDir() || !strings.EqualFold(filepath.Ext(documentPath), ".pdf") {
		return nil, fmt.Errorf("%w: %s", ErrNotPDF, documentPath)
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	doc, err := fitz.New(documentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	r.logger.Info("Rendering PDF pages",
		zap.String("path", documentPath),
		zap.Int("total_pages", pageCount))

	paths := make([]string, 0, pageCount)
	for page := 0; page < pageCount; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		imagePath := filepath.Join(targetDir, PageImageName(page))
		paths = append(paths, imagePath)
		if !overwrite && fileExists(imagePath) {
			r.logger.Debug("Page image exists, skipping", zap.String("path", imagePath))
			continue
		}

		if err := r.renderPage(doc, page, imagePath); err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		r.logger.Info("Created page image", zap.String("path", imagePath))
	}

	return paths, nil
}

func (r *PageRenderer) renderPage(doc *fitz.Document, page int, imagePath string) error {
	img, err := doc.ImageDPI(page, r.dpi)
	if err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}

	f, err := os.Create(imagePath)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode page to PNG: %w", err)
	}
	return f.Close()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
