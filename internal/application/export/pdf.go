package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/garyjia/receipt-pipeline/internal/application/port"
	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"
)

// FormsPDFSuffix is appended to the document name of the forms PDF
const FormsPDFSuffix = "_bewirtungsbeleg.pdf"

// Layout of the form page in millimetres
const (
	pageMargin     = 18.0
	lineHeight     = 6.0
	signatureWidth = 50.0
)

// FormsPDFPath returns the forms PDF path of document doc inside dir
func FormsPDFPath(dir, doc string) string {
	return filepath.Join(dir, doc+FormsPDFSuffix)
}

// FormPDFWriter writes the Bewirtungsbeleg PDF of a document. Every receipt
// contributes its page image followed by a filled-in form page that ends with
// the host's signature when a signature image is configured.
type FormPDFWriter struct {
	storage   port.FileStorage
	city      string
	signature string
	logger    *zap.Logger
}

// NewFormPDFWriter creates a writer that reads page images from and saves the
// PDF through storage. signaturePath may be empty.
func NewFormPDFWriter(storage port.FileStorage, city, signaturePath string, logger *zap.Logger) *FormPDFWriter {
	return &FormPDFWriter{storage: storage, city: city, signature: signaturePath, logger: logger}
}

// Write builds the PDF for rows and saves it to path. Nothing is written when
// rows is empty.
func (w *FormPDFWriter) Write(ctx context.Context, path string, rows []Row) error {
	if len(rows) == 0 {
		w.logger.Info("No finalized receipts, skipping forms PDF", zap.String("path", path))
		return nil
	}

	doc, err := w.Build(ctx, rows)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return fmt.Errorf("failed to encode forms PDF: %w", err)
	}
	if err := w.storage.Save(ctx, path, buf.Bytes()); err != nil {
		return err
	}

	w.logger.Info("Forms PDF written",
		zap.String("path", path),
		zap.Int("receipts", len(rows)),
		zap.Bool("signed", w.signature != ""))
	return nil
}

// Build lays out the PDF for rows without encoding it
func (w *FormPDFWriter) Build(ctx context.Context, rows []Row) (*fpdf.Fpdf, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(pageMargin, pageMargin, pageMargin)
	doc.SetAutoPageBreak(false, pageMargin)
	doc.SetTitle(FormTitle, true)
	tr := doc.UnicodeTranslatorFromDescriptor("")

	signed := false
	if w.signature != "" {
		data, err := os.ReadFile(w.signature)
		if err != nil {
			return nil, fmt.Errorf("failed to read signature image: %w", err)
		}
		doc.RegisterImageOptionsReader("signature", imageOptions(w.signature), bytes.NewReader(data))
		if doc.Err() {
			return nil, fmt.Errorf("failed to load signature image: %w", doc.Error())
		}
		signed = true
	}

	for i, row := range rows {
		if row.ImagePath != "" {
			if err := w.addImagePage(ctx, doc, fmt.Sprintf("page_%d", i), row.ImagePath); err != nil {
				return nil, fmt.Errorf("%s: %w", row.Source, err)
			}
		}
		w.addFormPage(doc, tr, row, signed)
	}

	if doc.Err() {
		return nil, fmt.Errorf("failed to build forms PDF: %w", doc.Error())
	}
	return doc, nil
}

func (w *FormPDFWriter) addImagePage(ctx context.Context, doc *fpdf.Fpdf, name, imagePath string) error {
	data, err := w.storage.Read(ctx, imagePath)
	if err != nil {
		return err
	}
	opts := imageOptions(imagePath)
	info := doc.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	if doc.Err() {
		return fmt.Errorf("failed to load page image: %w", doc.Error())
	}

	doc.AddPage()
	pageW, pageH := doc.GetPageSize()
	maxW, maxH := pageW-2*pageMargin, pageH-2*pageMargin

	// fit the page image into the margins, keeping its aspect ratio
	width, height := maxW, 0.0
	if info.Width() > 0 && info.Height()/info.Width() > maxH/maxW {
		width, height = 0, maxH
	}
	doc.ImageOptions(name, pageMargin, pageMargin, width, height, false, opts, 0, "")
	return nil
}

func (w *FormPDFWriter) addFormPage(doc *fpdf.Fpdf, tr func(string) string, row Row, signed bool) {
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 18)
	doc.CellFormat(0, 9, tr(FormTitle), "", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 10)
	doc.CellFormat(0, 5, tr(FormSubtitle), "", 1, "L", false, 0, "")
	if row.Record.Date != "" {
		doc.CellFormat(0, 5, tr("Datum: "+row.Record.Date), "", 1, "L", false, 0, "")
	}
	doc.Ln(lineHeight)

	doc.SetFont("Helvetica", "", 12)
	for _, line := range FormLines(row.Record, w.city) {
		doc.MultiCell(0, lineHeight, tr(strings.ReplaceAll(line, "\t", "    ")), "", "L", false)
	}

	if signed {
		doc.ImageOptions("signature", pageMargin, doc.GetY()+2, signatureWidth, 0, false, fpdf.ImageOptions{}, 0, "")
	}
}

func imageOptions(path string) fpdf.ImageOptions {
	return fpdf.ImageOptions{
		ImageType: strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), ".")),
		ReadDpi:   true,
	}
}
