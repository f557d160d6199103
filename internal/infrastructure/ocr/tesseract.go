package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"
)

// TesseractReader implements port.TextReader with the gosseract client
type TesseractReader struct {
	languages     []string
	variables     map[string]string
	clientFactory func() *gosseract.Client
	logger        *zap.Logger
}

// NewTesseractReader creates a reader for the given Tesseract languages,
// e.g. "deu", "eng"
func NewTesseractReader(languages []string, variables map[string]string, logger *zap.Logger) *TesseractReader {
	return &TesseractReader{
		languages:     languages,
		variables:     variables,
		clientFactory: gosseract.NewClient,
		logger:        logger,
	}
}

// ReadText runs OCR on an image file and returns the plain text
func (r *TesseractReader) ReadText(ctx context.Context, imagePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := r.clientFactory()
	defer c.Close()

	if err := c.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if len(r.languages) > 0 {
		if err := c.SetLanguage(r.languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	for k, v := range r.variables {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return "", fmt.Errorf("set variable %s: %w", k, err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}

	r.logger.Debug("Recognized page text",
		zap.String("path", imagePath),
		zap.Int("chars", len(text)))
	return strings.TrimSpace(text), nil
}
