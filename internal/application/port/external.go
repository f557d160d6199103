package port

import (
	"context"

	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
)

// Extractor is the structured extraction service. It turns raw OCR text into
// a candidate billing record and fails with *entity.ExtractionError when no
// schema-conforming record can be produced. Retries are its own concern.
type Extractor interface {
	Extract(ctx context.Context, rawText string) (entity.BillingRecord, error)
}

// PageRenderer renders the pages of a source document to image files
type PageRenderer interface {
	Render(ctx context.Context, documentPath, targetDir string, overwrite bool) ([]string, error)
}

// TextReader recognizes the text on a page image
type TextReader interface {
	ReadText(ctx context.Context, imagePath string) (string, error)
}

// AttendeeSource supplies the name and project pools
type AttendeeSource interface {
	Load(ctx context.Context) (names, projects []string, err error)
}
