package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/receipt-pipeline/internal/application/port"
	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Sheet names of the summary workbook
const (
	ReceiptsSheet = "Receipts"
	FormsSheet    = "Forms"
)

var receiptHeaders = []interface{}{
	"Source", "Date", "Location", "Address", "Currency",
	"Total without tip", "Tip", "Total with tip", "Tip %",
	"Topic", "Host", "Guests", "Stage",
}

// Row is one receipt in the summary workbook
type Row struct {
	Source    string
	ImagePath string
	Record    entity.BillingRecord
}

// WorkbookWriter writes the receipts summary workbook
type WorkbookWriter struct {
	storage port.FileStorage
	city    string
	logger  *zap.Logger
}

// NewWorkbookWriter creates a writer that saves through storage
func NewWorkbookWriter(storage port.FileStorage, city string, logger *zap.Logger) *WorkbookWriter {
	return &WorkbookWriter{storage: storage, city: city, logger: logger}
}

// Write builds the workbook and saves it to path
func (w *WorkbookWriter) Write(ctx context.Context, path string, rows []Row) error {
	f, err := w.Build(rows)
	if err != nil {
		return err
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("failed to encode workbook: %w", err)
	}
	if err := w.storage.Save(ctx, path, buf.Bytes()); err != nil {
		return err
	}

	w.logger.Info("Workbook written",
		zap.String("path", path),
		zap.Int("receipts", len(rows)))
	return nil
}

// Build returns the workbook for rows. The caller closes it.
func (w *WorkbookWriter) Build(rows []Row) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName(f.GetSheetName(0), ReceiptsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if _, err := f.NewSheet(FormsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create style: %w", err)
	}

	w.setRow(f, ReceiptsSheet, 1, receiptHeaders)
	lastHeader, _ := excelize.CoordinatesToCellName(len(receiptHeaders), 1)
	if err := f.SetCellStyle(ReceiptsSheet, "A1", lastHeader, headerStyle); err != nil {
		w.logger.Warn("Failed to style header", zap.Error(err))
	}

	formRow := 1
	for i, row := range rows {
		w.setRow(f, ReceiptsSheet, i+2, receiptRow(row))

		cell, _ := excelize.CoordinatesToCellName(1, formRow)
		w.setCell(f, FormsSheet, cell, fmt.Sprintf("%s: %s", FormTitle, row.Source))
		if err := f.SetCellStyle(FormsSheet, cell, cell, headerStyle); err != nil {
			w.logger.Warn("Failed to style form title", zap.Error(err))
		}
		formRow++
		for _, line := range FormLines(row.Record, w.city) {
			cell, _ := excelize.CoordinatesToCellName(1, formRow)
			w.setCell(f, FormsSheet, cell, line)
			formRow++
		}
		formRow++
	}

	return f, nil
}

func receiptRow(row Row) []interface{} {
	r := row.Record
	host, _ := r.Payer()
	return []interface{}{
		row.Source,
		r.Date,
		r.LocationName,
		r.Address,
		r.CurrencyCode,
		r.TotalWithoutTip,
		r.TipAmount,
		r.TotalWithTip,
		r.TipPercentage,
		r.TopicOrEmpty(),
		host,
		strings.Join(r.Guests(), ", "),
		r.Stage.String(),
	}
}

func (w *WorkbookWriter) setRow(f *excelize.File, sheet string, row int, values []interface{}) {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		w.logger.Warn("Failed to set row",
			zap.String("sheet", sheet),
			zap.Int("row", row),
			zap.Error(err))
	}
}

func (w *WorkbookWriter) setCell(f *excelize.File, sheet, cell, value string) {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		w.logger.Warn("Failed to set cell value",
			zap.String("sheet", sheet),
			zap.String("cell", cell),
			zap.Error(err))
	}
}
