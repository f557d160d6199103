// Package container wires the receipt pipeline's components together and
// manages their lifecycle.
package container

import (
	"context"
	"fmt"

	"github.com/garyjia/receipt-pipeline/internal/application/port"
	"github.com/garyjia/receipt-pipeline/internal/config"
	"github.com/garyjia/receipt-pipeline/internal/infrastructure/external/openai"
	"github.com/garyjia/receipt-pipeline/internal/infrastructure/ocr"
	"github.com/garyjia/receipt-pipeline/internal/infrastructure/persistence/repository"
	"github.com/garyjia/receipt-pipeline/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/receipt-pipeline/internal/infrastructure/storage"
	"github.com/garyjia/receipt-pipeline/internal/infrastructure/userdata"
	"github.com/garyjia/receipt-pipeline/pkg/database"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
	Runs           *repository.RunRepository
}

// PageSourceBundle holds the page rendering and OCR components.
type PageSourceBundle struct {
	Renderer port.PageRenderer
	Reader   port.TextReader
}

// ProvideDatabase opens the database, applies the embedded migrations and
// creates the run repository.
func ProvideDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DatabaseBundle, error) {
	db, err := database.New(ctx, cfg.ToDatabaseConfig(), logger)
	if err != nil {
		return nil, err
	}

	migrator := database.NewMigrator(db, logger)
	if err := migrator.Run(ctx, database.Migrations()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	tx := sqlite.NewDB(db.DB, logger)
	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: tx,
		Runs:           repository.NewRunRepository(tx, logger),
	}, nil
}

// ProvideExtractor creates the OpenAI extraction client.
func ProvideExtractor(cfg *config.Config, logger *zap.Logger) (port.Extractor, error) {
	extractorCfg, err := cfg.ToExtractorConfig()
	if err != nil {
		return nil, err
	}
	return openai.NewExtractor(extractorCfg, logger), nil
}

// ProvidePageSource creates the PDF renderer and the OCR reader.
func ProvidePageSource(cfg *config.Config, logger *zap.Logger) *PageSourceBundle {
	return &PageSourceBundle{
		Renderer: ocr.NewPageRenderer(cfg.OCR.DPI, logger),
		Reader:   ocr.NewTesseractReader(cfg.OCR.Languages, nil, logger),
	}
}

// ProvideStorageFactory returns the per data directory file storage factory.
func ProvideStorageFactory(logger *zap.Logger) func(baseDir string) port.FileStorage {
	return func(baseDir string) port.FileStorage {
		return storage.NewLocalFileStorage(baseDir, logger)
	}
}

// ProvideAttendeeSources returns the attendee source factory. A data
// directory without its own user data falls back to attendees.dir.
func ProvideAttendeeSources(cfg *config.Config, logger *zap.Logger) func(dir string) port.AttendeeSource {
	shared := userdata.NewFileSource(cfg.Attendees.Dir, logger)
	return func(dir string) port.AttendeeSource {
		if dir == "" || dir == cfg.Attendees.Dir {
			return shared
		}
		return userdata.NewFallbackSource(userdata.NewFileSource(dir, logger), shared)
	}
}
