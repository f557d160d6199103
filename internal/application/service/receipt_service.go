package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"github.com/garyjia/receipt-pipeline/internal/application/enrichment"
	"github.com/garyjia/receipt-pipeline/internal/application/export"
	"github.com/garyjia/receipt-pipeline/internal/application/pipeline"
	"github.com/garyjia/receipt-pipeline/internal/application/port"
	"github.com/garyjia/receipt-pipeline/internal/domain/attendee"
	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkbookName is the summary workbook written into every data directory
const WorkbookName = "receipts.xlsx"

// ErrRunCompleted is returned when resuming a run that already finished
var ErrRunCompleted = errors.New("run is already completed")

// ReceiptConfig holds the business settings of the receipt service
type ReceiptConfig struct {
	Enrichment   enrichment.Config
	Registry     []attendee.Option
	Concurrency  int
	City         string
	AttendeesDir string
	// SignaturePath is the image signed under every form page, if any
	SignaturePath string
}

// Dependencies are the collaborators of the receipt service. Storage and
// Attendees are built per data directory.
type Dependencies struct {
	Extractor port.Extractor
	Renderer  port.PageRenderer
	Reader    port.TextReader
	Runs      port.RunRepository
	Tx        port.TransactionManager
	Storage   func(baseDir string) port.FileStorage
	Attendees func(dir string) port.AttendeeSource
}

// DocumentOptions controls one document run
type DocumentOptions struct {
	Overwrite bool
	Seed      uint64
}

// RunResult is the outcome of one pipeline run. Err holds the failure of a
// run that was recorded as FAILED; History then holds the partial versions.
type RunResult struct {
	Run     *entity.PipelineRun
	History *pipeline.History
	Err     error
}

// Final returns the last record version, if any
func (r *RunResult) Final() (entity.BillingRecord, bool) {
	if r == nil || r.History == nil {
		return entity.BillingRecord{}, false
	}
	record, err := r.History.Current()
	return record, err == nil
}

// PageResult is the outcome for one page of a document
type PageResult struct {
	Index     int
	Source    string
	ImagePath string
	Skipped   bool
	RunResult
}

// DocumentResult summarizes a processed document
type DocumentResult struct {
	Document     string
	DataDir      string
	Pages        []PageResult
	WorkbookPath string
	// FormsPath is empty when no page was finalized
	FormsPath string
}

// Failed returns the number of pages whose run failed
func (d *DocumentResult) Failed() int {
	n := 0
	for _, p := range d.Pages {
		if p.Err != nil {
			n++
		}
	}
	return n
}

// RunDetail is a persisted run with its snapshot history
type RunDetail struct {
	Run       *entity.PipelineRun   `json:"run"`
	Snapshots []*entity.RunSnapshot `json:"snapshots"`
}

// ReceiptService turns documents and raw receipt texts into finalized,
// persisted billing records
type ReceiptService struct {
	deps   Dependencies
	cfg    ReceiptConfig
	logger *zap.Logger
}

// NewReceiptService creates a new receipt service
func NewReceiptService(deps Dependencies, cfg ReceiptConfig, logger *zap.Logger) *ReceiptService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &ReceiptService{deps: deps, cfg: cfg, logger: logger}
}

// NewSeed returns a fresh random seed for callers that did not supply one.
// Seeds are non-zero and fit in an int64 column.
func NewSeed() uint64 {
	return uint64(rand.Int64N(math.MaxInt64-1)) + 1
}

// ProcessDocument renders, reads and processes every page of a PDF into
// dataDir. Pages run concurrently, each with its own history and random
// source. A failing page is recorded and reported; it never aborts the others.
func (s *ReceiptService) ProcessDocument(ctx context.Context, pdfPath, dataDir string, opts DocumentOptions) (*DocumentResult, error) {
	s.logger.Info("Begin processing document",
		zap.String("document", pdfPath),
		zap.String("data_dir", dataDir),
		zap.Bool("overwrite", opts.Overwrite),
		zap.Uint64("seed", opts.Seed))

	registry, err := s.loadRegistry(ctx, dataDir)
	if err != nil {
		return nil, err
	}

	images, err := s.deps.Renderer.Render(ctx, pdfPath, dataDir, opts.Overwrite)
	if err != nil {
		return nil, fmt.Errorf("failed to render document: %w", err)
	}

	storage := s.deps.Storage(dataDir)
	docName := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	result := &DocumentResult{
		Document: pdfPath,
		DataDir:  dataDir,
		Pages:    make([]PageResult, len(images)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, imagePath := range images {
		page := &result.Pages[i]
		page.Index = i
		page.ImagePath = imagePath
		page.Source = fmt.Sprintf("%s/%s", docName, pageBase(imagePath))

		g.Go(func() error {
			s.processPage(gctx, storage, registry, page, opts)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	rows := make([]export.Row, 0, len(result.Pages))
	for _, p := range result.Pages {
		if p.Err != nil {
			continue
		}
		if final, ok := p.Final(); ok {
			rows = append(rows, export.Row{Source: p.Source, ImagePath: p.ImagePath, Record: final})
		}
	}
	result.WorkbookPath = filepath.Join(dataDir, WorkbookName)
	writer := export.NewWorkbookWriter(storage, s.cfg.City, s.logger)
	if err := writer.Write(ctx, result.WorkbookPath, rows); err != nil {
		return result, fmt.Errorf("failed to write workbook: %w", err)
	}

	if len(rows) > 0 {
		formsPath := export.FormsPDFPath(dataDir, docName)
		forms := export.NewFormPDFWriter(storage, s.cfg.City, s.cfg.SignaturePath, s.logger)
		if err := forms.Write(ctx, formsPath, rows); err != nil {
			return result, fmt.Errorf("failed to write forms PDF: %w", err)
		}
		result.FormsPath = formsPath
	}

	s.logger.Info("Document processed",
		zap.String("document", pdfPath),
		zap.Int("pages", len(result.Pages)),
		zap.Int("failed", result.Failed()))
	return result, nil
}

func (s *ReceiptService) processPage(ctx context.Context, storage port.FileStorage, registry *attendee.Registry, page *PageResult, opts DocumentOptions) {
	dir := filepath.Dir(page.ImagePath)
	base := pageBase(page.ImagePath)
	jsonPath, _ := export.HistoryPaths(dir, base)

	if !opts.Overwrite && storage.Exists(ctx, jsonPath) {
		history, err := readHistory(ctx, storage, jsonPath)
		if err == nil && history.Len() > 0 {
			s.logger.Info("Page already processed, skipping", zap.String("source", page.Source))
			page.Skipped = true
			page.History = history
			return
		}
		s.logger.Warn("Ignoring unreadable page artifact", zap.String("path", jsonPath), zap.Error(err))
	}

	text, err := s.pageText(ctx, storage, page.ImagePath, opts.Overwrite)
	if err != nil {
		s.logger.Error("Failed to read page text", zap.String("source", page.Source), zap.Error(err))
		page.Err = err
		return
	}

	run, err := s.run(ctx, page.Source, text, opts.Seed, uint64(page.Index), registry)
	if err != nil {
		page.Err = err
		return
	}
	page.RunResult = *run
	if run.Err != nil {
		return
	}

	if err := export.WriteHistory(ctx, storage, dir, base, run.History); err != nil {
		s.logger.Error("Failed to write page artifacts", zap.String("source", page.Source), zap.Error(err))
		page.Err = err
	}
}

// pageText returns the OCR text of an image, cached next to it as <page>.txt
func (s *ReceiptService) pageText(ctx context.Context, storage port.FileStorage, imagePath string, overwrite bool) (string, error) {
	textPath := strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".txt"
	if !overwrite && storage.Exists(ctx, textPath) {
		data, err := storage.Read(ctx, textPath)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	text, err := s.deps.Reader.ReadText(ctx, imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to recognize text: %w", err)
	}
	if err := storage.Save(ctx, textPath, []byte(text)); err != nil {
		return "", err
	}
	return text, nil
}

// ProcessText runs a single receipt text through the pipeline and persists
// it. The returned error is the run's failure; the result still carries the
// persisted run and its partial history.
func (s *ReceiptService) ProcessText(ctx context.Context, source, rawText string, seed uint64) (*RunResult, error) {
	registry, err := s.loadRegistry(ctx, s.cfg.AttendeesDir)
	if err != nil {
		return nil, err
	}

	result, err := s.run(ctx, source, rawText, seed, 0, registry)
	if err != nil {
		return nil, err
	}
	return result, result.Err
}

// ResumeRun continues a failed run from its last persisted snapshot with the
// current attendee pools. The run's stored seed and stream rebuild the random
// source, so steps that did not run yet draw what they would have drawn.
func (s *ReceiptService) ResumeRun(ctx context.Context, id int64) (*RunResult, error) {
	detail, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if detail.Run.Status == entity.RunStatusCompleted {
		return nil, fmt.Errorf("%w: %d", ErrRunCompleted, id)
	}

	entries := make([]pipeline.Entry, 0, len(detail.Snapshots))
	for _, snap := range detail.Snapshots {
		entries = append(entries, pipeline.Entry{Step: snap.Step, Record: snap.Record, Duration: snap.Duration})
	}
	history := pipeline.HistoryFromEntries(entries)

	registry, err := s.loadRegistry(ctx, s.cfg.AttendeesDir)
	if err != nil {
		return nil, err
	}
	runner := s.newRunner(registry, attendee.RandSource{Seed: detail.Run.Seed, Stream: detail.Run.Stream})

	before := history.Len()
	runErr := runner.Resume(ctx, history)
	if err := s.persist(ctx, detail.Run, history, before, runErr); err != nil {
		return nil, err
	}

	result := &RunResult{Run: detail.Run, History: history, Err: runErr}
	return result, runErr
}

// GetRun returns a persisted run with its snapshots
func (s *ReceiptService) GetRun(ctx context.Context, id int64) (*RunDetail, error) {
	run, err := s.deps.Runs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	snapshots, err := s.deps.Runs.ListSnapshots(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: run, Snapshots: snapshots}, nil
}

// ListRuns returns persisted runs, newest first
func (s *ReceiptService) ListRuns(ctx context.Context, limit, offset int) ([]*entity.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.deps.Runs.List(ctx, limit, offset)
}

// run executes and persists one pipeline run. The error return is reserved
// for persistence failures; pipeline failures are in RunResult.Err.
func (s *ReceiptService) run(ctx context.Context, source, text string, seed, stream uint64, registry *attendee.Registry) (*RunResult, error) {
	run := &entity.PipelineRun{Source: source, Seed: seed, Stream: stream}
	if err := s.deps.Runs.Create(ctx, run); err != nil {
		return nil, err
	}

	runner := s.newRunner(registry, attendee.RandSource{Seed: seed, Stream: stream})
	history, runErr := runner.Run(ctx, text)
	if runErr != nil {
		s.logger.Warn("Pipeline run failed",
			zap.Int64("run_id", run.ID),
			zap.String("source", source),
			zap.Int("versions", history.Len()),
			zap.Error(runErr))
	}

	if err := s.persist(ctx, run, history, 0, runErr); err != nil {
		return nil, err
	}
	return &RunResult{Run: run, History: history, Err: runErr}, nil
}

func (s *ReceiptService) newRunner(registry *attendee.Registry, src attendee.RandSource) *pipeline.Runner {
	steps := enrichment.Steps(s.cfg.Enrichment, registry, src)
	return pipeline.NewRunner(s.deps.Extractor, steps, s.logger)
}

// persist stores the history entries from index `from` on and the run status
// in one transaction
func (s *ReceiptService) persist(ctx context.Context, run *entity.PipelineRun, history *pipeline.History, from int, runErr error) error {
	status, errMsg := entity.RunStatusCompleted, ""
	if runErr != nil {
		status, errMsg = entity.RunStatusFailed, runErr.Error()
	}

	err := s.deps.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		for seq, e := range history.Entries() {
			if seq < from {
				continue
			}
			snapshot := &entity.RunSnapshot{
				RunID:    run.ID,
				Seq:      seq,
				Step:     e.Step,
				Stage:    e.Record.Stage,
				Record:   e.Record,
				Duration: e.Duration,
			}
			if err := s.deps.Runs.AppendSnapshot(ctx, snapshot); err != nil {
				return err
			}
		}
		return s.deps.Runs.Finish(ctx, run.ID, status, errMsg)
	})
	if err != nil {
		s.logger.Error("Failed to persist run", zap.Int64("run_id", run.ID), zap.Error(err))
		return fmt.Errorf("failed to persist run %d: %w", run.ID, err)
	}

	run.Status, run.Error = status, errMsg
	return nil
}

func (s *ReceiptService) loadRegistry(ctx context.Context, dir string) (*attendee.Registry, error) {
	names, projects, err := s.deps.Attendees(dir).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load attendees: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("failed to load attendees: %w", attendee.ErrEmptyNamePool)
	}
	return attendee.NewRegistry(names, projects, s.cfg.Registry...), nil
}

func readHistory(ctx context.Context, storage port.FileStorage, path string) (*pipeline.History, error) {
	data, err := storage.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	var decoded struct {
		DataSets []entity.BillingRecord `json:"data_sets"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	history := pipeline.NewHistory()
	for _, r := range decoded.DataSets {
		history.Append(r)
	}
	return history, nil
}

func pageBase(imagePath string) string {
	return strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
}

// IsClientError reports whether err is caused by the submitted receipt
// rather than by the service
func IsClientError(err error) bool {
	var extractErr *entity.ExtractionError
	var missing *entity.MissingFieldError
	return errors.As(err, &extractErr) || errors.As(err, &missing) || errors.Is(err, pipeline.ErrEmptyText)
}
