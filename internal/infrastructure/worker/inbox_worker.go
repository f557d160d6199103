package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/garyjia/receipt-pipeline/internal/application/port"
	"github.com/garyjia/receipt-pipeline/internal/application/service"
	"go.uber.org/zap"
)

// DocumentProcessor processes one PDF into a data directory
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, pdfPath, dataDir string, opts service.DocumentOptions) (*service.DocumentResult, error)
}

// InboxWorkerConfig holds configuration for the inbox worker
type InboxWorkerConfig struct {
	Dir          string
	PollInterval time.Duration
	// Seed for every document; 0 draws a fresh seed per document
	Seed uint64
}

// InboxStats reports what the worker has done since it was created
type InboxStats struct {
	Processed   int       `json:"processed"`
	Failed      int       `json:"failed"`
	LastScan    time.Time `json:"last_scan"`
	LastScanErr string    `json:"last_scan_error,omitempty"`
}

// InboxWorker polls a directory for new PDF documents and processes each of
// them into its own data directory. Seen files are tracked in memory, so a
// restart processes the inbox again; finished pages are skipped by the
// service in that case.
type InboxWorker struct {
	config    InboxWorkerConfig
	processor DocumentProcessor
	folders   port.FolderManager
	logger    *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	seen      map[string]bool
	stats     InboxStats
}

// NewInboxWorker creates a new inbox worker
func NewInboxWorker(config InboxWorkerConfig, processor DocumentProcessor, folders port.FolderManager, logger *zap.Logger) *InboxWorker {
	return &InboxWorker{
		config:    config,
		processor: processor,
		folders:   folders,
		logger:    logger,
		seen:      make(map[string]bool),
	}
}

// Start begins the polling loop
func (w *InboxWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("inbox worker already running")
	}
	if w.config.PollInterval <= 0 {
		return fmt.Errorf("inbox worker needs a positive poll interval")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("InboxWorker started",
		zap.String("dir", w.config.Dir),
		zap.Duration("poll_interval", w.config.PollInterval))

	go w.pollLoop(ctx, w.done)
	return nil
}

// Stop cancels the loop and waits for the current scan to return
func (w *InboxWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	stats := w.Stats()
	w.logger.Info("InboxWorker stopped",
		zap.Int("processed_count", stats.Processed),
		zap.Int("failed_count", stats.Failed))
	return nil
}

// Name returns the worker name for identification
func (w *InboxWorker) Name() string {
	return "InboxWorker"
}

// Stats returns a copy of the worker counters
func (w *InboxWorker) Stats() InboxStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *InboxWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ScanOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Inbox scan failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			w.logger.Debug("Poll loop context cancelled")
			return
		case <-ticker.C:
		}
	}
}

// ScanOnce processes every PDF in the inbox that has not been seen yet and
// returns how many documents it handled
func (w *InboxWorker) ScanOnce(ctx context.Context) (int, error) {
	pending, err := w.pending()
	w.mu.Lock()
	w.stats.LastScan = time.Now()
	w.stats.LastScanErr = ""
	if err != nil {
		w.stats.LastScanErr = err.Error()
	}
	w.mu.Unlock()
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, name := range pending {
		if ctx.Err() != nil {
			return handled, ctx.Err()
		}
		w.processFile(ctx, name)
		handled++
	}
	return handled, nil
}

func (w *InboxWorker) pending() ([]string, error) {
	entries, err := os.ReadDir(w.config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") || w.seen[e.Name()] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (w *InboxWorker) processFile(ctx context.Context, name string) {
	pdfPath := filepath.Join(w.config.Dir, name)
	seed := w.config.Seed
	if seed == 0 {
		seed = service.NewSeed()
	}

	w.logger.Info("Processing inbox document",
		zap.String("file_name", name),
		zap.Uint64("seed", seed))

	failed := false
	dataDir, err := w.folders.CreateFolder(ctx, name)
	if err == nil {
		var result *service.DocumentResult
		result, err = w.processor.ProcessDocument(ctx, pdfPath, dataDir, service.DocumentOptions{Seed: seed})
		if err == nil && result.Failed() > 0 {
			w.logger.Warn("Inbox document has failed pages",
				zap.String("file_name", name),
				zap.Int("failed_pages", result.Failed()))
		}
	}
	if err != nil {
		failed = true
		w.logger.Error("Failed to process inbox document",
			zap.String("file_name", name),
			zap.Error(err))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if ctx.Err() != nil {
		// interrupted documents are retried on the next start
		return
	}
	w.seen[name] = true
	if failed {
		w.stats.Failed++
	} else {
		w.stats.Processed++
	}
}
