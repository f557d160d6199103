package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/receipt-pipeline/internal/application/port"
	"github.com/garyjia/receipt-pipeline/internal/application/service"
	"github.com/garyjia/receipt-pipeline/internal/config"
	"github.com/garyjia/receipt-pipeline/internal/infrastructure/storage"
	"github.com/garyjia/receipt-pipeline/internal/infrastructure/worker"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	database   *DatabaseBundle
	extractor  port.Extractor
	pageSource *PageSourceBundle
	folders    port.FolderManager
	receipts   *service.ReceiptService
	inbox      *worker.InboxWorker
	workers    *worker.WorkerManager

	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{config: cfg, logger: logger}, nil
}

// Start initializes all components. The inbox worker is started only when
// inbox.enabled is set.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	// Step 1: Database and repositories
	db, err := ProvideDatabase(ctx, c.config, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.database = db

	// Step 2: External clients
	c.extractor, err = ProvideExtractor(c.config, c.logger)
	if err != nil {
		c.database.DB.Close()
		return fmt.Errorf("failed to initialize extractor: %w", err)
	}
	c.pageSource = ProvidePageSource(c.config, c.logger)

	// Step 3: Storage
	c.folders = storage.NewLocalFolderManager(c.config.Output.Dir, c.logger)

	// Step 4: Application services
	c.receipts = service.NewReceiptService(service.Dependencies{
		Extractor: c.extractor,
		Renderer:  c.pageSource.Renderer,
		Reader:    c.pageSource.Reader,
		Runs:      c.database.Runs,
		Tx:        c.database.TransactionMgr,
		Storage:   ProvideStorageFactory(c.logger),
		Attendees: ProvideAttendeeSources(c.config, c.logger),
	}, c.config.ToReceiptConfig(), c.logger)

	// Step 5: Workers
	c.workers = worker.NewWorkerManager(c.logger)
	if c.config.Inbox.Enabled {
		c.inbox = worker.NewInboxWorker(worker.InboxWorkerConfig{
			Dir:          c.config.Inbox.Dir,
			PollInterval: c.config.Inbox.Interval,
			Seed:         c.config.Attendees.Seed,
		}, c.receipts, c.folders, c.logger)
		c.workers.Register(c.inbox)
		if err := c.workers.StartAll(ctx); err != nil {
			c.database.DB.Close()
			return fmt.Errorf("failed to start workers: %w", err)
		}
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	var errs []error

	if c.workers != nil && c.workers.IsRunning() {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if c.database != nil {
		if err := c.database.DB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		return fmt.Errorf("container closed with %d errors", len(errs))
	}
	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	switch {
	case c.database == nil:
		status.Components["database"] = ComponentHealth{Healthy: false, Message: "not initialized"}
	default:
		if err := c.database.DB.PingContext(ctx); err != nil {
			status.Components["database"] = ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)}
		} else {
			status.Components["database"] = ComponentHealth{Healthy: true}
		}
	}

	if c.inbox != nil {
		stats := c.inbox.Stats()
		status.Components["inbox"] = ComponentHealth{
			Healthy: c.workers.IsRunning() && stats.LastScanErr == "",
			Message: fmt.Sprintf("processed: %d, failed: %d", stats.Processed, stats.Failed),
		}
	}

	for _, comp := range status.Components {
		if !comp.Healthy {
			status.Overall = false
		}
	}
	return status
}

// ReceiptService returns the receipt service.
func (c *Container) ReceiptService() *service.ReceiptService {
	return c.receipts
}

// FolderManager returns the output folder manager.
func (c *Container) FolderManager() port.FolderManager {
	return c.folders
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Config returns the container configuration.
func (c *Container) Config() *config.Config {
	return c.config
}
