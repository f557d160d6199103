// Package cli implements the receipts command line tool.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/receipt-pipeline/internal/application/service"
	"github.com/garyjia/receipt-pipeline/internal/config"
	"github.com/garyjia/receipt-pipeline/internal/container"
	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"github.com/garyjia/receipt-pipeline/pkg/utils"
)

// Receipts is the receipt service as used by the commands
type Receipts interface {
	ProcessDocument(ctx context.Context, pdfPath, dataDir string, opts service.DocumentOptions) (*service.DocumentResult, error)
	ProcessText(ctx context.Context, source, rawText string, seed uint64) (*service.RunResult, error)
	ResumeRun(ctx context.Context, id int64) (*service.RunResult, error)
	GetRun(ctx context.Context, id int64) (*service.RunDetail, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*entity.PipelineRun, error)
}

// Factory builds the receipt service for a loaded configuration. The
// returned func releases its resources.
type Factory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Receipts, func() error, error)

// ContainerFactory starts a container without background workers
func ContainerFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Receipts, func() error, error) {
	cfg.Inbox.Enabled = false
	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, nil, err
	}
	return c.ReceiptService(), c.Close, nil
}

type app struct {
	factory    Factory
	configPath string
	envFile    string
	logLevel   string
	logger     *zap.Logger
	cfg        *config.Config
}

// NewRootCmd creates the receipts command tree
func NewRootCmd(factory Factory) *cobra.Command {
	a := &app{factory: factory}
	root := &cobra.Command{
		Use:           "receipts",
		Short:         "Turn scanned restaurant receipts into entertainment expense records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := utils.NewCLILogger(a.logLevel)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "configs/config.yaml", "Path to the config file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", config.DotEnvFile, "Path to an optional .env file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newProcessCmd(a),
		newTextCmd(a),
		newRunsCmd(a),
		newUserDataCmd(a),
	)
	return root
}

// withReceipts loads the configuration, builds the service and runs fn
func (a *app) withReceipts(ctx context.Context, fn func(Receipts) error) error {
	cfg, err := config.Load(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	receipts, closeFn, err := a.factory(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFn(); err != nil {
			a.logger.Warn("Failed to release resources", zap.Error(err))
		}
	}()
	return fn(receipts)
}

// seed returns the flag value when set, else the configured seed, else a fresh one
func (a *app) seed(flagSet bool, flagValue uint64) uint64 {
	switch {
	case flagSet:
		return flagValue
	case a.cfg != nil && a.cfg.Attendees.Seed != 0:
		return a.cfg.Attendees.Seed
	default:
		return service.NewSeed()
	}
}
