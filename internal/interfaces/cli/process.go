package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/garyjia/receipt-pipeline/internal/application/export"
	"github.com/garyjia/receipt-pipeline/internal/application/service"
	"github.com/garyjia/receipt-pipeline/internal/infrastructure/storage"
)

type processCmd struct {
	app       *app
	pdfPath   string
	dataDir   string
	overwrite bool
	seed      uint64
}

func newProcessCmd(a *app) *cobra.Command {
	pc := &processCmd{app: a}
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process every page of a scanned PDF",
		Long: "Renders each page, reads its text and runs it through extraction and enrichment.\n" +
			"Pages with an existing page_<i>.json are skipped unless --overwrite is given.",
		RunE: pc.run,
	}

	cmd.Flags().StringVar(&pc.pdfPath, "pdf", "", "Path to the scanned PDF")
	cmd.Flags().StringVar(&pc.dataDir, "data-dir", "", "Output directory (default: <output.dir>/<pdf name>)")
	cmd.Flags().BoolVar(&pc.overwrite, "overwrite", false, "Reprocess pages that already have results")
	cmd.Flags().Uint64Var(&pc.seed, "seed", 0, "Random seed for topic and attendee selection")
	_ = cmd.MarkFlagRequired("pdf")

	return cmd
}

func (pc *processCmd) run(cmd *cobra.Command, _ []string) error {
	return pc.app.withReceipts(cmd.Context(), func(receipts Receipts) error {
		dataDir := pc.dataDir
		if dataDir == "" {
			folders := storage.NewLocalFolderManager(pc.app.cfg.Output.Dir, pc.app.logger)
			name := strings.TrimSuffix(filepath.Base(pc.pdfPath), filepath.Ext(pc.pdfPath))
			dir, err := folders.CreateFolder(cmd.Context(), name)
			if err != nil {
				return err
			}
			dataDir = dir
		}

		seed := pc.app.seed(cmd.Flags().Changed("seed"), pc.seed)
		result, err := receipts.ProcessDocument(cmd.Context(), pc.pdfPath, dataDir, service.DocumentOptions{
			Overwrite: pc.overwrite,
			Seed:      seed,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, page := range result.Pages {
			fmt.Fprintf(out, "%s\t%s\n", page.Source, pageSummary(page))
		}
		fmt.Fprintf(out, "seed %d, %d pages, %d failed, workbook %s\n",
			seed, len(result.Pages), result.Failed(), result.WorkbookPath)
		if result.FormsPath != "" {
			fmt.Fprintf(out, "forms %s\n", result.FormsPath)
		}

		if n := result.Failed(); n > 0 {
			return fmt.Errorf("%d of %d pages failed", n, len(result.Pages))
		}
		return nil
	})
}

func pageSummary(page service.PageResult) string {
	if page.Err != nil {
		return "FAILED: " + page.Err.Error()
	}
	final, ok := page.Final()
	if !ok {
		return "EMPTY"
	}
	status := "OK"
	if page.Skipped {
		status = "SKIPPED"
	}
	return fmt.Sprintf("%s\t%s\t%s %s", status, final.LocationName, export.FormatAmount(final.TotalWithTip), final.CurrencyCode)
}
