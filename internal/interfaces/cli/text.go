package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

type textCmd struct {
	app    *app
	file   string
	source string
	seed   uint64
}

func newTextCmd(a *app) *cobra.Command {
	tc := &textCmd{app: a}
	cmd := &cobra.Command{
		Use:   "text",
		Short: "Process a single receipt text and print the final record as YAML",
		RunE:  tc.run,
	}

	cmd.Flags().StringVar(&tc.file, "file", "", "Path to the receipt text (- for stdin)")
	cmd.Flags().StringVar(&tc.source, "source", "", "Source label stored with the run (default: file name)")
	cmd.Flags().Uint64Var(&tc.seed, "seed", 0, "Random seed for topic and attendee selection")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func (tc *textCmd) run(cmd *cobra.Command, _ []string) error {
	raw, err := tc.read(cmd)
	if err != nil {
		return err
	}
	source := tc.source
	if source == "" {
		source = filepath.Base(tc.file)
	}

	return tc.app.withReceipts(cmd.Context(), func(receipts Receipts) error {
		seed := tc.app.seed(cmd.Flags().Changed("seed"), tc.seed)
		result, err := receipts.ProcessText(cmd.Context(), source, string(raw), seed)
		if result != nil && result.Run != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "run %d, seed %d, %d versions\n", result.Run.ID, seed, result.History.Len())
		}
		if err != nil {
			return err
		}

		data, err := result.History.EncodeCurrentYAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	})
}

func (tc *textCmd) read(cmd *cobra.Command) ([]byte, error) {
	if tc.file == "-" {
		tc.file = "stdin"
		return readAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(tc.file)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt text: %w", err)
	}
	return data, nil
}
