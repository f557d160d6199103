package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/garyjia/receipt-pipeline/internal/infrastructure/userdata"
)

func newUserDataCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "userdata",
		Short: "Manage the attendee names and projects of a data directory",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "data", "Data directory holding "+userdata.FileName)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Enter attendee names and projects interactively",
		Long: "Reads names one per line, the first being the person who pays, until an empty line,\n" +
			"then project labels until an empty line or end of input.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, projects, err := promptUserData(cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				return fmt.Errorf("at least one name is required")
			}
			src := userdata.NewFileSource(dir, a.logger)
			if err := src.Save(cmd.Context(), names, projects); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d names and %d projects to %s\n", len(names), len(projects), src.Path())
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the attendee names and projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, projects, err := userdata.NewFileSource(dir, a.logger).Load(cmd.Context())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(userdata.Format(names, projects))
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func promptUserData(in io.Reader, out io.Writer) (names, projects []string, err error) {
	scanner := bufio.NewScanner(in)
	readSection := func(prompt string) ([]string, error) {
		fmt.Fprintln(out, prompt)
		var values []string
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				break
			}
			values = append(values, line)
		}
		return values, scanner.Err()
	}

	names, err = readSection("Names (your own name first, empty line to finish):")
	if err != nil {
		return nil, nil, err
	}
	projects, err = readSection("Projects (empty line to finish):")
	if err != nil {
		return nil, nil, err
	}
	return names, projects, nil
}

func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return data, nil
}
