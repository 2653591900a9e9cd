package cmd

import (
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/3leaps/amipatch/pkg/patchreport"
)

var reportCmd = &cobra.Command{
	Use:   "report <file|->",
	Short: "Summarize captured package manager output",
	Long: `Parse yum or dnf output captured from a patch command and write a
JSONL report record listing the updated, installed and removed packages.

Use "-" to read from stdin.

Example:
  amipatch report stdout.txt
  aws s3 cp s3://patch-logs/cmd-1/i-0abc/stdout - | amipatch report -`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

var reportResource string

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportResource, "resource", "", "Resource id to attach to the report")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	source := args[0]

	var (
		data []byte
		err  error
	)
	if source == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return exitError(ExitInputMissing, "Report input not found", err)
		}
		return exitError(ExitInputRead, "Failed to read report input", err)
	}

	dest := "stdout"
	if cfg, cerr := runtimeConfig(ctx); cerr == nil {
		dest = cfg.Output.Destination
	}
	writer, cleanup, err := createWriter(cmd.OutOrStdout(), dest, uuid.New().String())
	if err != nil {
		return exitError(ExitOutput, "Failed to create output", err)
	}
	defer cleanup()

	if err := writer.WriteReport(ctx, reportRecord(source, reportResource, patchreport.Parse(string(data)))); err != nil {
		return exitError(ExitOutput, "Failed to write output", err)
	}
	return nil
}
