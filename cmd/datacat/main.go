package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/datacat/cmd/datacat/commands"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/logger"
)

var rootCmd = &cobra.Command{
	Use:   "datacat",
	Short: "datacat - dataset catalog onboarding and ingestion",
	Long: `datacat - onboard externally hosted datasets into a catalog.

A submitted URL is resolved into column metadata, reviewed, approved and then
loaded in the background by the pulse worker pool.

Available commands:
  resolve   - Describe a dataset URL without saving anything
  submit    - Submit a dataset for review (or add it directly with --admin)
  approve   - Approve a pending dataset and dispatch its load
  edit      - Correct a dataset's metadata
  pending   - List datasets awaiting review
  datasets  - List approved datasets with their latest task
  status    - Show background task outcomes
  ingest    - Dispatch a load, update or delete (also: update, delete)
  check     - Check whether a task has finished
  describe  - Describe a loaded dataset's table
  pulse     - Run the background worker pool
  db        - Manage the catalog database
  am        - Manage configuration
  version   - Show build information

Examples:
  datacat resolve https://data.cityofchicago.org/d/ijzp-q8t2
  datacat submit https://example.org/permits.csv --name "Building Permits" \
      --role "Issue Date=observed_date" --role Location=location
  datacat pending
  datacat pulse start --workers 2`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.InitializeWithLevel(false, logger.VerbosityToLevel(verbosity)); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().StringVar(&commands.OutputFormat, "format", "table", "Output format: table, yaml, json")

	rootCmd.AddCommand(commands.ResolveCmd)
	rootCmd.AddCommand(commands.SubmitCmd)
	rootCmd.AddCommand(commands.ApproveCmd)
	rootCmd.AddCommand(commands.EditCmd)
	rootCmd.AddCommand(commands.PendingCmd)
	rootCmd.AddCommand(commands.DatasetsCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.IngestCmd)
	rootCmd.AddCommand(commands.UpdateCmd)
	rootCmd.AddCommand(commands.DeleteCmd)
	rootCmd.AddCommand(commands.CheckCmd)
	rootCmd.AddCommand(commands.DescribeCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, "Hint:", hint)
		}
		os.Exit(1)
	}
}
