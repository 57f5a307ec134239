// Datavet - data validation for tabular ML pipelines
// Computes feature statistics, infers schemas, and validates new batches.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	inputPath    string
	outputPath   string
	statsPath    string
	schemaPath   string
	baselinePath string
	environment  string
	jsonOutput   bool

	// Runs command flags
	historyDB string
	runsLimit int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "datavet",
	Short: "Datavet - statistics, schema inference, and validation for tabular data",
	Long: `Datavet computes per-feature statistics over record batches, infers a
schema from a statistics snapshot, and validates later snapshots against
the schema, reporting anomalies such as missing features, out-of-range
values, and distribution drift.`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Compute feature statistics from a data file",
	Long: `Compute per-feature statistics (counts, moments, histograms, value
frequencies) over a CSV or newline-delimited JSON file and write them
to a binary snapshot.

Examples:
  datavet stats -i data.csv -o stats.bin
  datavet stats -i events.jsonl -o stats.bin --schema schema.yaml`,
	RunE: runStats,
}

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Infer a schema from a statistics snapshot",
	Long: `Infer a validation schema from a statistics snapshot produced by
"datavet stats" and write it as YAML.

Examples:
  datavet infer --stats stats.bin -o schema.yaml`,
	RunE: runInfer,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a statistics snapshot against a schema",
	Long: `Validate a statistics snapshot against a schema and print the
anomalies found. The exit code is 1 when any anomaly has error severity.

Examples:
  datavet validate --stats stats.bin --schema schema.yaml
  datavet validate --stats serving.bin --schema schema.yaml -e SERVING
  datavet validate --stats today.bin --schema schema.yaml --baseline yesterday.bin
  datavet validate --stats stats.bin --schema schema.yaml --json`,
	RunE: runValidate,
}

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Compare two statistics snapshots",
	Long: `Print the per-feature L-infinity distance between two statistics
snapshots.

Examples:
  datavet diff --stats today.bin --baseline yesterday.bin`,
	RunE: runDiff,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded validation runs",
	Long: `List validation runs from a run history database.

Examples:
  datavet runs --db datavet.db
  datavet runs --db datavet.db --limit 20`,
	RunE: runRuns,
}

func init() {
	// Stats command flags
	statsCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Input data file (.csv, .jsonl, .ndjson)")
	statsCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output statistics snapshot path (required)")
	statsCmd.Flags().StringVar(&schemaPath, "schema", "", "Schema file supplying feature kind hints")
	statsCmd.MarkFlagRequired("input")
	statsCmd.MarkFlagRequired("output")

	// Infer command flags
	inferCmd.Flags().StringVar(&statsPath, "stats", "", "Statistics snapshot path (required)")
	inferCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output schema path (required)")
	inferCmd.MarkFlagRequired("stats")
	inferCmd.MarkFlagRequired("output")

	// Validate command flags
	validateCmd.Flags().StringVar(&statsPath, "stats", "", "Statistics snapshot path (required)")
	validateCmd.Flags().StringVar(&schemaPath, "schema", "", "Schema file path (required)")
	validateCmd.Flags().StringVarP(&environment, "environment", "e", "", "Serving environment name")
	validateCmd.Flags().StringVar(&baselinePath, "baseline", "", "Baseline statistics snapshot for drift checks")
	validateCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	validateCmd.MarkFlagRequired("stats")
	validateCmd.MarkFlagRequired("schema")

	// Diff command flags
	diffCmd.Flags().StringVar(&statsPath, "stats", "", "Current statistics snapshot path (required)")
	diffCmd.Flags().StringVar(&baselinePath, "baseline", "", "Baseline statistics snapshot path (required)")
	diffCmd.MarkFlagRequired("stats")
	diffCmd.MarkFlagRequired("baseline")

	// Runs command flags
	runsCmd.Flags().StringVar(&historyDB, "db", "datavet.db", "Run history database path")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 50, "Maximum runs to list (0 for all)")

	// Add commands
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(inferCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(runsCmd)
}
