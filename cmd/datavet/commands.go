package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/datavet-io/datavet"
	"github.com/spf13/cobra"
)

func runStats(cmd *cobra.Command, args []string) error {
	src, err := datavet.OpenRecords(inputPath)
	if err != nil {
		return err
	}
	defer src.Close()

	opts := datavet.DefaultComputeOptions()
	if schemaPath != "" {
		hint, err := loadSchemaFile(schemaPath)
		if err != nil {
			return err
		}
		opts.Hint = hint
	}

	stats, err := datavet.ComputeStatistics(src, opts)
	if err != nil {
		return fmt.Errorf("compute statistics: %w", err)
	}

	data, err := datavet.EncodeStatistics(stats)
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	fmt.Print(datavet.RenderStatistics(stats))
	fmt.Printf("\nwrote %s (%d bytes)\n", outputPath, len(data))
	return nil
}

func runInfer(cmd *cobra.Command, args []string) error {
	stats, err := loadStatsFile(statsPath)
	if err != nil {
		return err
	}

	inferrer := datavet.NewSchemaInferrer(datavet.DefaultInferenceConfig())
	schema, err := inferrer.Infer(stats)
	if err != nil {
		return fmt.Errorf("infer schema: %w", err)
	}

	data, err := datavet.MarshalSchema(schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}

	fmt.Printf("wrote %s (%d features)\n", outputPath, len(schema.Features))
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	stats, err := loadStatsFile(statsPath)
	if err != nil {
		return err
	}
	schema, err := loadSchemaFile(schemaPath)
	if err != nil {
		return err
	}

	opts := datavet.ValidateOptions{Environment: environment}
	if baselinePath != "" {
		baseline, err := loadStatsFile(baselinePath)
		if err != nil {
			return err
		}
		opts.Baseline = baseline
	}

	validator := datavet.NewValidator(datavet.DefaultValidatorConfig())
	report, err := validator.Validate(stats, schema, opts)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		fmt.Println(string(data))
	} else {
		fmt.Print(datavet.RenderReport(report))
	}

	if errCount, _ := report.Counts(); errCount > 0 {
		os.Exit(1)
	}
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	current, err := loadStatsFile(statsPath)
	if err != nil {
		return err
	}
	baseline, err := loadStatsFile(baselinePath)
	if err != nil {
		return err
	}

	fmt.Print(datavet.RenderDrift(current, baseline))
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(historyDB); os.IsNotExist(err) {
		return fmt.Errorf("run history database does not exist: %s", historyDB)
	}

	hcfg := datavet.DefaultHistoryConfig()
	hcfg.Path = historyDB
	store, err := datavet.NewHistoryStore(hcfg)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	runs, err := store.Runs(ctx, runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	fmt.Print(datavet.RenderRuns(runs))

	if totals, err := store.Stats(ctx); err == nil {
		fmt.Printf("\n%d runs recorded, %d clean, %d anomalies\n",
			totals.RunCount, totals.CleanCount, totals.AnomalyCount)
	}
	return nil
}

// loadStatsFile reads and decodes a binary statistics snapshot.
func loadStatsFile(path string) (*datavet.DatasetStatistics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read statistics: %w", err)
	}
	stats, err := datavet.DecodeStatistics(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return stats, nil
}

// loadSchemaFile reads and parses a schema document.
func loadSchemaFile(path string) (*datavet.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	schema, err := datavet.UnmarshalSchema(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return schema, nil
}
