package datavet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderStatistics renders a per-feature summary of a statistics
// snapshot as a fixed-width table. Numeric features show moments and
// extent; categorical features show distinct counts and their most
// frequent tokens.
func RenderStatistics(stats *DatasetStatistics) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"FEATURE", "KIND", "COUNT", "MISSING", "PRESENCE", "MEAN", "STD DEV", "MIN", "MAX", "TOP VALUES"})

	for _, f := range stats.Features() {
		row := table.Row{
			f.Name,
			f.Kind.String(),
			f.Count,
			f.Missing,
			formatFraction(f.Presence()),
		}
		if f.Kind == KindNumeric && f.Present() > 0 {
			row = append(row,
				formatFloat(f.Mean()),
				formatFloat(f.StdDev()),
				formatFloat(f.Min),
				formatFloat(f.Max),
				"-",
			)
		} else {
			row = append(row, "-", "-", "-", "-", formatTopValues(f, 3))
		}
		t.AppendRows([]table.Row{row})
	}

	t.SetStyle(table.StyleDefault)

	var b strings.Builder
	fmt.Fprintf(&b, "%d records, %d features (generated %s)\n",
		stats.TotalRecords(), stats.NumFeatures(), stats.GeneratedAt().Format("2006-01-02 15:04:05"))
	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}

// RenderReport renders a validation report as a findings table, one row
// per anomaly in report order. A clean report renders as a single line.
func RenderReport(report *Report) string {
	var b strings.Builder
	if report.Environment != "" {
		fmt.Fprintf(&b, "environment: %s\n", report.Environment)
	}
	if report.Empty() {
		b.WriteString("no anomalies found\n")
		return b.String()
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"SEVERITY", "FEATURE", "ANOMALY", "DESCRIPTION", "SAMPLES"})
	for _, a := range report.Anomalies {
		samples := "-"
		if len(a.SampleValues) > 0 {
			samples = strings.Join(a.SampleValues, ", ")
		}
		t.AppendRows([]table.Row{
			{a.Severity.String(), a.Feature, a.Kind.String(), a.Description, samples},
		})
	}
	t.SetStyle(table.StyleDefault)
	b.WriteString(t.Render())
	b.WriteString("\n")

	errs, warns := report.Counts()
	fmt.Fprintf(&b, "%d errors, %d warnings\n", errs, warns)
	return b.String()
}

// RenderRuns renders validation run records, newest first as the run
// ledger returns them.
func RenderRuns(runs []RunRecord) string {
	if len(runs) == 0 {
		return "no validation runs recorded\n"
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"RUN", "STARTED", "ENV", "SCHEMA", "RECORDS", "ERRORS", "WARNINGS", "CLEAN"})
	for _, rec := range runs {
		env := rec.Environment
		if env == "" {
			env = "-"
		}
		t.AppendRows([]table.Row{
			{
				rec.ID,
				rec.StartedAt.Format("2006-01-02 15:04:05"),
				env,
				rec.SchemaVersion,
				rec.RecordCount,
				rec.ErrorCount,
				rec.WarningCount,
				rec.Clean,
			},
		})
	}
	t.SetStyle(table.StyleDefault)
	return t.Render() + "\n"
}

// RenderDrift renders the per-feature L-infinity distance between two
// snapshots. Features whose frequency maps cannot be compared render as
// incomparable rather than being dropped.
func RenderDrift(current, baseline *DatasetStatistics) string {
	names := unionFeatureNames(current, baseline)
	if len(names) == 0 {
		return "no features to compare\n"
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"FEATURE", "DISTANCE", "NOTE"})
	for _, name := range names {
		cf, cok := current.Feature(name)
		bf, bok := baseline.Feature(name)
		switch {
		case !cok:
			t.AppendRows([]table.Row{{name, "-", "missing from current"}})
		case !bok:
			t.AppendRows([]table.Row{{name, "-", "missing from baseline"}})
		default:
			d, ok := LInfinityDistance(cf, bf)
			if !ok {
				t.AppendRows([]table.Row{{name, "-", "not comparable"}})
				continue
			}
			t.AppendRows([]table.Row{{name, formatFraction(d), ""}})
		}
	}
	t.SetStyle(table.StyleDefault)
	return t.Render() + "\n"
}

func unionFeatureNames(a, b *DatasetStatistics) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, n := range a.FeatureNames() {
		seen[n] = struct{}{}
		names = append(names, n)
	}
	for _, n := range b.FeatureNames() {
		if _, ok := seen[n]; !ok {
			names = append(names, n)
		}
	}
	return names
}

func formatTopValues(f *FeatureStatistics, limit int) string {
	top := f.TopValues(limit)
	if len(top) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(top))
	for _, vf := range top {
		parts = append(parts, fmt.Sprintf("%s (%d)", vf.Value, vf.Count))
	}
	return strings.Join(parts, ", ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func formatFraction(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
