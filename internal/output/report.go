// Package output renders run summaries for humans and machines.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/overbench/overbench/internal/harness"
	"github.com/overbench/overbench/internal/threshold"
)

// PrintReport outputs a human-readable run summary.
func PrintReport(w io.Writer, summary *harness.Summary) {
	fmt.Fprintln(w, "\n--- Benchmark Run ---")
	fmt.Fprintf(w, "Run ID:            %s\n", summary.RunID)
	fmt.Fprintf(w, "Target:            %s\n", summary.Target)
	if summary.Proxy != "" {
		fmt.Fprintf(w, "Proxy:             %s\n", summary.Proxy)
	}
	if summary.Reference != "" {
		fmt.Fprintf(w, "Reference:         %s\n", summary.Reference)
	}
	fmt.Fprintf(w, "Duration:          %s\n", summary.Stats.Duration)
	fmt.Fprintf(w, "Samples:           %d (%d ok, %d failed)\n",
		summary.Stats.Samples, summary.Stats.Successes, summary.Stats.Failures)

	if summary.Stats.Samples > 0 {
		fmt.Fprintln(w, "\nSample Duration:")
		fmt.Fprintf(w, "  Min:             %s\n", summary.Stats.Min)
		fmt.Fprintf(w, "  Max:             %s\n", summary.Stats.Max)
		fmt.Fprintf(w, "  Mean:            %s\n", summary.Stats.Mean)
		fmt.Fprintf(w, "  P50:             %s\n", summary.Stats.P50)
		fmt.Fprintf(w, "  P90:             %s\n", summary.Stats.P90)
		fmt.Fprintf(w, "  P95:             %s\n", summary.Stats.P95)
		fmt.Fprintf(w, "  P99:             %s\n", summary.Stats.P99)
	}

	if len(summary.Stats.Stages) > 0 {
		fmt.Fprintln(w, "\nStages:")
		for _, stage := range summary.Stats.Stages {
			marker := "ok"
			if stage.Failed {
				marker = "FAILED"
			}
			fmt.Fprintf(w, "  %-16s %10s  %s\n", stage.Stage, stage.Duration.Round(time.Millisecond), marker)
		}
	}

	if len(summary.Headline) > 0 {
		fmt.Fprintln(w, "\nHeadline:")
		keys := make([]string, 0, len(summary.Headline))
		for key := range summary.Headline {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(w, "  %s: %s\n", key, summary.Headline[key])
		}
	}

	if len(summary.Artifacts) > 0 {
		fmt.Fprintln(w, "\nArtifacts:")
		for _, path := range summary.Artifacts {
			fmt.Fprintf(w, "  %s\n", path)
		}
	}

	if summary.Failed {
		fmt.Fprintf(w, "\nFAILED (%s): %s\n", summary.FailureKind, summary.Error)
	}
}

// PrintJSONReport outputs a JSON-formatted run summary.
func PrintJSONReport(w io.Writer, summary *harness.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// PrintThresholds outputs threshold evaluation results and reports
// whether all of them passed.
func PrintThresholds(w io.Writer, results []threshold.Result) bool {
	if len(results) == 0 {
		return true
	}
	allPass := true
	fmt.Fprintln(w, "\nThresholds:")
	for _, result := range results {
		fmt.Fprintf(w, "  %s\n", result.Message)
		if !result.Pass {
			allPass = false
		}
	}
	return allPass
}
