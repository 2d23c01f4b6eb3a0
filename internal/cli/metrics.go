package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display resolution metrics",
	Long: `Display aggregated metrics derived from the event log.

Metrics include commits by outcome, items carried over and dropped, drop
approvals requested, report submissions and policy fallbacks.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		// Table format.
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Resolution metrics (since %s)\n\n", sinceTime.Format("2006-01-02"))
		fmt.Fprintf(out, "  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Fprintf(out, "  %-24s %d\n", "Workflows opened:", metrics.WorkflowsOpened)
		fmt.Fprintf(out, "  %-24s %d\n", "Workflows cancelled:", metrics.WorkflowsCancelled)
		fmt.Fprintf(out, "  %-24s %d\n", "Policy fallbacks:", metrics.PolicyFallbacks)
		fmt.Fprintf(out, "  %-24s %d\n", "Items carried over:", metrics.ItemsCarriedOver)
		fmt.Fprintf(out, "  %-24s %d\n", "Items dropped:", metrics.ItemsDropped)
		fmt.Fprintf(out, "  %-24s %d\n", "Approvals requested:", metrics.ApprovalsRequested)
		fmt.Fprintf(out, "  %-24s %d\n", "Reports submitted:", metrics.ReportsSubmitted)
		fmt.Fprintf(out, "  %-24s %d\n", "Submission failures:", metrics.SubmissionFailures)

		if len(metrics.CommitsByOutcome) > 0 {
			fmt.Fprintln(out, "\n  Commits by outcome:")
			for _, outcome := range sortedKeys(metrics.CommitsByOutcome) {
				fmt.Fprintf(out, "    %-20s %d\n", outcome+":", metrics.CommitsByOutcome[outcome])
			}
		}

		if len(metrics.ResolvedByScope) > 0 {
			fmt.Fprintln(out, "\n  Resolved by scope:")
			for _, scope := range sortedKeys(metrics.ResolvedByScope) {
				fmt.Fprintf(out, "    %-20s %d\n", scope+":", metrics.ResolvedByScope[scope])
			}
		}

		if metrics.OldestEvent != nil {
			fmt.Fprintf(out, "\n  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Fprintf(out, "  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// or "24h" and returns the corresponding time in the past.
func parseSinceDuration(s string) (time.Time, error) {
	ref := now()
	s = strings.TrimSpace(s)
	if s == "" {
		return ref.AddDate(0, 0, -30), nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return ref.AddDate(0, 0, -days), nil
	}

	if strings.HasSuffix(s, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid hour duration %q", s)
		}
		return ref.Add(-time.Duration(hours) * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 30d, 24h)", s)
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "30d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	rootCmd.AddCommand(metricsCmd)
}
