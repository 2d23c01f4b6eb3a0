package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/werkudaraevent-eng/actionplan-sub001/internal/core"
	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

var (
	resolveScope   scopeFlags
	resolveCarry   []string
	resolveDrop    []string
	resolveRequest []string
	resolveFile    string
	resolveSubmit  bool
	resolveDryRun  bool
	resolveRetries int
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the unfinished action plans of a month",
	Long: `Resolve every unfinished action plan of a department and month.

Without decision flags an interactive screen lists the plans and lets you
carry over, drop or request a drop for each one, then commit.

With --carry, --drop, --request-drop or --decisions the same workflow runs
headless. Plans whose only option is a drop are dropped by default.

  actionplan resolve --dept FIN --month 3 --year 2026 \
      --carry AP-1 --drop AP-7 --request-drop "AP-9=vendor contract cancelled"

With --submit (or workflow.mode: submit in .apconfig) the report is
submitted and the period locked after a successful commit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil || Policies == nil || Orchestrator == nil {
			return fmt.Errorf("resolution services not initialized")
		}
		scope, err := resolveScope.scope()
		if err != nil {
			return err
		}
		mode := WorkflowMode
		if resolveSubmit {
			mode = models.ModeSubmit
		}

		decisions, err := collectDecisions()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		wf := newWorkflow(scope, mode)
		if decisions == nil && !resolveDryRun {
			return runResolveTUI(wf)
		}
		return runHeadless(ctx, cmd.OutOrStdout(), wf, decisions)
	},
}

// decisionFile is the YAML format accepted by --decisions.
type decisionFile struct {
	Decisions []decisionEntry `yaml:"decisions"`
}

type decisionEntry struct {
	ID     string `yaml:"id"`
	Action string `yaml:"action"`
	Reason string `yaml:"reason,omitempty"`
}

// collectDecisions merges --decisions with the per-item flags. Flags win over
// the file for the same item. It returns nil when no decision was given.
func collectDecisions() ([]decisionEntry, error) {
	var entries []decisionEntry
	if resolveFile != "" {
		data, err := os.ReadFile(resolveFile)
		if err != nil {
			return nil, fmt.Errorf("reading decisions file: %w", err)
		}
		var df decisionFile
		if err := yaml.Unmarshal(data, &df); err != nil {
			return nil, fmt.Errorf("parsing decisions file: %w", err)
		}
		entries = append(entries, df.Decisions...)
	}
	for _, id := range resolveCarry {
		entries = append(entries, decisionEntry{ID: id, Action: string(models.ActionCarryOver)})
	}
	for _, id := range resolveDrop {
		entries = append(entries, decisionEntry{ID: id, Action: string(models.ActionDrop)})
	}
	for _, kv := range resolveRequest {
		id, reason, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("--request-drop %q: expected ID=reason", kv)
		}
		entries = append(entries, decisionEntry{ID: strings.TrimSpace(id), Action: string(models.ActionRequestDrop), Reason: reason})
	}
	if entries == nil && resolveFile == "" {
		return nil, nil
	}
	if entries == nil {
		entries = []decisionEntry{}
	}
	return entries, nil
}

// applyDecision records one entry on the workflow. A plain drop of an item
// that requires approval is refused rather than silently escalated, since
// headless runs cannot prompt for the reason.
func applyDecision(wf *core.Workflow, e decisionEntry) error {
	action, err := models.ParseAction(strings.TrimSpace(e.Action))
	if err != nil {
		return fmt.Errorf("%s: %w", e.ID, err)
	}
	switch action {
	case models.ActionDrop:
		if err := wf.SetDecision(e.ID, models.ActionDrop); err != nil {
			if errors.Is(err, core.ErrActionNotAllowed) {
				return fmt.Errorf("%w (use --request-drop %s=<reason>)", err, e.ID)
			}
			return err
		}
		return nil
	case models.ActionRequestDrop:
		return wf.QueueDropRequest(e.ID, e.Reason)
	default:
		return wf.SetDecision(e.ID, action)
	}
}

func runHeadless(ctx context.Context, out io.Writer, wf *core.Workflow, decisions []decisionEntry) error {
	if err := wf.Open(ctx); err != nil {
		return err
	}

	var problems []string
	for _, e := range decisions {
		if err := applyDecision(wf, e); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		_ = wf.Cancel()
		return fmt.Errorf("rejected decisions:\n  - %s", strings.Join(problems, "\n  - "))
	}

	views, _ := wf.Preview()
	printPreview(out, wf.Scope(), views)

	missing := wf.Undecided()
	if resolveDryRun {
		_ = wf.Cancel()
		if len(missing) > 0 {
			fmt.Fprintf(out, "\nnot ready: undecided %s\n", strings.Join(missing, ", "))
		} else {
			fmt.Fprintln(out, "\nready to commit")
		}
		return nil
	}

	if len(missing) > 0 {
		_ = wf.Cancel()
		return fmt.Errorf("%w: %s", core.ErrNotReady, strings.Join(missing, ", "))
	}

	var commitErr error
	for attempt := 0; attempt <= resolveRetries; attempt++ {
		_, commitErr = wf.Commit(ctx)
		if commitErr == nil {
			break
		}
		fmt.Fprintf(out, "commit attempt %d failed: %v\n", attempt+1, commitErr)
	}
	fmt.Fprintln(out, wf.Summary())
	if commitErr != nil {
		return commitErr
	}

	state, _ := wf.State()
	if state == core.StateConfirm {
		if err := wf.ConfirmSubmission(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "report for %s submitted\n", wf.Scope())
	}
	return nil
}

func printPreview(out io.Writer, scope models.Scope, views []core.ItemView) {
	fmt.Fprintf(out, "Action plans to resolve for %s\n\n", scope.Key())
	if len(views) == 0 {
		fmt.Fprintln(out, "  nothing to resolve")
		return
	}
	fmt.Fprintf(out, "  %-12s %-4s %-14s %-9s %-14s %s\n", "ID", "PRI", "CARRY", "NEXT MAX", "DECISION", "TITLE")
	for _, v := range views {
		next := "-"
		if v.HasNextCeiling {
			next = fmt.Sprintf("%g", v.NextCeiling)
		}
		decision := "undecided"
		if v.Decision != nil {
			decision = string(v.Decision.Action)
		}
		if v.Committed {
			decision += "*"
		}
		fmt.Fprintf(out, "  %-12s %-4s %-14s %-9s %-14s %s\n",
			v.Item.ID, v.Item.Priority, v.Item.CarryOverState, next, decision, v.Item.Title)
	}
}

func init() {
	resolveScope.register(resolveCmd)
	resolveCmd.Flags().StringSliceVar(&resolveCarry, "carry", nil, "Carry over these plan IDs")
	resolveCmd.Flags().StringSliceVar(&resolveDrop, "drop", nil, "Drop these plan IDs")
	resolveCmd.Flags().StringArrayVar(&resolveRequest, "request-drop", nil, "Request approval to drop a plan, as ID=reason (repeatable)")
	resolveCmd.Flags().StringVar(&resolveFile, "decisions", "", "YAML file with a decisions list")
	resolveCmd.Flags().BoolVar(&resolveSubmit, "submit", false, "Submit the report after a successful commit")
	resolveCmd.Flags().BoolVar(&resolveDryRun, "dry-run", false, "Show what would be committed without committing")
	resolveCmd.Flags().IntVar(&resolveRetries, "retries", 0, "Retry a failed commit this many times; applied work is not repeated")
	rootCmd.AddCommand(resolveCmd)
}
