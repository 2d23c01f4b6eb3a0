package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

var (
	plansScope scopeFlags
	plansJSON  bool
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect and load action plans",
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the action plans of a department and month",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Admin == nil {
			return fmt.Errorf("plan store not initialized")
		}
		scope, err := plansScope.scope()
		if err != nil {
			return err
		}
		items, err := Admin.ListPlans(context.Background(), scope)
		if err != nil {
			return fmt.Errorf("listing plans: %w", err)
		}

		out := cmd.OutOrStdout()
		if plansJSON {
			if items == nil {
				items = []models.WorkItem{}
			}
			data, err := json.MarshalIndent(items, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting plans as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		if len(items) == 0 {
			fmt.Fprintf(out, "No action plans for %s.\n", scope)
			return nil
		}
		fmt.Fprintf(out, "%-12s %-4s %-17s %-14s %-6s %-12s %s\n", "ID", "PRI", "STATUS", "CARRY", "MAX", "OWNER", "TITLE")
		for _, it := range items {
			fmt.Fprintf(out, "%-12s %-4s %-17s %-14s %-6g %-12s %s\n",
				it.ID, it.Priority, it.Status, it.CarryOverState, it.MaxScore, it.Owner, it.Title)
		}
		return nil
	},
}

// planImportFile is the YAML format accepted by plans import.
type planImportFile struct {
	Plans []models.WorkItem `yaml:"plans"`
}

var plansImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import action plans from a YAML file",
	Long: `Import action plans from a YAML file of the form:

  plans:
    - id: AP-1
      title: Close Q1 ledger
      owner: alice
      scope: {department: FIN, month: 3, year: 2026}
      category: High (board priority)
      status: open

Plans that already exist are rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Admin == nil {
			return fmt.Errorf("plan store not initialized")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		var f planImportFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}
		if len(f.Plans) == 0 {
			return fmt.Errorf("%s contains no plans", args[0])
		}
		if err := Admin.ImportPlans(context.Background(), f.Plans); err != nil {
			return fmt.Errorf("importing plans: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d action plan(s).\n", len(f.Plans))
		return nil
	},
}

func init() {
	plansScope.register(plansListCmd)
	plansListCmd.Flags().BoolVar(&plansJSON, "json", false, "Output plans as JSON")
	plansCmd.AddCommand(plansListCmd)
	plansCmd.AddCommand(plansImportCmd)
	rootCmd.AddCommand(plansCmd)
}
