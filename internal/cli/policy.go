package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

var (
	policyFirstCeiling  float64
	policySecondCeiling float64
	policyApproval      []string
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show or change the resolution policies",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the carry-over schedule and drop approval policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Policies == nil {
			return fmt.Errorf("policy store not initialized")
		}
		doc := Policies.LoadPolicies(context.Background())
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Carry-over score ceilings")
		fmt.Fprintf(out, "  %-24s %g\n", "After first carry:", doc.CarryOver.CeilingAfterFirstCarry)
		fmt.Fprintf(out, "  %-24s %g\n", "After second carry:", doc.CarryOver.CeilingAfterSecondCarry)
		fmt.Fprintln(out, "\nDrop approval")
		for _, c := range models.AllPriorityCategories {
			req := "no"
			if doc.DropApproval.RequiresApproval(c) {
				req = "required"
			}
			fmt.Fprintf(out, "  %-24s %s\n", string(c)+":", req)
		}
		if doc.Fallback {
			fmt.Fprintln(out, "\nWarning: policies could not be loaded; defaults are shown.")
		}
		return nil
	},
}

var policySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store new resolution policies",
	Long: `Store the carry-over schedule and the drop approval policy.

Flags that are not given keep their current value.

  actionplan policy set --first-ceiling 80 --second-ceiling 50 --require-approval UH,H`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Admin == nil || Policies == nil {
			return fmt.Errorf("policy store not initialized")
		}
		ctx := context.Background()
		doc := Policies.LoadPolicies(ctx)

		if cmd.Flags().Changed("first-ceiling") {
			doc.CarryOver.CeilingAfterFirstCarry = policyFirstCeiling
		}
		if cmd.Flags().Changed("second-ceiling") {
			doc.CarryOver.CeilingAfterSecondCarry = policySecondCeiling
		}
		if cmd.Flags().Changed("require-approval") {
			approval, err := parseApprovalCategories(policyApproval)
			if err != nil {
				return err
			}
			doc.DropApproval = approval
		}
		if err := validateSchedule(doc.CarryOver); err != nil {
			return err
		}

		if err := Admin.SavePolicies(ctx, doc); err != nil {
			return fmt.Errorf("saving policies: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Policies saved.")
		return nil
	},
}

func parseApprovalCategories(values []string) (models.DropApprovalPolicy, error) {
	policy := models.DropApprovalPolicy{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || strings.EqualFold(v, "none") {
			continue
		}
		c := models.ParsePriorityCategory(v)
		if c == models.PriorityUnspecified && !strings.EqualFold(v, string(models.PriorityUnspecified)) {
			return nil, fmt.Errorf("unknown priority category %q (use UH, H, M, L or UNSPECIFIED)", v)
		}
		policy[c] = true
	}
	return policy, nil
}

// validateSchedule rejects ceilings outside 0-100 and a ladder that does not decay.
func validateSchedule(s models.CarryOverSchedule) error {
	for _, c := range []float64{s.CeilingAfterFirstCarry, s.CeilingAfterSecondCarry} {
		if c < 0 || c > 100 {
			return fmt.Errorf("score ceiling %g out of range 0-100", c)
		}
	}
	if s.CeilingAfterSecondCarry > s.CeilingAfterFirstCarry {
		return fmt.Errorf("ceiling after second carry (%g) exceeds ceiling after first carry (%g)",
			s.CeilingAfterSecondCarry, s.CeilingAfterFirstCarry)
	}
	return nil
}

func init() {
	policySetCmd.Flags().Float64Var(&policyFirstCeiling, "first-ceiling", 0, "Maximum score after the first carry-over")
	policySetCmd.Flags().Float64Var(&policySecondCeiling, "second-ceiling", 0, "Maximum score after the second carry-over")
	policySetCmd.Flags().StringSliceVar(&policyApproval, "require-approval", nil, "Priority categories whose drops need approval (e.g. UH,H or none)")
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policySetCmd)
	rootCmd.AddCommand(policyCmd)
}
