package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

// scopeFlags holds the --dept/--month/--year values of one command.
type scopeFlags struct {
	dept  string
	month int
	year  int
}

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dept, "dept", "", "Department code (required)")
	cmd.Flags().IntVar(&f.month, "month", 0, "Reporting month 1-12 (default: previous month)")
	cmd.Flags().IntVar(&f.year, "year", 0, "Reporting year (default: year of the previous month)")
}

// scope resolves the flags into a validated scope. A missing month or year
// defaults to the month before the current one, which is the period being
// closed out.
func (f *scopeFlags) scope() (models.Scope, error) {
	t := now()
	prev := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	s := models.Scope{Department: f.dept, Month: f.month, Year: f.year}
	if s.Month == 0 {
		s.Month = int(prev.Month())
	}
	if s.Year == 0 {
		s.Year = prev.Year()
	}
	if err := s.Validate(); err != nil {
		return models.Scope{}, fmt.Errorf("invalid --dept/--month/--year: %w", err)
	}
	return s, nil
}
