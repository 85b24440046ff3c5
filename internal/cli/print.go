package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/aretw0/mealycache/pkg/domain"
)

// PrintObservations writes a table of records.
func PrintObservations(w io.Writer, records []domain.Observation) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKEY\tRESPONSE\tCOUNT\tSYNTHETIC")
	for _, o := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%t\n", o.ID, o.Key, o.Response, o.Count, o.Synthetic)
	}
	return tw.Flush()
}
