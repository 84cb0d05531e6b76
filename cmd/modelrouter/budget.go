package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newBudgetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "budget",
		Short: "Show spend against the budget for the current period",
		RunE: func(cmd *cobra.Command, args []string) error {
			router, closer, err := a.newRouter(nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			st, err := router.BudgetStatus(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PERIOD\tTOTAL\tSPENT\tRESERVED\tREMAINING\tAVAILABLE\tRESETS")
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				st.Period, st.Total, st.Spent, st.Reserved, st.Remaining, st.Available,
				st.ResetAt.Format(time.RFC3339))

			if len(st.ByProvider) > 0 {
				providers := make([]string, 0, len(st.ByProvider))
				for p := range st.ByProvider {
					providers = append(providers, p)
				}
				sort.Strings(providers)

				fmt.Fprintln(w)
				fmt.Fprintln(w, "PROVIDER\tSPENT")
				for _, p := range providers {
					fmt.Fprintf(w, "%s\t%s\n", p, st.ByProvider[p])
				}
			}
			return w.Flush()
		},
	}
}
