package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	mr "github.com/ineyio/modelrouter"
)

func newCatalogCmd(a *app) *cobra.Command {
	var task string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the configured models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			catalog, err := mr.NewCatalog(cfg.Models)
			if err != nil {
				return err
			}

			models := catalog.Models()
			if task != "" {
				models = catalog.FindByCapability(mr.TaskType(task))
			}
			if len(models) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching models.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tPROVIDER\tCOST/1K\tQUALITY\tSPEED\tCONTEXT\tCAPABILITIES")
			for _, d := range models {
				caps := make([]string, len(d.Capabilities))
				for i, c := range d.Capabilities {
					caps[i] = string(c)
				}
				fmt.Fprintf(w, "%s\t%s\t$%.4f\t%s\t%s\t%d\t%s\n",
					d.Name, d.Provider, d.CostPer1K, d.Quality, d.Speed, d.MaxContextTokens, strings.Join(caps, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&task, "task", "t", "", "only show models tagged with this task type")
	return cmd
}
