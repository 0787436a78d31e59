package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/resource"
)

func newCatalogCommand() *cobra.Command {
	var showComponents bool

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the built-in resources and component types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			catalog := resource.NewCatalog()

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCATEGORY\tISA\tVERSION\tDETAILS")
			for _, r := range catalog.Resources() {
				details := r.Description
				if r.Category == resource.CategorySuite {
					if suite, err := catalog.Suite(r.ID); err == nil {
						details = fmt.Sprintf("%d workloads, input groups: %s",
							len(suite.Workloads()), strings.Join(suite.InputGroups(), ", "))
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Category, r.ISA, r.Version, details)
			}
			w.Flush()

			if showComponents {
				registry := components.NewRegistry()
				fmt.Fprintln(out)
				for _, kind := range []components.Kind{components.KindProcessor, components.KindMemory, components.KindCacheHierarchy} {
					fmt.Fprintf(out, "%s: %s\n", kind, strings.Join(registry.Names(kind), ", "))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showComponents, "components", false, "also list registered component types")
	return cmd
}
