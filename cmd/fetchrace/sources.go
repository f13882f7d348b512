package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fetchrace/internal/app"
	"fetchrace/internal/fetch"
)

func newSourcesCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List the enabled sources that a get would race",
		Args:  cobra.NoArgs,
		PreRunE: bindOnRun(v, map[string]string{
			"sources": "source",
			"include": "include",
		}),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer a.Close(closeWait)

			srcs, err := app.FilterSources(a.Config().EnabledSources(), v.GetString("include"))
			if err != nil {
				return usageError("%v", err)
			}
			out := cmd.OutOrStdout()
			for _, s := range srcs {
				kind := fetch.Scheme(s)
				if kind == "" {
					kind = "-"
				}
				if a.Supports(s) {
					fmt.Fprintf(out, "%-8s %s\n", kind, s)
				} else {
					fmt.Fprintf(out, "%-8s %s (unsupported)\n", kind, s)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("source", nil, "source URL (repeatable); replaces the sources in --config")
	cmd.Flags().String("include", "", "only list sources matching this glob")
	return cmd
}
