package main

import (
	"github.com/spf13/cobra"
)

func newHarmonizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "harmonize TABLE...",
		Short: "Copy the latest generation of each table to one shared generation",
		Long: "Every named table receives a new generation numbered one past the highest\n" +
			"latest generation in the set, holding a copy of its own latest rows.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, closeStore, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := svc.Harmonize(cmd.Context(), args)
			if err != nil {
				return err
			}
			return a.printHarmonize(cmd.OutOrStdout(), res)
		},
	}
}
