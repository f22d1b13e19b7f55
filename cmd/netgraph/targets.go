package main

import (
	"github.com/spf13/cobra"
)

var (
	targetsURL string

	targetsCmd = &cobra.Command{
		Use:   "targets",
		Short: "List the debuggable targets of a running browser",
		Args:  cobra.NoArgs,
		RunE:  runTargets,
	}
)

func init() {
	targetsCmd.Flags().StringVar(&targetsURL, "url", "", "DevTools HTTP endpoint (defaults to browser.devtoolsURL)")
}

func runTargets(cmd *cobra.Command, _ []string) error {
	svc, cleanup, err := openService(false, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	targets, err := svc.Targets(cmd.Context(), targetsURL)
	if err != nil {
		return err
	}
	rows := make([][]cell, 0, len(targets))
	for _, t := range targets {
		rows = append(rows, []cell{
			plain("%s", t.ID),
			plain("%s", t.Type),
			plain("%s", truncate(t.URL, maxURLWidth)),
		})
	}
	return renderTable(cmd.OutOrStdout(), []string{"TARGET", "TYPE", "URL"}, rows)
}
