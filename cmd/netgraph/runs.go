package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	runsLimit int
	runsJSON  bool

	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "List runs stored in sqlite",
		Args:  cobra.NoArgs,
		RunE:  runRuns,
	}
)

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs to list")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print as JSON")
}

func runRuns(cmd *cobra.Command, _ []string) error {
	svc, cleanup, err := openService(true, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := svc.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	if runsJSON {
		return writeJSON(cmd.OutOrStdout(), runs)
	}
	rows := make([][]cell, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []cell{
			plain("%s", r.ID),
			plain("%s", r.Source),
			plain("%d", r.EntryCount),
			plain("%d", r.RequestCount),
			styled(&dimStyle, r.CreatedAt.Local().Format(time.DateTime)),
			plain("%s", truncate(r.Label, maxURLWidth)),
		})
	}
	return renderTable(cmd.OutOrStdout(), []string{"RUN", "SOURCE", "ENTRIES", "REQUESTS", "CREATED", "LABEL"}, rows)
}
