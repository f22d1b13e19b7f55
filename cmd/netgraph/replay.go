package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cdpnetgraph/internal/devtoolslog"
	"cdpnetgraph/pkg/api"
)

var (
	replayRun     string
	replayPersist bool
	replayJobs    int

	replayCmd = &cobra.Command{
		Use:   "replay [log.json...]",
		Short: "Build the request graph from saved DevTools logs or a stored run",
		RunE:  runReplay,
	}
)

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayRun, "run", "", "replay a run stored in sqlite instead of files")
	f.BoolVar(&replayPersist, "db", false, "persist each replayed file as a run")
	f.IntVarP(&replayJobs, "jobs", "j", 4, "files evaluated in parallel")
}

type replayOutput struct {
	File string `json:"file,omitempty"`
	*api.Result
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayRun == "" && len(args) == 0 {
		return fmt.Errorf("replay needs at least one log file or --run")
	}
	svc, cleanup, err := openService(replayRun != "" || replayPersist, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if replayRun != "" {
		res, err := svc.LoadRun(ctx, replayRun)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), replayOutput{Result: res})
	}

	out := make([]replayOutput, len(args))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(replayJobs, 1))
	for i, path := range args {
		g.Go(func() error {
			l, err := devtoolslog.ReadFile(path)
			if err != nil {
				return err
			}
			res, err := svc.Replay(gctx, l, filepath.Base(path), replayPersist)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			out[i] = replayOutput{File: path, Result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(out) == 1 {
		return writeJSON(cmd.OutOrStdout(), out[0])
	}
	return writeJSON(cmd.OutOrStdout(), out)
}
