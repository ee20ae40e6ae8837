package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"yt-comment-collector/internal/checkpoint"
	"yt-comment-collector/internal/collector"
	"yt-comment-collector/internal/logging"
	"yt-comment-collector/internal/model"
	"yt-comment-collector/internal/runstore"
	"yt-comment-collector/internal/sink"
)

type statusReport struct {
	DataDir        string         `json:"data_dir"`
	Backend        string         `json:"backend"`
	Completed      int            `json:"completed"`
	Failed         int            `json:"failed"`
	FailedIDs      []string       `json:"failed_ids"`
	Persisted      int            `json:"persisted"`
	PersistedBytes int64          `json:"persisted_bytes"`
	Unrecorded     []string       `json:"unrecorded,omitempty"`
	LastRun        *model.Summary `json:"last_run,omitempty"`
	Corrupt        string         `json:"corrupt,omitempty"`
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint counts, failed videos and the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g, nil)
			if err != nil {
				return err
			}
			store, err := checkpoint.Open(cfg.CheckpointBackend, cfg.ProgressDir, logging.Nop().SugaredLogger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			// Read-only: a running collect may own the ledger, so status never
			// repairs it.
			ledger, err := store.Inspect(cmd.Context())
			if err != nil {
				return err
			}

			raw := sink.New(cfg.RawDir)
			ids, err := raw.List()
			if err != nil {
				return err
			}
			report := statusReport{
				DataDir:   cfg.DataDir,
				Backend:   cfg.CheckpointBackend,
				Completed: len(ledger.Completed()),
				Failed:    len(ledger.Failed()),
				FailedIDs: ledger.Failed(),
				Persisted: len(ids),
			}
			if corrupt := ledger.Recovered(); corrupt != nil {
				report.Corrupt = corrupt.Error()
			}
			for _, id := range ids {
				if info, err := os.Stat(raw.Path(id)); err == nil {
					report.PersistedBytes += info.Size()
				}
				// Saved but never checkpointed: an earlier run stopped between
				// the two steps and the next run will fetch it again.
				if ledger.State(id) != model.StateCompleted {
					report.Unrecorded = append(report.Unrecorded, id)
				}
			}
			var last model.Summary
			if err := runstore.ReadJSON(filepath.Join(cfg.ProgressDir, collector.LastRunFile), &last); err == nil {
				report.LastRun = &last
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, report)
			}
			fmt.Fprintf(out, "data dir:  %s (%s backend)\n", report.DataDir, report.Backend)
			if report.Corrupt != "" {
				fmt.Fprintf(out, "ledger:    corrupt (%s); the next collect starts over\n", report.Corrupt)
			}
			fmt.Fprintf(out, "completed: %d\n", report.Completed)
			fmt.Fprintf(out, "failed:    %d\n", report.Failed)
			fmt.Fprintf(out, "saved:     %d file(s), %s\n", report.Persisted, formatBytesIEC(report.PersistedBytes))
			if len(report.Unrecorded) > 0 {
				fmt.Fprintf(out, "unrecorded: %s (will be fetched again)\n", strings.Join(report.Unrecorded, ", "))
			}
			if report.LastRun != nil {
				lr := report.LastRun
				state := "finished"
				if lr.Interrupted {
					state = "interrupted"
				}
				fmt.Fprintf(out, "last run:  %s %s at %s (%d completed, %d failed, %d skipped)\n",
					lr.RunID, state, lr.StartedAt.Local().Format("2006-01-02 15:04"), lr.Completed, lr.Failed, lr.Skipped)
			}
			if len(report.FailedIDs) > 0 {
				fmt.Fprintln(out, "failed videos:")
				for _, id := range report.FailedIDs {
					fmt.Fprintf(out, "  %s\n", id)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}

func newResetFailedCmd(g *globalFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reset-failed [video-id...]",
		Short: "Return failed videos to pending so the next collect retries them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass video ids or --all (not both)")
			}
			cfg, err := loadConfig(cmd, g, nil)
			if err != nil {
				return err
			}
			lock, err := runstore.AcquireDirLock(cfg.DataDir, "reset-failed")
			if err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			store, err := checkpoint.Open(cfg.CheckpointBackend, cfg.ProgressDir, logging.Nop().SugaredLogger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var ids []string
			if !all {
				ids = args
			}
			n, err := store.ResetFailed(cmd.Context(), ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d failed video(s) to pending\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "reset every failed video")
	return cmd
}
