package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/extractflow/cmd/extractflow/ui"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/config"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/flow"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/presenter"
)

var (
	runFiles       []string
	runExport      bool
	runExportDir   string
	runDeleteAfter bool
	runLedger      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Upload files, run the extraction and print the result",
	Long: `Upload the given files, extract structured data from them and print it.

Press Ctrl+C during the extraction to cancel: the call in flight is allowed
to finish and is recorded, but its result is discarded.`,
	Example: `  extractflow run -f notes.txt
  extractflow run -f a.txt -f b.txt --export --cleanup --ledger`,
	RunE: runExtraction,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runFiles, "file", "f", nil, "input file (repeatable)")
	runCmd.Flags().BoolVar(&runExport, "export", false, "write the result to extracted_data.csv")
	runCmd.Flags().StringVar(&runExportDir, "export-dir", "", "directory for --export (default from config)")
	runCmd.Flags().BoolVar(&runDeleteAfter, "cleanup", false, "delete the created remote objects afterwards")
	runCmd.Flags().BoolVar(&runLedger, "ledger", false, "print every API call made")
	_ = runCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(runCmd)
}

func runExtraction(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	files, err := readFiles(runFiles)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, appCfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	ctrl := s.controller

	u := out
	u.Section("Step 1: Upload")
	printFiles(u, files)
	if err := ctrl.SubmitFiles(files); err != nil {
		return err
	}

	u.Section("Step 2: Extract")
	started := time.Now()
	err = extractWithSpinner(ctx, u, s)
	if errors.Is(err, flow.ErrStaleRun) {
		u.Warning("Extraction cancelled; the last response was recorded but not applied")
		if runLedger {
			printLedger(u, ctrl.Ledger().Records(), verbose)
		}
		return nil
	}
	if err != nil {
		u.Error("Extraction failed: %v", err)
		if orphans := ctrl.Orphans(); len(orphans) > 0 {
			u.Warning("%d object(s) were created before the failure and were not deleted", len(orphans))
			u.Info("%s", orphanHint(appCfg))
		}
		if runLedger {
			printLedger(u, ctrl.Ledger().Records(), true)
		}
		return err
	}
	u.Success("Extraction completed in %s", ui.FormatDuration(time.Since(started)))

	result := ctrl.Result()
	printResult(u, result, presenter.SortState{})

	if runExport {
		dir := runExportDir
		if dir == "" {
			dir = appCfg.Export.Dir
		}
		path, err := presenter.WriteExport(dir, presenter.BuildExport(result))
		if err != nil {
			return err
		}
		u.Success("Exported to %s", path)
	}

	if runDeleteAfter {
		u.Section("Cleanup")
		report, err := deleteWithProgress(ctx, u, s, len(ctrl.Refs()), ctrl.DeleteTrackedObjects)
		if err != nil && !errors.Is(err, flow.ErrNothingToDelete) {
			return err
		}
		if failed := report.Failed(); len(failed) > 0 {
			u.Warning("%d of %d deletes failed", len(failed), report.Attempts())
		}
	} else if refs := ctrl.Refs(); len(refs) > 0 {
		u.Info("%d remote object(s) kept; pass --cleanup to delete them", len(refs))
	}

	if runLedger {
		printLedger(u, ctrl.Ledger().Records(), verbose)
	}
	return nil
}

// orphanHint tells the user how objects left by a failed run can be removed.
func orphanHint(cfg *config.Config) string {
	if cfg.Archive.Driver != "" {
		return "Run `extractflow cleanup` to delete them"
	}
	return "Without an archive they cannot be swept later: set archive.driver so `extractflow cleanup` can find them, " +
		"or extraction.auto_cleanup_orphans to delete them as soon as a run fails"
}

// extractWithSpinner runs the extraction behind a spinner until it settles.
func extractWithSpinner(ctx context.Context, u *ui.UI, s *session) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	return extractUntilSettled(ctx, u, s, sigs)
}

// extractUntilSettled runs the extraction. The first signal cancels the run
// and lets the call in flight settle; the next one aborts that call.
func extractUntilSettled(ctx context.Context, u *ui.UI, s *session, sigs <-chan os.Signal) error {
	ctx, abort := context.WithCancel(ctx)
	defer abort()

	spin := u.NewSpinner(stepMessages[flow.StepCreate])
	s.observers.set(func(evt flow.StepEvent) {
		if msg, ok := stepMessages[evt.Step]; ok && !evt.Done {
			spin.UpdateMessage(msg)
		}
		if evt.Done && evt.Err == nil && !evt.Stale {
			u.Debug("%s settled", evt.Step)
		}
	})
	defer s.observers.set(nil)

	done := make(chan error, 1)
	spin.Start()
	go func() { done <- s.controller.StartExtraction(ctx) }()

	cancelled := false
	for {
		select {
		case err := <-done:
			spin.Stop()
			return err
		case <-sigs:
			if !cancelled {
				err := s.controller.Cancel()
				if err == nil {
					cancelled = true
					spin.UpdateMessage("Cancelling, waiting for the call in flight (press Ctrl+C again to abort it)")
					fmt.Fprintln(u.Out())
					continue
				}
				s.logger.Debug().Err(err).Msg("cancel ignored")
			}
			s.logger.Info().Msg("aborting call in flight")
			spin.UpdateMessage("Aborting the call in flight")
			abort()
		}
	}
}
