package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/flow"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/ledger"
)

var cleanupYes bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete remote objects that earlier sessions left behind",
	Long: `List every object the archive recorded as created but never deleted,
grouped by session, and delete them. Requires archive.driver to be set.

Each delete is attempted once; objects whose delete fails stay in the archive
and are offered again next time.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupYes, "yes", "y", false, "skip confirmation")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openArchive(ctx, appCfg, logger)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("cleanup needs an archive: set archive.driver to sqlite or postgres")
	}
	defer store.Close()

	groups, err := store.Outstanding(ctx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		out.Success("Nothing to clean up")
		return nil
	}

	total := 0
	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		total += len(g.Refs)
		rows = append(rows, []string{
			g.SessionID,
			g.StartedAt.Local().Format("2006-01-02 15:04:05"),
			strconv.Itoa(len(g.Refs)),
		})
	}
	out.Table([]string{"Session", "Started", "Objects"}, rows)

	if !cleanupYes {
		ok, err := out.Prompter().Confirm(fmt.Sprintf("Delete %d object(s)?", total), false)
		if err != nil {
			return err
		}
		if !ok {
			out.Info("Cancelled")
			return nil
		}
	}

	client, err := newClient(appCfg, logger)
	if err != nil {
		return err
	}

	sess, err := store.BeginSession(ctx)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	log := logger.WithSession(sess.ID)
	sink := store.LedgerSink(sess.ID)
	l := ledger.New(ledger.Config{MaxEntries: appCfg.Ledger.MaxEntries}, log, sink)

	progress := out.NewMultiProgress()
	summary := make([][]string, 0, len(groups))
	failed := 0

	for _, g := range groups {
		bar := progress.AddBar(shortID(g.SessionID), int64(len(g.Refs)))
		report, err := flow.Sweep(ctx, client, l, g.Refs,
			flow.WithLogger(log),
			flow.WithRegistry(sink),
			flow.WithObserver(func(evt flow.StepEvent) {
				if evt.Step == flow.StepDelete && evt.Done {
					bar.Increment()
				}
			}),
		)
		if err != nil && !errors.Is(err, flow.ErrNothingToDelete) {
			bar.Abort()
			progress.Wait()
			return err
		}
		n := len(report.Failed())
		if n > 0 {
			bar.Abort()
		}
		failed += n
		summary = append(summary, []string{
			g.SessionID,
			strconv.Itoa(report.Attempts() - n),
			strconv.Itoa(n),
		})
	}
	progress.Wait()

	out.Section("Cleanup summary")
	out.Table([]string{"Session", "Deleted", "Failed"}, summary)
	if failed > 0 {
		out.Warning("%d of %d deletes failed; run cleanup again to retry them", failed, total)
		if verbose {
			printLedger(out, failedRecords(l.Records()), true)
		}
		return nil
	}
	out.Success("Deleted %d object(s)", total)
	return nil
}

func failedRecords(records []ledger.CallRecord) []ledger.CallRecord {
	var failed []ledger.CallRecord
	for _, r := range records {
		if r.Failed() {
			failed = append(failed, r)
		}
	}
	return failed
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
