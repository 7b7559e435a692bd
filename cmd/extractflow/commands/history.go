package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/storage"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "List archived sessions or show the API calls of one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of sessions to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openArchive(ctx, appCfg, logger)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("history needs an archive: set archive.driver to sqlite or postgres")
	}
	defer store.Close()

	if len(args) == 1 {
		return showSession(ctx, store, args[0])
	}

	sessions, err := store.ListSessions(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		out.Info("No sessions recorded yet")
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.ID,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			strconv.Itoa(s.Calls),
			strconv.Itoa(s.Outstanding),
		})
	}
	out.Table([]string{"Session", "Started", "Calls", "Outstanding"}, rows)
	return nil
}

func showSession(ctx context.Context, store *storage.Store, id string) error {
	sess, err := store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return err
	}

	out.KeyValue("Session", sess.ID)
	out.KeyValue("Started", sess.StartedAt.Local().Format("2006-01-02 15:04:05"))

	calls, err := store.ListCalls(ctx, sess.ID)
	if err != nil {
		return err
	}
	printLedger(out, calls, verbose)
	return nil
}
