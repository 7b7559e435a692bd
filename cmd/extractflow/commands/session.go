package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/extractflow/cmd/extractflow/ui"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/flow"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/presenter"
)

var sessionFollow bool

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Work through the upload, extract and cleanup steps interactively",
	Long: `Start an interactive session over a single extraction flow.
Type "help" for the list of commands.

With --follow, print the API calls broadcast by other sessions instead.`,
	RunE: runSession,
}

func init() {
	sessionCmd.Flags().BoolVar(&sessionFollow, "follow", false, "stream API calls broadcast by other sessions")
	rootCmd.AddCommand(sessionCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if sessionFollow {
		return followBroadcast(ctx, out)
	}

	s, err := openSession(ctx, appCfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	out.Box("extractflow session", fmt.Sprintf("Session %s\nType \"help\" for commands.", s.id))
	r := newREPL(out, s, appCfg.Export.Dir)
	return r.run(ctx)
}

// repl is the interactive loop. Background extractions never write to the
// UI; their outcome is reported before the next prompt.
type repl struct {
	ui        *ui.UI
	prompter  *ui.Prompter
	sess      *session
	ctrl      *flow.Controller
	exportDir string
	sort      presenter.SortState
	pending   []flow.UploadedFile

	wg      sync.WaitGroup
	mu      sync.Mutex
	notices []string
}

func newREPL(u *ui.UI, s *session, exportDir string) *repl {
	return &repl{
		ui:        u,
		prompter:  u.Prompter(),
		sess:      s,
		ctrl:      s.controller,
		exportDir: exportDir,
	}
}

type replCommand struct {
	usage string
	help  string
	run   func(r *repl, ctx context.Context, args []string) error
}

var replCommands map[string]replCommand

var replOrder = []string{
	"add", "files", "submit", "extract", "wait", "cancel", "status", "result",
	"sort", "export", "delete", "orphans", "ledger", "reset", "help", "quit",
}

func init() {
	replCommands = map[string]replCommand{
		"add":     {"add <file>...", "select files for upload", (*repl).cmdAdd},
		"files":   {"files", "list selected or submitted files", (*repl).cmdFiles},
		"submit":  {"submit", "submit the selected files (step 1 to 2)", (*repl).cmdSubmit},
		"extract": {"extract", "start the extraction in the background", (*repl).cmdExtract},
		"wait":    {"wait", "wait for a background extraction to settle", (*repl).cmdWait},
		"cancel":  {"cancel", "abandon the current run and return to step 1", (*repl).cmdCancel},
		"status":  {"status", "show the flow state", (*repl).cmdStatus},
		"result":  {"result", "show the extracted data", (*repl).cmdResult},
		"sort":    {"sort <field1|field2>", "toggle sorting of the result table", (*repl).cmdSort},
		"export":  {"export [dir]", "write the result to extracted_data.csv", (*repl).cmdExport},
		"delete":  {"delete", "delete the objects of the completed run", (*repl).cmdDelete},
		"orphans": {"orphans [delete]", "list or delete objects left by failed runs", (*repl).cmdOrphans},
		"ledger":  {"ledger [n]", "show the last n API calls (all by default)", (*repl).cmdLedger},
		"reset":   {"reset", "clear everything and start over", (*repl).cmdReset},
		"help":    {"help", "show this help", (*repl).cmdHelp},
	}
}

var errQuit = errors.New("quit")

func (r *repl) run(ctx context.Context) error {
	defer r.wg.Wait()

	for {
		r.flushNotices()
		snap := r.ctrl.Snapshot()
		line, err := r.prompter.Prompt(fmt.Sprintf("[%d:%s]", snap.State.Step(), snap.State))
		if errors.Is(err, io.EOF) {
			r.ui.Newline()
			return nil
		}
		if err != nil {
			return err
		}

		if err := r.dispatch(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			r.ui.Error("%v", err)
		}
	}
}

func (r *repl) dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	name := strings.ToLower(fields[0])
	if name == "quit" || name == "exit" {
		if r.ctrl.InProgress() {
			r.ui.Info("Waiting for the extraction in flight to settle...")
		}
		return errQuit
	}

	cmd, ok := replCommands[name]
	if !ok {
		return fmt.Errorf("unknown command %q, type \"help\"", fields[0])
	}
	return cmd.run(r, ctx, fields[1:])
}

func (r *repl) notify(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, fmt.Sprintf(format, args...))
}

func (r *repl) flushNotices() {
	r.mu.Lock()
	notices := r.notices
	r.notices = nil
	r.mu.Unlock()

	for _, n := range notices {
		r.ui.Info("%s", n)
	}
}

func (r *repl) cmdAdd(_ context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: add <file>...")
	}
	files, err := readFiles(args)
	if err != nil {
		return err
	}
	r.pending = append(r.pending, files...)
	r.ui.Success("%d file(s) selected", len(r.pending))
	return nil
}

func (r *repl) cmdFiles(_ context.Context, _ []string) error {
	if r.ctrl.State() == flow.AwaitingUpload {
		printFiles(r.ui, r.pending)
		return nil
	}
	printFiles(r.ui, r.ctrl.Files())
	return nil
}

func (r *repl) cmdSubmit(_ context.Context, _ []string) error {
	if err := r.ctrl.SubmitFiles(r.pending); err != nil {
		return err
	}
	r.pending = nil
	r.ui.Success("Files submitted; type \"extract\" to continue")
	return nil
}

func (r *repl) cmdExtract(ctx context.Context, _ []string) error {
	if r.ctrl.InProgress() {
		return flow.ErrInProgress
	}
	if r.ctrl.State() != flow.AwaitingExtraction {
		return fmt.Errorf("submit files first: %w", flow.ErrInvalidState)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.ctrl.StartExtraction(ctx)
		switch {
		case err == nil:
			r.notify("Extraction completed; type \"result\" to view it")
		case errors.Is(err, flow.ErrStaleRun):
			r.notify("A cancelled extraction settled; its response was recorded but not applied")
		default:
			r.notify("Extraction failed: %v", err)
		}
	}()
	r.ui.Step("Extraction started")
	return nil
}

func (r *repl) cmdWait(_ context.Context, _ []string) error {
	r.wg.Wait()
	return nil
}

func (r *repl) cmdCancel(_ context.Context, _ []string) error {
	if err := r.ctrl.Cancel(); err != nil {
		return err
	}
	r.ui.Success("Cancelled; back to step 1")
	return nil
}

func (r *repl) cmdStatus(_ context.Context, _ []string) error {
	snap := r.ctrl.Snapshot()
	printStatus(r.ui, snap, r.ctrl.Ledger().Len())
	if len(r.pending) > 0 {
		r.ui.KeyValue("Selected, not submitted", len(r.pending))
	}
	return nil
}

func (r *repl) cmdResult(_ context.Context, _ []string) error {
	printResult(r.ui, r.ctrl.Result(), r.sort)
	return nil
}

func (r *repl) cmdSort(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: sort <field1|field2>")
	}
	var field presenter.Field
	switch strings.ToLower(args[0]) {
	case "field1", "1":
		field = presenter.Field1
	case "field2", "2":
		field = presenter.Field2
	default:
		return fmt.Errorf("unknown field %q", args[0])
	}
	r.sort = r.sort.Toggle(field)
	return r.cmdResult(ctx, nil)
}

func (r *repl) cmdExport(_ context.Context, args []string) error {
	dir := r.exportDir
	if len(args) > 0 {
		dir = args[0]
	}
	path, err := presenter.WriteExport(dir, presenter.BuildExport(r.ctrl.Result()))
	if err != nil {
		return err
	}
	r.ui.Success("Exported to %s", path)
	return nil
}

func (r *repl) cmdDelete(ctx context.Context, _ []string) error {
	report, err := deleteWithProgress(ctx, r.ui, r.sess, len(r.ctrl.Refs()), r.ctrl.DeleteTrackedObjects)
	if err != nil {
		return err
	}
	r.ui.Info("%d delete(s) attempted, %d failed", report.Attempts(), len(report.Failed()))
	return nil
}

func (r *repl) cmdOrphans(ctx context.Context, args []string) error {
	orphans := r.ctrl.Orphans()
	if len(args) > 0 && args[0] == "delete" {
		report, err := deleteWithProgress(ctx, r.ui, r.sess, len(orphans), r.ctrl.DeleteOrphans)
		if err != nil {
			return err
		}
		r.ui.Info("%d delete(s) attempted, %d failed", report.Attempts(), len(report.Failed()))
		return nil
	}

	if len(orphans) == 0 {
		r.ui.Info("No orphaned objects")
		return nil
	}
	for _, ref := range orphans {
		r.ui.Message("  %s", ref)
	}
	return nil
}

func (r *repl) cmdLedger(_ context.Context, args []string) error {
	records := r.ctrl.Ledger().Records()
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("usage: ledger [n]")
		}
		if n < len(records) {
			records = records[len(records)-n:]
		}
	}
	printLedger(r.ui, records, true)
	return nil
}

func (r *repl) cmdReset(_ context.Context, _ []string) error {
	r.ctrl.Reset()
	r.pending = nil
	r.sort = presenter.SortState{}
	r.ui.Success("Session reset; remote objects were not deleted")
	return nil
}

func (r *repl) cmdHelp(_ context.Context, _ []string) error {
	rows := make([][]string, 0, len(replOrder))
	for _, name := range replOrder {
		if name == "quit" {
			rows = append(rows, []string{"quit", "leave the session"})
			continue
		}
		c := replCommands[name]
		rows = append(rows, []string{c.usage, c.help})
	}
	r.ui.Table([]string{"Command", "Description"}, rows)
	return nil
}
