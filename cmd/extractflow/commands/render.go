package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spherical-ai/spherical/libs/extractflow/cmd/extractflow/ui"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/flow"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/ledger"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/presenter"
)

var stepMessages = map[flow.Step]string{
	flow.StepCreate:    "Uploading input data",
	flow.StepTransform: "Extracting",
	flow.StepFetch:     "Retrieving result",
	flow.StepDelete:    "Deleting objects",
}

func printResult(u *ui.UI, result *string, sort presenter.SortState) {
	u.Section("Step 3: Extracted data")
	u.Message("%s", presenter.RenderResult(result))

	rows := presenter.ParseRows(result)
	if len(rows) == 0 {
		return
	}
	u.Newline()
	headers := []string{
		strings.TrimSpace("Field 1 " + sort.Indicator(presenter.Field1)),
		strings.TrimSpace("Field 2 " + sort.Indicator(presenter.Field2)),
	}
	u.Table(headers, presenter.RowStrings(presenter.SortRows(rows, sort)))
}

func printFiles(u *ui.UI, files []flow.UploadedFile) {
	if len(files) == 0 {
		u.Info("No files selected")
		return
	}
	u.Table([]string{"File", "Size"}, presenter.FileRows(files))
}

func printLedger(u *ui.UI, records []ledger.CallRecord, detailed bool) {
	u.Section("API calls")
	if len(records) == 0 {
		u.Message(presenter.EmptyLedgerText)
		return
	}

	entries := presenter.LedgerEntries(records)
	u.Table([]string{"Method", "Endpoint", "Time", "Phase", "Status"}, presenter.LedgerRows(entries))
	if !detailed {
		return
	}
	for i, e := range entries {
		u.Newline()
		u.Step("#%d %s %s (%s)", i+1, e.Method, e.Endpoint, e.Phase)
		u.Block("Payload", e.Request)
		u.Block("Response", e.Response)
		u.Block("Error", e.Error)
	}
}

func printStatus(u *ui.UI, snap flow.Snapshot, ledgerLen int) {
	u.KeyValue("State", fmt.Sprintf("%s (step %d of 3)", snap.State, snap.State.Step()))
	u.KeyValue("In progress", snap.InProgress)
	u.KeyValue("Files", len(snap.Files))
	u.KeyValue("Tracked objects", len(snap.Refs))
	u.KeyValue("Orphaned objects", len(snap.Orphans))
	u.KeyValue("Ledger entries", ledgerLen)
}

// deleteWithProgress runs one of the controller's delete passes behind a progress bar.
func deleteWithProgress(
	ctx context.Context,
	u *ui.UI,
	s *session,
	total int,
	pass func(context.Context) (flow.DeleteReport, error),
) (flow.DeleteReport, error) {
	bar := u.NewProgressBar(int64(total), "Deleting objects")
	s.observers.set(func(evt flow.StepEvent) {
		if evt.Step == flow.StepDelete && evt.Done {
			bar.Add(1)
		}
	})
	defer s.observers.set(nil)

	report, err := pass(ctx)
	bar.Finish()
	if err != nil {
		return report, err
	}

	for _, o := range report.Outcomes {
		if o.Err != nil {
			u.Error("%s: %v", o.Ref, o.Err)
		} else {
			u.Success("Deleted %s", o.Ref)
		}
	}
	return report, nil
}
