package presenter

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/ledger"
)

const EmptyLedgerText = "No API calls made yet"

// LedgerEntry is the display form of a CallRecord.
type LedgerEntry struct {
	Method   string
	Endpoint string
	Time     string
	Verb     string
	Phase    string
	Request  string
	Response string
	Error    string
}

// LedgerEntries formats records in ledger order.
func LedgerEntries(records []ledger.CallRecord) []LedgerEntry {
	entries := make([]LedgerEntry, 0, len(records))
	for _, r := range records {
		e := LedgerEntry{
			Method:   r.Method,
			Endpoint: r.Endpoint,
			Verb:     string(r.Verb),
			Phase:    string(r.Phase),
			Request:  prettyJSON(r.Request),
			Response: prettyJSON(r.Response),
			Error:    r.Error,
		}
		if e.Method == "" {
			e.Method = "ERROR"
		}
		if e.Endpoint == "" {
			e.Endpoint = "Error"
		}
		if !r.Timestamp.IsZero() {
			e.Time = r.Timestamp.In(time.Local).Format("15:04:05")
		}
		entries = append(entries, e)
	}
	return entries
}

// LedgerRows flattens entries into table rows of method, endpoint, time, phase and status.
func LedgerRows(entries []LedgerEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		status := "ok"
		switch {
		case e.Error != "":
			status = "failed"
		case e.Phase == string(ledger.PhaseRequest):
			status = "sent"
		}
		rows = append(rows, []string{e.Method, e.Endpoint, e.Time, e.Phase, status})
	}
	return rows
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
