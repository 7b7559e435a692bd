// Package presenter turns flow results, the call ledger and file selections
// into display rows and export blobs. Everything here is a pure function of
// its inputs except WriteExport.
package presenter

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/flow"
)

const (
	EmptyResultText = "No data extracted yet"
	EmptyExportText = "No data available"

	ExportFilename    = "extracted_data.csv"
	ExportContentType = "text/csv"
)

// RenderResult returns the extracted text for display.
func RenderResult(result *string) string {
	if result == nil || *result == "" {
		return EmptyResultText
	}
	return *result
}

// Export is a downloadable blob.
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// BuildExport packages the result text under the fixed export filename.
func BuildExport(result *string) Export {
	text := EmptyExportText
	if result != nil && *result != "" {
		text = *result
	}
	return Export{
		Filename:    ExportFilename,
		ContentType: ExportContentType,
		Data:        []byte(text),
	}
}

// WriteExport writes e into dir, creating it if needed, and returns the file path.
func WriteExport(dir string, e Export) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(dir, e.Filename)
	if err := os.WriteFile(path, e.Data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

// FileRows lists selected files as name and size in KB.
func FileRows(files []flow.UploadedFile) [][]string {
	rows := make([][]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, []string{f.Name, fmt.Sprintf("%.1f KB", float64(f.Size)/1024)})
	}
	return rows
}
