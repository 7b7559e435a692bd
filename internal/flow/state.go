package flow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/remote"
)

// State is the step the flow is on.
type State string

const (
	AwaitingUpload     State = "awaiting_upload"
	AwaitingExtraction State = "awaiting_extraction"
	Completed          State = "completed"
)

// Step returns the 1-based step number shown to users.
func (s State) Step() int {
	switch s {
	case AwaitingExtraction:
		return 2
	case Completed:
		return 3
	default:
		return 1
	}
}

// Local validation errors. None of these produce ledger entries.
var (
	ErrNoFiles         = errors.New("no files selected")
	ErrInvalidState    = errors.New("operation not valid in current state")
	ErrInProgress      = errors.New("extraction already in progress")
	ErrNothingToDelete = errors.New("no tracked objects to delete")
	ErrStaleRun        = errors.New("run was cancelled or reset before it settled")
)

// UploadedFile is a user-selected input held in memory.
type UploadedFile struct {
	Name    string
	Size    int64
	Content []byte
}

// Text returns the file content as text.
func (f UploadedFile) Text() string {
	return string(f.Content)
}

// ReadFiles loads the files at paths into memory.
func ReadFiles(paths []string) ([]UploadedFile, error) {
	files := make([]UploadedFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, UploadedFile{
			Name:    filepath.Base(p),
			Size:    int64(len(data)),
			Content: data,
		})
	}
	return files, nil
}

// Snapshot is a consistent copy of the controller's state.
type Snapshot struct {
	State      State
	Files      []UploadedFile
	Refs       []remote.ObjectRef
	Orphans    []remote.ObjectRef
	Result     *string
	InProgress bool
	Generation uint64
}

// Step identifies one remote call of the extraction sequence or cleanup.
type Step string

const (
	StepCreate    Step = "create"
	StepTransform Step = "transform"
	StepFetch     Step = "fetch"
	StepDelete    Step = "delete"
)

// StepEvent reports progress to an Observer.
type StepEvent struct {
	Run  uint64
	Step Step
	Ref  remote.ObjectRef
	Done bool  // false when the call is dispatched, true once it settles
	Err  error // set on a failed settlement
	// Stale is set when the settlement belongs to a cancelled or reset run.
	Stale bool
}

// Observer receives step events. It is called synchronously on the calling goroutine.
type Observer func(StepEvent)

// DeleteOutcome is the result of one delete attempt.
type DeleteOutcome struct {
	Ref remote.ObjectRef
	Err error
}

// DeleteReport summarizes a cleanup pass.
type DeleteReport struct {
	Outcomes []DeleteOutcome
}

// Failed returns the refs whose delete call failed.
func (r DeleteReport) Failed() []remote.ObjectRef {
	var out []remote.ObjectRef
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o.Ref)
		}
	}
	return out
}

// Attempts returns the number of delete calls issued.
func (r DeleteReport) Attempts() int {
	return len(r.Outcomes)
}
