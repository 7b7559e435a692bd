// Package flow sequences the upload, extraction and retrieval calls against the
// processing API and owns the lifecycle of the remote objects it creates.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/ledger"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/observability"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/remote"
)

// Settings holds the parameters of the transform step.
type Settings struct {
	PromptTemplate     string
	ProcessingMode     string
	DataType           string
	AutoCleanupOrphans bool
}

// DefaultSettings returns the settings the hosted API expects.
func DefaultSettings() Settings {
	return Settings{
		PromptTemplate: "Extract key information and structure from this data: {input_data}",
		ProcessingMode: "combine_events",
		DataType:       "strings",
	}
}

// Registry is told about every object the controller creates and deletes,
// including objects of runs that were cancelled before they settled.
type Registry interface {
	Track(ctx context.Context, ref remote.ObjectRef) error
	Forget(ctx context.Context, ref remote.ObjectRef) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithObserver sets the step observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithRegistry sets the object registry.
func WithRegistry(r Registry) Option {
	return func(c *Controller) { c.registry = r }
}

// WithSettings overrides DefaultSettings.
func WithSettings(s Settings) Option {
	return func(c *Controller) { c.settings = s }
}

// WithNamer replaces remote.NewObjectRef, mainly for tests.
func WithNamer(fn func(remote.Purpose) remote.ObjectRef) Option {
	return func(c *Controller) { c.newRef = fn }
}

// Controller is the extraction flow state machine.
type Controller struct {
	client   remote.ObjectClient
	ledger   *ledger.Ledger
	logger   *observability.Logger
	observer Observer
	registry Registry
	settings Settings
	newRef   func(remote.Purpose) remote.ObjectRef

	mu         sync.Mutex
	state      State
	files      []UploadedFile
	refs       []remote.ObjectRef
	orphans    []remote.ObjectRef
	result     *string
	inProgress bool
	// generation changes on Cancel and Reset; settlements from older generations are not applied.
	generation uint64
}

// NewController creates a controller in AwaitingUpload.
func NewController(client remote.ObjectClient, l *ledger.Ledger, opts ...Option) *Controller {
	c := &Controller{
		client:   client,
		ledger:   l,
		logger:   observability.Nop(),
		settings: DefaultSettings(),
		newRef:   remote.NewObjectRef,
		state:    AwaitingUpload,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ledger == nil {
		c.ledger = ledger.New(ledger.Config{}, c.logger)
	}
	c.logger = c.logger.WithOperation("flow")
	return c
}

// SubmitFiles stores the selected files and moves to AwaitingExtraction.
func (c *Controller) SubmitFiles(files []UploadedFile) error {
	if len(files) == 0 {
		return ErrNoFiles
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != AwaitingUpload {
		return fmt.Errorf("submit files in %s: %w", c.state, ErrInvalidState)
	}

	c.files = copyFiles(files)
	c.transition(AwaitingExtraction)
	return nil
}

// StartExtraction runs create, transform and fetch in order. Each step runs
// only if the previous one succeeded. On failure the flow stays in
// AwaitingExtraction so the user can retry or cancel.
func (c *Controller) StartExtraction(ctx context.Context) error {
	c.mu.Lock()
	if c.inProgress {
		c.mu.Unlock()
		return ErrInProgress
	}
	if c.state != AwaitingExtraction {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("start extraction in %s: %w", state, ErrInvalidState)
	}
	c.inProgress = true
	run := c.generation
	texts := make([]string, len(c.files))
	for i, f := range c.files {
		texts[i] = f.Text()
	}
	c.mu.Unlock()

	c.logger.Info().Uint64("run", run).Int("files", len(texts)).Msg("extraction started")

	var created []remote.ObjectRef

	// Step 1: upload the file contents as a named object.
	inputRef := c.newRef(remote.PurposeUploadedData)
	createReq := remote.CreateObjectRequest{
		CreatedObjectName: inputRef,
		DataType:          c.settings.DataType,
		InputData:         texts,
	}
	_, err := c.call(ctx, run, StepCreate, inputRef, remote.RouteInputData, http.MethodPost, createReq,
		func() (json.RawMessage, error) {
			ack, err := c.client.CreateObject(ctx, createReq)
			if err != nil {
				return nil, err
			}
			return ack.Raw, nil
		})
	if err != nil {
		return c.fail(ctx, run, StepCreate, created, err)
	}
	created = append(created, inputRef)
	c.track(ctx, inputRef)
	if !c.applicable(run) {
		return c.abandon(run, StepCreate)
	}

	// Step 2: derive the extracted object from the uploaded one.
	outputRef := c.newRef(remote.PurposeExtracted)
	promptReq := remote.ApplyPromptRequest{
		CreatedObjectNames: []remote.ObjectRef{outputRef},
		PromptString:       c.settings.PromptTemplate,
		Inputs: []remote.PromptInput{{
			ObjectName:     inputRef,
			ProcessingMode: c.settings.ProcessingMode,
		}},
	}
	_, err = c.call(ctx, run, StepTransform, outputRef, remote.RouteApplyPrompt, http.MethodPost, promptReq,
		func() (json.RawMessage, error) {
			ack, err := c.client.ApplyPrompt(ctx, promptReq)
			if err != nil {
				return nil, err
			}
			return ack.Raw, nil
		})
	if err != nil {
		return c.fail(ctx, run, StepTransform, created, err)
	}
	created = append(created, outputRef)
	c.track(ctx, outputRef)
	if !c.applicable(run) {
		return c.abandon(run, StepTransform)
	}

	// Step 3: retrieve the extracted text.
	var value *remote.ObjectValue
	_, err = c.call(ctx, run, StepFetch, outputRef, remote.ReturnDataPath(outputRef), http.MethodGet, nil,
		func() (json.RawMessage, error) {
			v, err := c.client.FetchObject(ctx, outputRef)
			if err != nil {
				return nil, err
			}
			value = v
			return v.Raw, nil
		})
	if err != nil {
		return c.fail(ctx, run, StepFetch, created, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != run {
		return c.abandonLocked(run, StepFetch)
	}

	text := value.TextValue
	c.result = &text
	c.refs = append(c.refs, created...)
	c.inProgress = false
	c.transition(Completed)

	c.logger.Info().Uint64("run", run).Strs("refs", refStrings(c.refs)).Msg("extraction completed")
	return nil
}

// Cancel abandons the current run and returns to AwaitingUpload. An in-flight
// call is not aborted; its settlement is logged but never applied.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inProgress && c.state != AwaitingExtraction {
		return fmt.Errorf("cancel in %s: %w", c.state, ErrInvalidState)
	}

	c.generation++
	c.inProgress = false
	c.files = nil
	c.transition(AwaitingUpload)
	return nil
}

// Reset clears all local state, including the ledger. Remote objects are not deleted.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.inProgress = false
	c.files = nil
	c.refs = nil
	c.orphans = nil
	c.result = nil
	c.ledger.Clear()
	c.transition(AwaitingUpload)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// InProgress reports whether an extraction run is executing.
func (c *Controller) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}

// Files returns a copy of the submitted files.
func (c *Controller) Files() []UploadedFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyFiles(c.files)
}

// Refs returns the objects tracked from the last successful run.
func (c *Controller) Refs() []remote.ObjectRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]remote.ObjectRef(nil), c.refs...)
}

// Orphans returns objects created by failed runs and not yet deleted.
func (c *Controller) Orphans() []remote.ObjectRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]remote.ObjectRef(nil), c.orphans...)
}

// Result returns the extracted text, or nil before a run completes.
func (c *Controller) Result() *string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil
	}
	text := *c.result
	return &text
}

// Generation returns the current run generation.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Ledger returns the controller's call ledger.
func (c *Controller) Ledger() *ledger.Ledger {
	return c.ledger
}

// Snapshot returns a consistent copy of the whole state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:      c.state,
		Files:      copyFiles(c.files),
		Refs:       append([]remote.ObjectRef(nil), c.refs...),
		Orphans:    append([]remote.ObjectRef(nil), c.orphans...),
		InProgress: c.inProgress,
		Generation: c.generation,
	}
	if c.result != nil {
		text := *c.result
		snap.Result = &text
	}
	return snap
}

// call records the outgoing request, runs fn, and records its settlement.
func (c *Controller) call(
	ctx context.Context,
	run uint64,
	step Step,
	ref remote.ObjectRef,
	endpoint, method string,
	payload interface{},
	fn func() (json.RawMessage, error),
) (json.RawMessage, error) {
	var reqJSON json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", step, err)
		}
		reqJSON = data
	}

	verb := ledger.Verb(step)
	c.ledger.Append(ctx, ledger.CallRecord{
		Run:      run,
		Endpoint: endpoint,
		Method:   method,
		Verb:     verb,
		Phase:    ledger.PhaseRequest,
		Request:  reqJSON,
	})
	c.notify(StepEvent{Run: run, Step: step, Ref: ref})

	c.logger.Debug().
		Uint64("run", run).
		Str("verb", string(verb)).
		Str("endpoint", endpoint).
		Msg("dispatching call")

	resp, err := fn()

	settled := ledger.CallRecord{
		Run:      run,
		Endpoint: endpoint,
		Method:   method,
		Verb:     verb,
		Phase:    ledger.PhaseSettled,
		Request:  reqJSON,
	}
	if err != nil {
		settled.Error = err.Error()
		settled.ErrorKind = string(remote.KindOf(err))
	} else {
		settled.Response = resp
	}
	c.ledger.Append(ctx, settled)

	stale := !c.applicable(run)
	c.notify(StepEvent{Run: run, Step: step, Ref: ref, Done: true, Err: err, Stale: stale})

	var evt *observability.LogEvent
	if err != nil {
		evt = c.logger.Warn().Err(err).Str("error_kind", settled.ErrorKind)
	} else {
		evt = c.logger.Debug()
	}
	evt.Uint64("run", run).
		Str("verb", string(verb)).
		Str("endpoint", endpoint).
		Bool("stale", stale).
		Msg("call settled")

	return resp, err
}

// fail handles a step error for run. Settlements of stale runs change nothing.
func (c *Controller) fail(ctx context.Context, run uint64, step Step, created []remote.ObjectRef, cause error) error {
	c.mu.Lock()
	if c.generation != run {
		err := c.abandonLocked(run, step)
		c.mu.Unlock()
		return err
	}
	c.inProgress = false
	c.orphans = append(c.orphans, created...)
	cleanup := c.settings.AutoCleanupOrphans && len(created) > 0
	c.mu.Unlock()

	c.logger.Warn().
		Err(cause).
		Uint64("run", run).
		Str("step", string(step)).
		Strs("orphans", refStrings(created)).
		Msg("extraction failed")

	if cleanup {
		if _, err := c.DeleteOrphans(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("automatic orphan cleanup failed")
		}
	}

	return fmt.Errorf("%s step: %w", step, cause)
}

func (c *Controller) abandon(run uint64, step Step) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abandonLocked(run, step)
}

func (c *Controller) abandonLocked(run uint64, step Step) error {
	c.logger.Info().
		Uint64("run", run).
		Uint64("generation", c.generation).
		Str("step", string(step)).
		Msg("discarding stale settlement")
	return fmt.Errorf("%s step: %w", step, ErrStaleRun)
}

// applicable reports whether settlements of run may still change state.
func (c *Controller) applicable(run uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == run
}

func (c *Controller) track(ctx context.Context, ref remote.ObjectRef) {
	if c.registry == nil {
		return
	}
	if err := c.registry.Track(ctx, ref); err != nil {
		c.logger.Warn().Err(err).Str("ref", ref.String()).Msg("registry track failed")
	}
}

func (c *Controller) forget(ctx context.Context, ref remote.ObjectRef) {
	if c.registry == nil {
		return
	}
	if err := c.registry.Forget(ctx, ref); err != nil {
		c.logger.Warn().Err(err).Str("ref", ref.String()).Msg("registry forget failed")
	}
}

func (c *Controller) notify(evt StepEvent) {
	if c.observer != nil {
		c.observer(evt)
	}
}

// transition must be called with mu held.
func (c *Controller) transition(to State) {
	if c.state == to {
		return
	}
	c.logger.Info().Str("from", string(c.state)).Str("to", string(to)).Msg("state changed")
	c.state = to
}

func copyFiles(files []UploadedFile) []UploadedFile {
	if files == nil {
		return nil
	}
	out := make([]UploadedFile, len(files))
	for i, f := range files {
		f.Content = append([]byte(nil), f.Content...)
		out[i] = f
	}
	return out
}

func refStrings(refs []remote.ObjectRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}
