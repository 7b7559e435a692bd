package flow

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/ledger"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/remote"
)

// DeleteTrackedObjects issues one delete per tracked object, in order. Every
// attempt is recorded in the ledger and the tracked list is cleared whatever
// the outcomes; a failed delete is not retried.
func (c *Controller) DeleteTrackedObjects(ctx context.Context) (DeleteReport, error) {
	c.mu.Lock()
	refs := append([]remote.ObjectRef(nil), c.refs...)
	run := c.generation
	c.mu.Unlock()

	if len(refs) == 0 {
		return DeleteReport{}, ErrNothingToDelete
	}

	report := c.deleteAll(ctx, run, refs)

	c.mu.Lock()
	c.refs = without(c.refs, refs)
	c.mu.Unlock()

	return report, nil
}

// DeleteOrphans applies the DeleteTrackedObjects policy to objects left behind by failed runs.
func (c *Controller) DeleteOrphans(ctx context.Context) (DeleteReport, error) {
	c.mu.Lock()
	refs := append([]remote.ObjectRef(nil), c.orphans...)
	run := c.generation
	c.mu.Unlock()

	if len(refs) == 0 {
		return DeleteReport{}, ErrNothingToDelete
	}

	report := c.deleteAll(ctx, run, refs)

	c.mu.Lock()
	c.orphans = without(c.orphans, refs)
	c.mu.Unlock()

	return report, nil
}

// Sweep deletes objects that no live controller holds, such as those left by
// earlier sessions. Attempts are recorded in l and reported to the options'
// observer and registry exactly as DeleteTrackedObjects does.
func Sweep(ctx context.Context, client remote.ObjectClient, l *ledger.Ledger, refs []remote.ObjectRef, opts ...Option) (DeleteReport, error) {
	if len(refs) == 0 {
		return DeleteReport{}, ErrNothingToDelete
	}
	c := NewController(client, l, opts...)
	return c.deleteAll(ctx, c.Generation(), refs), nil
}

func (c *Controller) deleteAll(ctx context.Context, run uint64, refs []remote.ObjectRef) DeleteReport {
	report := DeleteReport{Outcomes: make([]DeleteOutcome, 0, len(refs))}

	for _, ref := range refs {
		_, err := c.call(ctx, run, StepDelete, ref, remote.ObjectPath(ref), http.MethodDelete, nil,
			func() (json.RawMessage, error) {
				ack, err := c.client.DeleteObject(ctx, ref)
				if err != nil {
					return nil, err
				}
				return ack.Raw, nil
			})
		if err == nil {
			c.forget(ctx, ref)
		}
		report.Outcomes = append(report.Outcomes, DeleteOutcome{Ref: ref, Err: err})
	}

	c.logger.Info().
		Int("attempts", report.Attempts()).
		Int("failed", len(report.Failed())).
		Msg("cleanup finished")

	return report
}

// without returns refs minus every element of drop, preserving order.
func without(refs, drop []remote.ObjectRef) []remote.ObjectRef {
	skip := make(map[remote.ObjectRef]struct{}, len(drop))
	for _, r := range drop {
		skip[r] = struct{}{}
	}
	var out []remote.ObjectRef
	for _, r := range refs {
		if _, ok := skip[r]; !ok {
			out = append(out, r)
		}
	}
	return out
}
