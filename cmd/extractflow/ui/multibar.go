package ui

import (
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// MultiProgress renders several bars at once. When not interactive every
// method is a no-op.
type MultiProgress struct {
	progress *mpb.Progress
}

// Bar is one bar of a MultiProgress.
type Bar struct {
	bar *mpb.Bar
}

// NewMultiProgress creates a multi-bar container on the error stream.
func (u *UI) NewMultiProgress() *MultiProgress {
	if !u.interactive {
		return &MultiProgress{}
	}
	return &MultiProgress{progress: mpb.New(mpb.WithWidth(48), mpb.WithOutput(u.errOut))}
}

// AddBar adds a named bar with total steps.
func (m *MultiProgress) AddBar(name string, total int64) *Bar {
	if m.progress == nil {
		return &Bar{}
	}
	bar := m.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WC{W: 5}), " done"),
		),
	)
	return &Bar{bar: bar}
}

// Increment advances the bar by one.
func (b *Bar) Increment() {
	if b.bar != nil {
		b.bar.Increment()
	}
}

// Abort stops the bar early, leaving it on screen.
func (b *Bar) Abort() {
	if b.bar != nil {
		b.bar.Abort(false)
	}
}

// Wait blocks until every bar has completed or been aborted.
func (m *MultiProgress) Wait() {
	if m.progress != nil {
		m.progress.Wait()
	}
}
