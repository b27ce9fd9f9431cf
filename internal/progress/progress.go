// Package progress reports the advancement of downloads, copies and uploads.
// Reporting is presentation only: nothing here can fail or block the work it
// describes.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
)

// Kind selects how a task is rendered.
type Kind int

const (
	// Bytes tasks show a bar once the total is known.
	Bytes Kind = iota
	// Items tasks count files and show a spinner.
	Items
)

// Task is one line of progress.
type Task interface {
	// SetTotal announces the expected size. Negative means unknown.
	SetTotal(total int64)
	// Set moves the task to an absolute position.
	Set(current int64)
	// Increment advances an Items task by one.
	Increment()
	// Message replaces the detail text.
	Message(msg string)
	// Done finishes the task. err nil means success.
	Done(err error)
}

// Sink creates tasks.
type Sink interface {
	Start(label string, kind Kind) Task
	Close()
}

// Nop discards everything.
type Nop struct{}

// Start implements Sink.
func (Nop) Start(string, Kind) Task { return nopTask{} }

// Close implements Sink.
func (Nop) Close() {}

type nopTask struct{}

func (nopTask) SetTotal(int64) {}
func (nopTask) Set(int64)      {}
func (nopTask) Increment()     {}
func (nopTask) Message(string) {}
func (nopTask) Done(error)     {}

// Deferred builds its sink on the first Start, so nothing is drawn while
// prompts still own the terminal.
type Deferred struct {
	mu   sync.Mutex
	open func() Sink
	sink Sink
}

// NewDeferred wraps open, which is called at most once.
func NewDeferred(open func() Sink) *Deferred {
	return &Deferred{open: open}
}

// Start implements Sink.
func (d *Deferred) Start(label string, kind Kind) Task {
	d.mu.Lock()
	if d.sink == nil {
		d.sink = d.open()
	}
	sink := d.sink
	d.mu.Unlock()
	return sink.Start(label, kind)
}

// Close implements Sink. It is a no-op when no task was ever started.
func (d *Deferred) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sink != nil {
		d.sink.Close()
	}
}

// Lines prints one line per finished task. It is used when stdout is not a terminal.
type Lines struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLines creates a line-oriented sink writing to w.
func NewLines(w io.Writer) *Lines {
	if w == nil {
		w = io.Discard
	}
	return &Lines{w: w}
}

// Start implements Sink.
func (l *Lines) Start(label string, kind Kind) Task {
	return &lineTask{sink: l, label: label, kind: kind, total: -1}
}

// Close implements Sink.
func (l *Lines) Close() {}

func (l *Lines) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintf(l.w, format, args...)
}

type lineTask struct {
	sink  *Lines
	label string
	kind  Kind

	mu      sync.Mutex
	current int64
	total   int64
	done    bool
}

func (t *lineTask) SetTotal(total int64) {
	t.mu.Lock()
	t.total = total
	t.mu.Unlock()
}

func (t *lineTask) Set(current int64) {
	t.mu.Lock()
	t.current = current
	t.mu.Unlock()
}

func (t *lineTask) Increment() {
	t.mu.Lock()
	t.current++
	t.mu.Unlock()
}

func (t *lineTask) Message(string) {}

func (t *lineTask) Done(err error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	amount := formatAmount(t.kind, t.current)
	t.mu.Unlock()

	if err != nil {
		t.sink.printf("✗ %s: %v\n", t.label, err)
		return
	}
	t.sink.printf("✓ %s (%s)\n", t.label, amount)
}

func formatAmount(kind Kind, n int64) string {
	if kind == Bytes {
		if n < 0 {
			n = 0
		}
		return humanize.Bytes(uint64(n))
	}
	if n == 1 {
		return "1 file"
	}
	return fmt.Sprintf("%s files", humanize.Comma(n))
}
