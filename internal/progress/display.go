package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
)

var (
	primaryColor   = lipgloss.Color("#7D56F4")
	secondaryColor = lipgloss.Color("#FF79C6")
	dimColor       = lipgloss.Color("#6272A4")
	successColor   = lipgloss.Color("#50FA7B")
	failureColor   = lipgloss.Color("#FF5555")
)

var (
	spinnerStyle = lipgloss.NewStyle().Foreground(secondaryColor)
	labelStyle   = lipgloss.NewStyle().Foreground(primaryColor)
	countStyle   = lipgloss.NewStyle().Foreground(dimColor)
	okStyle      = lipgloss.NewStyle().Foreground(successColor)
	failStyle    = lipgloss.NewStyle().Foreground(failureColor)
)

const (
	labelWidth   = 28
	detailWidth  = 36
	barWidth     = 30
	tickInterval = 100 * time.Millisecond
)

type taskState struct {
	label   string
	kind    Kind
	current int64
	total   int64
	detail  string
	done    bool
	err     error
}

// board is the state shared between worker goroutines and the renderer.
type board struct {
	mu    sync.Mutex
	tasks []*taskState
}

func (b *board) snapshot() []taskState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]taskState, len(b.tasks))
	for i, t := range b.tasks {
		out[i] = *t
	}
	return out
}

type displayTask struct {
	board *board
	state *taskState
}

func (t *displayTask) SetTotal(total int64) {
	t.board.mu.Lock()
	t.state.total = total
	t.board.mu.Unlock()
}

func (t *displayTask) Set(current int64) {
	t.board.mu.Lock()
	t.state.current = current
	t.board.mu.Unlock()
}

func (t *displayTask) Increment() {
	t.board.mu.Lock()
	t.state.current++
	t.board.mu.Unlock()
}

func (t *displayTask) Message(msg string) {
	t.board.mu.Lock()
	t.state.detail = msg
	t.board.mu.Unlock()
}

func (t *displayTask) Done(err error) {
	t.board.mu.Lock()
	if !t.state.done {
		t.state.done = true
		t.state.err = err
	}
	t.board.mu.Unlock()
}

type tickMsg struct{}
type stopMsg struct{}

// boardModel is the bubbletea model rendering every task on its own line.
type boardModel struct {
	board    *board
	spinner  spinner.Model
	progress progress.Model
	tasks    []taskState
	stopping bool
}

func newBoardModel(b *board) *boardModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = spinnerStyle

	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)

	return &boardModel{board: b, spinner: s, progress: p}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *boardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func (m *boardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.tasks = m.board.snapshot()
		return m, tick()

	case stopMsg:
		m.tasks = m.board.snapshot()
		m.stopping = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *boardModel) View() string {
	var b strings.Builder
	for _, t := range m.tasks {
		b.WriteString(m.renderTask(t))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *boardModel) renderTask(t taskState) string {
	label := labelStyle.Render(fmt.Sprintf("%-*s", labelWidth, ansi.Truncate(t.label, labelWidth, "…")))

	switch {
	case t.done && t.err != nil:
		return fmt.Sprintf("%s %s %s", failStyle.Render("✗"), label, failStyle.Render(ansi.Truncate(t.err.Error(), detailWidth*2, "…")))
	case t.done:
		return fmt.Sprintf("%s %s %s", okStyle.Render("✓"), label, countStyle.Render(formatAmount(t.kind, t.current)))
	case t.kind == Bytes && t.total > 0:
		pct := float64(t.current) / float64(t.total)
		if pct > 1 {
			pct = 1
		}
		count := fmt.Sprintf("%s / %s", humanize.Bytes(uint64(max(t.current, 0))), humanize.Bytes(uint64(t.total)))
		return fmt.Sprintf("  %s %s %s", label, m.progress.ViewAs(pct), countStyle.Render(count))
	default:
		detail := ansi.Truncate(t.detail, detailWidth, "…")
		count := formatAmount(t.kind, t.current)
		return fmt.Sprintf("%s %s %s %s", m.spinner.View(), label, countStyle.Render(count), countStyle.Render(detail))
	}
}

// Display renders tasks live with bubbletea. It is meant for interactive terminals.
type Display struct {
	board   *board
	program *tea.Program
	done    chan struct{}

	mu      sync.Mutex
	stopped bool
}

// NewDisplay starts rendering to w.
func NewDisplay(w io.Writer) *Display {
	b := &board{}
	program := tea.NewProgram(
		newBoardModel(b),
		tea.WithOutput(w),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	d := &Display{
		board:   b,
		program: program,
		done:    make(chan struct{}),
	}
	go func() {
		_, _ = program.Run()
		close(d.done)
	}()
	return d
}

// Start implements Sink.
func (d *Display) Start(label string, kind Kind) Task {
	state := &taskState{label: label, kind: kind, total: -1}
	d.board.mu.Lock()
	d.board.tasks = append(d.board.tasks, state)
	d.board.mu.Unlock()
	return &displayTask{board: d.board, state: state}
}

// Close renders the final state and stops the program.
func (d *Display) Close() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.program.Send(stopMsg{})
	select {
	case <-d.done:
	case <-time.After(500 * time.Millisecond):
		d.program.Kill()
	}
}
