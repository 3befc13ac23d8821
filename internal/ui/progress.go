package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// StepReporter shows the progress of a fixed list of steps.
type StepReporter interface {
	Start()
	UpdateStep(index int, status StepStatus, message string)
	Complete(err error)
}

// NewStepReporter returns an animated bubbletea display when interactive is
// set and a line-per-step printer otherwise (pipes, CI logs).
func NewStepReporter(w io.Writer, title string, steps []string, interactive bool) StepReporter {
	if interactive {
		return &StageProgress{title: title, steps: steps, out: w}
	}
	return NewLineReporter(w, title, steps)
}

// Step is one line of the display.
type Step struct {
	Name    string
	Status  StepStatus
	Message string
}

// ProgressModel is the bubbletea model behind StageProgress.
type ProgressModel struct {
	spinner  spinner.Model
	steps    []Step
	title    string
	done     bool
	err      error
	quitting bool
}

// NewProgressModel creates a model with every step pending.
func NewProgressModel(title string, steps []string) ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ColorSecondary)

	m := ProgressModel{spinner: s, title: title, steps: make([]Step, len(steps))}
	for i, name := range steps {
		m.steps[i] = Step{Name: name}
	}
	return m
}

func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// ProgressMsg updates one step.
type ProgressMsg struct {
	StepIndex int
	Status    StepStatus
	Message   string
}

// DoneMsg ends the display.
type DoneMsg struct {
	Err error
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case ProgressMsg:
		if msg.StepIndex >= 0 && msg.StepIndex < len(m.steps) {
			m.steps[msg.StepIndex].Status = msg.Status
			m.steps[msg.StepIndex].Message = msg.Message
		}
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m ProgressModel) View() tea.View {
	if m.quitting {
		return tea.NewView("")
	}
	return tea.NewView(m.render())
}

func (m ProgressModel) render() string {
	var b strings.Builder
	if m.title != "" {
		b.WriteString(Title.Render(m.title))
		b.WriteString("\n\n")
	}
	for i, st := range m.steps {
		icon, style := stepLook(st.Status, m.spinner.View())
		b.WriteString(icon + " " + style.Render(st.Name))
		if st.Message != "" && st.Status != StatusPending {
			b.WriteString(Dim.Render(" → " + st.Message))
		}
		if i < len(m.steps)-1 {
			b.WriteString("\n")
		}
	}
	if m.done {
		b.WriteString("\n\n")
		if m.err != nil {
			b.WriteString(ErrorBox.Render(GetCrossMark() + " " + m.err.Error()))
		} else {
			b.WriteString(Success.Render(fmt.Sprintf("✓ %d/%d steps complete", m.completed(), len(m.steps))))
		}
	}
	return b.String()
}

func (m ProgressModel) completed() int {
	n := 0
	for _, s := range m.steps {
		if s.Status == StatusComplete || s.Status == StatusSkipped {
			n++
		}
	}
	return n
}

// StageProgress drives a ProgressModel from the calling goroutine.
type StageProgress struct {
	title   string
	steps   []string
	out     io.Writer
	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
}

func (p *StageProgress) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.program != nil {
		return
	}
	p.program = tea.NewProgram(NewProgressModel(p.title, p.steps), tea.WithOutput(p.out), tea.WithoutSignalHandler())
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		_, _ = p.program.Run()
	}()
}

func (p *StageProgress) UpdateStep(index int, status StepStatus, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.program != nil {
		p.program.Send(ProgressMsg{StepIndex: index, Status: status, Message: message})
	}
}

// Complete renders the final state and waits for the program to exit.
func (p *StageProgress) Complete(err error) {
	p.mu.Lock()
	prog, done := p.program, p.done
	p.program = nil
	p.mu.Unlock()
	if prog == nil {
		return
	}
	prog.Send(DoneMsg{Err: err})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		prog.Kill()
	}
}
