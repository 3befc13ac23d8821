package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// LineReporter prints one line per step transition. It is the display used
// when stderr is not a terminal.
type LineReporter struct {
	w      io.Writer
	title  string
	steps  []Step
	mu     sync.Mutex
	start  time.Time
	failed bool
}

func NewLineReporter(w io.Writer, title string, steps []string) *LineReporter {
	lr := &LineReporter{w: w, title: title, steps: make([]Step, len(steps))}
	for i, name := range steps {
		lr.steps[i] = Step{Name: name}
	}
	return lr
}

func (lr *LineReporter) Start() {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.start = time.Now()
	if lr.title != "" {
		fmt.Fprintln(lr.w, Title.Render(lr.title))
	}
}

// UpdateStep prints the step line. Repeated updates with the same status
// and message are dropped.
func (lr *LineReporter) UpdateStep(index int, status StepStatus, message string) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if index < 0 || index >= len(lr.steps) {
		return
	}
	st := &lr.steps[index]
	if st.Status == status && st.Message == message {
		return
	}
	st.Status, st.Message = status, message
	if status == StatusFailed {
		lr.failed = true
	}
	fmt.Fprintln(lr.w, renderStepLine(*st, Secondary.Render("›")))
}

func (lr *LineReporter) Complete(err error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	elapsed := time.Since(lr.start).Round(time.Millisecond)
	switch {
	case err != nil:
		fmt.Fprintf(lr.w, "%s %s\n", GetCrossMark(), Error.Render(err.Error()))
	case lr.failed:
		fmt.Fprintf(lr.w, "%s finished with failed steps (%s)\n", GetWarnMark(), elapsed)
	default:
		fmt.Fprintf(lr.w, "%s done (%s)\n", GetCheckMark(), elapsed)
	}
}

// Steps returns a copy of the current step states.
func (lr *LineReporter) Steps() []Step {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return append([]Step(nil), lr.steps...)
}

func renderStepLine(st Step, running string) string {
	icon, style := stepLook(st.Status, running)
	line := icon + " " + style.Render(st.Name)
	if st.Message == "" {
		return line
	}
	switch st.Status {
	case StatusFailed:
		return line + " " + Error.Render("→ "+st.Message)
	case StatusSkipped:
		return line + " " + Warning.Render("→ "+st.Message)
	}
	return line + " " + Dim.Render("→ "+st.Message)
}

// Spinner is an inline spinner for a single short operation, such as a hub
// lookup.
type Spinner struct {
	writer   io.Writer
	message  string
	stopChan chan struct{}
	doneChan chan struct{}
	running  bool
	mu       sync.Mutex
	frame    int
}

func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{
		writer:   w,
		message:  message,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		defer close(s.doneChan)

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.mu.Lock()
				s.frame = (s.frame + 1) % len(spinnerFrames)
				line := fmt.Sprintf("\r\033[K%s %s", Secondary.Render(spinnerFrames[s.frame]), s.message)
				s.mu.Unlock()
				fmt.Fprint(s.writer, line)
			}
		}
	}()
}

// Stop clears the spinner line and prints the outcome.
func (s *Spinner) Stop(success bool, final string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	<-s.doneChan

	fmt.Fprint(s.writer, "\r\033[K")
	if success {
		fmt.Fprintf(s.writer, "%s %s\n", GetCheckMark(), final)
	} else {
		fmt.Fprintf(s.writer, "%s %s\n", GetCrossMark(), Error.Render(final))
	}
}

func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = strings.TrimSpace(message)
}
