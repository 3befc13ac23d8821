package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one line of a FileSink log.
type Event struct {
	Type       string            `json:"type"`
	RunID      string            `json:"run_id"`
	Experiment string            `json:"experiment,omitempty"`
	Name       string            `json:"name,omitempty"`
	Time       time.Time         `json:"time"`
	Tags       map[string]string `json:"tags,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Metrics    []Metric          `json:"metrics,omitempty"`
	Status     Status            `json:"status,omitempty"`
}

// FileSink appends JSON lines to <dir>/<run id>.jsonl. It is the offline
// stand-in for a tracking server.
type FileSink struct {
	dir        string
	experiment string

	mu    sync.Mutex
	runID string
	f     *os.File
}

// NewFileSink creates dir if needed.
func NewFileSink(dir, experiment string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tracking dir: %w", err)
	}
	return &FileSink{dir: dir, experiment: experiment}, nil
}

// Path returns the log file of the active (or last) run.
func (s *FileSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runID == "" {
		return ""
	}
	return filepath.Join(s.dir, s.runID+".jsonl")
}

func (s *FileSink) write(e Event) error {
	if s.f == nil {
		return errors.New("tracking: no active run")
	}
	e.RunID = s.runID
	e.Time = time.Now().UTC()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.f.Write(append(b, '\n'))
	return err
}

func (s *FileSink) StartRun(_ context.Context, name string, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		return errors.New("tracking: run already active")
	}
	s.runID = uuid.NewString()
	f, err := os.OpenFile(filepath.Join(s.dir, s.runID+".jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open tracking log: %w", err)
	}
	s.f = f
	logf(s.experiment, "run %s logging to %s", s.runID, f.Name())
	return s.write(Event{Type: "start_run", Experiment: s.experiment, Name: name, Tags: tags})
}

func (s *FileSink) LogParams(_ context.Context, params map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(Event{Type: "params", Params: params})
}

func (s *FileSink) LogMetrics(_ context.Context, metrics []Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(Event{Type: "metrics", Metrics: metrics})
}

func (s *FileSink) EndRun(_ context.Context, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.write(Event{Type: "end_run", Status: status})
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f = nil
	return err
}
