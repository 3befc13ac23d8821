// Package tracking forwards run parameters and metrics to an experiment
// tracker. The tracker is an opaque sink: the pipeline only starts a run,
// logs params and metrics, and ends it.
package tracking

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
)

// Status is the terminal state of a tracked run.
type Status string

const (
	StatusFinished Status = "FINISHED"
	StatusFailed   Status = "FAILED"
	StatusKilled   Status = "KILLED"
)

// Metric is one metric observation.
type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Step      int64   `json:"step"`
	Timestamp int64   `json:"timestamp"`
}

// Sink receives tracking data for one run at a time.
type Sink interface {
	StartRun(ctx context.Context, name string, tags map[string]string) error
	LogParams(ctx context.Context, params map[string]string) error
	LogMetrics(ctx context.Context, metrics []Metric) error
	EndRun(ctx context.Context, status Status) error
}

// TokenEnv holds the bearer token sent to an MLflow server.
const TokenEnv = "MLFLOW_TRACKING_TOKEN"

// New picks a sink from the mlflow section of a run config: none when the
// section is absent, MLflowSink for http(s) tracking URIs, and FileSink
// otherwise ("file:<dir>" or empty, which writes under resultsDir).
func New(spec *runconfig.MLflowSpec, resultsDir string) (Sink, error) {
	if spec == nil {
		return NopSink{}, nil
	}
	uri := strings.TrimSpace(spec.TrackingURI)
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return NewMLflowSink(uri, spec.ExperimentName, os.Getenv(TokenEnv)), nil
	case strings.HasPrefix(uri, "file:"):
		return NewFileSink(strings.TrimPrefix(strings.TrimPrefix(uri, "file:"), "//"), spec.ExperimentName)
	case uri == "":
		return NewFileSink(filepath.Join(resultsDir, "tracking"), spec.ExperimentName)
	default:
		return NewFileSink(uri, spec.ExperimentName)
	}
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) StartRun(context.Context, string, map[string]string) error { return nil }
func (NopSink) LogParams(context.Context, map[string]string) error        { return nil }
func (NopSink) LogMetrics(context.Context, []Metric) error                { return nil }
func (NopSink) EndRun(context.Context, Status) error                      { return nil }
