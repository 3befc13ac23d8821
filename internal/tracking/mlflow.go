package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
)

// MLflow REST limits for runs/log-batch.
const (
	maxParamsPerBatch  = 100
	maxMetricsPerBatch = 1000
	maxParamValueLen   = 500
)

// MLflowError is a non-2xx answer from the tracking server.
type MLflowError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *MLflowError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mlflow: %s (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("mlflow: status %d", e.StatusCode)
}

func (e *MLflowError) notFound() bool {
	return e.StatusCode == http.StatusNotFound || e.Code == "RESOURCE_DOES_NOT_EXIST"
}

// MLflowSink logs to an MLflow tracking server over its REST API.
type MLflowSink struct {
	client     *resty.Client
	experiment string

	experimentID string
	runID        string
}

// NewMLflowSink creates a sink for the server at uri. token, when set, is
// sent as a bearer token.
func NewMLflowSink(uri, experiment, token string) *MLflowSink {
	client := resty.New().
		SetBaseURL(strings.TrimRight(uri, "/")+"/api/2.0/mlflow").
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &MLflowSink{client: client, experiment: experiment}
}

// RunID returns the server-side id of the active run.
func (s *MLflowSink) RunID() string { return s.runID }

// ExperimentID returns the id resolved by StartRun.
func (s *MLflowSink) ExperimentID() string { return s.experimentID }

func (s *MLflowSink) do(ctx context.Context, method, path string, body, out any) error {
	req := s.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	res, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("mlflow %s: %w", path, err)
	}
	if !res.IsSuccess() {
		mErr := &MLflowError{StatusCode: res.StatusCode()}
		_ = json.Unmarshal(res.Body(), mErr)
		return mErr
	}
	if out != nil {
		if err := json.Unmarshal(res.Body(), out); err != nil {
			return fmt.Errorf("mlflow %s: decode response: %w", path, err)
		}
	}
	return nil
}

func (s *MLflowSink) ensureExperiment(ctx context.Context) (string, error) {
	var got struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	err := s.do(ctx, http.MethodGet, "/experiments/get-by-name?experiment_name="+url.QueryEscape(s.experiment), nil, &got)
	if err == nil {
		return got.Experiment.ExperimentID, nil
	}
	var mErr *MLflowError
	if !errors.As(err, &mErr) || !mErr.notFound() {
		return "", err
	}

	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := s.do(ctx, http.MethodPost, "/experiments/create", map[string]any{"name": s.experiment}, &created); err != nil {
		return "", err
	}
	logf(s.experiment, "created experiment %s", created.ExperimentID)
	return created.ExperimentID, nil
}

type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func sortedPairs(m map[string]string, truncate int) []keyValue {
	out := make([]keyValue, 0, len(m))
	for k, v := range m {
		if truncate > 0 && len(v) > truncate {
			v = truncateUTF8(v, truncate)
		}
		out = append(out, keyValue{Key: k, Value: v})
	}
	slices.SortFunc(out, func(a, b keyValue) int { return strings.Compare(a.Key, b.Key) })
	return out
}

func (s *MLflowSink) StartRun(ctx context.Context, name string, tags map[string]string) error {
	expID, err := s.ensureExperiment(ctx)
	if err != nil {
		return err
	}
	s.experimentID = expID
	var created struct {
		Run struct {
			Info struct {
				RunID string `json:"run_id"`
			} `json:"info"`
		} `json:"run"`
	}
	body := map[string]any{
		"experiment_id": expID,
		"run_name":      name,
		"start_time":    time.Now().UnixMilli(),
		"tags":          sortedPairs(tags, 0),
	}
	if err := s.do(ctx, http.MethodPost, "/runs/create", body, &created); err != nil {
		return err
	}
	s.runID = created.Run.Info.RunID
	logf(s.experiment, "started run %s", s.runID)
	return nil
}

func (s *MLflowSink) LogParams(ctx context.Context, params map[string]string) error {
	if s.runID == "" {
		return errors.New("mlflow: no active run")
	}
	for chunk := range slices.Chunk(sortedPairs(params, maxParamValueLen), maxParamsPerBatch) {
		body := map[string]any{"run_id": s.runID, "params": chunk}
		if err := s.do(ctx, http.MethodPost, "/runs/log-batch", body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *MLflowSink) LogMetrics(ctx context.Context, metrics []Metric) error {
	if s.runID == "" {
		return errors.New("mlflow: no active run")
	}
	now := time.Now().UnixMilli()
	stamped := make([]Metric, len(metrics))
	for i, m := range metrics {
		if m.Timestamp == 0 {
			m.Timestamp = now
		}
		stamped[i] = m
	}
	for chunk := range slices.Chunk(stamped, maxMetricsPerBatch) {
		body := map[string]any{"run_id": s.runID, "metrics": chunk}
		if err := s.do(ctx, http.MethodPost, "/runs/log-batch", body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *MLflowSink) EndRun(ctx context.Context, status Status) error {
	if s.runID == "" {
		return nil
	}
	body := map[string]any{"run_id": s.runID, "status": string(status), "end_time": time.Now().UnixMilli()}
	if err := s.do(ctx, http.MethodPost, "/runs/update", body, nil); err != nil {
		return err
	}
	logf(s.experiment, "ended run %s (%s)", s.runID, status)
	s.runID = ""
	return nil
}
