package tracking

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
)

type fakeMLflow struct {
	mu          sync.Mutex
	experiments map[string]string
	batches     []map[string]json.RawMessage
	updates     []map[string]any
	auth        []string
}

func (f *fakeMLflow) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/mlflow/experiments/get-by-name", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		id, ok := f.experiments[r.URL.Query().Get("experiment_name")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error_code":"RESOURCE_DOES_NOT_EXIST","message":"no such experiment"}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"experiment":{"experiment_id":%q}}`, id)
	})
	mux.HandleFunc("/api/2.0/mlflow/experiments/create", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		defer f.mu.Unlock()
		id := fmt.Sprint(len(f.experiments) + 1)
		f.experiments[body.Name] = id
		_, _ = fmt.Fprintf(w, `{"experiment_id":%q}`, id)
	})
	mux.HandleFunc("/api/2.0/mlflow/runs/create", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"run":{"info":{"run_id":"run-1"}}}`))
	})
	mux.HandleFunc("/api/2.0/mlflow/runs/log-batch", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.batches = append(f.batches, body)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/api/2.0/mlflow/runs/update", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.updates = append(f.updates, body)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	})
	return mux
}

func TestMLflowSink(t *testing.T) {
	fake := &fakeMLflow{experiments: map[string]string{}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	ctx := context.Background()
	sink := NewMLflowSink(srv.URL+"/", "detection_pipeline", "secret")
	require.NoError(t, sink.StartRun(ctx, "prep", map[string]string{"task": "detection"}))
	assert.Equal(t, "run-1", sink.RunID())
	assert.Equal(t, "1", sink.ExperimentID())
	assert.Equal(t, "Bearer secret", fake.auth[0])

	params := map[string]string{}
	for i := range 150 {
		params[fmt.Sprintf("p%03d", i)] = "v"
	}
	params["long"] = strings.Repeat("x", 800)
	require.NoError(t, sink.LogParams(ctx, params))
	require.Len(t, fake.batches, 2)

	var first []keyValue
	require.NoError(t, json.Unmarshal(fake.batches[0]["params"], &first))
	assert.Len(t, first, maxParamsPerBatch)
	assert.Equal(t, "long", first[0].Key)
	assert.Len(t, first[0].Value, maxParamValueLen)

	require.NoError(t, sink.LogMetrics(ctx, []Metric{{Key: "records_valid", Value: 2}}))
	var metrics []Metric
	require.NoError(t, json.Unmarshal(fake.batches[2]["metrics"], &metrics))
	require.Len(t, metrics, 1)
	assert.NotZero(t, metrics[0].Timestamp)

	require.NoError(t, sink.EndRun(ctx, StatusFinished))
	require.Len(t, fake.updates, 1)
	assert.Equal(t, "FINISHED", fake.updates[0]["status"])
	assert.Empty(t, sink.RunID())

	// The experiment now exists and is reused.
	require.NoError(t, sink.StartRun(ctx, "again", nil))
	assert.Len(t, fake.experiments, 1)
}

func TestSortedPairs_TruncatesOnRuneBoundary(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantLen int
	}{
		{"short", "résumé", len("résumé")},
		{"ascii", strings.Repeat("x", 800), maxParamValueLen},
		{"two-byte aligned", strings.Repeat("é", 300), maxParamValueLen},
		{"two-byte split", "x" + strings.Repeat("é", 300), maxParamValueLen - 1},
		{"three-byte split", strings.Repeat("€", 200), maxParamValueLen - 2},
		{"four-byte aligned", strings.Repeat("😀", 200), maxParamValueLen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sortedPairs(map[string]string{"k": tt.value}, maxParamValueLen)
			require.Len(t, got, 1)
			assert.Len(t, got[0].Value, tt.wantLen)
			assert.True(t, utf8.ValidString(got[0].Value), "truncated value is not valid UTF-8")
			assert.True(t, strings.HasPrefix(tt.value, got[0].Value))
		})
	}
}

func TestMLflowSink_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error_code":"INTERNAL_ERROR","message":"boom"}`))
	}))
	defer srv.Close()

	err := NewMLflowSink(srv.URL, "exp", "").StartRun(context.Background(), "r", nil)
	var mErr *MLflowError
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, http.StatusInternalServerError, mErr.StatusCode)
	assert.Equal(t, "INTERNAL_ERROR", mErr.Code)
}

func TestMLflowSink_RequiresActiveRun(t *testing.T) {
	sink := NewMLflowSink("http://127.0.0.1:1", "exp", "")
	assert.Error(t, sink.LogParams(context.Background(), map[string]string{"a": "b"}))
	assert.NoError(t, sink.EndRun(context.Background(), StatusFailed))
}

func TestFileSink(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sink, err := NewFileSink(dir, "exp")
	require.NoError(t, err)

	require.Error(t, sink.LogParams(ctx, map[string]string{"a": "b"}))
	require.NoError(t, sink.StartRun(ctx, "prep", map[string]string{"split": "train"}))
	path := sink.Path()
	require.NoError(t, sink.LogParams(ctx, map[string]string{"model.model_name": "vit"}))
	require.NoError(t, sink.LogMetrics(ctx, []Metric{{Key: "batches", Value: 3}}))
	require.NoError(t, sink.EndRun(ctx, StatusFinished))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var types []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		assert.NotEmpty(t, e.RunID)
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"start_run", "params", "metrics", "end_run"}, types)
}

func TestNew(t *testing.T) {
	dir := t.TempDir()

	s, err := New(nil, dir)
	require.NoError(t, err)
	assert.IsType(t, NopSink{}, s)

	s, err = New(&runconfig.MLflowSpec{ExperimentName: "e", TrackingURI: "https://mlflow.example.com"}, dir)
	require.NoError(t, err)
	assert.IsType(t, &MLflowSink{}, s)

	s, err = New(&runconfig.MLflowSpec{ExperimentName: "e"}, dir)
	require.NoError(t, err)
	require.IsType(t, &FileSink{}, s)
	assert.DirExists(t, filepath.Join(dir, "tracking"))

	local := filepath.Join(dir, "runs")
	s, err = New(&runconfig.MLflowSpec{ExperimentName: "e", TrackingURI: "file:" + local}, dir)
	require.NoError(t, err)
	require.IsType(t, &FileSink{}, s)
	assert.DirExists(t, local)
}
