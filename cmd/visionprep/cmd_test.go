package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/idlab-discover/visionprep-cli/internal/coco"
	"github.com/idlab-discover/visionprep-cli/internal/dataquality"
	"github.com/idlab-discover/visionprep-cli/internal/dataset"
	"github.com/idlab-discover/visionprep-cli/internal/fetcher"
	"github.com/idlab-discover/visionprep-cli/internal/pipeline"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
	"github.com/idlab-discover/visionprep-cli/internal/storage"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

func TestConfiguredSplits(t *testing.T) {
	cfg := runconfig.Default(runconfig.TaskDetection, "/vol")
	cfg.Data.TestDataPath = ""
	got := configuredSplits(cfg)
	if strings.Join(got, ",") != "train,val" {
		t.Fatalf("configuredSplits() = %v", got)
	}
}

func TestModelFetcher(t *testing.T) {
	tests := []struct {
		mode    string
		wantNil bool
		wantErr bool
	}{
		{"off", true, false},
		{"", true, false},
		{"dummy", false, false},
		{"ONLINE", false, false},
		{"cached", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			f, err := modelFetcher(tt.mode, "", 0)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if (f == nil) != tt.wantNil {
				t.Fatalf("fetcher = %T", f)
			}
		})
	}
	if f, _ := modelFetcher("dummy", "", 0); f != nil {
		if _, ok := f.(fetcher.DummyHub); !ok {
			t.Fatalf("dummy mode returned %T", f)
		}
	}
}

func TestQualityView(t *testing.T) {
	coll := coco.NewCollection("mem", []coco.Record{
		{ImageID: 1, FileName: "a.png", Width: 10, Height: 10},
		{ImageID: 2, FileName: "b.png", Width: 0, Height: 10},
	}, map[int64]string{1: "defect"})
	report, err := dataquality.Validate(t.Context(), coll, dataquality.Options{AllowEmpty: true})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	view := qualityView("train", report)
	if view.Split != "train" || view.Total != 2 {
		t.Fatalf("view = %+v", view)
	}
	if view.Valid+view.Excluded != view.Total {
		t.Fatalf("valid %d + excluded %d != total %d", view.Valid, view.Excluded, view.Total)
	}
	var found bool
	for _, is := range view.Issues {
		if is.Category == string(dataquality.InvalidDimensions) {
			found = true
			if !is.Excluding {
				t.Errorf("invalid dimensions should exclude the record")
			}
		}
	}
	if !found {
		t.Fatalf("issues = %+v", view.Issues)
	}
}

func TestPrepareReporter(t *testing.T) {
	var buf bytes.Buffer
	cfg := runconfig.Default(runconfig.TaskDetection, "/vol")
	pr := newPrepareReporter(&buf, cfg, []string{"train"}, true, false)
	pr.Start()
	pr.onEvent(pipeline.ProgressEvent{Type: pipeline.EventStageStart, Stage: pipeline.StageLoad, Split: "train"})
	pr.onEvent(pipeline.ProgressEvent{Type: pipeline.EventStageComplete, Stage: pipeline.StageLoad, Split: "train", Message: "2 records"})
	pr.onEvent(pipeline.ProgressEvent{Type: pipeline.EventStageSkipped, Stage: pipeline.StagePersist, Split: "train", Message: "no catalog session"})
	pr.onEvent(pipeline.ProgressEvent{Type: pipeline.EventError, Stage: pipeline.StageConstructLoader, Split: "train", Error: errors.New("no records")})
	pr.onEvent(pipeline.ProgressEvent{Type: pipeline.EventStageStart, Stage: pipeline.StageLoad, Split: "test"})
	pr.Complete(nil)

	lr, ok := pr.StepReporter.(*ui.LineReporter)
	if !ok {
		t.Fatalf("reporter = %T", pr.StepReporter)
	}
	steps := lr.Steps()
	if len(steps) != 1+len(pipeline.Stages()) {
		t.Fatalf("len(steps) = %d", len(steps))
	}
	want := map[int]ui.StepStatus{
		0: ui.StatusComplete,
		1: ui.StatusComplete,
		2: ui.StatusPending,
		4: ui.StatusSkipped,
		5: ui.StatusFailed,
	}
	for i, st := range want {
		if steps[i].Status != st {
			t.Errorf("step %d (%s) = %s, want %s", i, steps[i].Name, steps[i].Status, st)
		}
	}
	if steps[5].Message != "no records" {
		t.Errorf("failure message = %q", steps[5].Message)
	}
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	cfgPath := filepath.Join(dir, "configs", "detection_config.yaml")

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		root := GetRootCmd()
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(append(args, "--no-color", "--log-level", "quiet"))
		err := root.Execute()
		return out.String(), err
	}

	if _, err := run("config", "init", "--task", "detection", "--volume", dir); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	if _, err := run("config", "init", "--task", "detection", "--volume", dir); err == nil {
		t.Fatalf("second init without --force should fail")
	}

	out, err := run("config", "show", "-c", cfgPath, "--set", "model.iou_threshold=0.6")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "iou_threshold: 0.6") {
		t.Fatalf("show output missing override:\n%s", out)
	}

	if _, err := run("config", "validate", "-c", cfgPath, "--set", "model.iou_threshold=1.5"); err == nil {
		t.Fatalf("validate should fail for an out-of-range threshold")
	}

	out, err = run("config", "trainer", "-c", cfgPath, "--json")
	if err != nil {
		t.Fatalf("config trainer: %v", err)
	}
	if !strings.Contains(out, `"checkpoint_name": "detection_detr-resnet-50_best"`) {
		t.Fatalf("trainer output:\n%s", out)
	}
}

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIterateLoaders(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		sizes     [][2]int
		wantShape string
	}{
		{name: "fixed size stacks", size: 8, sizes: [][2]int{{12, 10}, {6, 6}, {9, 4}}, wantShape: "batch 2×3×8×8"},
		{name: "native sizes", size: 0, sizes: [][2]int{{12, 10}, {6, 6}, {9, 4}}, wantShape: "variable shape"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			var recs []coco.Record
			for i, wh := range tt.sizes {
				name := fmt.Sprintf("img%d.png", i)
				writeTestPNG(t, filepath.Join(dir, name), wh[0], wh[1])
				recs = append(recs, coco.Record{ImageID: int64(i + 1), FileName: name, Width: wh[0], Height: wh[1]})
			}
			src, err := storage.NewLocalSource(dir)
			if err != nil {
				t.Fatal(err)
			}
			tc := dataset.TransformConfig{ImageSize: tt.size, Mean: dataset.ImageNetMean, Std: dataset.ImageNetStd}
			l, err := dataset.NewLoader(dataset.New(recs, src, tc, 1), dataset.LoaderOptions{BatchSize: 2})
			if err != nil {
				t.Fatal(err)
			}
			prep := &pipeline.Preparation{Results: []*pipeline.Result{{Split: "train", Loader: l}}}

			previews := filepath.Join(t.TempDir(), "preview")
			var out bytes.Buffer
			if err := iterateLoaders(context.Background(), &out, io.Discard, prep, iterateOptions{PreviewDir: previews, Quiet: true}); err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(out.String(), "2 batch(es), 3 sample(s)") {
				t.Errorf("output = %q, want batch and sample counts", out.String())
			}
			if !strings.Contains(out.String(), tt.wantShape) {
				t.Errorf("output = %q, want %q", out.String(), tt.wantShape)
			}

			entries, err := os.ReadDir(previews)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 2 {
				t.Fatalf("got %d preview files, want the first batch of 2", len(entries))
			}
			for i, e := range entries {
				if want := fmt.Sprintf("train-e0-%d.png", i+1); e.Name() != want {
					t.Errorf("preview %d = %s, want %s", i, e.Name(), want)
				}
				f, err := os.Open(filepath.Join(previews, e.Name()))
				if err != nil {
					t.Fatal(err)
				}
				cfg, err := png.DecodeConfig(f)
				f.Close()
				if err != nil {
					t.Fatal(err)
				}
				wantW, wantH := tt.size, tt.size
				if tt.size == 0 {
					wantW, wantH = tt.sizes[i][0], tt.sizes[i][1]
				}
				if cfg.Width != wantW || cfg.Height != wantH {
					t.Errorf("%s is %dx%d, want %dx%d", e.Name(), cfg.Width, cfg.Height, wantW, wantH)
				}
			}
		})
	}
}
