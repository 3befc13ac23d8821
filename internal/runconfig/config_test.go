package runconfig

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.yaml.in/yaml/v3"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
)

const detectionYAML = `
model:
  model_name: facebook/detr-resnet-50
  task_type: detection
  num_classes: 2
  learning_rate: 0.0001
  weight_decay: 0.0001
  scheduler: cosine
  epochs: 10
  confidence_threshold: 0.7
  iou_threshold: 0.5
  backbone_freeze: true
data:
  train_data_path: /data/train
  train_annotation_file: /data/train.json
  image_size: 512
  mean: [0.485, 0.456, 0.406]
  std: [0.229, 0.224, 0.225]
  augment:
    horizontal_flip: true
    rotation: 15
    color_jitter:
      brightness: 0.2
      contrast: 0.2
      saturation: 0.2
      hue: 0.05
      p: 0.8
    random_resized_crop:
      scale: [0.5, 1]
      ratio: [0.75, 1.33]
      interpolation: bicubic
  batch_size: 2
  num_workers: 0
  cache_dir: /tmp/cache
training:
  max_epochs: 10
  early_stopping_patience: 3
  monitor_metric: val_map
  monitor_mode: max
  checkpoint_dir: /ckpt
  save_top_k: 1
  log_every_n_steps: 10
  distributed: false
  use_gpu: false
output:
  results_dir: /results
  save_predictions: true
  visualization:
    enabled: true
    max_images: 4
owner: vision-team
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func configError(t *testing.T, err error) *apperr.ConfigError {
	t.Helper()
	var ce *apperr.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *apperr.ConfigError, got %T: %v", err, err)
	}
	return ce
}

func TestParse_DetectionVariant(t *testing.T) {
	cfg, err := Parse([]byte(detectionYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	det, ok := cfg.Model.Task.(DetectionConfig)
	if !ok {
		t.Fatalf("Task = %T, want DetectionConfig", cfg.Model.Task)
	}
	if det.ConfidenceThreshold == nil || *det.ConfidenceThreshold != 0.7 {
		t.Fatalf("confidence_threshold = %v, want 0.7", det.ConfidenceThreshold)
	}
	if _, leaked := cfg.Model.Extra["confidence_threshold"]; leaked {
		t.Fatalf("task field leaked into model extras: %v", cfg.Model.Extra)
	}
	if cfg.Model.Extra["backbone_freeze"] != true {
		t.Fatalf("unknown model key not preserved: %v", cfg.Model.Extra)
	}
	if cfg.Data.Extra["cache_dir"] != "/tmp/cache" {
		t.Fatalf("unknown data key not preserved: %v", cfg.Data.Extra)
	}
	if cfg.Extra["owner"] != "vision-team" {
		t.Fatalf("unknown top-level key not preserved: %v", cfg.Extra)
	}
}

func TestRoundTrip_PreservesEveryField(t *testing.T) {
	dir := t.TempDir()
	first, err := Parse([]byte(detectionYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	out := filepath.Join(dir, "nested", "cfg.yaml")
	if err := Save(first, out); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	second, err := Load(out)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		a, _ := Marshal(first)
		b, _ := Marshal(second)
		t.Fatalf("round trip mismatch\nfirst:\n%s\nsecond:\n%s", a, b)
	}

	data, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, want := range []string{"backbone_freeze: true", "cache_dir: /tmp/cache", "owner: vision-team", "p: 0.8", "interpolation: bicubic"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("round trip dropped %q:\n%s", want, data)
		}
	}
	if second.Data.Augment.ColorJitter.Extra["p"] != 0.8 {
		t.Errorf("color_jitter extras = %v", second.Data.Augment.ColorJitter.Extra)
	}
	if second.Data.Augment.RandomResizedCrop.Extra["interpolation"] != "bicubic" {
		t.Errorf("random_resized_crop extras = %v", second.Data.Augment.RandomResizedCrop.Extra)
	}
}

func TestRoundTrip_Defaults(t *testing.T) {
	for _, task := range TaskTypes() {
		t.Run(string(task), func(t *testing.T) {
			cfg := Default(task, "/vol")
			data, err := Marshal(cfg)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			back, err := Parse(data)
			if err != nil {
				t.Fatalf("Parse(Default) error = %v\n%s", err, data)
			}
			if !reflect.DeepEqual(cfg.Model.Task, back.Model.Task) {
				t.Fatalf("task variant mismatch: %#v vs %#v", cfg.Model.Task, back.Model.Task)
			}
			if back.Training.CheckpointDir != "/vol/checkpoints/"+string(task) {
				t.Fatalf("checkpoint_dir = %q", back.Training.CheckpointDir)
			}
			if back.Output.ResultsDir != "/vol/results/"+string(task) {
				t.Fatalf("results_dir = %q", back.Output.ResultsDir)
			}
		})
	}
}

func TestParse_MissingTaskRequiredField(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(string) string
		wantTask  string
		wantField string
	}{
		{
			name:      "detection without confidence threshold",
			mutate:    func(s string) string { return strings.Replace(s, "  confidence_threshold: 0.7\n", "", 1) },
			wantTask:  "detection",
			wantField: "model.confidence_threshold",
		},
		{
			name:      "detection without iou threshold",
			mutate:    func(s string) string { return strings.Replace(s, "  iou_threshold: 0.5\n", "", 1) },
			wantTask:  "detection",
			wantField: "model.iou_threshold",
		},
		{
			name: "semantic segmentation without mask threshold",
			mutate: func(s string) string {
				s = strings.Replace(s, "task_type: detection", "task_type: semantic_segmentation\n  segmentation_type: semantic", 1)
				return strings.Replace(s, "monitor_metric: val_map", "monitor_metric: val_iou", 1)
			},
			wantTask:  "semantic_segmentation",
			wantField: "model.mask_threshold",
		},
		{
			name: "instance segmentation with wrong segmentation type",
			mutate: func(s string) string {
				return strings.Replace(s, "task_type: detection", "task_type: instance_segmentation\n  mask_threshold: 0.5\n  segmentation_type: semantic", 1)
			},
			wantTask:  "instance_segmentation",
			wantField: "model.segmentation_type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.mutate(detectionYAML)))
			ce := configError(t, err)
			if ce.Task != tt.wantTask {
				t.Fatalf("Task = %q, want %q", ce.Task, tt.wantTask)
			}
			if ce.Field != tt.wantField {
				t.Fatalf("Field = %q, want %q (err: %v)", ce.Field, tt.wantField, err)
			}
		})
	}
}

func TestProblems_Rules(t *testing.T) {
	tests := []struct {
		name      string
		edit      func(*RunConfig)
		wantField string
	}{
		{"mean length", func(c *RunConfig) { c.Data.Mean = []float64{0.5, 0.5} }, "data.mean"},
		{"std out of range", func(c *RunConfig) { c.Data.Std = []float64{0.2, 1.5, 0.2} }, "data.std[1]"},
		{"std zero", func(c *RunConfig) { c.Data.Std = []float64{0.2, 0, 0.2} }, "data.std[1]"},
		{"batch size", func(c *RunConfig) { c.Data.BatchSize = 0 }, "data.batch_size"},
		{"negative workers", func(c *RunConfig) { c.Data.NumWorkers = -1 }, "data.num_workers"},
		{"epochs", func(c *RunConfig) { c.Model.Epochs = 0 }, "model.epochs"},
		{"max epochs", func(c *RunConfig) { c.Training.MaxEpochs = 0 }, "training.max_epochs"},
		{"monitor mode word", func(c *RunConfig) { c.Training.MonitorMode = "maximize" }, "training.monitor_mode"},
		{"monitor mode direction", func(c *RunConfig) { c.Training.MonitorMetric = "val_loss" }, "training.monitor_mode"},
		{"unknown scheduler", func(c *RunConfig) { c.Model.Scheduler = "warp" }, "model.scheduler"},
		{"step scheduler params", func(c *RunConfig) { c.Model.Scheduler = "step" }, "model.scheduler_params.step_size"},
		{"fetch policy", func(c *RunConfig) { c.Data.FetchPolicy = "retry" }, "data.fetch_policy"},
		{"hue", func(c *RunConfig) { c.Data.Augment.ColorJitter.Hue = 0.9 }, "data.augment.color_jitter.hue"},
		{"crop scale", func(c *RunConfig) {
			c.Data.Augment.RandomResizedCrop = &CropSpec{Scale: []float64{0.9, 0.1}, Ratio: []float64{1, 1}}
		}, "data.augment.random_resized_crop.scale"},
		{"threshold range", func(c *RunConfig) {
			d := c.Model.Task.(DetectionConfig)
			v := 1.2
			d.IoUThreshold = &v
			c.Model.Task = d
		}, "model.iou_threshold"},
		{"mlflow experiment", func(c *RunConfig) { c.MLflow = &MLflowSpec{} }, "mlflow.experiment_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(detectionYAML))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			tt.edit(cfg)
			problems := Problems(cfg)
			if len(problems) != 1 {
				t.Fatalf("expected exactly 1 problem, got %d: %v", len(problems), problems)
			}
			if problems[0].Field != tt.wantField {
				t.Fatalf("Field = %q, want %q", problems[0].Field, tt.wantField)
			}
		})
	}
}

func TestValidate_ZeroWorkersAllowed(t *testing.T) {
	cfg, err := Parse([]byte(detectionYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Data.NumWorkers != 0 {
		t.Fatalf("fixture should use num_workers 0")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := Decode([]byte("  \n"))
		configError(t, err)
	})
	t.Run("invalid yaml names task", func(t *testing.T) {
		_, err := Decode([]byte("model:\n  task_type: detection\n  num_classes: [1,\n"))
		ce := configError(t, err)
		if ce.Err == nil {
			t.Fatalf("expected wrapped yaml error")
		}
	})
	t.Run("unknown task", func(t *testing.T) {
		_, err := Parse([]byte(strings.Replace(detectionYAML, "task_type: detection", "task_type: depth", 1)))
		ce := configError(t, err)
		if ce.Field != "model.task_type" {
			t.Fatalf("Field = %q", ce.Field)
		}
	})
}

func TestLoadWithOverrides(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.yaml", detectionYAML)
	overlay := writeFile(t, dir, "overlay.yaml", `
model:
  iou_threshold: 0.6
data:
  augment:
    vertical_flip: true
experiment_notes: sweep-3
`)

	cfg, err := LoadWithOverrides(base, Overrides{
		Files: []string{overlay},
		Sets:  []string{"data.batch_size=4", "model.confidence_threshold=0.25", "training.tags.team=cv"},
	})
	if err != nil {
		t.Fatalf("LoadWithOverrides() error = %v", err)
	}
	det := cfg.Model.Task.(DetectionConfig)
	if *det.IoUThreshold != 0.6 || *det.ConfidenceThreshold != 0.25 {
		t.Fatalf("thresholds = %v/%v", *det.ConfidenceThreshold, *det.IoUThreshold)
	}
	if cfg.Data.BatchSize != 4 {
		t.Fatalf("batch_size = %d, want 4", cfg.Data.BatchSize)
	}
	if !cfg.Data.Augment.VerticalFlip || !cfg.Data.Augment.HorizontalFlip {
		t.Fatalf("augment not deep-merged: %+v", cfg.Data.Augment)
	}
	if cfg.Data.Augment.ColorJitter == nil || cfg.Data.Augment.ColorJitter.Hue != 0.05 {
		t.Fatalf("sibling keys lost during merge: %+v", cfg.Data.Augment.ColorJitter)
	}
	if cfg.Extra["experiment_notes"] != "sweep-3" || cfg.Extra["owner"] != "vision-team" {
		t.Fatalf("unknown keys not preserved: %v", cfg.Extra)
	}
	tags, ok := cfg.Training.Extra["tags"].(map[string]any)
	if !ok || tags["team"] != "cv" {
		t.Fatalf("set did not create nested unknown key: %v", cfg.Training.Extra)
	}
}

func TestApplySets_Errors(t *testing.T) {
	doc := map[string]any{"data": "flat"}
	if err := ApplySets(doc, []string{"nokey"}); !apperr.IsConfig(err) {
		t.Fatalf("expected ConfigError for missing '=', got %v", err)
	}
	if err := ApplySets(doc, []string{"data.batch_size=2"}); !apperr.IsConfig(err) {
		t.Fatalf("expected ConfigError for non-mapping parent, got %v", err)
	}
}

func TestApplySets_Intermediates(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		set  string
		want string
	}{
		{name: "missing", doc: "model: {}", set: "training.tags.team=cv", want: "cv"},
		{name: "explicit null", doc: "training:\n  tags: null", set: "training.tags.team=cv", want: "cv"},
		{name: "tilde null", doc: "training: ~", set: "training.tags.team=cv", want: "cv"},
		{name: "existing mapping", doc: "training:\n  tags: {owner: me}", set: "training.tags.team=cv", want: "cv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc map[string]any
			if err := yaml.Unmarshal([]byte(tt.doc), &doc); err != nil {
				t.Fatal(err)
			}
			if err := ApplySets(doc, []string{tt.set}); err != nil {
				t.Fatalf("ApplySets() error = %v", err)
			}
			training, ok := doc["training"].(map[string]any)
			if !ok {
				t.Fatalf("training = %#v, want a mapping", doc["training"])
			}
			tags, ok := training["tags"].(map[string]any)
			if !ok || tags["team"] != tt.want {
				t.Fatalf("training.tags = %#v", training["tags"])
			}
			if tt.name == "existing mapping" && tags["owner"] != "me" {
				t.Fatalf("sibling key lost: %#v", tags)
			}
		})
	}
}

func TestMerge_OverlayWins(t *testing.T) {
	base := map[string]any{"a": map[string]any{"x": 1, "y": 2}, "b": []any{1, 2}}
	overlay := map[string]any{"a": map[string]any{"y": 3}, "b": []any{9}}
	got := Merge(base, overlay)
	want := map[string]any{"a": map[string]any{"x": 1, "y": 3}, "b": []any{9}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Merge() = %v, want %v", got, want)
	}
}

func TestParseTaskType(t *testing.T) {
	tests := []struct {
		in   string
		want TaskType
		ok   bool
	}{
		{"detection", TaskDetection, true},
		{" Instance-Segmentation ", TaskInstanceSegmentation, true},
		{"panoptic_segmentation", TaskPanopticSegmentation, true},
		{"depth", TaskType("depth"), false},
	}
	for _, tt := range tests {
		got, ok := ParseTaskType(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseTaskType(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMetricDirection(t *testing.T) {
	tests := map[string]string{
		"val_loss":      "min",
		"train/loss":    "min",
		"val_error":     "min",
		"val_map":       "max",
		"val_map50":     "max",
		"val_iou":       "max",
		"val_acc":       "max",
		"val_dice":      "max",
		"val_pq":        "max",
		"custom_metric": "",
		"":              "",
	}
	for in, want := range tests {
		if got := MetricDirection(in); got != want {
			t.Errorf("MetricDirection(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDataSpec_Split(t *testing.T) {
	d := DataSpec{TrainDataPath: "/tr", TrainAnnotationFile: "/tr.json", ValDataPath: "/va"}
	s, err := d.Split("train")
	if err != nil || s.DataPath != "/tr" || s.AnnotationFile != "/tr.json" {
		t.Fatalf("Split(train) = %+v, %v", s, err)
	}
	if s, err := d.Split("validation"); err != nil || s.Name != "val" {
		t.Fatalf("Split(validation) = %+v, %v", s, err)
	}
	if _, err := d.Split("test"); err == nil {
		t.Fatalf("expected error for unconfigured test split")
	}
	if _, err := d.Split("holdout"); err == nil {
		t.Fatalf("expected error for unknown split")
	}
	if !d.ShuffleEnabled("train") || d.ShuffleEnabled("val") {
		t.Fatalf("unexpected shuffle defaults")
	}
}

func TestFlatten(t *testing.T) {
	cfg, err := Parse([]byte(detectionYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	flat, err := Flatten(cfg)
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	checks := map[string]string{
		"model.confidence_threshold":         "0.7",
		"model.task_type":                    "detection",
		"data.mean":                          "[0.485, 0.456, 0.406]",
		"data.augment.color_jitter.contrast": "0.2",
		"owner":                              "vision-team",
	}
	for k, want := range checks {
		if got := flat[k]; got != want {
			t.Errorf("flat[%q] = %q, want %q", k, got, want)
		}
	}
}
