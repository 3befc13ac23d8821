package wizard

import (
	"testing"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name      string
		answers   Answers
		wantModel string
		wantBatch int
		wantErr   bool
		userErr   bool
	}{
		{
			name:      "defaults",
			answers:   DefaultAnswers(runconfig.TaskDetection, "/vol"),
			wantModel: "facebook/detr-resnet-50",
			wantBatch: runconfig.Default(runconfig.TaskDetection, "/vol").Data.BatchSize,
		},
		{
			name:      "custom model and batch size",
			answers:   Answers{Task: "detection", Model: customModel, CustomModel: " hustvl/yolos-tiny ", BatchSize: "4", Workers: "0"},
			wantModel: "hustvl/yolos-tiny",
			wantBatch: 4,
		},
		{
			name:      "hyphenated task",
			answers:   Answers{Task: "Semantic-Segmentation", BatchSize: "2"},
			wantModel: runconfig.DefaultModel(runconfig.TaskSemanticSegmentation),
			wantBatch: 2,
		},
		{name: "unknown task", answers: Answers{Task: "tracking"}, wantErr: true, userErr: true},
		{name: "zero batch", answers: Answers{Task: "detection", BatchSize: "0"}, wantErr: true, userErr: true},
		{name: "negative workers", answers: Answers{Task: "detection", Workers: "-1"}, wantErr: true, userErr: true},
		{name: "not a number", answers: Answers{Task: "detection", Epochs: "ten"}, wantErr: true, userErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Build(tt.answers)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				if tt.userErr && !apperr.IsUser(err) {
					t.Fatalf("expected user error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if cfg.Model.ModelName != tt.wantModel {
				t.Errorf("model = %q, want %q", cfg.Model.ModelName, tt.wantModel)
			}
			if cfg.Data.BatchSize != tt.wantBatch {
				t.Errorf("batch size = %d, want %d", cfg.Data.BatchSize, tt.wantBatch)
			}
		})
	}
}

func TestBuild_ZeroWorkersAllowed(t *testing.T) {
	cfg, err := Build(Answers{Task: "classification", Workers: "0"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if cfg.Data.NumWorkers != 0 {
		t.Fatalf("num_workers = %d", cfg.Data.NumWorkers)
	}
}

func TestModelOptions(t *testing.T) {
	for _, task := range runconfig.TaskTypes() {
		opts := ModelOptions(task)
		if len(opts) == 0 || opts[0] != runconfig.DefaultModel(task) {
			t.Errorf("ModelOptions(%s) = %v", task, opts)
		}
	}
	opts := modelOptions("detection")
	if last := opts[len(opts)-1]; last.Value != customModel {
		t.Errorf("last option = %+v, want custom", last)
	}
	if got := modelOptions("nope"); len(got) != 1 {
		t.Errorf("modelOptions(unknown) = %+v", got)
	}
}

func TestValidators(t *testing.T) {
	if positiveInt("3") != nil || positiveInt("0") == nil || positiveInt("x") == nil {
		t.Errorf("positiveInt")
	}
	if nonNegativeInt("0") != nil || nonNegativeInt("-2") == nil {
		t.Errorf("nonNegativeInt")
	}
	if validateModelID("org/name") != nil || validateModelID("") == nil || validateModelID("a b") == nil {
		t.Errorf("validateModelID")
	}
}
