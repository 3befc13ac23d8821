// Package runconfig defines the declarative document that parameterizes one
// training run (model, data, training, mlflow, output) together with its
// loader, overlay merging, validation rules, and derived trainer settings.
//
// Every section keeps keys it does not know about in an inline Extra map so
// a load → save → load cycle never drops user data.
package runconfig

import (
	"fmt"

	"go.yaml.in/yaml/v3"
)

// RunConfig is the full configuration for one task/model training run.
// It is read-only after loading and shared by pointer.
type RunConfig struct {
	Model    ModelSpec      `yaml:"model"`
	Data     DataSpec       `yaml:"data"`
	Training TrainingSpec   `yaml:"training"`
	MLflow   *MLflowSpec    `yaml:"mlflow,omitempty"`
	Output   OutputSpec     `yaml:"output"`
	Extra    map[string]any `yaml:",inline"`
}

// ModelSpec identifies the pretrained model and its optimizer settings.
// Task holds the variant selected by TaskType.
type ModelSpec struct {
	ModelName       string         `yaml:"model_name"`
	TaskType        TaskType       `yaml:"task_type"`
	NumClasses      int            `yaml:"num_classes"`
	Pretrained      *bool          `yaml:"pretrained,omitempty"`
	LearningRate    float64        `yaml:"learning_rate"`
	WeightDecay     float64        `yaml:"weight_decay"`
	Scheduler       string         `yaml:"scheduler,omitempty"`
	SchedulerParams map[string]any `yaml:"scheduler_params,omitempty"`
	Epochs          int            `yaml:"epochs"`
	ClassNames      []string       `yaml:"class_names,omitempty"`
	ImageSize       int            `yaml:"image_size,omitempty"`
	ModelKwargs     map[string]any `yaml:"model_kwargs,omitempty"`
	Extra           map[string]any `yaml:",inline"`

	Task TaskConfig `yaml:"-"`
}

// UnmarshalYAML decodes the shared fields, then the task variant named by
// task_type from the same mapping.
func (m *ModelSpec) UnmarshalYAML(node *yaml.Node) error {
	type plain ModelSpec
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	if norm, ok := ParseTaskType(string(p.TaskType)); ok {
		p.TaskType = norm
	}
	task, err := decodeTaskConfig(p.TaskType, node)
	if err != nil {
		return fmt.Errorf("decode %s settings: %w", p.TaskType, err)
	}
	if task != nil {
		for _, k := range taskKeys(p.TaskType) {
			delete(p.Extra, k)
		}
	}
	if len(p.Extra) == 0 {
		p.Extra = nil
	}
	*m = ModelSpec(p)
	m.Task = task
	return nil
}

// MarshalYAML writes the task variant's fields flat into the model mapping.
func (m ModelSpec) MarshalYAML() (any, error) {
	type plain ModelSpec
	var node yaml.Node
	if err := node.Encode(plain(m)); err != nil {
		return nil, err
	}
	if m.Task != nil {
		var tn yaml.Node
		if err := tn.Encode(m.Task); err != nil {
			return nil, err
		}
		if tn.Kind == yaml.MappingNode {
			node.Content = append(node.Content, tn.Content...)
		}
	}
	return &node, nil
}

// DataSpec locates each split and configures preprocessing and loading.
type DataSpec struct {
	TrainDataPath       string         `yaml:"train_data_path"`
	TrainAnnotationFile string         `yaml:"train_annotation_file,omitempty"`
	ValDataPath         string         `yaml:"val_data_path,omitempty"`
	ValAnnotationFile   string         `yaml:"val_annotation_file,omitempty"`
	TestDataPath        string         `yaml:"test_data_path,omitempty"`
	TestAnnotationFile  string         `yaml:"test_annotation_file,omitempty"`
	ImageSize           int            `yaml:"image_size"`
	Mean                []float64      `yaml:"mean,flow"`
	Std                 []float64      `yaml:"std,flow"`
	Augment             AugmentSpec    `yaml:"augment"`
	BatchSize           int            `yaml:"batch_size"`
	NumWorkers          int            `yaml:"num_workers"`
	Shuffle             *bool          `yaml:"shuffle,omitempty"`
	Seed                int64          `yaml:"seed,omitempty"`
	FetchPolicy         string         `yaml:"fetch_policy,omitempty"`
	Extra               map[string]any `yaml:",inline"`
}

// SplitSpec is the location of one dataset split.
type SplitSpec struct {
	Name           string
	DataPath       string
	AnnotationFile string
}

// Split returns the location for "train", "val" or "test".
func (d DataSpec) Split(name string) (SplitSpec, error) {
	s := SplitSpec{Name: name}
	switch name {
	case "train":
		s.DataPath, s.AnnotationFile = d.TrainDataPath, d.TrainAnnotationFile
	case "val", "validation":
		s.Name = "val"
		s.DataPath, s.AnnotationFile = d.ValDataPath, d.ValAnnotationFile
	case "test":
		s.DataPath, s.AnnotationFile = d.TestDataPath, d.TestAnnotationFile
	default:
		return s, fmt.Errorf("unknown split %q (expected train|val|test)", name)
	}
	if s.DataPath == "" {
		return s, fmt.Errorf("split %q has no data path configured", s.Name)
	}
	return s, nil
}

// ShuffleEnabled reports whether the loader reshuffles each epoch. Training
// splits shuffle unless disabled; evaluation splits never do.
func (d DataSpec) ShuffleEnabled(split string) bool {
	if split != "train" {
		return false
	}
	return d.Shuffle == nil || *d.Shuffle
}

// AugmentSpec toggles training-time augmentations.
type AugmentSpec struct {
	HorizontalFlip    bool             `yaml:"horizontal_flip"`
	VerticalFlip      bool             `yaml:"vertical_flip"`
	Rotation          float64          `yaml:"rotation"`
	ColorJitter       *ColorJitterSpec `yaml:"color_jitter,omitempty"`
	RandomResizedCrop *CropSpec        `yaml:"random_resized_crop,omitempty"`
	Extra             map[string]any   `yaml:",inline"`
}

// ColorJitterSpec holds maximum jitter magnitudes.
type ColorJitterSpec struct {
	Brightness float64        `yaml:"brightness"`
	Contrast   float64        `yaml:"contrast"`
	Saturation float64        `yaml:"saturation"`
	Hue        float64        `yaml:"hue"`
	Extra      map[string]any `yaml:",inline"`
}

// CropSpec bounds the area fraction and aspect ratio of random crops.
type CropSpec struct {
	Scale []float64      `yaml:"scale,flow"`
	Ratio []float64      `yaml:"ratio,flow"`
	Extra map[string]any `yaml:",inline"`
}

// TrainingSpec configures the external trainer.
type TrainingSpec struct {
	MaxEpochs             int            `yaml:"max_epochs"`
	EarlyStoppingPatience int            `yaml:"early_stopping_patience"`
	MonitorMetric         string         `yaml:"monitor_metric"`
	MonitorMode           string         `yaml:"monitor_mode"`
	CheckpointDir         string         `yaml:"checkpoint_dir"`
	SaveTopK              int            `yaml:"save_top_k"`
	LogEveryNSteps        int            `yaml:"log_every_n_steps"`
	Distributed           bool           `yaml:"distributed"`
	UseGPU                bool           `yaml:"use_gpu"`
	ResourcesPerWorker    map[string]int `yaml:"resources_per_worker,omitempty"`
	Extra                 map[string]any `yaml:",inline"`
}

// MLflowSpec names the experiment-tracking run.
type MLflowSpec struct {
	ExperimentName string            `yaml:"experiment_name"`
	RunName        string            `yaml:"run_name,omitempty"`
	TrackingURI    string            `yaml:"tracking_uri,omitempty"`
	Tags           map[string]string `yaml:"tags,omitempty"`
	LogModel       bool              `yaml:"log_model,omitempty"`
	Extra          map[string]any    `yaml:",inline"`
}

// OutputSpec controls where results go.
type OutputSpec struct {
	ResultsDir      string            `yaml:"results_dir"`
	SavePredictions bool              `yaml:"save_predictions"`
	Visualization   VisualizationSpec `yaml:"visualization"`
	Extra           map[string]any    `yaml:",inline"`
}

// VisualizationSpec configures prediction rendering done by the trainer.
type VisualizationSpec struct {
	Enabled             bool           `yaml:"enabled"`
	MaxImages           int            `yaml:"max_images,omitempty"`
	ConfidenceThreshold *float64       `yaml:"confidence_threshold,omitempty"`
	Extra               map[string]any `yaml:",inline"`
}

// Task returns the configured task type.
func (c *RunConfig) Task() TaskType { return c.Model.TaskType }
