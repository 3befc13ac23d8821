package runconfig

import (
	"path"
	"strings"
)

// ImageNet channel statistics used by every default model.
var (
	imagenetMean = []float64{0.485, 0.456, 0.406}
	imagenetStd  = []float64{0.229, 0.224, 0.225}
)

type taskDefaults struct {
	model      string
	numClasses int
	imageSize  int
	metric     string
	mode       string
}

var defaultsByTask = map[TaskType]taskDefaults{
	TaskClassification:       {"google/vit-base-patch16-224", 1000, 224, "val_acc", "max"},
	TaskDetection:            {"facebook/detr-resnet-50", 91, 800, "val_map", "max"},
	TaskInstanceSegmentation: {"facebook/mask2former-swin-base-coco-instance", 80, 512, "val_map", "max"},
	TaskPanopticSegmentation: {"facebook/mask2former-swin-base-coco-panoptic", 133, 512, "val_loss", "min"},
	TaskSemanticSegmentation: {"nvidia/segformer-b0-finetuned-ade-512-512", 150, 512, "val_iou", "max"},
}

// DefaultModel returns the pretrained model used when none is configured.
func DefaultModel(t TaskType) string { return defaultsByTask[t].model }

// Default returns a complete, valid configuration for task t. Data,
// checkpoint and result locations live under volume ("." when empty):
// data/<task>/{train,val,test}, checkpoints/<task> and results/<task>.
// It returns nil for unknown tasks.
func Default(t TaskType, volume string) *RunConfig {
	d, ok := defaultsByTask[t]
	if !ok {
		return nil
	}
	volume = strings.TrimRight(strings.TrimSpace(volume), "/")
	if volume == "" {
		volume = "."
	}
	pretrained := true
	dataRoot := path.Join(volume, "data", string(t))

	cfg := &RunConfig{
		Model: ModelSpec{
			ModelName:       d.model,
			TaskType:        t,
			NumClasses:      d.numClasses,
			Pretrained:      &pretrained,
			LearningRate:    1e-4,
			WeightDecay:     1e-4,
			Scheduler:       "cosine",
			SchedulerParams: map[string]any{"eta_min": 1e-6},
			Epochs:          50,
			ImageSize:       d.imageSize,
			Task:            defaultTaskConfig(t),
		},
		Data: DataSpec{
			TrainDataPath: path.Join(dataRoot, "train"),
			ValDataPath:   path.Join(dataRoot, "val"),
			TestDataPath:  path.Join(dataRoot, "test"),
			ImageSize:     d.imageSize,
			Mean:          append([]float64(nil), imagenetMean...),
			Std:           append([]float64(nil), imagenetStd...),
			Augment: AugmentSpec{
				HorizontalFlip: true,
				Rotation:       10,
				ColorJitter:    &ColorJitterSpec{Brightness: 0.2, Contrast: 0.2, Saturation: 0.2, Hue: 0.1},
			},
			BatchSize:   8,
			NumWorkers:  4,
			Seed:        42,
			FetchPolicy: FetchAbort,
		},
		Training: TrainingSpec{
			MaxEpochs:             50,
			EarlyStoppingPatience: 10,
			MonitorMetric:         d.metric,
			MonitorMode:           d.mode,
			CheckpointDir:         path.Join(volume, "checkpoints", string(t)),
			SaveTopK:              3,
			LogEveryNSteps:        50,
			UseGPU:                true,
			ResourcesPerWorker:    map[string]int{"CPU": 4, "GPU": 1},
		},
		MLflow: &MLflowSpec{
			ExperimentName: string(t) + "_pipeline",
		},
		Output: OutputSpec{
			ResultsDir:      path.Join(volume, "results", string(t)),
			SavePredictions: true,
			Visualization:   VisualizationSpec{Enabled: true, MaxImages: 16},
		},
	}
	if t == TaskClassification {
		cfg.Data.Augment.RandomResizedCrop = &CropSpec{Scale: []float64{0.08, 1}, Ratio: []float64{0.75, 4.0 / 3.0}}
	} else {
		cfg.Data.TrainAnnotationFile = path.Join(dataRoot, "annotations", "instances_train.json")
		cfg.Data.ValAnnotationFile = path.Join(dataRoot, "annotations", "instances_val.json")
		cfg.Data.TestAnnotationFile = path.Join(dataRoot, "annotations", "instances_test.json")
	}
	return cfg
}

func defaultTaskConfig(t TaskType) TaskConfig {
	f := func(v float64) *float64 { return &v }
	switch t {
	case TaskClassification:
		return ClassificationConfig{Dropout: f(0.1)}
	case TaskDetection:
		return DetectionConfig{ConfidenceThreshold: f(0.5), IoUThreshold: f(0.5), MaxDetections: 100}
	case TaskInstanceSegmentation:
		return InstanceSegmentationConfig{ConfidenceThreshold: f(0.5), MaskThreshold: f(0.5), SegmentationType: "instance", MaxDetections: 100}
	case TaskPanopticSegmentation:
		return PanopticSegmentationConfig{MaskThreshold: f(0.5), OverlapThreshold: f(0.8), SegmentationType: "panoptic"}
	case TaskSemanticSegmentation:
		ignore := 255
		return SemanticSegmentationConfig{MaskThreshold: f(0.5), SegmentationType: "semantic", IgnoreIndex: &ignore}
	}
	return nil
}
