package runconfig

import (
	"maps"
	"path"
	"strings"
)

// TrainerSettings is the flattened view the external trainer consumes.
type TrainerSettings struct {
	Task                  TaskType       `json:"task" yaml:"task"`
	ModelName             string         `json:"model_name" yaml:"model_name"`
	MaxEpochs             int            `json:"max_epochs" yaml:"max_epochs"`
	LogEveryNSteps        int            `json:"log_every_n_steps" yaml:"log_every_n_steps"`
	MonitorMetric         string         `json:"monitor_metric" yaml:"monitor_metric"`
	MonitorMode           string         `json:"monitor_mode" yaml:"monitor_mode"`
	EarlyStoppingPatience int            `json:"early_stopping_patience" yaml:"early_stopping_patience"`
	CheckpointDir         string         `json:"checkpoint_dir" yaml:"checkpoint_dir"`
	SaveTopK              int            `json:"save_top_k" yaml:"save_top_k"`
	Distributed           bool           `json:"distributed" yaml:"distributed"`
	NumWorkers            int            `json:"num_workers" yaml:"num_workers"`
	UseGPU                bool           `json:"use_gpu" yaml:"use_gpu"`
	ResourcesPerWorker    map[string]int `json:"resources_per_worker" yaml:"resources_per_worker"`
}

// TrainerSettings derives the trainer view of cfg. A configured
// resources_per_worker is passed through unchanged; when it is absent each
// worker gets one CPU and, when use_gpu is set, one GPU.
func (c *RunConfig) TrainerSettings() TrainerSettings {
	var res map[string]int
	if len(c.Training.ResourcesPerWorker) > 0 {
		res = maps.Clone(c.Training.ResourcesPerWorker)
	} else {
		res = map[string]int{"CPU": 1, "GPU": 0}
		if c.Training.UseGPU {
			res["GPU"] = 1
		}
	}
	return TrainerSettings{
		Task:                  c.Model.TaskType,
		ModelName:             c.Model.ModelName,
		MaxEpochs:             c.Training.MaxEpochs,
		LogEveryNSteps:        c.Training.LogEveryNSteps,
		MonitorMetric:         c.Training.MonitorMetric,
		MonitorMode:           c.Training.MonitorMode,
		EarlyStoppingPatience: c.Training.EarlyStoppingPatience,
		CheckpointDir:         c.Training.CheckpointDir,
		SaveTopK:              c.Training.SaveTopK,
		Distributed:           c.Training.Distributed,
		NumWorkers:            c.Data.NumWorkers,
		UseGPU:                c.Training.UseGPU,
		ResourcesPerWorker:    res,
	}
}

// CheckpointName is the file stem of the best checkpoint,
// e.g. "detection_detr-resnet-50_best".
func (s TrainerSettings) CheckpointName() string {
	return string(s.Task) + "_" + path.Base(s.ModelName) + "_best"
}

// SyncDist reports whether metrics must be synchronized across workers.
func (s TrainerSettings) SyncDist() bool { return s.NumWorkers > 1 }

// OptimizerSettings describes the AdamW parameter groups and LR schedule.
type OptimizerSettings struct {
	LearningRate         float64 `json:"learning_rate" yaml:"learning_rate"`
	BackboneLearningRate float64 `json:"backbone_learning_rate" yaml:"backbone_learning_rate"`
	WeightDecay          float64 `json:"weight_decay" yaml:"weight_decay"`
	Scheduler            string  `json:"scheduler" yaml:"scheduler"`
	TMax                 int     `json:"t_max,omitempty" yaml:"t_max,omitempty"`
	EtaMin               float64 `json:"eta_min,omitempty" yaml:"eta_min,omitempty"`
}

const backboneLRFactor = 0.1

// OptimizerSettings derives the optimizer plan. The backbone trains at a
// tenth of the head learning rate; only the cosine schedule is expanded,
// with T_max equal to the epoch budget.
func (c *RunConfig) OptimizerSettings() OptimizerSettings {
	o := OptimizerSettings{
		LearningRate:         c.Model.LearningRate,
		BackboneLearningRate: c.Model.LearningRate * backboneLRFactor,
		WeightDecay:          c.Model.WeightDecay,
		Scheduler:            "none",
	}
	if strings.EqualFold(strings.TrimSpace(c.Model.Scheduler), "cosine") {
		o.Scheduler = "cosine"
		o.TMax = c.Model.Epochs
		o.EtaMin = 1e-6
		if v, ok := c.Model.SchedulerParams["eta_min"].(float64); ok {
			o.EtaMin = v
		}
	}
	return o
}

// TuneSettings configures asynchronous successive halving for sweeps.
type TuneSettings struct {
	Metric          string `json:"metric" yaml:"metric"`
	Mode            string `json:"mode" yaml:"mode"`
	MaxT            int    `json:"max_t" yaml:"max_t"`
	GracePeriod     int    `json:"grace_period" yaml:"grace_period"`
	ReductionFactor int    `json:"reduction_factor" yaml:"reduction_factor"`
}

// TuneSettings derives the early-stopping sweep schedule.
func (c *RunConfig) TuneSettings() TuneSettings {
	return TuneSettings{
		Metric:          c.Training.MonitorMetric,
		Mode:            c.Training.MonitorMode,
		MaxT:            c.Training.MaxEpochs,
		GracePeriod:     10,
		ReductionFactor: 2,
	}
}

// InputAdapter names the preprocessing adapter for the model family.
func (c *RunConfig) InputAdapter() string {
	if strings.Contains(strings.ToLower(c.Model.ModelName), "mask2former") {
		return "mask2former"
	}
	return "default"
}
