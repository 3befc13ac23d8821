package runconfig

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
)

// Schedulers accepted in model.scheduler. The empty string means "none".
var knownSchedulers = map[string]bool{
	"":            true,
	"none":        true,
	"cosine":      true,
	"step":        true,
	"multistep":   true,
	"exponential": true,
	"linear":      true,
	"plateau":     true,
	"onecycle":    true,
}

// Fetch policies accepted in data.fetch_policy.
const (
	FetchAbort = "abort"
	FetchSkip  = "skip"
)

// Validate returns the first problem found in cfg, or nil.
func Validate(cfg *RunConfig) error {
	if problems := Problems(cfg); len(problems) > 0 {
		return problems[0]
	}
	return nil
}

// Problems checks every rule and returns all violations in document order
// (model, data, training, mlflow, output).
func Problems(cfg *RunConfig) []*apperr.ConfigError {
	if cfg == nil {
		return []*apperr.ConfigError{{Reason: "configuration is nil"}}
	}
	task := string(cfg.Model.TaskType)
	var out []*apperr.ConfigError
	report := func(field, reason string) {
		out = append(out, &apperr.ConfigError{Task: task, Field: field, Reason: reason})
	}

	checkModel(cfg.Model, report)
	checkData(cfg.Data, report)
	checkTraining(cfg.Training, report)
	if cfg.MLflow != nil && strings.TrimSpace(cfg.MLflow.ExperimentName) == "" {
		report("mlflow.experiment_name", "required when the mlflow section is present")
	}
	if strings.TrimSpace(cfg.Output.ResultsDir) == "" {
		report("output.results_dir", "required")
	}
	if cfg.Output.Visualization.MaxImages < 0 {
		report("output.visualization.max_images", "must be >= 0")
	}
	return out
}

func checkModel(m ModelSpec, report func(field, reason string)) {
	if strings.TrimSpace(m.ModelName) == "" {
		report("model.model_name", "required")
	}
	switch {
	case m.TaskType == "":
		report("model.task_type", "required")
	case !m.TaskType.Valid():
		report("model.task_type", fmt.Sprintf("unknown task %q", m.TaskType))
	}
	if m.NumClasses <= 0 {
		report("model.num_classes", "must be a positive integer")
	}
	if len(m.ClassNames) > 0 && m.NumClasses > 0 && len(m.ClassNames) != m.NumClasses {
		report("model.class_names", fmt.Sprintf("has %d entries but num_classes is %d", len(m.ClassNames), m.NumClasses))
	}
	if m.LearningRate <= 0 {
		report("model.learning_rate", "must be > 0")
	}
	if m.WeightDecay < 0 {
		report("model.weight_decay", "must be >= 0")
	}
	if m.Epochs <= 0 {
		report("model.epochs", "must be a positive integer")
	}
	if m.ImageSize < 0 {
		report("model.image_size", "must be >= 0")
	}
	sched := strings.ToLower(strings.TrimSpace(m.Scheduler))
	if !knownSchedulers[sched] {
		report("model.scheduler", fmt.Sprintf("unknown scheduler %q", m.Scheduler))
	}
	checkSchedulerParams(sched, m.SchedulerParams, report)

	task := m.Task
	if task == nil {
		task = newTaskConfig(m.TaskType)
	}
	if task != nil {
		if task.Type() != m.TaskType {
			report("model.task_type", fmt.Sprintf("task settings are for %s", task.Type()))
		}
		task.check(func(field, reason string) {
			report("model."+field, reason)
		})
	}
}

func checkSchedulerParams(sched string, params map[string]any, report func(field, reason string)) {
	num := func(key string) (float64, bool) {
		switch v := params[key].(type) {
		case int:
			return float64(v), true
		case float64:
			return v, true
		}
		return 0, false
	}
	switch sched {
	case "step":
		if v, ok := num("step_size"); !ok || v <= 0 {
			report("model.scheduler_params.step_size", "must be > 0 for the step scheduler")
		}
		if v, ok := num("gamma"); ok && (v <= 0 || v > 1) {
			report("model.scheduler_params.gamma", "must be in (0, 1]")
		}
	case "exponential":
		if v, ok := num("gamma"); !ok || v <= 0 || v > 1 {
			report("model.scheduler_params.gamma", "must be in (0, 1] for the exponential scheduler")
		}
	case "cosine":
		if v, ok := num("eta_min"); ok && v < 0 {
			report("model.scheduler_params.eta_min", "must be >= 0")
		}
	}
}

func checkData(d DataSpec, report func(field, reason string)) {
	if strings.TrimSpace(d.TrainDataPath) == "" {
		report("data.train_data_path", "required")
	}
	if d.ImageSize <= 0 {
		report("data.image_size", "must be a positive integer")
	}
	checkChannels(report, "data.mean", d.Mean, false)
	checkChannels(report, "data.std", d.Std, true)
	if d.BatchSize <= 0 {
		report("data.batch_size", "must be a positive integer")
	}
	if d.NumWorkers < 0 {
		report("data.num_workers", "must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(d.FetchPolicy)) {
	case "", FetchAbort, FetchSkip:
	default:
		report("data.fetch_policy", fmt.Sprintf("must be %s or %s, got %q", FetchAbort, FetchSkip, d.FetchPolicy))
	}

	a := d.Augment
	if a.Rotation < 0 || a.Rotation > 180 {
		report("data.augment.rotation", "must be in [0, 180] degrees")
	}
	if cj := a.ColorJitter; cj != nil {
		for _, f := range []struct {
			name string
			v    float64
		}{{"brightness", cj.Brightness}, {"contrast", cj.Contrast}, {"saturation", cj.Saturation}} {
			if f.v < 0 {
				report("data.augment.color_jitter."+f.name, "must be >= 0")
			}
		}
		if cj.Hue < 0 || cj.Hue > 0.5 {
			report("data.augment.color_jitter.hue", "must be in [0, 0.5]")
		}
	}
	if c := a.RandomResizedCrop; c != nil {
		if len(c.Scale) != 2 || c.Scale[0] <= 0 || c.Scale[0] > c.Scale[1] || c.Scale[1] > 1 {
			report("data.augment.random_resized_crop.scale", "must be [min, max] with 0 < min <= max <= 1")
		}
		if len(c.Ratio) != 2 || c.Ratio[0] <= 0 || c.Ratio[0] > c.Ratio[1] {
			report("data.augment.random_resized_crop.ratio", "must be [min, max] with 0 < min <= max")
		}
	}
}

func checkChannels(report func(field, reason string), field string, v []float64, positive bool) {
	if len(v) != 3 {
		report(field, fmt.Sprintf("must have exactly 3 elements, got %d", len(v)))
		return
	}
	for i, x := range v {
		if x < 0 || x > 1 {
			report(fmt.Sprintf("%s[%d]", field, i), fmt.Sprintf("must be in [0, 1], got %g", x))
		} else if positive && x == 0 {
			report(fmt.Sprintf("%s[%d]", field, i), "must be > 0")
		}
	}
}

func checkTraining(t TrainingSpec, report func(field, reason string)) {
	if t.MaxEpochs <= 0 {
		report("training.max_epochs", "must be a positive integer")
	}
	if t.EarlyStoppingPatience < 0 {
		report("training.early_stopping_patience", "must be >= 0")
	}
	if t.SaveTopK < -1 {
		report("training.save_top_k", "must be >= -1")
	}
	if t.LogEveryNSteps <= 0 {
		report("training.log_every_n_steps", "must be a positive integer")
	}
	if strings.TrimSpace(t.CheckpointDir) == "" {
		report("training.checkpoint_dir", "required")
	}
	for _, k := range slices.Sorted(maps.Keys(t.ResourcesPerWorker)) {
		if t.ResourcesPerWorker[k] < 0 {
			report("training.resources_per_worker."+k, "must be >= 0")
		}
	}

	if strings.TrimSpace(t.MonitorMetric) == "" {
		report("training.monitor_metric", "required")
	}
	mode := strings.TrimSpace(t.MonitorMode)
	switch mode {
	case "min", "max":
		if want := MetricDirection(t.MonitorMetric); want != "" && want != mode {
			report("training.monitor_mode", fmt.Sprintf("%q improves by %s, not %s", t.MonitorMetric, want, mode))
		}
	default:
		report("training.monitor_mode", fmt.Sprintf("must be exactly \"min\" or \"max\", got %q", t.MonitorMode))
	}
}

var (
	minimizedMetrics = []string{"loss", "error", "err"}
	maximizedMetrics = []string{"acc", "accuracy", "map", "iou", "miou", "dice", "f1", "precision", "recall", "pq", "auc"}
)

// MetricDirection returns "min" or "max" for metric names whose natural
// direction is known ("val_loss" → min, "val_map" → max) and "" otherwise.
func MetricDirection(metric string) string {
	name := strings.ToLower(strings.TrimSpace(metric))
	tokens := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '/' || r == '-' || r == '.'
	})
	for _, tok := range tokens {
		for _, m := range minimizedMetrics {
			if tok == m {
				return "min"
			}
		}
	}
	for _, tok := range tokens {
		for _, m := range maximizedMetrics {
			if tok == m || strings.HasPrefix(tok, m) && isDigits(tok[len(m):]) {
				return "max"
			}
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
