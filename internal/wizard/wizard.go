// Package wizard asks for the few settings that differ between projects and
// turns the answers into a complete run configuration.
package wizard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
)

// customModel is the select value that reveals the free-text model input.
const customModel = "custom"

// Answers holds the raw form values. Numbers stay strings until Build so the
// inputs can validate them as the user types.
type Answers struct {
	Task        string
	Model       string
	CustomModel string
	Volume      string
	BatchSize   string
	Workers     string
	Epochs      string
	Confirm     bool
}

// Suggested checkpoints per task. The task default is always listed first.
var suggestedModels = map[runconfig.TaskType][]string{
	runconfig.TaskClassification:       {"microsoft/resnet-50", "facebook/convnext-tiny-224"},
	runconfig.TaskDetection:            {"facebook/detr-resnet-101", "hustvl/yolos-small"},
	runconfig.TaskInstanceSegmentation: {"facebook/mask2former-swin-small-coco-instance"},
	runconfig.TaskPanopticSegmentation: {"facebook/mask2former-swin-small-coco-panoptic"},
	runconfig.TaskSemanticSegmentation: {"nvidia/segformer-b2-finetuned-ade-512-512"},
}

// ModelOptions returns the models offered for task.
func ModelOptions(task runconfig.TaskType) []string {
	out := []string{runconfig.DefaultModel(task)}
	for _, m := range suggestedModels[task] {
		if m != out[0] {
			out = append(out, m)
		}
	}
	return out
}

// DefaultAnswers pre-fills the form from the defaults of task.
func DefaultAnswers(task runconfig.TaskType, volume string) Answers {
	cfg := runconfig.Default(task, volume)
	if cfg == nil {
		return Answers{Task: string(task), Volume: volume}
	}
	return Answers{
		Task:      string(task),
		Model:     cfg.Model.ModelName,
		Volume:    volume,
		BatchSize: strconv.Itoa(cfg.Data.BatchSize),
		Workers:   strconv.Itoa(cfg.Data.NumWorkers),
		Epochs:    strconv.Itoa(cfg.Model.Epochs),
		Confirm:   true,
	}
}

// Run shows the form, starting from a, and returns the resulting
// configuration. Aborting the form or declining the final confirmation
// returns apperr.ErrCancelled.
func Run(a Answers) (*runconfig.RunConfig, error) {
	if _, ok := runconfig.ParseTaskType(a.Task); !ok {
		a.Task = string(runconfig.TaskClassification)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("New training configuration").
				Description("Answer a few questions; every other setting uses the task defaults.\nEdit the YAML file afterwards for fine tuning.").
				Next(true).
				NextLabel("Start"),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Task").
				Options(taskOptions()...).
				Value(&a.Task),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Pretrained model").
				Description("Hugging Face model id").
				OptionsFunc(func() []huh.Option[string] { return modelOptions(a.Task) }, &a.Task).
				Value(&a.Model),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Model id").
				Placeholder("org/name").
				Value(&a.CustomModel).
				Validate(validateModelID),
		).WithHideFunc(func() bool { return a.Model != customModel }),
		huh.NewGroup(
			huh.NewInput().
				Title("Volume").
				Description("Root of data/, configs/, checkpoints/ and results/").
				Value(&a.Volume),
			huh.NewInput().
				Title("Batch size").
				Value(&a.BatchSize).
				Validate(positiveInt),
			huh.NewInput().
				Title("Loader workers").
				Description("0 loads samples on the calling goroutine").
				Value(&a.Workers).
				Validate(nonNegativeInt),
			huh.NewInput().
				Title("Epochs").
				Value(&a.Epochs).
				Validate(positiveInt),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Write configuration?").
				Value(&a.Confirm).
				Affirmative("Yes").
				Negative("No"),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, apperr.ErrCancelled
		}
		return nil, err
	}
	if !a.Confirm {
		return nil, apperr.ErrCancelled
	}
	return Build(a)
}

// Build turns answers into a validated configuration.
func Build(a Answers) (*runconfig.RunConfig, error) {
	task, ok := runconfig.ParseTaskType(a.Task)
	if !ok {
		return nil, apperr.Userf("unknown task %q", a.Task)
	}
	cfg := runconfig.Default(task, a.Volume)

	model := strings.TrimSpace(a.Model)
	if model == customModel {
		model = strings.TrimSpace(a.CustomModel)
	}
	if model != "" {
		cfg.Model.ModelName = model
	}

	ints := []struct {
		field string
		raw   string
		dst   *int
		check func(string) error
	}{
		{"data.batch_size", a.BatchSize, &cfg.Data.BatchSize, positiveInt},
		{"data.num_workers", a.Workers, &cfg.Data.NumWorkers, nonNegativeInt},
		{"model.epochs", a.Epochs, &cfg.Model.Epochs, positiveInt},
	}
	for _, f := range ints {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		if err := f.check(f.raw); err != nil {
			return nil, apperr.Userf("%s: %v", f.field, err)
		}
		*f.dst, _ = strconv.Atoi(strings.TrimSpace(f.raw))
	}

	if err := runconfig.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func taskOptions() []huh.Option[string] {
	var opts []huh.Option[string]
	for _, t := range runconfig.TaskTypes() {
		opts = append(opts, huh.NewOption(strings.ReplaceAll(string(t), "_", " "), string(t)))
	}
	return opts
}

func modelOptions(task string) []huh.Option[string] {
	t, ok := runconfig.ParseTaskType(task)
	if !ok {
		return []huh.Option[string]{huh.NewOption("Other…", customModel)}
	}
	var opts []huh.Option[string]
	for i, m := range ModelOptions(t) {
		label := m
		if i == 0 {
			label += " (default)"
		}
		opts = append(opts, huh.NewOption(label, m))
	}
	return append(opts, huh.NewOption("Other…", customModel))
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a whole number")
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1")
	}
	return nil
}

func nonNegativeInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a whole number")
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateModelID(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("this field is required")
	}
	if strings.ContainsAny(s, " \t") {
		return fmt.Errorf("model ids contain no spaces")
	}
	return nil
}
