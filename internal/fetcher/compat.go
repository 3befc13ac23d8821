package fetcher

import (
	"context"
	"fmt"
	"slices"

	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
)

// pipelineTags lists the Hub pipeline tags a model may carry for each task.
var pipelineTags = map[runconfig.TaskType][]string{
	runconfig.TaskClassification:       {"image-classification", "zero-shot-image-classification"},
	runconfig.TaskDetection:            {"object-detection", "zero-shot-object-detection"},
	runconfig.TaskInstanceSegmentation: {"image-segmentation", "mask-generation"},
	runconfig.TaskPanopticSegmentation: {"image-segmentation"},
	runconfig.TaskSemanticSegmentation: {"image-segmentation"},
}

// semanticOnly model types cannot produce instance or panoptic masks.
var semanticOnly = []string{"segformer", "upernet", "dpt", "mobilevit"}

// CompatibilityResult is the outcome of matching Hub metadata to a task.
// Mismatches are warnings: the trainer makes the final call.
type CompatibilityResult struct {
	ModelID     string
	Task        runconfig.TaskType
	PipelineTag string
	ModelType   string
	// Architecture is the first entry of config.architectures, if any.
	Architecture string
	Compatible   bool
	Warnings     []string
}

// CheckTask compares a model's pipeline tag and model type with task.
func CheckTask(resp *ModelInfo, task runconfig.TaskType) CompatibilityResult {
	r := CompatibilityResult{
		ModelID:     resp.ID,
		Task:        task,
		PipelineTag: resp.PipelineTag,
		ModelType:   resp.Config.ModelType,
		Compatible:  true,
	}
	if len(resp.Config.Architectures) > 0 {
		r.Architecture = resp.Config.Architectures[0]
	}
	if r.ModelID == "" {
		r.ModelID = resp.ModelID
	}
	want, known := pipelineTags[task]
	switch {
	case !known:
		r.Compatible = false
		r.Warnings = append(r.Warnings, fmt.Sprintf("unknown task type %q", task))
	case resp.PipelineTag == "":
		r.Warnings = append(r.Warnings, "model has no pipeline_tag; task compatibility not verified")
	case !slices.Contains(want, resp.PipelineTag):
		r.Compatible = false
		r.Warnings = append(r.Warnings, fmt.Sprintf("pipeline_tag %q does not match task %s (expected %v)", resp.PipelineTag, task, want))
	}
	if (task == runconfig.TaskInstanceSegmentation || task == runconfig.TaskPanopticSegmentation) &&
		slices.Contains(semanticOnly, resp.Config.ModelType) {
		r.Compatible = false
		r.Warnings = append(r.Warnings, fmt.Sprintf("model_type %q only supports semantic segmentation", resp.Config.ModelType))
	}
	if resp.Gated.Gated() {
		r.Warnings = append(r.Warnings, "model is gated; the trainer needs a Hub token")
	}
	return r
}

// Check fetches the configured model and matches it with the configured
// task. Fetch failures are returned; 404 and 401/403 are wrapped with a hint.
func Check(ctx context.Context, f ModelInfoFetcher, cfg *runconfig.RunConfig) (CompatibilityResult, error) {
	id := cfg.Model.ModelName
	resp, err := f.Fetch(ctx, id)
	switch {
	case IsNotFound(err):
		return CompatibilityResult{}, fmt.Errorf("model %q not found on the Hub: %w", id, err)
	case IsUnauthorized(err):
		return CompatibilityResult{}, fmt.Errorf("model %q is private or gated; set a Hub token: %w", id, err)
	case err != nil:
		return CompatibilityResult{}, fmt.Errorf("fetch model %q: %w", id, err)
	}
	r := CheckTask(resp, cfg.Task())
	for _, w := range r.Warnings {
		logf(id, "warning: %s", w)
	}
	return r, nil
}
