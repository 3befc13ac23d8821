package pipeline

import (
	"context"
	"fmt"
	"maps"

	"github.com/idlab-discover/visionprep-cli/internal/catalog"
	"github.com/idlab-discover/visionprep-cli/internal/fetcher"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
	"github.com/idlab-discover/visionprep-cli/internal/tracking"
)

// Preparation is the outcome of Prepare.
type Preparation struct {
	Results []*Result
	// Compat is set when the model check ran.
	Compat *fetcher.CompatibilityResult
}

// Summaries returns the per-split counts in run order.
func (p *Preparation) Summaries() []catalog.SplitSummary {
	out := make([]catalog.SplitSummary, 0, len(p.Results))
	for _, r := range p.Results {
		out = append(out, r.Summary())
	}
	return out
}

// Prepare checks the model (when pc.Models is set), opens a tracking run,
// logs the flattened configuration as parameters and runs every split in
// order. Every split's annotations are parsed before any image is read, so
// a broken val or test file fails fast. The tracking run ends FINISHED or
// FAILED with the outcome.
func Prepare(ctx context.Context, pc *Context, splits []string) (*Preparation, error) {
	if pc == nil || pc.Config == nil {
		return nil, fmt.Errorf("pipeline: no configuration")
	}
	cfg := pc.Config
	out := &Preparation{}

	if pc.Models != nil {
		r, err := fetcher.Check(ctx, pc.Models, cfg)
		if err != nil {
			return nil, err
		}
		out.Compat = &r
	}

	if pc.Tracker != nil {
		if err := startTracking(ctx, pc); err != nil {
			logf("", "tracking disabled: %v", err)
			pc.Tracker = nil
		}
	}

	var runErr error
	loaded := make([]*splitRun, 0, len(splits))
	for _, split := range splits {
		sr, err := pc.load(ctx, split)
		if err != nil {
			runErr = err
			break
		}
		loaded = append(loaded, sr)
	}
	if runErr == nil {
		for _, sr := range loaded {
			res, err := pc.finish(ctx, sr)
			if err != nil {
				runErr = err
				break
			}
			out.Results = append(out.Results, res)
		}
	}

	if pc.Tracker != nil {
		status := tracking.StatusFinished
		if runErr != nil {
			status = tracking.StatusFailed
		}
		if err := pc.Tracker.EndRun(ctx, status); err != nil {
			logf("", "end tracking run: %v", err)
		}
	}
	if runErr != nil {
		return out, runErr
	}
	return out, nil
}

func startTracking(ctx context.Context, pc *Context) error {
	cfg := pc.Config
	name := string(cfg.Task()) + "-prepare"
	tags := map[string]string{"task": string(cfg.Task()), "model": cfg.Model.ModelName}
	if cfg.MLflow != nil {
		if cfg.MLflow.RunName != "" {
			name = cfg.MLflow.RunName
		}
		maps.Copy(tags, cfg.MLflow.Tags)
	}
	if pc.Session != nil {
		tags["catalog.run_id"] = pc.Session.RunID()
	}
	if err := pc.Tracker.StartRun(ctx, name, tags); err != nil {
		return err
	}
	params, err := runconfig.Flatten(cfg)
	if err != nil {
		return err
	}
	return pc.Tracker.LogParams(ctx, params)
}
