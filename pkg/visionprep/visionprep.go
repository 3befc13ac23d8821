// Package visionprep is the embeddable API behind the visionprep CLI. Go
// training code can load a run configuration, prepare its splits and iterate
// the resulting loaders without shelling out.
package visionprep

import (
	"context"
	"fmt"

	"github.com/idlab-discover/visionprep-cli/internal/catalog"
	"github.com/idlab-discover/visionprep-cli/internal/dataquality"
	"github.com/idlab-discover/visionprep-cli/internal/dataset"
	"github.com/idlab-discover/visionprep-cli/internal/pipeline"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
	"github.com/idlab-discover/visionprep-cli/internal/storage"
)

type (
	Config     = runconfig.RunConfig
	TaskType   = runconfig.TaskType
	Loader     = dataset.Loader
	Batch      = dataset.Batch
	Sample     = dataset.Sample
	Report     = dataquality.Report
	S3Config   = storage.S3Config
	Stage      = pipeline.Stage
	StageError = pipeline.StageError
)

// LoadConfig reads and validates a run configuration. sets are dotted
// key=value overrides applied after overlays.
func LoadConfig(path string, overlays []string, sets ...string) (*Config, error) {
	return runconfig.LoadWithOverrides(path, runconfig.Overrides{Files: overlays, Sets: sets})
}

// DefaultConfig returns the default configuration of task rooted at volume.
func DefaultConfig(task string, volume string) (*Config, error) {
	t, ok := runconfig.ParseTaskType(task)
	if !ok {
		return nil, fmt.Errorf("unknown task type %q", task)
	}
	return runconfig.Default(t, volume), nil
}

// Options configures Prepare. The zero value prepares every configured
// split in memory.
type Options struct {
	Splits []string
	// CatalogPath persists the prepared records to a SQLite file.
	CatalogPath string
	RunName     string
	// FetchPolicy overrides data.fetch_policy ("abort" or "skip").
	FetchPolicy string
	S3          S3Config
}

// Prepared holds the outcome of Prepare, keyed by split name.
type Prepared struct {
	RunID   string
	Loaders map[string]*Loader
	Reports map[string]*Report
}

// Prepare runs every stage for the requested splits and returns their
// loaders.
func Prepare(ctx context.Context, cfg *Config, opts Options) (*Prepared, error) {
	if cfg == nil {
		return nil, fmt.Errorf("visionprep: nil configuration")
	}
	pc := &pipeline.Context{Config: cfg, S3: opts.S3}
	if opts.FetchPolicy != "" {
		p, err := dataset.ParseFetchPolicy(opts.FetchPolicy)
		if err != nil {
			return nil, err
		}
		pc.Policy = p
	}

	splits := opts.Splits
	if len(splits) == 0 {
		for _, s := range []string{"train", "val", "test"} {
			if _, err := cfg.Data.Split(s); err == nil {
				splits = append(splits, s)
			}
		}
	}

	out := &Prepared{Loaders: map[string]*Loader{}, Reports: map[string]*Report{}}
	if opts.CatalogPath != "" {
		store, err := catalog.Open(opts.CatalogPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		if pc.Session, err = store.CreateRun(ctx, opts.RunName, cfg); err != nil {
			return nil, err
		}
		out.RunID = pc.Session.RunID()
	}

	prep, err := pipeline.Prepare(ctx, pc, splits)
	if pc.Session != nil {
		status := catalog.RunCompleted
		if err != nil {
			status = catalog.RunFailed
		}
		if ferr := pc.Session.Finish(context.WithoutCancel(ctx), status); ferr != nil && err == nil {
			err = ferr
		}
	}
	if err != nil {
		return nil, err
	}
	for _, r := range prep.Results {
		out.Loaders[r.Split] = r.Loader
		out.Reports[r.Split] = r.Report
	}
	return out, nil
}
