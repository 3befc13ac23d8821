// Package pipeline prepares one dataset split for training in five named
// stages: load → process → validate → persist → construct-loader.
//
// All run state travels in an explicit Context; stages hand typed values to
// each other and check them at every boundary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
	"github.com/idlab-discover/visionprep-cli/internal/catalog"
	"github.com/idlab-discover/visionprep-cli/internal/coco"
	"github.com/idlab-discover/visionprep-cli/internal/dataquality"
	"github.com/idlab-discover/visionprep-cli/internal/dataset"
	"github.com/idlab-discover/visionprep-cli/internal/fetcher"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
	"github.com/idlab-discover/visionprep-cli/internal/storage"
	"github.com/idlab-discover/visionprep-cli/internal/tracking"
)

// Context carries everything a run needs. Only Config is required.
type Context struct {
	Config *runconfig.RunConfig
	// Session persists records when set; otherwise the persist stage is
	// skipped and the validated subset stays in memory.
	Session *catalog.Session
	// Images overrides the image root of every split. When nil each split
	// opens its configured data path (local directory or s3:// prefix).
	Images storage.Source
	S3     storage.S3Config
	// Tracker receives per-split metrics. Nil disables tracking.
	Tracker tracking.Sink
	// Models enables the Hub compatibility check in Prepare.
	Models fetcher.ModelInfoFetcher
	// Policy overrides data.fetch_policy.
	Policy dataset.FetchPolicy
	// Quality overrides the task-derived data-quality options. Stat is
	// always bound to the split's image source.
	Quality    *dataquality.Options
	OnProgress ProgressCallback
}

func (pc *Context) emit(e ProgressEvent) {
	if pc.OnProgress != nil {
		pc.OnProgress(e)
	}
}

// Row is one record together with its derived columns.
type Row struct {
	ImageID         int64
	FileName        string
	Width           int
	Height          int
	AnnotationCount int
	// Categories holds distinct category names in annotation order.
	Categories []string
	BoxArea    float64
	Crowd      bool
}

// Table is the processed form of one split.
type Table struct {
	Split  string
	Source *coco.Collection
	Rows   []Row
}

// Result is everything produced for one split.
type Result struct {
	Split      string
	Collection *coco.Collection
	Table      *Table
	Report     *dataquality.Report
	Validated  *coco.Collection
	Persisted  int
	Loader     *dataset.Loader
}

// Summary returns the split counts in catalog form.
func (r *Result) Summary() catalog.SplitSummary {
	s := catalog.SplitSummary{Split: r.Split}
	if r.Collection != nil {
		s.Total = r.Collection.Len()
		s.Annotations = r.Collection.AnnotationCount()
		s.Categories = len(r.Collection.Categories)
	}
	if r.Validated != nil {
		s.Valid = r.Validated.Len()
	}
	s.Excluded = s.Total - s.Valid
	return s
}

// Run executes every stage for split and returns the ready loader. Any
// failure stops the run before a loader exists.
func Run(ctx context.Context, pc *Context, split string) (*Result, error) {
	sr, err := pc.load(ctx, split)
	if err != nil {
		return nil, err
	}
	return pc.finish(ctx, sr)
}

// splitRun is a split whose annotations are loaded.
type splitRun struct {
	spec   runconfig.SplitSpec
	images storage.Source
	res    *Result
}

// step runs one stage of split, emitting its start and completion events.
func (pc *Context) step(split string, s Stage, fn func() (int, string, error)) error {
	pc.emit(ProgressEvent{Type: EventStageStart, Stage: s, Split: split})
	n, msg, err := fn()
	if err != nil {
		return pc.fail(s, split, err)
	}
	pc.emit(ProgressEvent{Type: EventStageComplete, Stage: s, Split: split, Count: n, Message: msg})
	logf(split, "%s: %s", s, msg)
	return nil
}

// load resolves split, opens its image root and runs the load stage. No
// image is read.
func (pc *Context) load(ctx context.Context, split string) (*splitRun, error) {
	if pc == nil || pc.Config == nil {
		return nil, errors.New("pipeline: no configuration")
	}
	spec, err := pc.Config.Data.Split(split)
	if err != nil {
		return nil, apperr.User(err.Error())
	}
	sr := &splitRun{spec: spec, images: pc.Images, res: &Result{Split: spec.Name}}
	if sr.images == nil {
		if sr.images, err = storage.NewSource(ctx, spec.DataPath, pc.S3); err != nil {
			return nil, pc.fail(StageLoad, spec.Name, fmt.Errorf("open image root: %w", err))
		}
	}
	if err := pc.step(spec.Name, StageLoad, func() (int, string, error) {
		coll, err := LoadStage(ctx, pc, spec, sr.images)
		if err != nil {
			return 0, "", err
		}
		sr.res.Collection = coll
		return coll.Len(), fmt.Sprintf("%d records, %d categories", coll.Len(), len(coll.Categories)), nil
	}); err != nil {
		return nil, err
	}
	return sr, nil
}

// finish runs the stages after load.
func (pc *Context) finish(ctx context.Context, sr *splitRun) (*Result, error) {
	split, res, images := sr.spec.Name, sr.res, sr.images

	if err := pc.step(split, StageProcess, func() (int, string, error) {
		t, err := ProcessStage(split, res.Collection)
		if err != nil {
			return 0, "", err
		}
		res.Table = t
		return len(t.Rows), fmt.Sprintf("%d rows", len(t.Rows)), nil
	}); err != nil {
		return nil, err
	}

	if err := pc.step(split, StageValidate, func() (int, string, error) {
		r, err := ValidateStage(ctx, pc, res.Table, images)
		if err != nil {
			return 0, "", err
		}
		res.Report = r
		return r.Valid(), dataquality.FormatSummary(r), nil
	}); err != nil {
		return nil, err
	}

	if pc.Session == nil {
		res.Validated = res.Report.Apply(res.Collection)
		pc.emit(ProgressEvent{Type: EventStageSkipped, Stage: StagePersist, Split: split, Message: "no catalog session"})
		logf(split, "%s: skipped (no catalog session)", StagePersist)
	} else if err := pc.step(split, StagePersist, func() (int, string, error) {
		n, validated, err := PersistStage(ctx, pc.Session, res.Table, res.Report)
		if err != nil {
			return 0, "", err
		}
		res.Persisted, res.Validated = n, validated
		return n, fmt.Sprintf("%d rows in run %s", n, pc.Session.RunID()), nil
	}); err != nil {
		return nil, err
	}

	if err := pc.step(split, StageConstructLoader, func() (int, string, error) {
		l, err := ConstructLoaderStage(pc, split, res.Validated, images)
		if err != nil {
			return 0, "", err
		}
		res.Loader = l
		o := l.Options()
		return l.Len(), fmt.Sprintf("%d samples, %d batches of %d, %d workers", l.Dataset().Len(), l.Len(), o.BatchSize, o.Workers), nil
	}); err != nil {
		return nil, err
	}

	pc.track(ctx, res)
	return res, nil
}

func (pc *Context) fail(s Stage, split string, err error) error {
	pc.emit(ProgressEvent{Type: EventError, Stage: s, Split: split, Error: err})
	logf(split, "%s failed: %v", s, err)
	return &StageError{Stage: s, Split: split, Err: err}
}

func (pc *Context) track(ctx context.Context, res *Result) {
	if pc.Tracker == nil {
		return
	}
	s := res.Summary()
	p := res.Split + "."
	metrics := []tracking.Metric{
		{Key: p + "records", Value: float64(s.Total)},
		{Key: p + "records_valid", Value: float64(s.Valid)},
		{Key: p + "records_excluded", Value: float64(s.Excluded)},
		{Key: p + "annotations", Value: float64(s.Annotations)},
		{Key: p + "issues", Value: float64(res.Report.IssueCount())},
		{Key: p + "batches", Value: float64(res.Loader.Len())},
	}
	for _, c := range res.Report.Categories() {
		metrics = append(metrics, tracking.Metric{Key: p + "issues." + string(c), Value: float64(len(res.Report.Issues[c]))})
	}
	// Tracking is best effort; a failing backend must not fail preparation.
	if err := pc.Tracker.LogMetrics(ctx, metrics); err != nil {
		logf(res.Split, "tracking metrics failed: %v", err)
	}
}

// LoadStage parses the split's annotation file, or derives records from a
// <class>/<image> folder layout when no annotation file is configured.
// Annotation files may live on S3 like images.
func LoadStage(ctx context.Context, pc *Context, spec runconfig.SplitSpec, images storage.Source) (*coco.Collection, error) {
	if spec.AnnotationFile == "" {
		if pc.Config.Task() != runconfig.TaskClassification {
			return nil, apperr.Userf("split %q has no annotation file; only classification can use a folder layout", spec.Name)
		}
		return coco.FromImageFolder(ctx, images, spec.DataPath)
	}
	if _, _, ok := storage.ParseS3URI(spec.AnnotationFile); !ok {
		return coco.Load(spec.AnnotationFile)
	}
	dir, name := path.Split(spec.AnnotationFile)
	src, err := storage.NewSource(ctx, strings.TrimSuffix(dir, "/"), pc.S3)
	if err != nil {
		return nil, err
	}
	rc, err := src.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open annotation file: %w", err)
	}
	defer rc.Close()
	return coco.Parse(rc, spec.AnnotationFile)
}

// ProcessStage derives the table rows of a loaded collection.
func ProcessStage(split string, coll *coco.Collection) (*Table, error) {
	if coll == nil {
		return nil, errors.New("no collection to process")
	}
	t := &Table{Split: split, Source: coll, Rows: make([]Row, 0, coll.Len())}
	for _, rec := range coll.Records {
		row := Row{
			ImageID:         rec.ImageID,
			FileName:        rec.FileName,
			Width:           rec.Width,
			Height:          rec.Height,
			AnnotationCount: len(rec.Annotations),
		}
		seen := map[int64]bool{}
		for _, a := range rec.Annotations {
			if a.BBox != nil {
				row.BoxArea += a.BBox.Area()
			}
			if a.IsCrowd != 0 {
				row.Crowd = true
			}
			if seen[a.CategoryID] {
				continue
			}
			seen[a.CategoryID] = true
			if name, ok := coll.CategoryName(a.CategoryID); ok {
				row.Categories = append(row.Categories, name)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// ValidateStage checks the processed records and logs the findings grouped
// by category. Data-quality issues never fail the stage.
func ValidateStage(ctx context.Context, pc *Context, t *Table, images storage.Source) (*dataquality.Report, error) {
	if t == nil || t.Source == nil {
		return nil, errors.New("no table to validate")
	}
	if len(t.Rows) != t.Source.Len() {
		return nil, fmt.Errorf("table has %d rows for %d records", len(t.Rows), t.Source.Len())
	}
	opts := dataquality.OptionsForTask(pc.Config.Task())
	if pc.Quality != nil {
		opts = *pc.Quality
	}
	if images != nil {
		opts.Stat = images.Stat
	}
	r, err := dataquality.Validate(ctx, t.Source, opts)
	if err != nil {
		return nil, err
	}
	dataquality.PrintReport(r)
	return r, nil
}

// PersistStage writes the split to the catalog and reads back the valid
// rows, which become the loader's input.
func PersistStage(ctx context.Context, s *catalog.Session, t *Table, r *dataquality.Report) (int, *coco.Collection, error) {
	if t == nil || r == nil {
		return 0, nil, errors.New("persist needs a table and a report")
	}
	if r.Total != t.Source.Len() {
		return 0, nil, fmt.Errorf("report covers %d records, table has %d", r.Total, t.Source.Len())
	}
	n, err := s.SaveRecords(ctx, t.Split, t.Source, r)
	if err != nil {
		return 0, nil, err
	}
	validated, err := s.LoadRecords(ctx, t.Split, true)
	if err != nil {
		return 0, nil, err
	}
	return n, validated, nil
}

// ConstructLoaderStage builds the dataset and batched loader for the
// validated records.
func ConstructLoaderStage(pc *Context, split string, validated *coco.Collection, images storage.Source) (*dataset.Loader, error) {
	if validated == nil {
		return nil, errors.New("no validated records")
	}
	if validated.Len() == 0 {
		return nil, fmt.Errorf("no valid records left for split %q", split)
	}
	policy := pc.Policy
	if policy == "" {
		p, err := dataset.ParseFetchPolicy(pc.Config.Data.FetchPolicy)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	d := pc.Config.Data
	ds := dataset.New(validated.Records, images, dataset.FromRunConfig(pc.Config, split), d.Seed)
	return dataset.NewLoader(ds, dataset.LoaderOptions{
		BatchSize: d.BatchSize,
		Workers:   d.NumWorkers,
		Shuffle:   d.ShuffleEnabled(split),
		Seed:      d.Seed,
		Policy:    policy,
		OnSkip: func(err error) {
			logf(split, "skipped sample: %v", err)
		},
	})
}
