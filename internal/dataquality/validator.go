// Package dataquality checks parsed annotation records for problems that
// make them unfit for training. Findings are reported, never returned as
// errors; the caller decides what to do with the excluded records.
package dataquality

import (
	"context"
	"fmt"
	"slices"

	"github.com/idlab-discover/visionprep-cli/internal/coco"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
)

// IssueCategory groups findings of the same kind.
type IssueCategory string

const (
	MissingFile         IssueCategory = "missing_file"
	InvalidDimensions   IssueCategory = "invalid_dimensions"
	EmptyAnnotationList IssueCategory = "empty_annotation_list"
	DegenerateBox       IssueCategory = "degenerate_box"
	BoxOutOfBounds      IssueCategory = "box_out_of_bounds"
	UnknownCategory     IssueCategory = "unknown_category"
	MissingGeometry     IssueCategory = "missing_geometry"
	DuplicateFileName   IssueCategory = "duplicate_file_name"
)

// AllCategories lists every category in report order.
func AllCategories() []IssueCategory {
	return []IssueCategory{
		MissingFile, InvalidDimensions, EmptyAnnotationList, DegenerateBox,
		BoxOutOfBounds, UnknownCategory, MissingGeometry, DuplicateFileName,
	}
}

// DefaultKeep are reported without excluding the record: out-of-bounds boxes
// are clipped by the loader and duplicate names still point at a real file.
var DefaultKeep = []IssueCategory{BoxOutOfBounds, DuplicateFileName}

// StatFunc returns the size of an image file or an error when it is absent.
type StatFunc func(ctx context.Context, name string) (int64, error)

// Options selects which checks run.
type Options struct {
	// Stat enables file existence checks when set.
	Stat StatFunc
	// RequireBoxes flags annotations without a bounding box.
	RequireBoxes bool
	// RequireMasks flags annotations without polygon or RLE geometry.
	RequireMasks bool
	// AllowEmpty accepts images with no annotations (e.g. negatives).
	AllowEmpty bool
	// Keep lists categories that are reported but do not exclude a record.
	// nil means DefaultKeep.
	Keep []IssueCategory
}

// OptionsForTask returns the geometry requirements implied by a task.
func OptionsForTask(task runconfig.TaskType) Options {
	var o Options
	switch task {
	case runconfig.TaskDetection:
		o.RequireBoxes = true
	case runconfig.TaskInstanceSegmentation, runconfig.TaskPanopticSegmentation, runconfig.TaskSemanticSegmentation:
		o.RequireMasks = true
	}
	return o
}

// Finding is one issue on one record.
type Finding struct {
	Category     IssueCategory `json:"category"`
	ImageID      int64         `json:"image_id"`
	AnnotationID int64         `json:"annotation_id,omitempty"`
	Detail       string        `json:"detail"`
}

// Validate checks every record of coll. The only error it returns is a
// cancelled context.
func Validate(ctx context.Context, coll *coco.Collection, opts Options) (*Report, error) {
	keep := opts.Keep
	if keep == nil {
		keep = DefaultKeep
	}
	r := &Report{
		Source:   coll.Source,
		Total:    coll.Len(),
		Issues:   map[IssueCategory][]int64{},
		excluded: map[int64]struct{}{},
	}
	add := func(f Finding) {
		r.Findings = append(r.Findings, f)
		ids := r.Issues[f.Category]
		if len(ids) == 0 || ids[len(ids)-1] != f.ImageID {
			r.Issues[f.Category] = append(ids, f.ImageID)
		}
		if !slices.Contains(keep, f.Category) {
			r.excluded[f.ImageID] = struct{}{}
		}
	}

	seenNames := make(map[string]int64, coll.Len())
	for _, rec := range coll.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		checkRecord(ctx, rec, coll, opts, seenNames, add)
	}

	for cat, ids := range r.Issues {
		slices.Sort(ids)
		r.Issues[cat] = slices.Compact(ids)
	}
	logf("checked %d records from %s: %d issues, %d excluded", r.Total, r.Source, len(r.Findings), len(r.excluded))
	return r, nil
}

func checkRecord(ctx context.Context, rec coco.Record, coll *coco.Collection, opts Options, seen map[string]int64, add func(Finding)) {
	id := rec.ImageID
	validDims := rec.Width > 0 && rec.Height > 0
	if !validDims {
		add(Finding{Category: InvalidDimensions, ImageID: id, Detail: fmt.Sprintf("%dx%d", rec.Width, rec.Height)})
	}
	if first, dup := seen[rec.FileName]; dup {
		add(Finding{Category: DuplicateFileName, ImageID: id, Detail: fmt.Sprintf("%s also used by image %d", rec.FileName, first)})
	} else {
		seen[rec.FileName] = id
	}
	if opts.Stat != nil {
		size, err := opts.Stat(ctx, rec.FileName)
		switch {
		case err != nil:
			add(Finding{Category: MissingFile, ImageID: id, Detail: err.Error()})
		case size == 0:
			add(Finding{Category: MissingFile, ImageID: id, Detail: rec.FileName + " is empty"})
		}
	}
	if len(rec.Annotations) == 0 && !opts.AllowEmpty {
		add(Finding{Category: EmptyAnnotationList, ImageID: id, Detail: "no annotations"})
	}

	for _, a := range rec.Annotations {
		if _, ok := coll.Categories[a.CategoryID]; !ok {
			add(Finding{Category: UnknownCategory, ImageID: id, AnnotationID: a.ID, Detail: fmt.Sprintf("category_id %d", a.CategoryID)})
		}
		if a.BBox != nil {
			switch {
			case a.BBox.Degenerate():
				add(Finding{Category: DegenerateBox, ImageID: id, AnnotationID: a.ID, Detail: fmt.Sprintf("bbox %v", *a.BBox)})
			case validDims && a.BBox.OutOfBounds(rec.Width, rec.Height):
				add(Finding{Category: BoxOutOfBounds, ImageID: id, AnnotationID: a.ID,
					Detail: fmt.Sprintf("bbox %v outside %dx%d", *a.BBox, rec.Width, rec.Height)})
			}
		}
		if opts.RequireBoxes && a.BBox == nil {
			add(Finding{Category: MissingGeometry, ImageID: id, AnnotationID: a.ID, Detail: "bbox required"})
		}
		if opts.RequireMasks && a.Segmentation.Empty() {
			add(Finding{Category: MissingGeometry, ImageID: id, AnnotationID: a.ID, Detail: "segmentation required"})
		}
	}
}
