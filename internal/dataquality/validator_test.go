package dataquality

import (
	"bytes"
	"context"
	"io/fs"
	"reflect"
	"strings"
	"testing"

	"github.com/idlab-discover/visionprep-cli/internal/coco"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

func box(x, y, w, h float64) *coco.BBox { b := coco.BBox{x, y, w, h}; return &b }

func collection(records ...coco.Record) *coco.Collection {
	return coco.NewCollection("mem", records, map[int64]string{1: "cat", 2: "dog"})
}

func TestValidate_CleanTwoImageScenario(t *testing.T) {
	coll := collection(
		coco.Record{ImageID: 1, FileName: "a.jpg", Width: 100, Height: 100,
			Annotations: []coco.Annotation{{ID: 1, ImageID: 1, CategoryID: 1, BBox: box(10, 10, 20, 20)}}},
		coco.Record{ImageID: 2, FileName: "b.jpg", Width: 100, Height: 100,
			Annotations: []coco.Annotation{{ID: 2, ImageID: 2, CategoryID: 2, BBox: box(0, 0, 50, 50)}}},
	)
	r, err := Validate(context.Background(), coll, OptionsForTask(runconfig.TaskDetection))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !r.Clean() || r.IssueCount() != 0 {
		t.Fatalf("expected zero issues, got %+v", r.Findings)
	}
	if r.Valid() != 2 || len(r.Excluded()) != 0 {
		t.Fatalf("Valid() = %d, Excluded() = %v", r.Valid(), r.Excluded())
	}
	if got := r.Apply(coll).Len(); got != 2 {
		t.Fatalf("Apply().Len() = %d", got)
	}
}

func TestValidate_Categories(t *testing.T) {
	stat := func(_ context.Context, name string) (int64, error) {
		switch name {
		case "gone.jpg":
			return 0, fs.ErrNotExist
		case "empty.jpg":
			return 0, nil
		}
		return 10, nil
	}
	coll := collection(
		coco.Record{ImageID: 1, FileName: "ok.jpg", Width: 10, Height: 10,
			Annotations: []coco.Annotation{{ID: 1, CategoryID: 1, BBox: box(0, 0, 5, 5)}}},
		coco.Record{ImageID: 2, FileName: "gone.jpg", Width: 10, Height: 10,
			Annotations: []coco.Annotation{{ID: 2, CategoryID: 1, BBox: box(0, 0, 5, 5)}}},
		coco.Record{ImageID: 3, FileName: "empty.jpg", Width: 10, Height: 10,
			Annotations: []coco.Annotation{{ID: 3, CategoryID: 1, BBox: box(0, 0, 5, 5)}}},
		coco.Record{ImageID: 4, FileName: "noann.jpg", Width: 10, Height: 10, Annotations: []coco.Annotation{}},
		coco.Record{ImageID: 5, FileName: "degen.jpg", Width: 10, Height: 10,
			Annotations: []coco.Annotation{{ID: 5, CategoryID: 1, BBox: box(1, 1, 0, 4)}}},
		coco.Record{ImageID: 6, FileName: "oob.jpg", Width: 10, Height: 10,
			Annotations: []coco.Annotation{{ID: 6, CategoryID: 1, BBox: box(5, 5, 20, 2)}}},
		coco.Record{ImageID: 7, FileName: "unk.jpg", Width: 10, Height: 10,
			Annotations: []coco.Annotation{{ID: 7, CategoryID: 42, BBox: box(0, 0, 5, 5)}}},
		coco.Record{ImageID: 8, FileName: "nobox.jpg", Width: 10, Height: 10,
			Annotations: []coco.Annotation{{ID: 8, CategoryID: 1}}},
		coco.Record{ImageID: 9, FileName: "dims.jpg", Width: 0, Height: 10,
			Annotations: []coco.Annotation{{ID: 9, CategoryID: 1, BBox: box(0, 0, 5, 5)}}},
		coco.Record{ImageID: 10, FileName: "ok.jpg", Width: 10, Height: 10,
			Annotations: []coco.Annotation{{ID: 10, CategoryID: 1, BBox: box(0, 0, 5, 5)}}},
	)
	opts := OptionsForTask(runconfig.TaskDetection)
	opts.Stat = stat

	r, err := Validate(context.Background(), coll, opts)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	want := map[IssueCategory][]int64{
		MissingFile:         {2, 3},
		EmptyAnnotationList: {4},
		DegenerateBox:       {5},
		BoxOutOfBounds:      {6},
		UnknownCategory:     {7},
		MissingGeometry:     {8},
		InvalidDimensions:   {9},
		DuplicateFileName:   {10},
	}
	if !reflect.DeepEqual(r.Issues, want) {
		t.Fatalf("Issues = %v, want %v", r.Issues, want)
	}
	// box_out_of_bounds and duplicate_file_name are kept by default.
	if got, wantEx := r.Excluded(), []int64{2, 3, 4, 5, 7, 8, 9}; !reflect.DeepEqual(got, wantEx) {
		t.Fatalf("Excluded() = %v, want %v", got, wantEx)
	}
	if r.Valid() != 3 {
		t.Fatalf("Valid() = %d, want 3", r.Valid())
	}
	if got := r.IssuesFor(6); !reflect.DeepEqual(got, []IssueCategory{BoxOutOfBounds}) {
		t.Fatalf("IssuesFor(6) = %v", got)
	}
	if got := r.Categories(); len(got) != 8 || got[0] != MissingFile {
		t.Fatalf("Categories() = %v", got)
	}
}

func TestValidate_KeepOverridesExclusion(t *testing.T) {
	coll := collection(coco.Record{ImageID: 1, FileName: "a.jpg", Width: 10, Height: 10, Annotations: []coco.Annotation{}})
	r, err := Validate(context.Background(), coll, Options{Keep: []IssueCategory{EmptyAnnotationList}})
	if err != nil {
		t.Fatal(err)
	}
	if r.IssueCount() != 1 || len(r.Excluded()) != 0 {
		t.Fatalf("expected reported-but-kept issue, got %+v excluded=%v", r.Findings, r.Excluded())
	}

	r, err = Validate(context.Background(), coll, Options{AllowEmpty: true})
	if err != nil {
		t.Fatal(err)
	}
	if !r.Clean() {
		t.Fatalf("AllowEmpty should suppress empty_annotation_list")
	}
}

func TestValidate_SegmentationRequiresMasks(t *testing.T) {
	coll := collection(
		coco.Record{ImageID: 1, FileName: "a.jpg", Width: 10, Height: 10,
			Annotations: []coco.Annotation{{ID: 1, CategoryID: 1, BBox: box(0, 0, 2, 2)}}},
		coco.Record{ImageID: 2, FileName: "b.jpg", Width: 10, Height: 10,
			Annotations: []coco.Annotation{{ID: 2, CategoryID: 1,
				Segmentation: &coco.Segmentation{Polygons: [][]float64{{0, 0, 4, 0, 4, 4}}}}}},
	)
	r, err := Validate(context.Background(), coll, OptionsForTask(runconfig.TaskInstanceSegmentation))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(r.Issues[MissingGeometry], []int64{1}) {
		t.Fatalf("missing_geometry = %v, want [1]", r.Issues[MissingGeometry])
	}
}

func TestValidate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	coll := collection(coco.Record{ImageID: 1, FileName: "a.jpg", Width: 1, Height: 1})
	if _, err := Validate(ctx, coll, Options{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestFormatSummary(t *testing.T) {
	clean := &Report{Total: 2, Issues: map[IssueCategory][]int64{}, excluded: map[int64]struct{}{}}
	if got, want := FormatSummary(clean), "Data quality: ✅ CLEAN | Records: 2 | Issues: 0 | Excluded: 0"; got != want {
		t.Fatalf("FormatSummary() = %q, want %q", got, want)
	}
	dirty := &Report{
		Total:    3,
		Issues:   map[IssueCategory][]int64{DegenerateBox: {2}},
		Findings: []Finding{{Category: DegenerateBox, ImageID: 2}},
		excluded: map[int64]struct{}{2: {}},
	}
	if got, want := FormatSummary(dirty), "Data quality: ⚠ ISSUES | Records: 3 | Issues: 1 | Excluded: 1"; got != want {
		t.Fatalf("FormatSummary() = %q, want %q", got, want)
	}
}

func TestPrintReport_GroupsByCategory(t *testing.T) {
	ui.Init(true)
	var buf bytes.Buffer
	SetLogger(&buf)
	defer SetLogger(nil)

	ids := make([]int64, 12)
	findings := make([]Finding, 12)
	for i := range ids {
		ids[i] = int64(i + 1)
		findings[i] = Finding{Category: MissingFile, ImageID: int64(i + 1)}
	}
	r := &Report{Total: 12, Issues: map[IssueCategory][]int64{MissingFile: ids}, Findings: findings, excluded: map[int64]struct{}{}}
	PrintReport(r)

	out := buf.String()
	if !strings.Contains(out, "missing_file (12 images)") {
		t.Fatalf("missing category header:\n%s", out)
	}
	if !strings.Contains(out, "(+2)") {
		t.Fatalf("expected truncated id list:\n%s", out)
	}
}
