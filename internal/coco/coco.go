// Package coco reads COCO-style annotation files into per-image records.
//
// Loading is a pure parse: no image is opened. Structural problems are
// fatal (*apperr.AnnotationFormatError, *apperr.ReferentialIntegrityError);
// data-quality problems such as degenerate boxes are left for
// internal/dataquality to report.
package coco

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// Image is one entry of the "images" array.
type Image struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Category is one entry of the "categories" array.
type Category struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory,omitempty"`
}

// BBox is an axis-aligned box in COCO order: x, y, width, height.
type BBox [4]float64

func (b BBox) X() float64      { return b[0] }
func (b BBox) Y() float64      { return b[1] }
func (b BBox) W() float64      { return b[2] }
func (b BBox) H() float64      { return b[3] }
func (b BBox) Area() float64   { return math.Max(b[2], 0) * math.Max(b[3], 0) }
func (b BBox) Right() float64  { return b[0] + b[2] }
func (b BBox) Bottom() float64 { return b[1] + b[3] }

// Degenerate reports a box with non-positive width or height, or a
// non-finite coordinate.
func (b BBox) Degenerate() bool {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return b[2] <= 0 || b[3] <= 0
}

// OutOfBounds reports whether the box extends past a width×height image.
// A tolerance of one pixel absorbs rounding in exported annotations.
func (b BBox) OutOfBounds(width, height int) bool {
	const tol = 1.0
	return b[0] < -tol || b[1] < -tol ||
		b.Right() > float64(width)+tol || b.Bottom() > float64(height)+tol
}

// Clip returns b clipped to a width×height image.
func (b BBox) Clip(width, height float64) BBox {
	x0 := math.Min(math.Max(b[0], 0), width)
	y0 := math.Min(math.Max(b[1], 0), height)
	x1 := math.Min(math.Max(b.Right(), 0), width)
	y1 := math.Min(math.Max(b.Bottom(), 0), height)
	return BBox{x0, y0, x1 - x0, y1 - y0}
}

// RLE is a run-length encoded mask. Counts is set for uncompressed RLE,
// Compressed for the string form used by pycocotools.
type RLE struct {
	Size       [2]int `json:"size"`
	Counts     []int  `json:"-"`
	Compressed string `json:"-"`
}

// Segmentation holds either polygons or a run-length encoded mask.
type Segmentation struct {
	Polygons [][]float64
	RLE      *RLE
}

// Empty reports whether no geometry is present.
func (s *Segmentation) Empty() bool {
	if s == nil {
		return true
	}
	if s.RLE != nil {
		return false
	}
	for _, p := range s.Polygons {
		if len(p) >= 6 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (s *Segmentation) Clone() *Segmentation {
	if s == nil {
		return nil
	}
	out := &Segmentation{}
	for _, p := range s.Polygons {
		out.Polygons = append(out.Polygons, slices.Clone(p))
	}
	if s.RLE != nil {
		r := *s.RLE
		r.Counts = slices.Clone(s.RLE.Counts)
		out.RLE = &r
	}
	return out
}

func (s *Segmentation) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = Segmentation{}
		return nil
	}
	switch b[0] {
	case '[':
		var polys [][]float64
		if err := json.Unmarshal(b, &polys); err != nil {
			return fmt.Errorf("polygon segmentation: %w", err)
		}
		*s = Segmentation{Polygons: polys}
		return nil
	case '{':
		var raw struct {
			Size   [2]int          `json:"size"`
			Counts json.RawMessage `json:"counts"`
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return fmt.Errorf("rle segmentation: %w", err)
		}
		r := &RLE{Size: raw.Size}
		counts := bytes.TrimSpace(raw.Counts)
		switch {
		case len(counts) == 0:
		case counts[0] == '"':
			if err := json.Unmarshal(counts, &r.Compressed); err != nil {
				return fmt.Errorf("rle counts: %w", err)
			}
		default:
			if err := json.Unmarshal(counts, &r.Counts); err != nil {
				return fmt.Errorf("rle counts: %w", err)
			}
		}
		*s = Segmentation{RLE: r}
		return nil
	}
	return fmt.Errorf("segmentation must be a polygon list or an RLE object")
}

func (s Segmentation) MarshalJSON() ([]byte, error) {
	if s.RLE != nil {
		out := map[string]any{"size": s.RLE.Size}
		if s.RLE.Compressed != "" {
			out["counts"] = s.RLE.Compressed
		} else {
			out["counts"] = s.RLE.Counts
		}
		return json.Marshal(out)
	}
	if s.Polygons == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Polygons)
}

// Annotation is one entry of the "annotations" array.
type Annotation struct {
	ID           int64         `json:"id"`
	ImageID      int64         `json:"image_id"`
	CategoryID   int64         `json:"category_id"`
	BBox         *BBox         `json:"bbox,omitempty"`
	Segmentation *Segmentation `json:"segmentation,omitempty"`
	Area         float64       `json:"area,omitempty"`
	IsCrowd      int           `json:"iscrowd,omitempty"`
}

// Clone returns a deep copy.
func (a Annotation) Clone() Annotation {
	if a.BBox != nil {
		b := *a.BBox
		a.BBox = &b
	}
	a.Segmentation = a.Segmentation.Clone()
	return a
}

// Record is one image together with its parsed annotations. Records are
// immutable once a Collection is built.
type Record struct {
	ImageID     int64        `json:"image_id"`
	FileName    string       `json:"file_name"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Annotations []Annotation `json:"annotations"`
}

// Collection is the parsed result of one annotation file.
type Collection struct {
	Source     string
	Records    []Record
	Categories map[int64]string

	index map[int64]int
}

func newCollection(source string, records []Record, categories map[int64]string) *Collection {
	c := &Collection{Source: source, Records: records, Categories: categories}
	c.reindex()
	return c
}

func (c *Collection) reindex() {
	c.index = make(map[int64]int, len(c.Records))
	for i, r := range c.Records {
		c.index[r.ImageID] = i
	}
}

// Len returns the number of records.
func (c *Collection) Len() int { return len(c.Records) }

// Record returns the record for an image id.
func (c *Collection) Record(imageID int64) (Record, bool) {
	i, ok := c.index[imageID]
	if !ok {
		return Record{}, false
	}
	return c.Records[i], true
}

// CategoryName returns the name of a category id.
func (c *Collection) CategoryName(id int64) (string, bool) {
	n, ok := c.Categories[id]
	return n, ok
}

// CategoryIDs returns the category ids in ascending order.
func (c *Collection) CategoryIDs() []int64 {
	ids := make([]int64, 0, len(c.Categories))
	for id := range c.Categories {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// AnnotationCount returns the total number of annotations.
func (c *Collection) AnnotationCount() int {
	n := 0
	for _, r := range c.Records {
		n += len(r.Annotations)
	}
	return n
}

// Filter returns a new collection with the records keep accepts. The
// category index is shared.
func (c *Collection) Filter(keep func(Record) bool) *Collection {
	out := make([]Record, 0, len(c.Records))
	for _, r := range c.Records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return newCollection(c.Source, out, c.Categories)
}

// NewCollection builds a collection from already-parsed records, e.g. rows
// read back from the catalog.
func NewCollection(source string, records []Record, categories map[int64]string) *Collection {
	if categories == nil {
		categories = map[int64]string{}
	}
	return newCollection(source, records, categories)
}
