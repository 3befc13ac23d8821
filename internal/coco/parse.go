package coco

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
)

var requiredKeys = []string{"images", "annotations", "categories"}

// Load parses the annotation file at path.
func Load(path string) (*Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open annotation file: %w", err)
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse reads a COCO document from r. source names the document in errors.
//
// Records follow the order of the "images" array and each record's
// annotations follow file order.
func Parse(r io.Reader, source string) (*Collection, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read annotation file: %w", err)
	}
	formatErr := func(reason string, err error) error {
		return &apperr.AnnotationFormatError{Path: source, Reason: reason, Err: err}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, formatErr("invalid JSON document", err)
	}
	for _, k := range requiredKeys {
		if _, ok := top[k]; !ok {
			return nil, formatErr(fmt.Sprintf("missing top-level key %q", k), nil)
		}
	}

	var (
		images      []Image
		annotations []Annotation
		categories  []Category
	)
	if err := json.Unmarshal(top["images"], &images); err != nil {
		return nil, formatErr(`"images" must be an array of image objects`, err)
	}
	if err := json.Unmarshal(top["annotations"], &annotations); err != nil {
		return nil, formatErr(`"annotations" must be an array of annotation objects`, err)
	}
	if err := json.Unmarshal(top["categories"], &categories); err != nil {
		return nil, formatErr(`"categories" must be an array of category objects`, err)
	}

	catIndex := make(map[int64]string, len(categories))
	for _, c := range categories {
		if _, dup := catIndex[c.ID]; dup {
			return nil, formatErr(fmt.Sprintf("duplicate category id %d", c.ID), nil)
		}
		catIndex[c.ID] = c.Name
	}

	records := make([]Record, len(images))
	pos := make(map[int64]int, len(images))
	for i, img := range images {
		if _, dup := pos[img.ID]; dup {
			return nil, formatErr(fmt.Sprintf("duplicate image id %d", img.ID), nil)
		}
		if strings.TrimSpace(img.FileName) == "" {
			return nil, formatErr(fmt.Sprintf("image %d has no file_name", img.ID), nil)
		}
		pos[img.ID] = i
		records[i] = Record{
			ImageID:     img.ID,
			FileName:    img.FileName,
			Width:       img.Width,
			Height:      img.Height,
			Annotations: []Annotation{},
		}
	}

	for _, a := range annotations {
		i, ok := pos[a.ImageID]
		if !ok {
			return nil, &apperr.ReferentialIntegrityError{Path: source, AnnotationID: a.ID, ImageID: a.ImageID}
		}
		if a.Segmentation != nil && a.Segmentation.RLE == nil && len(a.Segmentation.Polygons) == 0 {
			a.Segmentation = nil
		}
		records[i].Annotations = append(records[i].Annotations, a)
	}

	coll := newCollection(source, records, catIndex)
	logf(source, "parsed %d images, %d annotations, %d categories", len(images), len(annotations), len(categories))
	return coll, nil
}
