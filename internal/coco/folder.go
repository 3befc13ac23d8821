package coco

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path"
	"slices"
	"strings"
)

// Lister enumerates image files under a root, returning slash-separated
// names relative to it.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

// Opener is implemented by listers that can also read files. When present,
// FromImageFolder reads image headers to fill in dimensions.
type Opener interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// FromImageFolder builds a classification collection from a directory
// layout of <class>/<image>. Classes are sorted by name and numbered from 0;
// images get ids from 1 in sorted path order and one box-less annotation
// naming their class. Files directly under the root are ignored.
func FromImageFolder(ctx context.Context, src Lister, source string) (*Collection, error) {
	names, err := src.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list image folder: %w", err)
	}
	slices.Sort(names)

	classes := map[string]int64{}
	var classNames []string
	for _, n := range names {
		class, _, ok := strings.Cut(n, "/")
		if !ok || class == "" {
			continue
		}
		if _, seen := classes[class]; !seen {
			classes[class] = -1
			classNames = append(classNames, class)
		}
	}
	slices.Sort(classNames)
	categories := make(map[int64]string, len(classNames))
	for i, c := range classNames {
		classes[c] = int64(i)
		categories[int64(i)] = c
	}

	opener, _ := src.(Opener)
	var records []Record
	var nextID int64 = 1
	for _, n := range names {
		class, _, ok := strings.Cut(n, "/")
		if !ok || class == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := Record{
			ImageID:  nextID,
			FileName: n,
			Annotations: []Annotation{{
				ID:         nextID,
				ImageID:    nextID,
				CategoryID: classes[class],
			}},
		}
		if opener != nil {
			rec.Width, rec.Height = imageSize(ctx, opener, n)
		}
		records = append(records, rec)
		nextID++
	}

	logf(source, "image folder: %d images in %d classes", len(records), len(classNames))
	return newCollection(source, records, categories), nil
}

// imageSize reads only the image header. Unreadable files report 0×0 and
// are flagged later by the data validator.
func imageSize(ctx context.Context, o Opener, name string) (int, int) {
	rc, err := o.Open(ctx, name)
	if err != nil {
		logf(name, "header read failed: %v", err)
		return 0, 0
	}
	defer rc.Close()
	cfg, _, err := image.DecodeConfig(rc)
	if err != nil {
		logf(path.Base(name), "header decode failed: %v", err)
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
