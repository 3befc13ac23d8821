// Package dataset turns validated annotation records into randomized,
// length-known sequences of (tensor, annotations) batches.
//
// Every random choice for a sample comes from an RNG seeded with
// (seed, epoch, index), so output does not depend on worker scheduling.
package dataset

import (
	"context"
	"fmt"
	"image"
	"io"
	"math/rand/v2"

	// Decoders for the formats image roots commonly hold.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
	"github.com/idlab-discover/visionprep-cli/internal/coco"
)

// Opener reads one image by its file name relative to the image root.
// storage.Source satisfies it.
type Opener interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Sample is one transformed image with its annotations mapped into the
// output frame.
type Sample struct {
	Index       int
	ImageID     int64
	FileName    string
	Pixels      Tensor
	Annotations []coco.Annotation
	OrigWidth   int
	OrigHeight  int
}

// Dataset is a random-access view of records backed by an image source.
// It is safe for concurrent Get calls.
type Dataset struct {
	records []coco.Record
	src     Opener
	tf      TransformConfig
	seed    int64
}

// New builds a dataset over records. The slice is not copied; records are
// treated as immutable.
func New(records []coco.Record, src Opener, tf TransformConfig, seed int64) *Dataset {
	return &Dataset{records: records, src: src, tf: tf, seed: seed}
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.records) }

// Transform returns the preprocessing chain.
func (d *Dataset) Transform() TransformConfig { return d.tf }

// Record returns the record behind sample i.
func (d *Dataset) Record(i int) coco.Record { return d.records[i] }

// Get fetches, decodes and transforms sample i for the given epoch. Read
// and decode failures are returned as *apperr.SampleFetchError.
func (d *Dataset) Get(ctx context.Context, epoch, i int) (Sample, error) {
	if i < 0 || i >= len(d.records) {
		return Sample{}, fmt.Errorf("sample index %d out of range [0,%d)", i, len(d.records))
	}
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	rec := d.records[i]
	img, err := d.decode(ctx, rec.FileName)
	if err != nil {
		return Sample{}, &apperr.SampleFetchError{ImageID: rec.ImageID, Path: rec.FileName, Err: err}
	}
	b := img.Bounds()
	pixels, anns := d.tf.Apply(img, rec.Annotations, sampleRNG(d.seed, epoch, i))
	return Sample{
		Index:       i,
		ImageID:     rec.ImageID,
		FileName:    rec.FileName,
		Pixels:      pixels,
		Annotations: anns,
		OrigWidth:   b.Dx(),
		OrigHeight:  b.Dy(),
	}, nil
}

func (d *Dataset) decode(ctx context.Context, name string) (image.Image, error) {
	rc, err := d.src.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("decode: empty image")
	}
	return img, nil
}

// sampleRNG derives an independent stream per (seed, epoch, index).
func sampleRNG(seed int64, epoch, index int) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(epoch)<<32|uint64(uint32(index))))
}
