package dataset

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
)

// FetchPolicy decides what happens when one sample cannot be fetched.
type FetchPolicy string

const (
	// Abort ends the epoch with the *apperr.SampleFetchError.
	Abort FetchPolicy = runconfig.FetchAbort
	// Skip drops the sample and continues; its batch comes out short.
	Skip FetchPolicy = runconfig.FetchSkip
)

// ParseFetchPolicy accepts "abort", "skip" or "" (abort).
func ParseFetchPolicy(s string) (FetchPolicy, error) {
	switch p := FetchPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", Abort:
		return Abort, nil
	case Skip:
		return Skip, nil
	default:
		return "", apperr.Userf("invalid fetch policy %q (expected abort|skip)", s)
	}
}

// LoaderOptions configures batching and parallelism.
type LoaderOptions struct {
	BatchSize int
	// Workers is the number of samples fetched concurrently. 0 fetches in
	// the iterating goroutine.
	Workers int
	Shuffle bool
	// DropLast discards a final short batch.
	DropLast bool
	Seed     int64
	// Prefetch bounds the number of ready batches queued ahead of the
	// consumer. Defaults to 2 when Workers > 0.
	Prefetch int
	Policy   FetchPolicy
	// OnSkip, if set, is called for every sample dropped under Skip.
	OnSkip func(err error)
}

// Batch is a group of consecutive samples in epoch order.
type Batch struct {
	Index   int
	Samples []Sample
}

// Len returns the number of samples.
func (b Batch) Len() int { return len(b.Samples) }

// Stack concatenates the sample tensors into one N×C×H×W buffer. All
// samples must share a shape, which holds whenever ImageSize is set.
func (b Batch) Stack() ([]float32, [4]int, error) {
	if len(b.Samples) == 0 {
		return nil, [4]int{}, nil
	}
	s := b.Samples[0].Pixels.Shape()
	out := make([]float32, 0, len(b.Samples)*s[0]*s[1]*s[2])
	for _, smp := range b.Samples {
		if smp.Pixels.Shape() != s {
			return nil, [4]int{}, fmt.Errorf("sample %d has shape %v, batch has %v", smp.Index, smp.Pixels.Shape(), s)
		}
		out = append(out, smp.Pixels.Data...)
	}
	return out, [4]int{len(b.Samples), s[0], s[1], s[2]}, nil
}

// Loader iterates a Dataset in batches.
type Loader struct {
	ds   *Dataset
	opts LoaderOptions
}

// NewLoader checks opts and returns a loader over ds.
func NewLoader(ds *Dataset, opts LoaderOptions) (*Loader, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.Workers < 0 {
		return nil, fmt.Errorf("worker count must be non-negative, got %d", opts.Workers)
	}
	policy, err := ParseFetchPolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	opts.Policy = policy
	if opts.Prefetch <= 0 {
		opts.Prefetch = 2
	}
	return &Loader{ds: ds, opts: opts}, nil
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() *Dataset { return l.ds }

// Options returns the effective options.
func (l *Loader) Options() LoaderOptions { return l.opts }

// Len returns the number of batches per epoch: ceil(N/B), or floor(N/B)
// with DropLast. Under Skip, batches may hold fewer samples but the count
// does not change.
func (l *Loader) Len() int {
	n, b := l.ds.Len(), l.opts.BatchSize
	if l.opts.DropLast {
		return n / b
	}
	return (n + b - 1) / b
}

// Order returns the sample order for an epoch: a seeded permutation when
// shuffling, otherwise 0..N-1.
func (l *Loader) Order(epoch int) []int {
	order := make([]int, l.ds.Len())
	for i := range order {
		order[i] = i
	}
	if l.opts.Shuffle {
		rng := rand.New(rand.NewPCG(uint64(l.opts.Seed), uint64(epoch)))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

func (l *Loader) batches(epoch int) [][]int {
	order := l.Order(epoch)
	out := make([][]int, 0, l.Len())
	for start := 0; start < len(order); start += l.opts.BatchSize {
		end := min(start+l.opts.BatchSize, len(order))
		if l.opts.DropLast && end-start < l.opts.BatchSize {
			break
		}
		out = append(out, order[start:end])
	}
	return out
}

// Epoch yields the batches of one epoch. Iteration stops after the first
// error. Breaking out of the loop cancels outstanding fetches.
func (l *Loader) Epoch(ctx context.Context, epoch int) iter.Seq2[Batch, error] {
	if l.opts.Workers == 0 {
		return l.serial(ctx, epoch)
	}
	return l.parallel(ctx, epoch)
}

func (l *Loader) serial(ctx context.Context, epoch int) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		for bi, idx := range l.batches(epoch) {
			b := Batch{Index: bi, Samples: make([]Sample, 0, len(idx))}
			for _, i := range idx {
				s, err := l.ds.Get(ctx, epoch, i)
				if err != nil {
					if l.skip(err) {
						continue
					}
					yield(Batch{}, err)
					return
				}
				b.Samples = append(b.Samples, s)
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

type batchResult struct {
	batch Batch
	err   error
}

func (l *Loader) parallel(ctx context.Context, epoch int) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		ready := make(chan batchResult, l.opts.Prefetch)
		go func() {
			defer close(ready)
			for bi, idx := range l.batches(epoch) {
				b, err := l.fetchBatch(ctx, epoch, bi, idx)
				select {
				case ready <- batchResult{batch: b, err: err}:
				case <-ctx.Done():
					return
				}
				if err != nil {
					return
				}
			}
		}()

		for r := range ready {
			if !yield(r.batch, r.err) || r.err != nil {
				return
			}
		}
	}
}

// fetchBatch loads the samples of one batch with at most Workers fetches in
// flight. Sample order within the batch follows idx.
func (l *Loader) fetchBatch(ctx context.Context, epoch, bi int, idx []int) (Batch, error) {
	samples := make([]Sample, len(idx))
	ok := make([]bool, len(idx))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)
	for j, i := range idx {
		g.Go(func() error {
			s, err := l.ds.Get(gctx, epoch, i)
			if err != nil {
				if l.skip(err) {
					return nil
				}
				return err
			}
			samples[j], ok[j] = s, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Batch{}, err
	}
	b := Batch{Index: bi, Samples: make([]Sample, 0, len(idx))}
	for j, s := range samples {
		if ok[j] {
			b.Samples = append(b.Samples, s)
		}
	}
	return b, nil
}

func (l *Loader) skip(err error) bool {
	if l.opts.Policy != Skip || !apperr.IsSampleFetch(err) {
		return false
	}
	logf("skipping sample: %v", err)
	if l.opts.OnSkip != nil {
		l.opts.OnSkip(err)
	}
	return true
}
