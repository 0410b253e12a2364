// Package iterator batches numericalized examples, grouping examples of
// similar length to reduce padding.
package iterator

import (
	"errors"
	"iter"
	"math/rand/v2"
	"sort"

	"github.com/samber/lo"

	"imdbprep/internal/pkg/imdbprep/dataset"
)

// poolFactor is the number of batches sorted together when bucketing.
const poolFactor = 100

// Batch is batch-major: Text[i] is example i padded to the longest example in
// the batch, Lengths[i] its unpadded length, Labels[i] its label index.
type Batch struct {
	Text    [][]int
	Lengths []int
	Labels  []float32
}

func (b Batch) Size() int { return len(b.Text) }

type Options struct {
	// Shuffle permutes examples on every call to All and buckets them by
	// length. Without it, batches follow dataset order.
	Shuffle bool
	// Rand drives shuffling. Nil means an unseeded source.
	Rand *rand.Rand
	// PadIndex fills the tail of short examples.
	PadIndex int
	// SortWithinBatch orders each batch by descending length.
	SortWithinBatch bool
}

// BucketIterator is a restartable batch sequence over a dataset. It is not
// safe for concurrent iteration when Shuffle is set.
type BucketIterator struct {
	ds        *dataset.Dataset
	batchSize int
	opts      Options
}

func New(ds *dataset.Dataset, batchSize int, opts Options) (*BucketIterator, error) {
	if ds == nil {
		return nil, errors.New("iterator: nil dataset")
	}
	if batchSize < 1 {
		return nil, errors.New("iterator: batch size must be positive")
	}
	if opts.Shuffle && opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &BucketIterator{ds: ds, batchSize: batchSize, opts: opts}, nil
}

// Len returns the number of batches per epoch.
func (it *BucketIterator) Len() int {
	return (it.ds.Len() + it.batchSize - 1) / it.batchSize
}

func (it *BucketIterator) BatchSize() int { return it.batchSize }

// All returns one epoch of batches. Every batch holds BatchSize examples
// except possibly the last.
func (it *BucketIterator) All() iter.Seq[Batch] {
	return func(yield func(Batch) bool) {
		for _, idx := range it.plan() {
			if !yield(it.collate(idx)) {
				return
			}
		}
	}
}

func (it *BucketIterator) plan() [][]int {
	n := it.ds.Len()
	if n == 0 {
		return nil
	}
	if !it.opts.Shuffle {
		return lo.Chunk(lo.Range(n), it.batchSize)
	}

	rng := it.opts.Rand
	var out [][]int
	for _, pool := range lo.Chunk(rng.Perm(n), it.batchSize*poolFactor) {
		sort.SliceStable(pool, func(a, b int) bool {
			return it.length(pool[a]) < it.length(pool[b])
		})
		batches := lo.Chunk(pool, it.batchSize)

		full := batches
		var partial []int
		if last := batches[len(batches)-1]; len(last) < it.batchSize {
			full, partial = batches[:len(batches)-1], last
		}
		rng.Shuffle(len(full), func(a, b int) { full[a], full[b] = full[b], full[a] })

		out = append(out, full...)
		if partial != nil {
			out = append(out, partial)
		}
	}
	return out
}

func (it *BucketIterator) length(i int) int {
	return len(it.ds.Examples[i].IDs)
}

func (it *BucketIterator) collate(idx []int) Batch {
	if it.opts.SortWithinBatch {
		idx = append([]int(nil), idx...)
		sort.SliceStable(idx, func(a, b int) bool {
			return it.length(idx[a]) > it.length(idx[b])
		})
	}

	width := 0
	for _, i := range idx {
		width = max(width, it.length(i))
	}

	b := Batch{
		Text:    make([][]int, len(idx)),
		Lengths: make([]int, len(idx)),
		Labels:  make([]float32, len(idx)),
	}
	for k, i := range idx {
		ex := it.ds.Examples[i]
		row := make([]int, width)
		n := copy(row, ex.IDs)
		for j := n; j < width; j++ {
			row[j] = it.opts.PadIndex
		}
		b.Text[k] = row
		b.Lengths[k] = n
		b.Labels[k] = float32(ex.Target)
	}
	return b
}
