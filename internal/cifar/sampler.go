package cifar

import (
	"context"
	"math/rand"

	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"golang.org/x/sync/errgroup"
)

// Batch is one fixed-size group of examples, already converted to the tensors
// the model consumes. Batches are built fresh each iteration and consumed
// immediately; they are not retained by the sampler.
type Batch struct {
	// Images shaped [Size, Height, Width, Channels], float32 in [-1, 1].
	Images *tensors.Tensor

	// Labels shaped [Size, 1], int32 in [0, NumClasses).
	Labels *tensors.Tensor

	// LabelValues are the same labels as plain ints, for bookkeeping
	// (per-class counters) without reading back from the tensor.
	LabelValues []int32

	// Size of the batch.
	Size int
}

// Sampler iterates over a Dataset in batches of a fixed size, optionally
// reshuffling the order at the start of every epoch. The trailing examples
// that don't fill a whole batch are dropped.
type Sampler struct {
	ds        *Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	order     []int
}

// NewSampler creates a Sampler over ds.
// If shuffle is true the iteration order is reshuffled every epoch, seeded by
// seed, so runs are reproducible.
func NewSampler(ds *Dataset, batchSize int, shuffle bool, seed int64) *Sampler {
	s := &Sampler{
		ds:        ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		order:     make([]int, ds.Len()),
	}
	for i := range s.order {
		s.order[i] = i
	}
	return s
}

// NumBatches per epoch: ⌊len(dataset) / batchSize⌋.
func (s *Sampler) NumBatches() int {
	return s.ds.Len() / s.batchSize
}

// BatchSize returns the configured batch size.
func (s *Sampler) BatchSize() int { return s.batchSize }

// Epoch starts one pass over the dataset on a background goroutine, so the
// next batch is built while the current one is being trained on. It returns
// the channel of batches (closed at the end of the epoch) and a wait function
// that must be called after draining the channel.
//
// Cancelling ctx stops the producer; the channel is closed either way.
func (s *Sampler) Epoch(ctx context.Context) (<-chan *Batch, func() error) {
	if s.shuffle {
		s.rng.Shuffle(len(s.order), func(i, j int) {
			s.order[i], s.order[j] = s.order[j], s.order[i]
		})
	}
	batches := make(chan *Batch, 2)
	var group errgroup.Group
	group.Go(func() error {
		defer close(batches)
		for batchIdx := range s.NumBatches() {
			batch := s.makeBatch(batchIdx)
			select {
			case batches <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	return batches, group.Wait
}

// makeBatch builds the tensors for the batchIdx-th batch of the current order.
func (s *Sampler) makeBatch(batchIdx int) *Batch {
	indices := s.order[batchIdx*s.batchSize : (batchIdx+1)*s.batchSize]
	batch := &Batch{
		Images:      tensors.FromShape(shapes.Make(dtypes.Float32, s.batchSize, Height, Width, Channels)),
		Labels:      tensors.FromShape(shapes.Make(dtypes.Int32, s.batchSize, 1)),
		LabelValues: make([]int32, s.batchSize),
		Size:        s.batchSize,
	}
	tensors.MutableFlatData(batch.Images, func(flat []float32) {
		for pos, exampleIdx := range indices {
			image, _ := s.ds.Example(exampleIdx)
			copy(flat[pos*ImageSize:], image)
		}
	})
	tensors.MutableFlatData(batch.Labels, func(flat []int32) {
		for pos, exampleIdx := range indices {
			_, label := s.ds.Example(exampleIdx)
			flat[pos] = label
			batch.LabelValues[pos] = label
		}
	})
	return batch
}
