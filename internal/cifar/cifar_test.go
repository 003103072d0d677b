package cifar

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/require"
)

// writeFakeSplit writes CIFAR-10-formatted batch files under baseDir with
// numRecords records each, labels cycling 0..9 and a recognizable pixel
// pattern: red channel of pixel 0 is 255, everything else is 0.
func writeFakeSplit(t *testing.T, baseDir string, files []string, numRecords int) {
	t.Helper()
	dir := filepath.Join(baseDir, untarredDir)
	require.NoError(t, os.MkdirAll(dir, 0777))
	record := 0
	for _, file := range files {
		raw := make([]byte, numRecords*bytesPerRecord)
		for i := range numRecords {
			raw[i*bytesPerRecord] = byte(record % NumClasses) // label
			raw[i*bytesPerRecord+1] = 255                     // red channel, pixel (0,0)
			record++
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), raw, 0666))
	}
}

func TestLoad(t *testing.T) {
	baseDir := t.TempDir()
	writeFakeSplit(t, baseDir, trainFiles, 4)
	writeFakeSplit(t, baseDir, []string{testFile}, 3)

	train, err := LoadTrain(baseDir)
	require.NoError(t, err)
	require.Equal(t, 20, train.Len())

	test, err := LoadTest(baseDir)
	require.NoError(t, err)
	require.Equal(t, 3, test.Len())

	image, label := train.Example(0)
	require.Equal(t, int32(0), label)
	require.Len(t, image, ImageSize)
	// Pixel (0,0) red was 255 -> +1 after normalization; its green/blue
	// neighbors (channels-last offsets 1 and 2) were 0 -> -1.
	require.InDelta(t, 1.0, image[0], 1e-6)
	require.InDelta(t, -1.0, image[1], 1e-6)
	require.InDelta(t, -1.0, image[2], 1e-6)

	_, label = train.Example(13)
	require.Equal(t, int32(13%NumClasses), label)
}

func TestLoadRejectsTruncatedFile(t *testing.T) {
	baseDir := t.TempDir()
	dir := filepath.Join(baseDir, untarredDir)
	require.NoError(t, os.MkdirAll(dir, 0777))
	require.NoError(t, os.WriteFile(filepath.Join(dir, testFile), make([]byte, bytesPerRecord-1), 0666))
	_, err := LoadTest(baseDir)
	require.ErrorContains(t, err, "record size")
}

func TestLoadRejectsBadLabel(t *testing.T) {
	baseDir := t.TempDir()
	dir := filepath.Join(baseDir, untarredDir)
	require.NoError(t, os.MkdirAll(dir, 0777))
	raw := make([]byte, bytesPerRecord)
	raw[0] = NumClasses // one past the last valid label
	require.NoError(t, os.WriteFile(filepath.Join(dir, testFile), raw, 0666))
	_, err := LoadTest(baseDir)
	require.ErrorContains(t, err, "label")
}

func loadFakeTrain(t *testing.T, recordsPerFile int) *Dataset {
	t.Helper()
	baseDir := t.TempDir()
	writeFakeSplit(t, baseDir, trainFiles, recordsPerFile)
	ds, err := LoadTrain(baseDir)
	require.NoError(t, err)
	return ds
}

func drain(t *testing.T, batches <-chan *Batch, wait func() error) []*Batch {
	t.Helper()
	var all []*Batch
	for batch := range batches {
		all = append(all, batch)
	}
	require.NoError(t, wait())
	return all
}

func TestSamplerBatchCount(t *testing.T) {
	ds := loadFakeTrain(t, 5) // 25 examples
	sampler := NewSampler(ds, 4, false, 0)
	require.Equal(t, 6, sampler.NumBatches()) // 25/4, partial batch dropped

	batches, wait := sampler.Epoch(context.Background())
	all := drain(t, batches, wait)
	require.Len(t, all, 6)
	for _, batch := range all {
		require.Equal(t, 4, batch.Size)
		require.Equal(t, 4, batch.Images.Shape().Dim(0))
		require.Equal(t, Height, batch.Images.Shape().Dim(1))
		require.Equal(t, Width, batch.Images.Shape().Dim(2))
		require.Equal(t, Channels, batch.Images.Shape().Dim(3))
		require.Equal(t, 4, batch.Labels.Shape().Dim(0))
		require.Equal(t, 1, batch.Labels.Shape().Dim(1))
	}
}

func TestSamplerOrder(t *testing.T) {
	ds := loadFakeTrain(t, 4) // 20 examples, labels cycle 0..9 twice

	// Without shuffling, batches come in dataset order.
	sampler := NewSampler(ds, 5, false, 0)
	batches, wait := sampler.Epoch(context.Background())
	all := drain(t, batches, wait)
	require.Equal(t, []int32{0, 1, 2, 3, 4}, all[0].LabelValues)
	tensors.MutableFlatData(all[0].Labels, func(flat []int32) {
		require.Equal(t, []int32{0, 1, 2, 3, 4}, flat)
	})

	// With shuffling, the same seed gives the same epoch order.
	a := NewSampler(ds, 5, true, 42)
	b := NewSampler(ds, 5, true, 42)
	chanA, waitA := a.Epoch(context.Background())
	batchesA := drain(t, chanA, waitA)
	chanB, waitB := b.Epoch(context.Background())
	batchesB := drain(t, chanB, waitB)
	for i := range batchesA {
		require.Equal(t, batchesA[i].LabelValues, batchesB[i].LabelValues)
	}

	// And successive epochs differ (with overwhelming probability).
	c := NewSampler(ds, 20, true, 42)
	chan1, wait1 := c.Epoch(context.Background())
	epoch1 := drain(t, chan1, wait1)
	chan2, wait2 := c.Epoch(context.Background())
	epoch2 := drain(t, chan2, wait2)
	require.NotEqual(t, epoch1[0].LabelValues, epoch2[0].LabelValues)
}

func TestSamplerCancel(t *testing.T) {
	ds := loadFakeTrain(t, 100) // 500 examples
	sampler := NewSampler(ds, 10, false, 0)
	ctx, cancel := context.WithCancel(context.Background())
	batches, wait := sampler.Epoch(ctx)
	<-batches // take one batch, then abandon the epoch
	cancel()
	for range batches {
	}
	require.ErrorIs(t, wait(), context.Canceled)
}
