package classifier

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/xla"

	"github.com/kanvision/kancifar/internal/cifar"
)

// makeTestBatch builds a deterministic batch: a smooth pixel pattern and
// labels cycling through the classes.
func makeTestBatch(batchSize int) *cifar.Batch {
	batch := &cifar.Batch{
		Images:      tensors.FromShape(shapes.Make(dtypes.Float32, batchSize, cifar.Height, cifar.Width, cifar.Channels)),
		Labels:      tensors.FromShape(shapes.Make(dtypes.Int32, batchSize, 1)),
		LabelValues: make([]int32, batchSize),
		Size:        batchSize,
	}
	tensors.MutableFlatData(batch.Images, func(flat []float32) {
		for i := range flat {
			flat[i] = float32(i%255)/127.5 - 1
		}
	})
	tensors.MutableFlatData(batch.Labels, func(flat []int32) {
		for i := range flat {
			flat[i] = int32(i % cifar.NumClasses)
			batch.LabelValues[i] = flat[i]
		}
	})
	return batch
}

func TestNewConfigErrors(t *testing.T) {
	_, err := New("kan,cnn", "")
	require.ErrorContains(t, err, "more than one model type")

	_, err = New("kan,help", "")
	require.ErrorContains(t, err, "help requested")

	_, err = New("kan,no_such_hyperparameter=3", "")
	require.ErrorContains(t, err, "no_such_hyperparameter")

	_, err = New("kan,batch_size=not-a-number", "")
	require.Error(t, err)
}

func TestModelTypeString(t *testing.T) {
	require.Equal(t, "kan", ModelKAN.String())
	require.Equal(t, "cnn", ModelCNN.String())
	require.Equal(t, "none", ModelNone.String())
}

func testLearnAndEval(t *testing.T, config string) {
	const batchSize = 8
	c, err := New(config, "")
	require.NoError(t, err)
	require.Equal(t, batchSize, c.BatchSize())

	// A few training steps: the loss must be finite and non-negative, the
	// correct count within the batch.
	for range 3 {
		loss, numCorrect := c.Learn(makeTestBatch(batchSize))
		require.False(t, math32.IsNaN(loss), "loss is NaN")
		require.GreaterOrEqual(t, loss, float32(0))
		require.GreaterOrEqual(t, numCorrect, 0)
		require.LessOrEqual(t, numCorrect, batchSize)
	}

	loss, numCorrect := c.Eval(makeTestBatch(batchSize))
	require.GreaterOrEqual(t, loss, float32(0))
	require.GreaterOrEqual(t, numCorrect, 0)
	require.LessOrEqual(t, numCorrect, batchSize)

	predicted := c.Predict(makeTestBatch(batchSize).Images)
	require.Len(t, predicted, batchSize)
	for _, class := range predicted {
		require.GreaterOrEqual(t, class, int32(0))
		require.Less(t, class, int32(cifar.NumClasses))
	}
}

func TestLeKANLearnAndEval(t *testing.T) {
	testLearnAndEval(t, "kan,batch_size=8")
}

func TestConvNetLearnAndEval(t *testing.T) {
	testLearnAndEval(t, "cnn,batch_size=8")
}

func TestSetLearningRate(t *testing.T) {
	c, err := New("cnn,batch_size=8,learning_rate=0.01", "")
	require.NoError(t, err)
	require.InDelta(t, 0.01, c.LearningRate(), 1e-9)

	c.SetLearningRate(c.LearningRate() * 0.8)
	require.InDelta(t, 0.008, c.LearningRate(), 1e-9)

	// Training still works after the decay.
	loss, _ := c.Learn(makeTestBatch(8))
	require.GreaterOrEqual(t, loss, float32(0))
}

func TestCheckpointSaveAndReload(t *testing.T) {
	const batchSize = 8
	checkpointDir := t.TempDir()

	c0, err := New("kan,batch_size=8", checkpointDir)
	require.NoError(t, err)
	for range 2 {
		c0.Learn(makeTestBatch(batchSize))
	}
	wanted := c0.Predict(makeTestBatch(batchSize).Images)
	require.NoError(t, c0.Save())

	// A freshly built classifier on the same directory must restore the
	// weights and reproduce the predictions on the same fixed input.
	c1, err := New("kan", checkpointDir)
	require.NoError(t, err)
	require.Equal(t, ModelKAN, c1.Type)
	require.Equal(t, batchSize, c1.BatchSize()) // batch_size restored from the checkpoint.
	got := c1.Predict(makeTestBatch(batchSize).Images)
	require.Equal(t, wanted, got)
}
