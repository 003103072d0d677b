package classifier

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	fnnLayer "github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/ml/layers/regularizers"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/ml/train/optimizers/cosineschedule"

	"github.com/kanvision/kancifar/internal/cifar"
)

// ConvNet is the plain convolutional baseline with the same LeNet shape as
// LeKAN: two 5x5 valid convolutions with max-pooling, then an FNN head.
type ConvNet struct {
	ctx *context.Context
}

var _ Model = &ConvNet{}

// NewConvNet creates a ConvNet model with a fresh context, initialized with
// hyperparameters set to their defaults.
func NewConvNet() *ConvNet {
	m := &ConvNet{ctx: context.New()}
	m.ctx.RngStateReset()
	m.ctx.SetParams(map[string]any{
		"batch_size": 64,

		optimizers.ParamOptimizer:    "adamw",
		optimizers.ParamLearningRate: 0.001,
		// Decoupled weight decay used by the "adamw" optimizer.
		"adam_weight_decay":             1e-4,
		optimizers.ParamAdamEpsilon:     1e-8,
		optimizers.ParamAdamDType:       "",
		cosineschedule.ParamPeriodSteps: 0,

		activations.ParamActivation: "relu",
		layers.ParamDropoutRate:     0.0,
		regularizers.ParamL2:        0.0,
		regularizers.ParamL1:        0.0,

		// The head chains single linear layers explicitly (fc1/fc2/fc3), so
		// no implicit hidden layers inside each one.
		fnnLayer.ParamNumHiddenLayers: 0,
		fnnLayer.ParamNumHiddenNodes:  0,
		fnnLayer.ParamResidual:        false,
		fnnLayer.ParamNormalization:   "none",
	})
	m.ctx = m.ctx.Checked(false)
	return m
}

func (m *ConvNet) Context() *context.Context {
	return m.ctx
}

// ForwardGraph calculates the logits for a batch of images.
func (m *ConvNet) ForwardGraph(ctx *context.Context, images *Node) *Node {
	batchSize := images.Shape().Dim(0)

	x := layers.Convolution(ctx.In("conv1"), images).Filters(6).KernelSize(5).NoPadding().Done()
	x = activations.ApplyFromContext(ctx, x)
	x = MaxPool(x).Window(2).Done() // -> [batch, 14, 14, 6]
	x = layers.Convolution(ctx.In("conv2"), x).Filters(16).KernelSize(5).NoPadding().Done()
	x = activations.ApplyFromContext(ctx, x)
	x = MaxPool(x).Window(2).Done() // -> [batch, 5, 5, 16]

	x = Reshape(x, batchSize, 5*5*16)
	x = fnnLayer.New(ctx.In("fc1"), x, 120).Done()
	x = activations.ApplyFromContext(ctx, x)
	x = fnnLayer.New(ctx.In("fc2"), x, 84).Done()
	x = activations.ApplyFromContext(ctx, x)
	logits := fnnLayer.New(ctx.In("fc3"), x, cifar.NumClasses).Done()
	logits.AssertDims(batchSize, cifar.NumClasses)
	return logits
}

// LossGraph calculates the cross-entropy loss on the logits.
func (m *ConvNet) LossGraph(ctx *context.Context, logits, labels *Node) *Node {
	return losses.SparseCategoricalCrossEntropyLogits([]*Node{labels}, []*Node{logits})
}
