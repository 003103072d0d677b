package classifier

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/kan"
	"github.com/gomlx/gomlx/ml/layers/regularizers"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/ml/train/optimizers/cosineschedule"

	"github.com/kanvision/kancifar/internal/cifar"
)

// LeKAN is the LeNet-shaped classifier with every learned layer replaced by a
// Kolmogorov-Arnold Network layer:
//
//	KANConv(3→6, 5x5) → MaxPool 2x2 → KANConv(6→16, 5x5) → MaxPool 2x2 →
//	flatten (400) → KAN(120) → KAN(84) → KAN(10)
//
// The KAN layers themselves (B-spline bases, control points, residual base
// activation) come from GoMLX's kan package, configured by the context
// hyperparameters below.
type LeKAN struct {
	ctx *context.Context
}

// Compile-time assert that LeKAN implements Model.
var _ Model = &LeKAN{}

// NewLeKAN creates a LeKAN model with a fresh context, initialized with
// hyperparameters set to their defaults.
func NewLeKAN() *LeKAN {
	m := &LeKAN{ctx: context.New()}
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

		activations.ParamActivation: "swish",
		layers.ParamDropoutRate:     0.0,
		regularizers.ParamL2:        0.0,
		regularizers.ParamL1:        0.0,

		// KAN layer parameters: 5 control points over a degree-3 B-spline,
		// with the residual (base activation) path enabled.
		kan.ParamNumControlPoints:   5,
		kan.ParamNumHiddenLayers:    0,
		kan.ParamNumHiddenNodes:     0,
		kan.ParamBSplineDegree:      3,
		kan.ParamBSplineMagnitudeL1: 0.0,
		kan.ParamBSplineMagnitudeL2: 0.0,
		kan.ParamResidual:           true,
	})
	m.ctx = m.ctx.Checked(false)
	return m
}

func (m *LeKAN) Context() *context.Context {
	return m.ctx
}

// ForwardGraph calculates the logits for a batch of images.
func (m *LeKAN) ForwardGraph(ctx *context.Context, images *Node) *Node {
	batchSize := images.Shape().Dim(0)

	x := kanConv2D(ctx.In("conv1"), images, 6, 5) // -> [batch, 28, 28, 6]
	x = MaxPool(x).Window(2).Done()               // -> [batch, 14, 14, 6]
	x = kanConv2D(ctx.In("conv2"), x, 16, 5)      // -> [batch, 10, 10, 16]
	x = MaxPool(x).Window(2).Done()               // -> [batch, 5, 5, 16]

	x = Reshape(x, batchSize, 5*5*16)
	x = kan.New(ctx.In("fc1"), x, 120).Done()
	x = kan.New(ctx.In("fc2"), x, 84).Done()
	logits := kan.New(ctx.In("fc3"), x, cifar.NumClasses).Done()
	logits.AssertDims(batchSize, cifar.NumClasses)
	return logits
}

// LossGraph calculates the cross-entropy loss on the logits.
func (m *LeKAN) LossGraph(ctx *context.Context, logits, labels *Node) *Node {
	return losses.SparseCategoricalCrossEntropyLogits([]*Node{labels}, []*Node{logits})
}

// kanConv2D is a "KAN convolution": a KAN layer applied to every
// kernelSize x kernelSize patch of the input (valid padding, stride 1), the
// same formulation as unfold + KAN on the patch features.
//
// The kernel window is unrolled with static slices, so the whole thing remains
// one fixed computation graph.
func kanConv2D(ctx *context.Context, x *Node, filters, kernelSize int) *Node {
	batchSize := x.Shape().Dim(0)
	height := x.Shape().Dim(1)
	width := x.Shape().Dim(2)
	channels := x.Shape().Dim(3)
	outHeight := height - kernelSize + 1
	outWidth := width - kernelSize + 1

	patches := make([]*Node, 0, kernelSize*kernelSize)
	for dy := range kernelSize {
		for dx := range kernelSize {
			patches = append(patches,
				Slice(x, AxisRange(), AxisRange(dy, dy+outHeight), AxisRange(dx, dx+outWidth), AxisRange()))
		}
	}
	x = Concatenate(patches, -1) // -> [batch, outHeight, outWidth, channels*k*k]
	x = Reshape(x, batchSize*outHeight*outWidth, channels*kernelSize*kernelSize)
	x = kan.New(ctx, x, filters).Done()
	return Reshape(x, batchSize, outHeight, outWidth, filters)
}
