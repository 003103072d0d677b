package classifier

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
)

// Model is a GoMLX image-classification model, the backend of a Classifier.
type Model interface {
	// Context used by the model: with both its weights and hyperparameters.
	Context() *context.Context

	// ForwardGraph is the GoMLX model graph function with the forward path.
	// Images are shaped [batch, height, width, channels]; it must return the
	// logits for each image, shaped [batch, numClasses].
	ForwardGraph(ctx *context.Context, images *graph.Node) *graph.Node

	// LossGraph should calculate the loss given the logits returned by
	// ForwardGraph and the integer class labels (shaped [batch, 1]). It may
	// return one value per example; the Classifier reduces it to a scalar.
	LossGraph(ctx *context.Context, logits, labels *graph.Node) *graph.Node
}

// ModelType selects one of the implemented model architectures.
type ModelType int

const (
	ModelNone ModelType = iota

	// ModelKAN is the LeNet-shaped network with KAN convolutions and KAN
	// fully-connected layers.
	ModelKAN

	// ModelCNN is the plain LeNet-shaped convolutional baseline.
	ModelCNN
)

// String implements fmt.Stringer, matching the config-string spelling.
func (t ModelType) String() string {
	switch t {
	case ModelKAN:
		return "kan"
	case ModelCNN:
		return "cnn"
	}
	return "none"
}
