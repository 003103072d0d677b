// Package classifier wraps GoMLX models for CIFAR-10 image classification:
// model definition, compiled executors for training/evaluation/inference, and
// checkpointing.
//
// Everything numerical (autograd, convolutions, KAN B-splines, the optimizer)
// is delegated to GoMLX; this package only assembles the graphs and moves
// batches in and out.
package classifier

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/xla"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kanvision/kancifar/internal/cifar"
	"github.com/kanvision/kancifar/internal/hyperparams"
)

var (
	// Backend is a singleton, shared by every Classifier.
	backend = sync.OnceValue(func() backends.Backend { return backends.New() })
)

// Classifier wraps a Model with the compiled executors needed to train it,
// evaluate it and run inference, plus the checkpoint handler that saves and
// restores its weights.
type Classifier struct {
	Type ModelType

	// model backing this classifier.
	model Model

	// Executors.
	predictExec, evalExec, trainStepExec *context.Exec

	// checkpoint handler, if the model is being saved/loaded to/from disk.
	checkpoint *checkpoints.Handler

	// checkpointsToKeep is the number of older checkpoint copies kept around.
	checkpointsToKeep int

	// Hyperparameter cached values: they are also set in the model context.
	batchSize int

	// muLearning: "write" for train steps, "read" for inference.
	muLearning sync.RWMutex

	// optimizer used by the train-step executor.
	optimizer optimizers.Interface

	// muSave makes saving sequential.
	muSave sync.Mutex
}

// New creates a Classifier from a configuration string and an optional
// checkpoint directory.
//
// The config selects the model type ("kan", the default, or "cnn") and may
// override any of the model's hyperparameters, e.g.
// "kan,batch_size=128,learning_rate=0.01". Pass "help" to get the list of
// hyperparameters of the selected model.
//
// If checkpointDir is not empty its checkpoint is loaded when present, and
// Save writes there.
func New(config, checkpointDir string) (*Classifier, error) {
	set := hyperparams.FromConfig(config)
	useKAN, err := hyperparams.PopOr(set, ModelKAN.String(), false)
	if err != nil {
		return nil, err
	}
	useCNN, err := hyperparams.PopOr(set, ModelCNN.String(), false)
	if err != nil {
		return nil, err
	}
	if useKAN && useCNN {
		return nil, errors.Errorf("config %q selects more than one model type", config)
	}

	c := &Classifier{Type: ModelKAN}
	if useCNN {
		c.Type = ModelCNN
	}
	switch c.Type {
	case ModelKAN:
		c.model = NewLeKAN()
	case ModelCNN:
		c.model = NewConvNet()
	default:
		return nil, errors.Errorf("model type %s defined but not implemented", c.Type)
	}

	// Help if requested.
	if _, helpRequested := set["help"]; helpRequested {
		c.writeHyperparametersHelp()
		return nil, errors.Errorf("model type %s help requested", c.Type)
	}

	// Number of checkpoints to keep.
	c.checkpointsToKeep, err = hyperparams.PopOr(set, "keep", 10)
	if err != nil {
		return nil, err
	}

	// Create checkpoint handler, and load the checkpoint if it exists.
	if checkpointDir != "" {
		if err = c.createCheckpoint(checkpointDir); err != nil {
			return nil, errors.WithMessagef(err, "failed to build checkpoint for model %s in path %s",
				c.Type, checkpointDir)
		}
	}

	// Create the backend.
	_ = backend()

	// Overwrite hyperparameters from the config string.
	ctx := c.model.Context()
	if err = overrideParams(c.Type.String(), set, ctx); err != nil {
		return nil, err
	}
	if err = hyperparams.CheckConsumed(set); err != nil {
		return nil, errors.WithMessagef(err, "in config %q", config)
	}
	c.batchSize = context.GetParamOr(ctx, "batch_size", 64)

	// Create optimizer to be used in training.
	c.optimizer = optimizers.FromContext(ctx)

	// Setup the executors.
	c.predictExec = context.NewExec(backend(), ctx,
		func(ctx *context.Context, images *graph.Node) *graph.Node {
			ctx = ctx.Checked(false)
			logits := c.model.ForwardGraph(ctx, images)
			return graph.ArgMax(logits, -1, dtypes.Int32)
		})
	c.evalExec = context.NewExec(backend(), ctx,
		func(ctx *context.Context, images, labels *graph.Node) []*graph.Node {
			ctx = ctx.Checked(false)
			logits := c.model.ForwardGraph(ctx, images)
			return []*graph.Node{c.lossGraph(ctx, logits, labels), numCorrectGraph(logits, labels)}
		})
	c.trainStepExec = context.NewExec(backend(), ctx,
		func(ctx *context.Context, images, labels *graph.Node) []*graph.Node {
			g := images.Graph()
			ctx.SetTraining(g, true)
			logits := c.model.ForwardGraph(ctx, images)
			loss := c.lossGraph(ctx, logits, labels)
			c.optimizer.UpdateGraph(ctx, g, loss)
			train.ExecPerStepUpdateGraphFn(ctx, g)
			return []*graph.Node{loss, numCorrectGraph(logits, labels)}
		})

	// Force creating/loading of variables without race conditions first.
	dummy := tensors.FromShape(shapes.Make(dtypes.Float32, 1, cifar.Height, cifar.Width, cifar.Channels))
	_ = c.Predict(dummy)
	klog.V(1).Infof("Created %s classifier, batch_size=%d", c, c.batchSize)
	return c, nil
}

// lossGraph reduces the model loss to a scalar.
func (c *Classifier) lossGraph(ctx *context.Context, logits, labels *graph.Node) *graph.Node {
	loss := c.model.LossGraph(ctx, logits, labels)
	if !loss.IsScalar() {
		// Some losses return one value per example of the batch.
		loss = graph.ReduceAllMean(loss)
	}
	return loss
}

// numCorrectGraph counts the examples whose arg-max logit matches the label.
func numCorrectGraph(logits, labels *graph.Node) *graph.Node {
	predicted := graph.ArgMax(logits, -1, dtypes.Int32)
	wanted := graph.Squeeze(labels, -1)
	matches := graph.ConvertDType(graph.Equal(predicted, wanted), dtypes.Int32)
	return graph.ReduceAllSum(matches)
}

// String implements fmt.Stringer.
func (c *Classifier) String() string {
	if c == nil {
		return "<nil>[GoMLX]"
	}
	if c.checkpoint == nil {
		return fmt.Sprintf("%s[GoMLX]", c.Type)
	}
	return fmt.Sprintf("%s[GoMLX]@%s", c.Type, c.checkpoint.Dir())
}

// BatchSize returns the batch size the model was configured with.
func (c *Classifier) BatchSize() int { return c.batchSize }

// Context returns the model context, with the weights and hyperparameters.
func (c *Classifier) Context() *context.Context { return c.model.Context() }

// Predict returns the predicted class per image.
// The images tensor buffer is donated to the computation.
func (c *Classifier) Predict(images *tensors.Tensor) []int32 {
	c.muLearning.RLock()
	defer c.muLearning.RUnlock()
	predictedT := c.predictExec.Call(graph.DonateTensorBuffer(images, backend()))[0]
	return predictedT.Value().([]int32)
}

// Learn runs one training step on the batch, updating the model weights.
// It returns the batch loss and the number of correctly classified examples.
// The batch tensor buffers are donated to the computation.
func (c *Classifier) Learn(batch *cifar.Batch) (loss float32, numCorrect int) {
	c.muLearning.Lock()
	defer c.muLearning.Unlock()
	results := c.trainStepExec.Call(
		graph.DonateTensorBuffer(batch.Images, backend()),
		graph.DonateTensorBuffer(batch.Labels, backend()))
	return tensors.ToScalar[float32](results[0]), int(tensors.ToScalar[int32](results[1]))
}

// Eval computes the loss and the number of correctly classified examples of
// the batch, without touching the weights (and without gradients).
// The batch tensor buffers are donated to the computation.
func (c *Classifier) Eval(batch *cifar.Batch) (loss float32, numCorrect int) {
	c.muLearning.RLock()
	defer c.muLearning.RUnlock()
	results := c.evalExec.Call(
		graph.DonateTensorBuffer(batch.Images, backend()),
		graph.DonateTensorBuffer(batch.Labels, backend()))
	return tensors.ToScalar[float32](results[0]), int(tensors.ToScalar[int32](results[1]))
}

// SetLearningRate overwrites the learning rate used by the optimizer from the
// next training step on. This is how the per-epoch exponential decay is
// applied.
func (c *Classifier) SetLearningRate(learningRate float64) {
	ctx := c.model.Context()
	ctx.SetParam(optimizers.ParamLearningRate, learningRate)
	lrVar := optimizers.LearningRateVar(ctx, dtypes.Float32, learningRate)
	lrVar.SetValue(tensors.FromScalar(float32(learningRate)))
	klog.V(1).Infof("learning rate set to %g", learningRate)
}

// LearningRate returns the currently configured learning rate.
func (c *Classifier) LearningRate() float64 {
	return context.GetParamOr(c.model.Context(), optimizers.ParamLearningRate, 0.001)
}

// Save writes a new checkpoint of the model weights and hyperparameters.
func (c *Classifier) Save() error {
	if c.checkpoint == nil {
		klog.Warningf("This %s model is not associated to a checkpoint directory, not saving", c.Type)
		return nil
	}
	c.muSave.Lock()
	defer c.muSave.Unlock()
	return c.checkpoint.Save()
}

// CheckpointDir returns the checkpoint directory, or "" if none is attached.
func (c *Classifier) CheckpointDir() string {
	if c.checkpoint == nil {
		return ""
	}
	return c.checkpoint.Dir()
}

func (c *Classifier) createCheckpoint(checkpointDir string) error {
	checkpoint, err := checkpoints.
		Build(c.model.Context()).
		Dir(checkpointDir).
		Keep(c.checkpointsToKeep).
		Done()
	if err != nil {
		return err
	}
	c.checkpoint = checkpoint
	return nil
}

// writeHyperparametersHelp enumerates all the hyperparameters set in the context.
func (c *Classifier) writeHyperparametersHelp() {
	buf := &bytes.Buffer{}
	_, _ = fmt.Fprintf(buf, "Model %s hyperparameters (-model \"%s,key=value,...\"):\n", c.Type, c.Type)
	c.model.Context().EnumerateParams(func(scope, key string, value any) {
		if scope != context.RootScope {
			return
		}
		_, _ = fmt.Fprintf(buf, "\t%q: default value is %v\n", key, value)
	})
	klog.Info(buf)
}

// overrideParams writes the user-provided hyperparameters over the model
// context defaults, parsing each to the type of its default.
func overrideParams(modelName string, set hyperparams.Set, ctx *context.Context) error {
	var err error
	ctx.EnumerateParams(func(scope, key string, valueAny any) {
		if err != nil {
			// If an error happened skip the rest.
			return
		}
		if scope != context.RootScope {
			return
		}
		switch defaultValue := valueAny.(type) {
		case string:
			var value string
			value, err = hyperparams.PopOr(set, key, defaultValue)
			if err == nil {
				ctx.SetParam(key, value)
			}
		case int:
			var value int
			value, err = hyperparams.PopOr(set, key, defaultValue)
			if err == nil {
				ctx.SetParam(key, value)
			}
		case float64:
			var value float64
			value, err = hyperparams.PopOr(set, key, defaultValue)
			if err == nil {
				ctx.SetParam(key, value)
			}
		case float32:
			var value float32
			value, err = hyperparams.PopOr(set, key, defaultValue)
			if err == nil {
				ctx.SetParam(key, value)
			}
		case bool:
			var value bool
			value, err = hyperparams.PopOr(set, key, defaultValue)
			if err == nil {
				ctx.SetParam(key, value)
			}
		default:
			err = errors.Errorf("model %s hyperparameter %q is of unsupported type %T", modelName, key, defaultValue)
		}
		if err != nil {
			err = errors.WithMessagef(err, "parsing %q for model %s", key, modelName)
		}
	})
	return err
}
