package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kanvision/kancifar/internal/cifar"
	"github.com/kanvision/kancifar/internal/classifier"
	"github.com/kanvision/kancifar/internal/metrics"
	"github.com/kanvision/kancifar/internal/ui/progress"
)

// evalDataset evaluates the classifier over the given dataset, without
// updating the model, and returns the mean batch loss and the accuracy.
func evalDataset(ctx context.Context, c *classifier.Classifier, ds *cifar.Dataset) (meanLoss, accuracy float32, err error) {
	sampler := cifar.NewSampler(ds, c.BatchSize(), false, 0)
	var lossSum float64
	var acc metrics.Accuracy
	batches, wait := sampler.Epoch(ctx)
	numBatches := 0
	for batch := range batches {
		loss, numCorrect := c.Eval(batch)
		lossSum += float64(loss)
		numBatches++
		acc.Update(numCorrect, batch.Size)
	}
	if err := wait(); err != nil && !errors.Is(err, context.Canceled) {
		return 0, 0, err
	}
	if numBatches == 0 {
		return 0, 0, nil
	}
	return float32(lossSum / float64(numBatches)), acc.Value(), nil
}

// finalReport prints the per-class accuracy breakdown over the test set and,
// if checkpointing is enabled, reloads the saved model and evaluates it again
// to confirm the checkpoint round-trips.
func finalReport(ctx context.Context, c *classifier.Classifier, testDS *cifar.Dataset) error {
	pc, err := perClassAccuracy(ctx, c, testDS)
	if err != nil {
		return err
	}
	rows := make([]progress.ClassAccuracy, 0, pc.NumClasses())
	for i := range pc.NumClasses() {
		name, acc := pc.Class(i)
		rows = append(rows, progress.ClassAccuracy{Name: name, Accuracy: acc.Value(), Total: acc.Total})
	}
	fmt.Print(progress.FormatPerClass(rows))
	overall := pc.Overall()
	fmt.Println(progress.FormatSummary("Final test accuracy", overall.Value()))

	if c.CheckpointDir() == "" {
		return nil
	}
	reloaded, err := classifier.New(*flagModel, c.CheckpointDir())
	if err != nil {
		return errors.WithMessagef(err, "reloading checkpoint from %s", c.CheckpointDir())
	}
	_, reloadedAcc, err := evalDataset(ctx, reloaded, testDS)
	if err != nil {
		return err
	}
	klog.Infof("Reloaded checkpoint from %s: test accuracy %.2f%%", c.CheckpointDir(), 100*reloadedAcc)
	return nil
}

// perClassAccuracy runs prediction over the dataset and tallies accuracy per
// class.
func perClassAccuracy(ctx context.Context, c *classifier.Classifier, ds *cifar.Dataset) (*metrics.PerClass, error) {
	sampler := cifar.NewSampler(ds, c.BatchSize(), false, 0)
	pc := metrics.NewPerClass(cifar.ClassNames)
	batches, wait := sampler.Epoch(ctx)
	for batch := range batches {
		predicted := c.Predict(batch.Images)
		for i, label := range batch.LabelValues {
			pc.Update(int(label), int(predicted[i]))
		}
	}
	if err := wait(); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	return pc, nil
}
