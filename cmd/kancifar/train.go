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

// runningLossDecay controls the smoothing of the loss shown in the progress
// bar. It only affects reporting, not training.
const runningLossDecay = float32(0.99)

// trainAndReport runs the full training schedule, evaluating on the test set
// after every epoch, and finishes with the per-class accuracy report. If a
// checkpoint directory is configured, the model is saved after every epoch
// and reloaded at the end to verify the saved copy evaluates the same.
func trainAndReport(ctx context.Context, c *classifier.Classifier, trainDS, testDS *cifar.Dataset) error {
	sampler := cifar.NewSampler(trainDS, c.BatchSize(), true, *flagSeed)
	for epoch := range *flagEpochs {
		if err := trainEpoch(ctx, c, sampler, epoch); err != nil {
			return err
		}
		if ctx.Err() != nil {
			break
		}

		testLoss, testAcc, err := evalDataset(ctx, c, testDS)
		if err != nil {
			return err
		}
		fmt.Println(progress.FormatSummary(
			fmt.Sprintf("Epoch %d/%d: test loss %.3f", epoch+1, *flagEpochs, testLoss), testAcc))

		// Exponential learning rate schedule.
		c.SetLearningRate(c.LearningRate() * *flagLRDecay)

		if c.CheckpointDir() != "" {
			if err := c.Save(); err != nil {
				return err
			}
			klog.V(1).Infof("Checkpoint saved to %s", c.CheckpointDir())
		}
	}
	if ctx.Err() != nil {
		// Still save, so an interrupted run can be resumed.
		if c.CheckpointDir() != "" {
			if err := c.Save(); err != nil {
				return err
			}
			klog.Infof("Checkpoint saved to %s", c.CheckpointDir())
		}
		klog.Info("Training interrupted, exiting.")
		return nil
	}
	return finalReport(ctx, c, testDS)
}

// trainEpoch iterates once over the shuffled training set, taking one
// optimizer step per batch.
func trainEpoch(ctx context.Context, c *classifier.Classifier, sampler *cifar.Sampler, epoch int) error {
	runningLoss := metrics.NewRunningLoss(runningLossDecay)
	var acc metrics.Accuracy
	bar := progress.NewBar(fmt.Sprintf("Epoch %d", epoch+1), sampler.NumBatches())
	batches, wait := sampler.Epoch(ctx)
	for batch := range batches {
		loss, numCorrect := c.Learn(batch)
		runningLoss.Update(loss)
		acc.Update(numCorrect, batch.Size)
		bar.Step(runningLoss.Value(), acc.Value())
	}
	bar.Done()
	if err := wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if runningLoss.BadSteps() > 0 {
		klog.Warningf("Epoch %d: %d batches with NaN/Inf loss", epoch+1, runningLoss.BadSteps())
	}
	return nil
}
