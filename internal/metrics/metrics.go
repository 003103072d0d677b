// Package metrics keeps the process-local training bookkeeping: the running
// average loss shown during training, and correct/total accuracy counters,
// globally and per class.
package metrics

import (
	"github.com/chewxy/math32"
)

// RunningLoss is an exponentially decayed average of the per-step loss values.
//
// Early on the decay is reduced so the average is unbiased: with fewer than
// 1/(1-decay) steps it behaves like a plain mean.
type RunningLoss struct {
	decay float32
	steps int
	value float32
	nans  int
}

// NewRunningLoss creates a RunningLoss with the given decay, e.g. 0.95.
func NewRunningLoss(decay float32) *RunningLoss {
	return &RunningLoss{decay: decay}
}

// Update folds in the loss of one more training step.
// NaN losses are counted separately and do not poison the average.
func (r *RunningLoss) Update(loss float32) {
	if math32.IsNaN(loss) || math32.IsInf(loss, 0) {
		r.nans++
		return
	}
	r.steps++
	decay := min(1-1/float32(r.steps), r.decay)
	r.value = r.value*decay + (1-decay)*loss
}

// Value returns the current running average. Zero before any update.
func (r *RunningLoss) Value() float32 { return r.value }

// Steps returns how many (finite) losses were folded in.
func (r *RunningLoss) Steps() int { return r.steps }

// BadSteps returns how many NaN/Inf losses were discarded.
func (r *RunningLoss) BadSteps() int { return r.nans }

// Accuracy accumulates correct/total counts.
type Accuracy struct {
	Correct, Total int
}

// Update adds the result of one batch.
func (a *Accuracy) Update(correct, total int) {
	a.Correct += correct
	a.Total += total
}

// Value returns the accuracy in [0, 1]. Zero counts yield 0.
func (a *Accuracy) Value() float32 {
	if a.Total == 0 {
		return 0
	}
	return float32(a.Correct) / float32(a.Total)
}

// Reset zeroes the counters, for reuse across epochs.
func (a *Accuracy) Reset() {
	a.Correct, a.Total = 0, 0
}

// PerClass accumulates accuracy counters separately for each class.
type PerClass struct {
	classes []string
	counts  []Accuracy
}

// NewPerClass creates per-class counters for the given class names.
func NewPerClass(classes []string) *PerClass {
	return &PerClass{
		classes: classes,
		counts:  make([]Accuracy, len(classes)),
	}
}

// Update records one example with the true label and the predicted class.
// Labels outside [0, len(classes)) are ignored.
func (p *PerClass) Update(label, predicted int) {
	if label < 0 || label >= len(p.counts) {
		return
	}
	correct := 0
	if label == predicted {
		correct = 1
	}
	p.counts[label].Update(correct, 1)
}

// NumClasses returns the number of classes tracked.
func (p *PerClass) NumClasses() int { return len(p.classes) }

// Class returns the name and counters for class i.
func (p *PerClass) Class(i int) (name string, acc Accuracy) {
	return p.classes[i], p.counts[i]
}

// Overall returns counters aggregated over all classes.
func (p *PerClass) Overall() (acc Accuracy) {
	for _, classAcc := range p.counts {
		acc.Update(classAcc.Correct, classAcc.Total)
	}
	return
}
