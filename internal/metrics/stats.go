// Package metrics aggregates per-batch timings and losses between reports.
package metrics

import "time"

// Window accumulates timing and loss stats across multiple steps.
type Window struct {
	samples  int
	data     time.Duration
	compute  time.Duration
	steps    int
	discSum  float64
	genSum   float64
	lastDisc float64
	lastGen  float64
}

// Record adds one batch to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, discLoss, genLoss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.discSum += discLoss
	w.genSum += genLoss
	w.lastDisc = discLoss
	w.lastGen = genLoss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.AvgDiscLoss = w.discSum / float64(w.steps)
		snap.AvgGenLoss = w.genSum / float64(w.steps)
	}
	snap.LastDiscLoss = w.lastDisc
	snap.LastGenLoss = w.lastGen

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps        int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	AvgDiscLoss  float64
	AvgGenLoss   float64
	LastDiscLoss float64
	LastGenLoss  float64
}
