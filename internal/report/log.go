// Package report provides sinks for training progress records.
package report

import (
	"log"

	"cgan-forge/internal/gan"
)

// Log writes one key=value line per report to a standard logger.
type Log struct {
	Logger *log.Logger
}

// Report implements gan.Reporter.
func (l Log) Report(r gan.Report) error {
	printf := log.Printf
	if l.Logger != nil {
		printf = l.Logger.Printf
	}
	printf("epoch=%d step=%d global_step=%d disc_loss=%.4f gen_loss=%.4f images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f",
		r.Epoch,
		r.Step,
		r.GlobalStep,
		r.DiscLoss,
		r.GenLoss,
		r.Stats.ImagesPerSec,
		r.Stats.AvgDataMS,
		r.Stats.AvgComputeMS,
	)
	return nil
}
