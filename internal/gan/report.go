package gan

import (
	"log"

	"cgan-forge/internal/metrics"
)

// Report is one progress record emitted by the trainer.
type Report struct {
	RunID      string
	Epoch      int
	Step       int
	GlobalStep int
	DiscLoss   float64
	GenLoss    float64
	Stats      metrics.Snapshot
}

// Reporter receives progress records. A failing reporter never stops
// training: errors are logged and dropped.
type Reporter interface {
	Report(r Report) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(r Report) error

// Report implements Reporter.
func (f ReporterFunc) Report(r Report) error { return f(r) }

// deliver hands r to rep and swallows whatever goes wrong, panics included.
func deliver(rep Reporter, r Report) {
	if rep == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			log.Printf("reporter panic epoch=%d step=%d: %v", r.Epoch, r.Step, p)
		}
	}()
	if err := rep.Report(r); err != nil {
		log.Printf("reporter failed epoch=%d step=%d: %v", r.Epoch, r.Step, err)
	}
}
