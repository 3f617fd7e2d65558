package report

import (
	"github.com/pkg/errors"

	"cgan-forge/internal/gan"
)

// Multi fans a report out to several sinks. Every sink is tried even when
// an earlier one fails or panics.
type Multi []gan.Reporter

// Report implements gan.Reporter and returns the first failure.
func (m Multi) Report(r gan.Report) error {
	var first error
	failed := 0
	for _, rep := range m {
		if err := reportOne(rep, r); err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return errors.Wrapf(first, "%d of %d reporters failed", failed, len(m))
	}
	return nil
}

func reportOne(rep gan.Reporter, r gan.Report) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("reporter panic: %v", p)
		}
	}()
	return rep.Report(r)
}
