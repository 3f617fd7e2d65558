package gan

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// logFloor bounds log terms so a saturated probability yields a large
	// but finite loss.
	logFloor = -100
	bceEps   = 1e-12
)

// BCE returns the mean binary cross-entropy between probabilities p and a
// constant target, and the gradient of that mean with respect to p.
func BCE(p *mat.Dense, target float64) (float64, *mat.Dense) {
	rows, cols := p.Dims()
	n := float64(rows * cols)
	grad := mat.NewDense(rows, cols, nil)
	loss := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := p.At(i, j)
			logP := math.Max(math.Log(v), logFloor)
			log1mP := math.Max(math.Log(1-v), logFloor)
			loss -= target*logP + (1-target)*log1mP
			grad.Set(i, j, (v-target)/math.Max(v*(1-v), bceEps)/n)
		}
	}
	return loss / n, grad
}
