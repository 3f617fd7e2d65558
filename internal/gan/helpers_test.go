package gan

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"cgan-forge/internal/dataset"
	"cgan-forge/internal/model"
	"cgan-forge/internal/nn"
	"cgan-forge/internal/optim"
)

var testShape = []int{1, 4, 4}

const (
	testLatent  = 2
	testClasses = 10
)

// stubNet emits a constant per row regardless of its input. Gradients are
// summed into a single scalar parameter and a zero gradient is passed on.
type stubNet struct {
	width int
	value float64
	param *nn.Parameter
	calls int
}

func newStub(name string, width int, value float64) *stubNet {
	return &stubNet{width: width, value: value, param: nn.NewParameter(name+".bias", 1, 1)}
}

func (s *stubNet) Forward(x nn.Variable, _ *mat.Dense) (nn.Variable, error) {
	s.calls++
	rows, _ := x.Dims()
	out := mat.NewDense(rows, s.width, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < s.width; j++ {
			out.Set(i, j, s.value)
		}
	}
	return nn.NewVariable(out, func(grad *mat.Dense) error {
		s.param.Grad.Set(0, 0, s.param.Grad.At(0, 0)+mat.Sum(grad))
		if !x.RequiresGrad() {
			return nil
		}
		r, c := x.Dims()
		return x.Backward(mat.NewDense(r, c, nil))
	}), nil
}

func (s *stubNet) Parameters() []*nn.Parameter { return []*nn.Parameter{s.param} }

func (s *stubNet) ZeroGrad() { s.param.ZeroGrad() }

func fcPair(t *testing.T, seed int64) (nn.Network, nn.Network) {
	t.Helper()
	gen, disc, err := model.New("fc", model.Spec{
		LatentDim:  testLatent,
		ImageShape: testShape,
		NumClasses: testClasses,
		GenHidden:  []int{8},
		DiscHidden: []int{8},
		Seed:       seed,
	})
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	return gen, disc
}

func newTestTrainer(t *testing.T, gen, disc nn.Network, rep Reporter, opts Options) *Trainer {
	t.Helper()
	adam := optim.Config{Name: "adam", LearningRate: 0.0002, Beta1: 0.5, Beta2: 0.999}
	genOpt, err := optim.New(adam, gen.Parameters())
	if err != nil {
		t.Fatalf("optim: %v", err)
	}
	discOpt, err := optim.New(adam, disc.Parameters())
	if err != nil {
		t.Fatalf("optim: %v", err)
	}
	noise, err := NewNoiseSampler(Normal, 7)
	if err != nil {
		t.Fatalf("noise: %v", err)
	}
	cond, err := NewOneHot(testClasses)
	if err != nil {
		t.Fatalf("conditioner: %v", err)
	}
	if opts.LatentDim == 0 {
		opts.LatentDim = testLatent
	}
	if opts.LogInterval == 0 {
		opts.LogInterval = 1
	}
	tr, err := New(Components{
		Generator:              gen,
		Discriminator:          disc,
		GeneratorOptimizer:     genOpt,
		DiscriminatorOptimizer: discOpt,
		Noise:                  noise,
		Conditioner:            cond,
		Reporter:               rep,
	}, opts)
	if err != nil {
		t.Fatalf("trainer: %v", err)
	}
	return tr
}

func syntheticSource(t *testing.T, n, batchSize int) *dataset.Loader {
	t.Helper()
	ds, err := dataset.NewSynthetic(n, testShape, testClasses, 3)
	if err != nil {
		t.Fatalf("synthetic: %v", err)
	}
	loader, err := dataset.NewLoader(ds, dataset.LoaderOptions{BatchSize: batchSize, NumWorkers: 2})
	if err != nil {
		t.Fatalf("loader: %v", err)
	}
	return loader
}

func syntheticBatch(t *testing.T, n int) dataset.Batch {
	t.Helper()
	data := make([]float64, n*16)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i % testClasses
		for j := 0; j < 16; j++ {
			data[i*16+j] = float64((i+j)%3)*0.5 - 0.5
		}
	}
	b, err := dataset.NewBatch(testShape, data, labels)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	return b
}

type recorder struct {
	reports []Report
}

func (r *recorder) Report(rep Report) error {
	r.reports = append(r.reports, rep)
	return nil
}
