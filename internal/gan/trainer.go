package gan

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"cgan-forge/internal/dataset"
	"cgan-forge/internal/errs"
	"cgan-forge/internal/metrics"
	"cgan-forge/internal/nn"
	"cgan-forge/internal/optim"
)

// Components are the collaborators a Trainer drives. Each optimizer must
// own exactly the parameters of its network.
type Components struct {
	Generator              nn.Network
	Discriminator          nn.Network
	GeneratorOptimizer     optim.Optimizer
	DiscriminatorOptimizer optim.Optimizer
	Noise                  *NoiseSampler
	Conditioner            Conditioner
	Reporter               Reporter
}

// Options tune the training step.
type Options struct {
	RunID       string
	LatentDim   int
	LogInterval int
	LabelPolicy LabelPolicy
	// LabelSeed seeds the generator label draws under UniformLabels.
	LabelSeed int64
	// RegenerateFakes draws fresh noise for the generator update instead of
	// reusing the fakes the discriminator was trained on.
	RegenerateFakes bool
}

// StepResult holds the losses of one adversarial step.
type StepResult struct {
	DiscLoss float64
	GenLoss  float64
	Skipped  bool
}

// EpochHook runs after every completed epoch. A returned error aborts
// training.
type EpochHook func(ctx context.Context, t *Trainer, epoch int) error

// Trainer alternates discriminator and generator updates over a data
// source. It is single-threaded: one step finishes before the next begins.
type Trainer struct {
	c      Components
	opts   Options
	labels *rand.Rand

	phase      Phase
	epoch      int
	globalStep int
	window     metrics.Window
	observer   func(Phase)
	hooks      []EpochHook
}

// New validates the components and returns an idle Trainer.
func New(c Components, opts Options) (*Trainer, error) {
	switch {
	case c.Generator == nil:
		return nil, errs.Configuration("generator", "is nil")
	case c.Discriminator == nil:
		return nil, errs.Configuration("discriminator", "is nil")
	case c.GeneratorOptimizer == nil:
		return nil, errs.Configuration("generator_optimizer", "is nil")
	case c.DiscriminatorOptimizer == nil:
		return nil, errs.Configuration("discriminator_optimizer", "is nil")
	case c.Noise == nil:
		return nil, errs.Configuration("noise", "sampler is nil")
	case c.Conditioner == nil:
		return nil, errs.Configuration("n_classes", "conditioner is nil")
	}
	if opts.LatentDim <= 0 {
		return nil, errs.Configuration("latent_dim", "must be > 0 (got %d)", opts.LatentDim)
	}
	if opts.LogInterval <= 0 {
		return nil, errs.Configuration("log_interval", "must be > 0 (got %d)", opts.LogInterval)
	}
	policy, err := ParseLabelPolicy(string(opts.LabelPolicy))
	if err != nil {
		return nil, err
	}
	opts.LabelPolicy = policy
	if !sameParameters(c.GeneratorOptimizer.Parameters(), c.Generator.Parameters()) {
		return nil, errs.Configuration("generator_optimizer", "does not own exactly the generator parameters")
	}
	if !sameParameters(c.DiscriminatorOptimizer.Parameters(), c.Discriminator.Parameters()) {
		return nil, errs.Configuration("discriminator_optimizer", "does not own exactly the discriminator parameters")
	}
	return &Trainer{
		c:      c,
		opts:   opts,
		labels: rand.New(rand.NewSource(opts.LabelSeed)),
	}, nil
}

func sameParameters(a, b []*nn.Parameter) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Observe registers fn to be called on every phase transition.
func (t *Trainer) Observe(fn func(Phase)) { t.observer = fn }

// AfterEpoch registers hooks run at the end of every epoch.
func (t *Trainer) AfterEpoch(hooks ...EpochHook) { t.hooks = append(t.hooks, hooks...) }

// Phase returns the current phase.
func (t *Trainer) Phase() Phase { return t.phase }

// Epoch returns the epoch currently (or last) trained.
func (t *Trainer) Epoch() int { return t.epoch }

// GlobalStep returns the number of completed adversarial steps.
func (t *Trainer) GlobalStep() int { return t.globalStep }

// Components returns the collaborators the trainer drives.
func (t *Trainer) Components() Components { return t.c }

// Options returns the effective options.
func (t *Trainer) Options() Options { return t.opts }

// Resume positions the counters after a restored checkpoint.
func (t *Trainer) Resume(epoch, globalStep int) {
	t.epoch = epoch
	t.globalStep = globalStep
}

func (t *Trainer) enter(p Phase) {
	t.phase = p
	if t.observer != nil {
		t.observer(p)
	}
}

// Train runs epochs full passes over src, starting at epoch start.
func (t *Trainer) Train(ctx context.Context, src dataset.Source, start, epochs int) error {
	for epoch := start; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.epoch = epoch
		if err := t.runEpoch(ctx, src, epoch); err != nil {
			return err
		}
		for _, hook := range t.hooks {
			if err := hook(ctx, t, epoch); err != nil {
				return errors.Wrapf(err, "epoch %d hook", epoch)
			}
		}
	}
	t.enter(PhaseDone)
	return nil
}

func (t *Trainer) runEpoch(parent context.Context, src dataset.Source, epoch int) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	batches, dataErr := src.Epoch(ctx, epoch)
	for index := 0; ; index++ {
		startData := time.Now()
		var (
			batch dataset.Batch
			ok    bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok = <-batches:
		}
		if !ok {
			break
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		res, err := t.TrainStep(epoch, index, batch)
		if err != nil {
			return err
		}
		if res.Skipped {
			continue
		}
		t.window.Record(batch.Len(), dataTime, time.Since(startCompute), res.DiscLoss, res.GenLoss)

		if index%t.opts.LogInterval == 0 {
			deliver(t.c.Reporter, Report{
				RunID:      t.opts.RunID,
				Epoch:      epoch,
				Step:       index,
				GlobalStep: t.globalStep,
				DiscLoss:   res.DiscLoss,
				GenLoss:    res.GenLoss,
				Stats:      t.window.Snapshot(),
			})
		}
	}
	if err, ok := <-dataErr; ok && err != nil {
		return errors.Wrapf(err, "epoch %d data", epoch)
	}
	return nil
}

// TrainStep performs one adversarial step on batch: a discriminator update
// on real and detached fake samples followed by a generator update through
// the freshly updated discriminator. Empty batches are skipped. Non-finite
// outputs, losses and gradients are reported before the optimizer step they
// would feed.
func (t *Trainer) TrainStep(epoch, index int, batch dataset.Batch) (StepResult, error) {
	if batch.Empty() {
		return StepResult{Skipped: true}, nil
	}
	if err := batch.Validate(); err != nil {
		return StepResult{}, errors.Wrapf(err, "epoch %d step %d", epoch, index)
	}
	n := batch.Len()

	// GEN_FORWARD
	t.enter(PhaseGenForward)
	realCond, err := t.c.Conditioner.ConditionBatch(batch.Labels)
	if err != nil {
		return StepResult{}, errors.Wrapf(err, "epoch %d step %d", epoch, index)
	}
	fakeCond := realCond
	if t.opts.LabelPolicy == UniformLabels {
		labels := generatorLabels(t.opts.LabelPolicy, batch.Labels, t.c.Conditioner.Classes(), t.labels)
		if fakeCond, err = t.c.Conditioner.ConditionBatch(labels); err != nil {
			return StepResult{}, errors.Wrapf(err, "epoch %d step %d", epoch, index)
		}
	}
	fake, err := t.generate(epoch, index, n, fakeCond)
	if err != nil {
		return StepResult{}, err
	}

	// DISC_UPDATE
	t.enter(PhaseDiscUpdate)
	t.c.Discriminator.ZeroGrad()
	realBatch := nn.Constant(batch.Matrix())
	realScore, err := t.score(epoch, index, realBatch, realCond, "disc_real_score")
	if err != nil {
		return StepResult{}, err
	}
	fakeScore, err := t.score(epoch, index, nn.Detach(fake).Variable(), fakeCond, "disc_fake_score")
	if err != nil {
		return StepResult{}, err
	}
	lossReal, gradReal := BCE(realScore.Value, 1)
	lossFake, gradFake := BCE(fakeScore.Value, 0)
	discLoss := lossReal + lossFake
	if !finite(discLoss) {
		return StepResult{}, errs.Divergence("disc_loss", epoch, index, discLoss)
	}
	if err := realScore.Backward(gradReal); err != nil {
		return StepResult{}, errors.Wrap(err, "discriminator backward")
	}
	if err := fakeScore.Backward(gradFake); err != nil {
		return StepResult{}, errors.Wrap(err, "discriminator backward")
	}
	if err := checkGrads(t.c.Discriminator.Parameters(), epoch, index); err != nil {
		return StepResult{}, err
	}
	if err := t.c.DiscriminatorOptimizer.Step(); err != nil {
		return StepResult{}, errors.Wrap(err, "discriminator step")
	}

	// GEN_UPDATE
	t.enter(PhaseGenUpdate)
	if t.opts.RegenerateFakes {
		if fake, err = t.generate(epoch, index, n, fakeCond); err != nil {
			return StepResult{}, err
		}
	}
	t.c.Generator.ZeroGrad()
	genScore, err := t.score(epoch, index, fake, fakeCond, "gen_score")
	if err != nil {
		return StepResult{}, err
	}
	genLoss, gradGen := BCE(genScore.Value, 1)
	if !finite(genLoss) {
		return StepResult{}, errs.Divergence("gen_loss", epoch, index, genLoss)
	}
	if err := genScore.Backward(gradGen); err != nil {
		return StepResult{}, errors.Wrap(err, "generator backward")
	}
	if err := checkGrads(t.c.Generator.Parameters(), epoch, index); err != nil {
		return StepResult{}, err
	}
	if err := t.c.GeneratorOptimizer.Step(); err != nil {
		return StepResult{}, errors.Wrap(err, "generator step")
	}

	t.globalStep++
	t.enter(PhaseIdle)
	return StepResult{DiscLoss: discLoss, GenLoss: genLoss}, nil
}

func (t *Trainer) generate(epoch, index, n int, cond *mat.Dense) (nn.Variable, error) {
	z, err := t.c.Noise.Sample(n, t.opts.LatentDim)
	if err != nil {
		return nn.Variable{}, errors.Wrapf(err, "epoch %d step %d", epoch, index)
	}
	fake, err := t.c.Generator.Forward(nn.Constant(z), cond)
	if err != nil {
		return nn.Variable{}, errors.Wrapf(err, "epoch %d step %d: generator", epoch, index)
	}
	if v, ok := firstNonFinite(fake.Value); !ok {
		return nn.Variable{}, errs.Divergence("generator_output", epoch, index, v)
	}
	return fake, nil
}

func (t *Trainer) score(epoch, index int, x nn.Variable, cond *mat.Dense, quantity string) (nn.Variable, error) {
	s, err := t.c.Discriminator.Forward(x, cond)
	if err != nil {
		return nn.Variable{}, errors.Wrapf(err, "epoch %d step %d: discriminator", epoch, index)
	}
	want, _ := x.Dims()
	if rows, _ := s.Dims(); rows != want {
		return nn.Variable{}, errs.ShapeMismatch(quantity+" rows", want, rows)
	}
	if v, ok := firstNonFinite(s.Value); !ok {
		return nn.Variable{}, errs.Divergence(quantity, epoch, index, v)
	}
	return s, nil
}

func checkGrads(params []*nn.Parameter, epoch, index int) error {
	for _, p := range params {
		if v, ok := firstNonFinite(p.Grad); !ok {
			return errs.Divergence(p.Name+".grad", epoch, index, v)
		}
	}
	return nil
}

// firstNonFinite returns the first NaN or Inf in m and false, or (0, true)
// when every value is finite.
func firstNonFinite(m *mat.Dense) (float64, bool) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		for _, v := range m.RawRowView(i) {
			if !finite(v) {
				return v, false
			}
		}
	}
	return 0, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
