// Package trainer wires a validated config into a conditional GAN training
// run: device, models, optimizers, data source, reporters and per-epoch
// checkpoint and preview hooks.
package trainer

import (
	"context"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"cgan-forge/internal/checkpoint"
	"cgan-forge/internal/config"
	"cgan-forge/internal/dataset"
	"cgan-forge/internal/device"
	"cgan-forge/internal/errs"
	"cgan-forge/internal/gan"
	"cgan-forge/internal/model"
	"cgan-forge/internal/nn"
	"cgan-forge/internal/optim"
	"cgan-forge/internal/report"
)

// Every random stream is derived from the configured seed with a fixed
// offset so adding a consumer never shifts the others.
const (
	noiseSeedOffset   = 1
	labelSeedOffset   = 2
	previewSeedOffset = 3
)

// Result summarises a finished run.
type Result struct {
	RunID       string
	Epochs      int
	GlobalSteps int
}

// Run executes the training workload described by cfg. Extra reporters
// receive every progress record alongside the log line.
func Run(ctx context.Context, cfg *config.Config, extra ...gan.Reporter) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	res := Result{RunID: uuid.NewString()}

	dev, err := device.Select(cfg.Device)
	if err != nil {
		return res, err
	}
	workers := dev.Workers(cfg.NumWorkers)
	log.Printf("run_id=%s %s workers=%d", res.RunID, dev, workers)

	gen, disc, err := model.New(cfg.ModelType, model.Spec{
		LatentDim:  cfg.LatentDim,
		ImageShape: cfg.ImageShape,
		NumClasses: cfg.NumClasses,
		GenHidden:  cfg.GenHidden,
		DiscHidden: cfg.DiscHidden,
		Seed:       cfg.Seed,
	})
	if err != nil {
		return res, err
	}
	log.Printf("model=%s gen_params=%d disc_params=%d", cfg.ModelType,
		nn.CountParameters(gen.Parameters()), nn.CountParameters(disc.Parameters()))

	optCfg := optim.Config{
		Name:         cfg.Optimizer,
		LearningRate: cfg.LR,
		Beta1:        cfg.Beta1,
		Beta2:        cfg.Beta2,
		Momentum:     cfg.Momentum,
	}
	genOpt, err := optim.New(optCfg, gen.Parameters())
	if err != nil {
		return res, errs.Configuration("optimizer", "%v", err)
	}
	discOpt, err := optim.New(optCfg, disc.Parameters())
	if err != nil {
		return res, errs.Configuration("optimizer", "%v", err)
	}

	noise, err := gan.NewNoiseSampler(gan.Distribution(cfg.Noise), cfg.Seed+noiseSeedOffset)
	if err != nil {
		return res, err
	}
	cond, err := gan.NewOneHot(cfg.NumClasses)
	if err != nil {
		return res, err
	}

	src, err := buildSource(cfg, workers)
	if err != nil {
		return res, err
	}

	reporters := report.Multi{report.Log{}}
	if cfg.ReportDB != "" {
		db, err := report.OpenSQLite(cfg.ReportDB)
		if err != nil {
			return res, err
		}
		defer db.Close()
		reporters = append(reporters, db)
	}
	reporters = append(reporters, extra...)

	tr, err := gan.New(gan.Components{
		Generator:              gen,
		Discriminator:          disc,
		GeneratorOptimizer:     genOpt,
		DiscriminatorOptimizer: discOpt,
		Noise:                  noise,
		Conditioner:            cond,
		Reporter:               reporters,
	}, gan.Options{
		RunID:           res.RunID,
		LatentDim:       cfg.LatentDim,
		LogInterval:     cfg.LogInterval,
		LabelPolicy:     gan.LabelPolicy(cfg.LabelPolicy),
		LabelSeed:       cfg.Seed + labelSeedOffset,
		RegenerateFakes: cfg.RegenerateFakes,
	})
	if err != nil {
		return res, err
	}

	nets := checkpoint.Networks{
		Generator:              gen,
		Discriminator:          disc,
		GeneratorOptimizer:     genOpt,
		DiscriminatorOptimizer: discOpt,
	}
	start := 0
	if cfg.Resume {
		if start, err = resume(cfg.CheckpointDir, nets, tr); err != nil {
			return res, err
		}
	}
	if cfg.CheckpointDir != "" {
		format, err := checkpoint.ParseFormat(cfg.CheckpointFormat)
		if err != nil {
			return res, err
		}
		tr.AfterEpoch(checkpointHook(cfg.CheckpointDir, format, cfg.ModelType, nets))
	}
	if cfg.SampleDir != "" {
		previewNoise, err := gan.NewNoiseSampler(gan.Distribution(cfg.Noise), cfg.Seed+previewSeedOffset)
		if err != nil {
			return res, err
		}
		z, err := previewNoise.Sample(cfg.NumClasses, cfg.LatentDim)
		if err != nil {
			return res, err
		}
		tr.AfterEpoch(previewHook(cfg.SampleDir, cfg.ImageShape, z))
	}

	log.Printf("training epochs=%d start_epoch=%d batch_size=%d lr=%g label_policy=%s noise=%s",
		cfg.Epochs, start, cfg.BatchSize, cfg.LR, cfg.LabelPolicy, noise.Distribution())
	err = tr.Train(ctx, src, start, cfg.Epochs)
	res.Epochs = cfg.Epochs
	res.GlobalSteps = tr.GlobalStep()
	if err != nil {
		return res, err
	}
	log.Printf("run_id=%s done global_steps=%d", res.RunID, res.GlobalSteps)
	return res, nil
}

func buildSource(cfg *config.Config, workers int) (dataset.Source, error) {
	opts := dataset.LoaderOptions{
		BatchSize:  cfg.BatchSize,
		NumWorkers: workers,
		Shuffle:    cfg.ShuffleEnabled(),
		Seed:       cfg.Seed,
	}
	switch cfg.Dataset {
	case "mnist":
		if !sameShape(dataset.MNISTShape, cfg.ImageShape) {
			return nil, errs.Configuration("image_shape", "mnist images are %v, config says %v", dataset.MNISTShape, cfg.ImageShape)
		}
		ds, err := dataset.LoadMNIST(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		if !sameShape(ds.ImageShape(), cfg.ImageShape) {
			return nil, errs.Configuration("image_shape", "mnist images are %v, config says %v", ds.ImageShape(), cfg.ImageShape)
		}
		log.Printf("dataset=mnist samples=%d", ds.Len())
		return dataset.NewLoader(ds, opts)
	case "shards":
		src, err := dataset.NewShardSource(dataset.ShardOptions{
			Roots:      strings.Split(cfg.DataDir, ","),
			ImageShape: cfg.ImageShape,
			BatchSize:  cfg.BatchSize,
			NumWorkers: workers,
			Seed:       cfg.Seed,
		})
		if err != nil {
			return nil, err
		}
		log.Printf("dataset=shards roots=%s", cfg.DataDir)
		return src, nil
	default:
		ds, err := dataset.NewSynthetic(cfg.SyntheticSize, cfg.ImageShape, cfg.NumClasses, cfg.Seed)
		if err != nil {
			return nil, err
		}
		log.Printf("dataset=synthetic samples=%d", ds.Len())
		return dataset.NewLoader(ds, opts)
	}
}

func sameShape(a, b []int) bool {
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

func resume(dir string, nets checkpoint.Networks, tr *gan.Trainer) (int, error) {
	path, err := checkpoint.Latest(dir)
	if err != nil {
		return 0, err
	}
	if path == "" {
		log.Printf("resume: no checkpoint under %s, starting fresh", dir)
		return 0, nil
	}
	ck, err := checkpoint.Load(path)
	if err != nil {
		return 0, err
	}
	if err := ck.Apply(nets); err != nil {
		return 0, errors.Wrapf(err, "resume from %s", path)
	}
	state := ck.TrainingState
	tr.Resume(state.Epoch+1, state.GlobalStep)
	log.Printf("resumed path=%s epoch=%d global_step=%d", path, state.Epoch, state.GlobalStep)
	return state.Epoch + 1, nil
}

func checkpointHook(dir string, format checkpoint.Format, modelType string, nets checkpoint.Networks) gan.EpochHook {
	return func(_ context.Context, t *gan.Trainer, epoch int) error {
		ck := checkpoint.Capture(checkpoint.TrainingState{
			Epoch:      epoch,
			GlobalStep: t.GlobalStep(),
			RunID:      t.Options().RunID,
			ModelType:  modelType,
		}, nets)
		path := checkpoint.Path(dir, epoch, format)
		if err := checkpoint.Save(path, ck); err != nil {
			return err
		}
		log.Printf("checkpoint epoch=%d path=%s", epoch, path)
		return nil
	}
}
