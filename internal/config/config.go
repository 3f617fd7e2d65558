package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"cgan-forge/internal/errs"
	"cgan-forge/internal/model"
)

const (
	defaultLogInterval   = 50
	defaultClasses       = 10
	defaultSyntheticSize = 1024
	defaultBeta1         = 0.5
	defaultBeta2         = 0.999
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Seed        int64   `json:"seed" yaml:"seed"`
	LR          float64 `json:"lr" yaml:"lr"`
	LogInterval int     `json:"log_interval" yaml:"log_interval"`
	LatentDim   int     `json:"latent_dim" yaml:"latent_dim"`
	ImageShape  []int   `json:"image_shape" yaml:"image_shape"`
	BatchSize   int     `json:"batch_size" yaml:"batch_size"`
	NumWorkers  int     `json:"num_workers" yaml:"num_workers"`
	Epochs      int     `json:"epochs" yaml:"epochs"`
	ModelType   string  `json:"model_type" yaml:"model_type"`

	NumClasses      int    `json:"n_classes,omitempty" yaml:"n_classes,omitempty"`
	LabelPolicy     string `json:"label_policy,omitempty" yaml:"label_policy,omitempty"`
	Noise           string `json:"noise,omitempty" yaml:"noise,omitempty"`
	RegenerateFakes bool   `json:"regenerate_fakes,omitempty" yaml:"regenerate_fakes,omitempty"`
	GenHidden       []int  `json:"gen_hidden,omitempty" yaml:"gen_hidden,omitempty"`
	DiscHidden      []int  `json:"disc_hidden,omitempty" yaml:"disc_hidden,omitempty"`

	Optimizer string  `json:"optimizer,omitempty" yaml:"optimizer,omitempty"`
	Beta1     float64 `json:"beta1,omitempty" yaml:"beta1,omitempty"`
	Beta2     float64 `json:"beta2,omitempty" yaml:"beta2,omitempty"`
	Momentum  float64 `json:"momentum,omitempty" yaml:"momentum,omitempty"`

	Device        string `json:"device,omitempty" yaml:"device,omitempty"`
	Dataset       string `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	DataDir       string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	SyntheticSize int    `json:"synthetic_size,omitempty" yaml:"synthetic_size,omitempty"`
	Shuffle       *bool  `json:"shuffle,omitempty" yaml:"shuffle,omitempty"`

	CheckpointDir    string `json:"checkpoint_dir,omitempty" yaml:"checkpoint_dir,omitempty"`
	CheckpointFormat string `json:"checkpoint_format,omitempty" yaml:"checkpoint_format,omitempty"`
	Resume           bool   `json:"resume,omitempty" yaml:"resume,omitempty"`
	ReportDB         string `json:"report_db,omitempty" yaml:"report_db,omitempty"`
	SampleDir        string `json:"sample_dir,omitempty" yaml:"sample_dir,omitempty"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Epochs      int
	BatchSize   int
	NumWorkers  int
	Seed        int64
	LogInterval int
	LR          float64
	ModelType   string
	DataDir     string
}

// Load reads a Config from a .json, .yaml or .yml file. Unknown keys are
// rejected. The result still has to pass Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogInterval > 0 {
		c.LogInterval = o.LogInterval
	}
	if o.LR > 0 {
		c.LR = o.LR
	}
	if o.ModelType != "" {
		c.ModelType = o.ModelType
	}
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
}

// ShuffleEnabled reports whether the data source should shuffle each epoch.
func (c *Config) ShuffleEnabled() bool {
	return c.Shuffle == nil || *c.Shuffle
}

// Validate verifies the config is runnable and fills defaults. Every
// failure is a *errs.ConfigurationError.
func (c *Config) Validate() error {
	if c == nil {
		return errs.Configuration("", "config is nil")
	}
	if c.ModelType == "" {
		return errs.Configuration("model_type", "is required")
	}
	if !model.Known(c.ModelType) {
		return errs.Configuration("model_type", "unknown model type %q (known: %s)", c.ModelType, strings.Join(model.Types(), ", "))
	}
	if c.LatentDim <= 0 {
		return errs.Configuration("latent_dim", "must be > 0 (got %d)", c.LatentDim)
	}
	if len(c.ImageShape) == 0 {
		return errs.Configuration("image_shape", "is required")
	}
	for _, d := range c.ImageShape {
		if d <= 0 {
			return errs.Configuration("image_shape", "dimensions must be > 0 (got %v)", c.ImageShape)
		}
	}
	if c.BatchSize <= 0 {
		return errs.Configuration("batch_size", "must be > 0 (got %d)", c.BatchSize)
	}
	if c.Epochs <= 0 {
		return errs.Configuration("epochs", "must be > 0 (got %d)", c.Epochs)
	}
	if c.LR <= 0 {
		return errs.Configuration("lr", "must be > 0 (got %g)", c.LR)
	}
	if c.NumWorkers < 0 {
		return errs.Configuration("num_workers", "must be >= 0 (got %d)", c.NumWorkers)
	}
	if c.LogInterval < 0 {
		return errs.Configuration("log_interval", "must be >= 0 (got %d)", c.LogInterval)
	}
	if c.LogInterval == 0 {
		c.LogInterval = defaultLogInterval
	}
	if c.NumClasses < 0 {
		return errs.Configuration("n_classes", "must be > 0 (got %d)", c.NumClasses)
	}
	if c.NumClasses == 0 {
		c.NumClasses = defaultClasses
	}

	if err := oneOf("label_policy", &c.LabelPolicy, "real", "uniform"); err != nil {
		return err
	}
	if err := oneOf("noise", &c.Noise, "normal", "uniform"); err != nil {
		return err
	}
	if err := oneOf("optimizer", &c.Optimizer, "adam", "sgd"); err != nil {
		return err
	}
	if err := oneOf("device", &c.Device, "auto", "cpu"); err != nil {
		return err
	}
	if err := oneOf("dataset", &c.Dataset, "synthetic", "mnist", "shards"); err != nil {
		return err
	}
	if err := oneOf("checkpoint_format", &c.CheckpointFormat, "json", "binary"); err != nil {
		return err
	}

	if c.Beta1 == 0 {
		c.Beta1 = defaultBeta1
	}
	if c.Beta2 == 0 {
		c.Beta2 = defaultBeta2
	}
	if c.Beta1 < 0 || c.Beta1 >= 1 {
		return errs.Configuration("beta1", "must be in [0, 1) (got %g)", c.Beta1)
	}
	if c.Beta2 < 0 || c.Beta2 >= 1 {
		return errs.Configuration("beta2", "must be in [0, 1) (got %g)", c.Beta2)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return errs.Configuration("momentum", "must be in [0, 1) (got %g)", c.Momentum)
	}

	switch c.Dataset {
	case "synthetic":
		if c.SyntheticSize < 0 {
			return errs.Configuration("synthetic_size", "must be > 0 (got %d)", c.SyntheticSize)
		}
		if c.SyntheticSize == 0 {
			c.SyntheticSize = defaultSyntheticSize
		}
	case "mnist", "shards":
		if c.DataDir == "" {
			return errs.Configuration("data_dir", "is required for dataset %q", c.Dataset)
		}
	}
	if c.Resume && c.CheckpointDir == "" {
		return errs.Configuration("resume", "requires checkpoint_dir")
	}
	return nil
}

// oneOf lower-cases *value, defaults it to the first allowed entry when
// empty and rejects anything else.
func oneOf(option string, value *string, allowed ...string) error {
	v := strings.ToLower(strings.TrimSpace(*value))
	if v == "" {
		*value = allowed[0]
		return nil
	}
	for _, a := range allowed {
		if v == a {
			*value = v
			return nil
		}
	}
	return errs.Configuration(option, "unknown value %q (allowed: %s)", *value, strings.Join(allowed, ", "))
}
