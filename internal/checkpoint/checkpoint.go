// Package checkpoint snapshots and restores a training run: both networks,
// both optimizers and the epoch/step counters.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"cgan-forge/internal/errs"
	"cgan-forge/internal/nn"
	"cgan-forge/internal/optim"
)

// Format selects the on-disk encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Extension returns the file suffix written for f.
func (f Format) Extension() string {
	if f == FormatBinary {
		return ".ckpt"
	}
	return ".json"
}

// ParseFormat maps a configured name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return FormatJSON, nil
	case "binary", "ckpt":
		return FormatBinary, nil
	default:
		return 0, errs.Configuration("checkpoint_format", "unknown format %q", name)
	}
}

// Tensor is one named parameter matrix.
type Tensor struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// TrainingState is where the run stood when the snapshot was taken.
type TrainingState struct {
	// Epoch is the last completed epoch.
	Epoch      int    `json:"epoch"`
	GlobalStep int    `json:"global_step"`
	RunID      string `json:"run_id"`
	ModelType  string `json:"model_type"`
	SavedAt    int64  `json:"saved_at_unix"`
}

// Checkpoint is a complete resumable snapshot.
type Checkpoint struct {
	TrainingState          TrainingState `json:"training_state"`
	Generator              []Tensor      `json:"generator"`
	Discriminator          []Tensor      `json:"discriminator"`
	GeneratorOptimizer     optim.State   `json:"generator_optimizer"`
	DiscriminatorOptimizer optim.State   `json:"discriminator_optimizer"`
}

// Networks groups what a checkpoint captures and restores.
type Networks struct {
	Generator              nn.Network
	Discriminator          nn.Network
	GeneratorOptimizer     optim.Optimizer
	DiscriminatorOptimizer optim.Optimizer
}

// Capture copies the current state of n.
func Capture(state TrainingState, n Networks) *Checkpoint {
	if state.SavedAt == 0 {
		state.SavedAt = time.Now().Unix()
	}
	return &Checkpoint{
		TrainingState:          state,
		Generator:              tensorsOf(n.Generator.Parameters()),
		Discriminator:          tensorsOf(n.Discriminator.Parameters()),
		GeneratorOptimizer:     n.GeneratorOptimizer.State(),
		DiscriminatorOptimizer: n.DiscriminatorOptimizer.State(),
	}
}

// Apply restores the parameters and optimizer buffers held by c into n.
// Parameter names and shapes must match exactly. On error n is left as it
// was before the call.
func (c *Checkpoint) Apply(n Networks) error {
	if err := check("generator", n.Generator.Parameters(), c.Generator); err != nil {
		return err
	}
	if err := check("discriminator", n.Discriminator.Parameters(), c.Discriminator); err != nil {
		return err
	}
	prev := Capture(c.TrainingState, n)
	if err := c.load(n); err != nil {
		if rerr := prev.load(n); rerr != nil {
			return errors.Wrapf(err, "rollback failed: %v", rerr)
		}
		return err
	}
	return nil
}

func (c *Checkpoint) load(n Networks) error {
	copyInto(n.Generator.Parameters(), c.Generator)
	copyInto(n.Discriminator.Parameters(), c.Discriminator)
	if err := n.GeneratorOptimizer.LoadState(c.GeneratorOptimizer); err != nil {
		return errors.Wrap(err, "restore generator optimizer")
	}
	if err := n.DiscriminatorOptimizer.LoadState(c.DiscriminatorOptimizer); err != nil {
		return errors.Wrap(err, "restore discriminator optimizer")
	}
	return nil
}

func tensorsOf(params []*nn.Parameter) []Tensor {
	out := make([]Tensor, len(params))
	for i, p := range params {
		r, c := p.Value.Dims()
		data := make([]float64, 0, r*c)
		for row := 0; row < r; row++ {
			data = append(data, p.Value.RawRowView(row)...)
		}
		out[i] = Tensor{Name: p.Name, Rows: r, Cols: c, Data: data}
	}
	return out
}

func check(network string, params []*nn.Parameter, tensors []Tensor) error {
	if len(params) != len(tensors) {
		return errs.ShapeMismatch(network+" parameter count", len(params), len(tensors))
	}
	for i, p := range params {
		t := tensors[i]
		if t.Name != p.Name {
			return errors.Errorf("checkpoint: %s parameter %d is %q, want %q", network, i, t.Name, p.Name)
		}
		r, c := p.Value.Dims()
		if t.Rows != r || t.Cols != c || len(t.Data) != r*c {
			return errs.ShapeMismatch(p.Name, r*c, len(t.Data))
		}
	}
	return nil
}

func copyInto(params []*nn.Parameter, tensors []Tensor) {
	for i, p := range params {
		r, c := p.Value.Dims()
		for row := 0; row < r; row++ {
			copy(p.Value.RawRowView(row), tensors[i].Data[row*c:(row+1)*c])
		}
	}
}

// Save writes c to path, choosing the encoding from the file extension.
func Save(path string, c *Checkpoint) error {
	var (
		data []byte
		err  error
	)
	if formatOf(path) == FormatBinary {
		data = marshalBinary(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encode checkpoint")
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create checkpoint dir")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write checkpoint")
	}
	return errors.Wrap(os.Rename(tmp, path), "commit checkpoint")
}

// Load reads a checkpoint written by Save.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read checkpoint")
	}
	if formatOf(path) == FormatBinary {
		c, err := unmarshalBinary(data)
		return c, errors.Wrapf(err, "decode checkpoint %s", path)
	}
	c := &Checkpoint{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", path)
	}
	return c, nil
}

// Path returns the file name for epoch inside dir.
func Path(dir string, epoch int, f Format) string {
	return filepath.Join(dir, fmt.Sprintf("epoch-%06d%s", epoch, f.Extension()))
}

// Latest returns the newest checkpoint in dir, or "" when there is none.
func Latest(dir string) (string, error) {
	var latest string
	for _, pattern := range []string{"epoch-*.json", "epoch-*.ckpt"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return "", errors.Wrap(err, "list checkpoints")
		}
		for _, m := range matches {
			if latest == "" || strings.TrimSuffix(filepath.Base(m), filepath.Ext(m)) > strings.TrimSuffix(filepath.Base(latest), filepath.Ext(latest)) {
				latest = m
			}
		}
	}
	return latest, nil
}

func formatOf(path string) Format {
	if filepath.Ext(path) == ".ckpt" {
		return FormatBinary
	}
	return FormatJSON
}
