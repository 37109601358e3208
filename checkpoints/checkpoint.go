// Package checkpoints serializes model weights to JSON and restores them,
// including partial restores from checkpoints whose architecture only
// partly matches the target model.
package checkpoints

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/driftworks/pimnet/nn"
	"github.com/driftworks/pimnet/tensor"
)

// WeightTensor is one named parameter in serialized form.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Checkpoint is the on-disk model snapshot.
type Checkpoint struct {
	ModelName  string         `json:"model_name"`
	Epoch      int            `json:"epoch"`
	GlobalStep int            `json:"global_step"`
	SavedAt    time.Time      `json:"saved_at"`
	Weights    []WeightTensor `json:"weights"`
}

// Capture snapshots every parameter of the model tree.
func Capture(modelName string, epoch, globalStep int, model nn.ParamNode) (*Checkpoint, error) {
	ckpt := &Checkpoint{
		ModelName:  modelName,
		Epoch:      epoch,
		GlobalStep: globalStep,
		SavedAt:    time.Now().UTC(),
	}
	for _, p := range nn.NamedParameters(model) {
		data, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		ckpt.Weights = append(ckpt.Weights, WeightTensor{
			Name:  p.Name,
			Shape: append([]int{}, p.Tensor.Shape...),
			Data:  append([]float32{}, data...),
		})
	}
	return ckpt, nil
}

// Save writes the checkpoint as JSON.
func (c *Checkpoint) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	return nil
}

// SaveFile writes the checkpoint to path, replacing any existing file.
func (c *Checkpoint) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating checkpoint file: %w", err)
	}
	defer f.Close()
	if err := c.Save(f); err != nil {
		return err
	}
	return f.Close()
}

// Load reads a JSON checkpoint.
func Load(r io.Reader) (*Checkpoint, error) {
	var ckpt Checkpoint
	if err := json.NewDecoder(r).Decode(&ckpt); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &ckpt, nil
}

// LoadFile reads a checkpoint from path.
func LoadFile(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// LoadReport describes the outcome of a non-strict restore.
type LoadReport struct {
	Loaded              []string // parameters restored from the checkpoint
	SkippedShape        []string // present in both but with mismatched shapes
	MissingInCheckpoint []string // model parameters the checkpoint lacks
	UnusedInCheckpoint  []string // checkpoint weights with no model parameter
}

// Apply restores checkpoint weights into the model non-strictly: weights
// whose shape no longer matches the model are skipped and reported, as are
// names present on only one side. The restore succeeds as long as copying
// the compatible weights does.
func (c *Checkpoint) Apply(model nn.ParamNode) (*LoadReport, error) {
	saved := make(map[string]WeightTensor, len(c.Weights))
	for _, w := range c.Weights {
		saved[w.Name] = w
	}

	report := &LoadReport{}
	seen := make(map[string]bool)
	for _, p := range nn.NamedParameters(model) {
		seen[p.Name] = true
		w, ok := saved[p.Name]
		if !ok {
			report.MissingInCheckpoint = append(report.MissingInCheckpoint, p.Name)
			continue
		}
		if !sameShape(w.Shape, p.Tensor.Shape) {
			report.SkippedShape = append(report.SkippedShape,
				fmt.Sprintf("%s: checkpoint %v vs model %v", p.Name, w.Shape, p.Tensor.Shape))
			continue
		}
		if p.Tensor.DType != tensor.Float32 {
			return nil, fmt.Errorf("parameter %q: unsupported dtype %s", p.Name, p.Tensor.DType)
		}
		dst, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		if len(dst) != len(w.Data) {
			return nil, fmt.Errorf("parameter %q: %d values for shape %v", p.Name, len(w.Data), w.Shape)
		}
		copy(dst, w.Data)
		report.Loaded = append(report.Loaded, p.Name)
	}

	for _, w := range c.Weights {
		if !seen[w.Name] {
			report.UnusedInCheckpoint = append(report.UnusedInCheckpoint, w.Name)
		}
	}
	return report, nil
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
