// Package backbone provides feature extractors that feed the
// classification pipeline with multi-scale token features.
package backbone

import (
	"fmt"
	"math"

	"github.com/driftworks/pimnet/nn"
	"github.com/driftworks/pimnet/pim"
	"github.com/driftworks/pimnet/tensor"
)

// SmallConv is a lightweight patch-embedding backbone. Each scale pools
// the input image into a square token grid and embeds every pooled patch
// with a learned linear map. Coarser scales use fewer tokens, mimicking
// the shrinking spatial grids of a convolutional feature hierarchy.
type SmallConv struct {
	scales     []pim.ScaleShape
	inChannels int
	embeds     []*nn.Linear
	pretrained bool
	training   bool
}

// NewSmallConv builds a backbone for the given scales. Every scale's token
// count must be a perfect square so it maps onto a pooling grid.
func NewSmallConv(inChannels int, scales []pim.ScaleShape) (*SmallConv, error) {
	if inChannels <= 0 {
		return nil, fmt.Errorf("input channels must be positive, got %d", inChannels)
	}
	if len(scales) == 0 {
		return nil, fmt.Errorf("backbone needs at least one scale")
	}

	b := &SmallConv{
		scales:     append([]pim.ScaleShape{}, scales...),
		inChannels: inChannels,
		training:   true,
	}
	for _, s := range scales {
		if grid := int(math.Sqrt(float64(s.Tokens))); grid*grid != s.Tokens {
			return nil, fmt.Errorf("scale %q: token count %d is not a perfect square", s.Name, s.Tokens)
		}
		embed, err := nn.NewLinear(inChannels, s.Channels, true)
		if err != nil {
			return nil, fmt.Errorf("embedding for scale %q: %w", s.Name, err)
		}
		b.embeds = append(b.embeds, embed)
	}
	return b, nil
}

// Scales returns the output scale shapes.
func (b *SmallConv) Scales() []pim.ScaleShape {
	return append([]pim.ScaleShape{}, b.scales...)
}

// MarkPretrained flags the backbone as carrying pretrained weights, which
// moves its parameters into the finetune optimizer groups.
func (b *SmallConv) MarkPretrained() { b.pretrained = true }

// FinetuneHint reports whether the backbone parameters should be treated
// as pretrained during optimizer group construction.
func (b *SmallConv) FinetuneHint() bool { return b.pretrained }

// Forward maps [batch, channels, height, width] images to one token
// feature tensor per scale.
func (b *SmallConv) Forward(x *tensor.Tensor) (*pim.FeatureMaps, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("expected [batch, channels, height, width], got %v", x.Shape)
	}
	if x.Shape[1] != b.inChannels {
		return nil, fmt.Errorf("expected %d input channels, got %d", b.inChannels, x.Shape[1])
	}

	out := pim.NewFeatureMaps()
	for i, s := range b.scales {
		grid := int(math.Sqrt(float64(s.Tokens)))
		patches, err := poolToGrid(x, grid)
		if err != nil {
			return nil, fmt.Errorf("scale %q: %w", s.Name, err)
		}
		feat, err := b.embeds[i].Forward(patches)
		if err != nil {
			return nil, fmt.Errorf("scale %q: %w", s.Name, err)
		}
		out.Set(s.Name, feat)
	}
	return out, nil
}

// poolToGrid average-pools [batch, channels, height, width] into a
// grid x grid cell layout, returning [batch, grid*grid, channels].
func poolToGrid(x *tensor.Tensor, grid int) (*tensor.Tensor, error) {
	batch, channels, height, width := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	if height%grid != 0 || width%grid != 0 {
		return nil, fmt.Errorf("image %dx%d does not divide into a %dx%d grid", height, width, grid, grid)
	}
	cellH, cellW := height/grid, width/grid

	data, err := x.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	out := make([]float32, batch*grid*grid*channels)
	cellArea := float32(cellH * cellW)

	for bi := 0; bi < batch; bi++ {
		for gy := 0; gy < grid; gy++ {
			for gx := 0; gx < grid; gx++ {
				token := gy*grid + gx
				for c := 0; c < channels; c++ {
					var sum float32
					base := (bi*channels + c) * height * width
					for dy := 0; dy < cellH; dy++ {
						row := base + (gy*cellH+dy)*width + gx*cellW
						for dx := 0; dx < cellW; dx++ {
							sum += data[row+dx]
						}
					}
					out[(bi*grid*grid+token)*channels+c] = sum / cellArea
				}
			}
		}
	}
	return tensor.NewTensor([]int{batch, grid * grid, channels}, tensor.Float32, out)
}

func (b *SmallConv) Parameters() []*tensor.Tensor {
	return nn.CollectParameters(b)
}

func (b *SmallConv) DirectParams() []nn.NamedParam { return nil }

func (b *SmallConv) Children() []nn.NamedChild {
	var children []nn.NamedChild
	for i, s := range b.scales {
		children = append(children, nn.NamedChild{Name: "embed_" + s.Name, Node: b.embeds[i]})
	}
	return children
}

func (b *SmallConv) Train() {
	b.training = true
	for _, e := range b.embeds {
		e.Train()
	}
}

func (b *SmallConv) Eval() {
	b.training = false
	for _, e := range b.embeds {
		e.Eval()
	}
}

func (b *SmallConv) IsTraining() bool { return b.training }
