package pim

import (
	"fmt"

	"github.com/driftworks/pimnet/nn"
	"github.com/driftworks/pimnet/tensor"
)

// tokensPerJoint groups the pooled selection into graph nodes.
const tokensPerJoint = 32

// Combiner fuses the selected tokens of all scales through a small learned
// graph. The concatenated selection is pooled down to joints, a data-driven
// adjacency modulates a learned base adjacency, and graph convolution plus
// pooling produce the combined prediction.
type Combiner struct {
	totalTokens int
	channels    int
	joints      int

	pool0      *nn.Linear
	convQ      *nn.Conv1D
	convK      *nn.Conv1D
	conv1      *nn.Conv1D
	adj        *tensor.Tensor
	alpha      *tensor.Tensor
	norm       *nn.BatchNorm1D
	pool1      *nn.Linear
	dropout    *nn.Dropout
	classifier *nn.Linear
	training   bool
}

// NewCombiner builds a combiner over totalTokens selected tokens of
// channels width. totalTokens must be a positive multiple of 32 and
// channels a multiple of 4.
func NewCombiner(totalTokens, channels, numClasses int, dropRate float64) (*Combiner, error) {
	if totalTokens < tokensPerJoint || totalTokens%tokensPerJoint != 0 {
		return nil, fmt.Errorf("total selected tokens must be a positive multiple of %d, got %d", tokensPerJoint, totalTokens)
	}
	if channels%4 != 0 {
		return nil, fmt.Errorf("channel width must be a multiple of 4, got %d", channels)
	}
	joints := totalTokens / tokensPerJoint

	pool0, err := nn.NewLinear(totalTokens, joints, true)
	if err != nil {
		return nil, fmt.Errorf("joint pooling: %w", err)
	}
	convQ, err := nn.NewConv1D(channels, channels/4, true)
	if err != nil {
		return nil, fmt.Errorf("query projection: %w", err)
	}
	convK, err := nn.NewConv1D(channels, channels/4, true)
	if err != nil {
		return nil, fmt.Errorf("key projection: %w", err)
	}
	conv1, err := nn.NewConv1D(channels, channels, true)
	if err != nil {
		return nil, fmt.Errorf("graph convolution: %w", err)
	}

	// Base adjacency starts near-uniform with a slightly stronger self loop.
	eye, err := tensor.Eye(joints)
	if err != nil {
		return nil, err
	}
	adjData, err := eye.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	for i := range adjData {
		adjData[i] = (adjData[i] + 1) / 100
	}
	adj, err := tensor.NewTensor([]int{joints, joints}, tensor.Float32, adjData)
	if err != nil {
		return nil, err
	}
	adj.SetRequiresGrad(true)

	alpha, err := tensor.Zeros([]int{1}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	alpha.SetRequiresGrad(true)

	norm, err := nn.NewBatchNorm1D(channels)
	if err != nil {
		return nil, err
	}
	pool1, err := nn.NewLinear(joints, 1, true)
	if err != nil {
		return nil, fmt.Errorf("final pooling: %w", err)
	}
	dropout, err := nn.NewDropout(dropRate)
	if err != nil {
		return nil, err
	}
	classifier, err := nn.NewLinear(channels, numClasses, true)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	return &Combiner{
		totalTokens: totalTokens,
		channels:    channels,
		joints:      joints,
		pool0:       pool0,
		convQ:       convQ,
		convK:       convK,
		conv1:       conv1,
		adj:         adj,
		alpha:       alpha,
		norm:        norm,
		pool1:       pool1,
		dropout:     dropout,
		classifier:  classifier,
		training:    true,
	}, nil
}

// Forward combines the per-scale selected features into [batch, numClasses]
// logits. Scales are concatenated in their stored order.
func (c *Combiner) Forward(selected *FeatureMaps) (*tensor.Tensor, error) {
	names := selected.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("no selected features")
	}
	parts := make([]*tensor.Tensor, 0, len(names))
	for _, name := range names {
		t, _ := selected.Get(name)
		if len(t.Shape) != 3 || t.Shape[2] != c.channels {
			return nil, fmt.Errorf("scale %q: expected [batch tokens %d], got %v", name, c.channels, t.Shape)
		}
		parts = append(parts, t)
	}

	all, err := tensor.ConcatAutograd(parts, 1)
	if err != nil {
		return nil, fmt.Errorf("concatenating selections: %w", err)
	}
	if all.Shape[1] != c.totalTokens {
		return nil, fmt.Errorf("expected %d selected tokens, got %d", c.totalTokens, all.Shape[1])
	}
	batch := all.Shape[0]

	// [batch, tokens, channels] -> [batch, channels, tokens] -> joints.
	hs, err := tensor.TransposeAutograd(all, 1, 2)
	if err != nil {
		return nil, err
	}
	hs, err = c.pool0.Forward(hs)
	if err != nil {
		return nil, fmt.Errorf("joint pooling: %w", err)
	}

	q, err := c.convQ.Forward(hs)
	if err != nil {
		return nil, fmt.Errorf("query projection: %w", err)
	}
	q, err = tensor.MeanAutograd(q, 1)
	if err != nil {
		return nil, err
	}
	k, err := c.convK.Forward(hs)
	if err != nil {
		return nil, fmt.Errorf("key projection: %w", err)
	}
	k, err = tensor.MeanAutograd(k, 1)
	if err != nil {
		return nil, err
	}

	adjacency, err := c.dynamicAdjacency(q, k, batch)
	if err != nil {
		return nil, err
	}

	graphed, err := c.conv1.Forward(hs)
	if err != nil {
		return nil, fmt.Errorf("graph convolution: %w", err)
	}
	graphed, err = tensor.BatchMatMulAutograd(graphed, adjacency)
	if err != nil {
		return nil, err
	}
	graphed, err = c.norm.Forward(graphed)
	if err != nil {
		return nil, fmt.Errorf("normalization: %w", err)
	}

	pooled, err := c.pool1.Forward(graphed)
	if err != nil {
		return nil, fmt.Errorf("final pooling: %w", err)
	}
	pooled, err = c.dropout.Forward(pooled)
	if err != nil {
		return nil, err
	}
	flat, err := tensor.ReshapeAutograd(pooled, []int{batch, c.channels})
	if err != nil {
		return nil, err
	}
	return c.classifier.Forward(flat)
}

// dynamicAdjacency builds A[i][j] = adj[i][j] + tanh(q[i] - k[j]) * alpha
// per batch item, broadcasting q down the rows and k across the columns.
func (c *Combiner) dynamicAdjacency(q, k *tensor.Tensor, batch int) (*tensor.Tensor, error) {
	qCol, err := tensor.ReshapeAutograd(q, []int{batch, c.joints, 1})
	if err != nil {
		return nil, err
	}
	kRow, err := tensor.ReshapeAutograd(k, []int{batch, 1, c.joints})
	if err != nil {
		return nil, err
	}
	diff, err := tensor.SubAutograd(qCol, kRow)
	if err != nil {
		return nil, err
	}
	gated, err := tensor.TanhAutograd(diff)
	if err != nil {
		return nil, err
	}
	scaled, err := tensor.MulAutograd(gated, c.alpha)
	if err != nil {
		return nil, err
	}
	return tensor.AddAutograd(scaled, c.adj)
}

// Joints returns the graph node count.
func (c *Combiner) Joints() int { return c.joints }

func (c *Combiner) Parameters() []*tensor.Tensor {
	return nn.CollectParameters(c)
}

func (c *Combiner) DirectParams() []nn.NamedParam {
	return []nn.NamedParam{
		{Name: "adjacency", Tensor: c.adj},
		{Name: "alpha", Tensor: c.alpha},
	}
}

func (c *Combiner) Children() []nn.NamedChild {
	return []nn.NamedChild{
		{Name: "pool0", Node: c.pool0},
		{Name: "conv_q", Node: c.convQ},
		{Name: "conv_k", Node: c.convK},
		{Name: "conv1", Node: c.conv1},
		{Name: "norm", Node: c.norm},
		{Name: "pool1", Node: c.pool1},
		{Name: "classifier", Node: c.classifier},
	}
}

func (c *Combiner) Train() {
	c.training = true
	c.norm.Train()
	c.dropout.Train()
}

func (c *Combiner) Eval() {
	c.training = false
	c.norm.Eval()
	c.dropout.Eval()
}

func (c *Combiner) IsTraining() bool { return c.training }
