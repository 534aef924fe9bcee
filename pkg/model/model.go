package model

import (
	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Output is the result of one forward pass over a batch.
type Output struct {
	// Predictions holds one combined AU,EXPR,VA prediction vector per row
	Predictions []ag.Node

	// Embeddings holds, per task, the vectors consumed by the metric-learning loss
	Embeddings TaskNodes
}

// Forwarder runs the network on a batch of inputs.
type Forwarder interface {
	Forward(g *ag.Graph, x *mat.Dense) (Output, error)
}

// Backbone extracts a flat feature map from a batch of inputs.
type Backbone interface {
	Features(g *ag.Graph, x *mat.Dense) (features []ag.Node, width, height int, err error)
}

// IdentityBackbone passes precomputed features through unchanged.
type IdentityBackbone struct{}

func (IdentityBackbone) Features(g *ag.Graph, x *mat.Dense) ([]ag.Node, int, int, error) {
	_, c := x.Dims()
	return Nodes(g, x), c, 1, nil
}

var (
	_ nn.Model     = &MultitaskHead{}
	_ nn.Processor = &MultitaskHeadProcessor{}
	_ Forwarder    = &MultitaskHead{}
)

type HeadConfig struct {
	FeatureDim int
	MetricDim  int
}

// MultitaskHead projects backbone features into one embedding per task and
// applies a linear classifier on top of each embedding. Layers are indexed
// by Task.
type MultitaskHead struct {
	HeadConfig
	Backbone Backbone
	Metadata *Metadata

	Projections []*linear.Model
	Classifiers []*linear.Model
}

func NewMultitaskHead(backbone Backbone, meta *Metadata, config HeadConfig) *MultitaskHead {
	h := &MultitaskHead{
		HeadConfig:  config,
		Backbone:    backbone,
		Metadata:    meta,
		Projections: make([]*linear.Model, NumTasks),
		Classifiers: make([]*linear.Model, NumTasks),
	}
	for _, t := range Tasks {
		h.Projections[t] = linear.New(config.FeatureDim, config.MetricDim)
		h.Classifiers[t] = linear.New(config.MetricDim, meta.OutputWidth(t))
	}
	return h
}

func (h *MultitaskHead) Init(generator *rand.LockedRand) {
	gain := initializers.Gain(ag.OpIdentity)
	for _, t := range Tasks {
		initializers.XavierUniform(h.Projections[t].W.Value(), gain, generator)
	}
	initializers.XavierUniform(h.Classifiers[AU].W.Value(), initializers.Gain(ag.OpSigmoid), generator)
	initializers.XavierUniform(h.Classifiers[EXPR].W.Value(), gain, generator)
	initializers.XavierUniform(h.Classifiers[VA].W.Value(), gain, generator)
}

type MultitaskHeadProcessor struct {
	nn.BaseProcessor
	model      *MultitaskHead
	projection []nn.Processor
	classifier []nn.Processor

	Embeddings TaskNodes // computed by forward
}

func (h *MultitaskHead) NewProc(g *ag.Graph) nn.Processor {
	p := &MultitaskHeadProcessor{
		BaseProcessor: nn.BaseProcessor{
			Model:             h,
			Mode:              nn.Training,
			Graph:             g,
			FullSeqProcessing: false,
		},
		model:      h,
		projection: make([]nn.Processor, NumTasks),
		classifier: make([]nn.Processor, NumTasks),
	}
	for _, t := range Tasks {
		p.projection[t] = h.Projections[t].NewProc(g)
		p.classifier[t] = h.Classifiers[t].NewProc(g)
	}
	return p
}

func (p *MultitaskHeadProcessor) SetMode(mode nn.ProcessingMode) {
	p.Mode = mode
	nn.SetProcessingMode(mode, p.projection...)
	nn.SetProcessingMode(mode, p.classifier...)
}

// Forward returns the combined prediction vector of every feature vector.
func (p *MultitaskHeadProcessor) Forward(xs ...ag.Node) []ag.Node {
	g := p.Graph
	p.Embeddings = TaskNodes{}
	logits := make([][]ag.Node, NumTasks)
	for _, t := range Tasks {
		p.Embeddings[t] = p.projection[t].Forward(xs...)
		logits[t] = p.classifier[t].Forward(p.Embeddings[t]...)
	}
	predictions := make([]ag.Node, len(xs))
	for i := range xs {
		predictions[i] = g.Concat(logits[AU][i], logits[EXPR][i], logits[VA][i])
	}
	return predictions
}

func (h *MultitaskHead) Forward(g *ag.Graph, x *mat.Dense) (Output, error) {
	features, width, height, err := h.Backbone.Features(g, x)
	if err != nil {
		return Output{}, errors.Wrap(err, "backbone forward failed")
	}
	if width*height != h.FeatureDim {
		return Output{}, errors.Errorf("backbone produced %d features (%dx%d), head expects %d", width*height, width, height, h.FeatureDim)
	}
	for i, f := range features {
		if f.Value().Size() != h.FeatureDim {
			return Output{}, errors.Errorf("feature vector %d has %d values, head expects %d", i, f.Value().Size(), h.FeatureDim)
		}
	}
	proc := h.NewProc(g).(*MultitaskHeadProcessor)
	predictions := proc.Forward(features...)
	return Output{Predictions: predictions, Embeddings: proc.Embeddings}, nil
}
