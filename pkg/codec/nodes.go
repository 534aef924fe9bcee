package codec

import (
	"affectmtl/pkg/model"

	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/pkg/errors"
)

// SplitPredictionNodes splits combined prediction vectors into AU, EXPR and VA
// views. Gradients flow back into the combined vectors.
func (c *Codec) SplitPredictionNodes(g *ag.Graph, xs []ag.Node) (model.TaskNodes, error) {
	if len(xs) == 0 {
		return nil, errors.Wrap(ErrWidthMismatch, "no prediction vectors")
	}
	result := model.TaskNodes{}
	for _, t := range model.Tasks {
		result[t] = make([]ag.Node, len(xs))
	}
	width := c.PredictionWidth()
	for i, x := range xs {
		if size := x.Value().Size(); size != width {
			return nil, errors.Wrapf(ErrWidthMismatch, "prediction vector %d has %d values, expected %d", i, size, width)
		}
		result[model.AU][i] = g.View(x, 0, 0, c.numAU, 1)
		result[model.EXPR][i] = g.View(x, c.numAU, 0, c.numEXPR, 1)
		result[model.VA][i] = g.View(x, width-model.VADim, 0, model.VADim, 1)
	}
	return result, nil
}
