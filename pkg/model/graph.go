package model

import (
	spagomat "github.com/nlpodyssey/spago/pkg/mat"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"gonum.org/v1/gonum/mat"
)

// TaskNodes holds, per task, one graph node per batch row.
type TaskNodes map[Task][]ag.Node

// Nodes puts every row of m on the graph as a constant column vector.
func Nodes(g *ag.Graph, m *mat.Dense) []ag.Node {
	if m == nil {
		return nil
	}
	rows, _ := m.Dims()
	xs := make([]ag.Node, rows)
	for i := range xs {
		row := append([]float64(nil), m.RawRowView(i)...)
		xs[i] = g.NewVariable(spagomat.NewVecDense(row), false)
	}
	return xs
}

// Values copies the values of the column vectors xs into the rows of a
// matrix. It returns nil when xs is empty. Call it before the graph is
// cleared.
func Values(xs []ag.Node) *mat.Dense {
	if len(xs) == 0 {
		return nil
	}
	cols := xs[0].Value().Size()
	result := mat.NewDense(len(xs), cols, nil)
	for i, x := range xs {
		result.SetRow(i, x.Value().Data())
	}
	return result
}
