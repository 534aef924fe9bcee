// Package codec converts between combined label/prediction tensors and
// per-task tensor blocks.
//
// A combined tensor concatenates task blocks column-wise in the fixed order
// AU, EXPR, VA. Label tensors only carry the blocks of the tasks they are
// annotated for, and which tasks those are is recovered from the tensor
// width alone. Prediction tensors always carry all three blocks, with the
// EXPR block holding one logit per class instead of a class index.
package codec

import (
	"math"
	"strings"

	"affectmtl/pkg/model"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrUnknownWidth           = errors.New("label width matches no known task composition")
	ErrWidthMismatch          = errors.New("tensor width mismatch")
	ErrUnsupportedComposition = errors.New("unsupported task composition")
	ErrInvalidLabel           = errors.New("invalid label value")
	ErrAmbiguousWidths        = errors.New("task compositions share a label width")
)

// Composition is the set of tasks a label tensor is annotated for.
type Composition struct {
	AU, EXPR, VA bool
}

var (
	ExprOnly = Composition{EXPR: true}
	AUOnly   = Composition{AU: true}
	VAOnly   = Composition{VA: true}
	AUVA     = Composition{AU: true, VA: true}
	AUExprVA = Composition{AU: true, EXPR: true, VA: true}
)

func Of(tasks ...model.Task) Composition {
	var c Composition
	for _, t := range tasks {
		switch t {
		case model.AU:
			c.AU = true
		case model.EXPR:
			c.EXPR = true
		case model.VA:
			c.VA = true
		}
	}
	return c
}

func (c Composition) Has(t model.Task) bool {
	switch t {
	case model.AU:
		return c.AU
	case model.EXPR:
		return c.EXPR
	case model.VA:
		return c.VA
	}
	return false
}

// Tasks returns the tasks of the composition in column order.
func (c Composition) Tasks() []model.Task {
	var result []model.Task
	for _, t := range model.Tasks {
		if c.Has(t) {
			result = append(result, t)
		}
	}
	return result
}

// Single returns the only task of a one-task composition.
func (c Composition) Single() (model.Task, bool) {
	tasks := c.Tasks()
	if len(tasks) != 1 {
		return 0, false
	}
	return tasks[0], true
}

func (c Composition) String() string {
	tasks := c.Tasks()
	if len(tasks) == 0 {
		return "none"
	}
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.String()
	}
	return strings.Join(names, "+")
}

// WidthRule associates a label width to the composition it encodes.
type WidthRule struct {
	Width       int
	Composition Composition
}

// Codec encodes and decodes combined tensors for a fixed AU and expression vocabulary.
type Codec struct {
	numAU   int
	numEXPR int
	table   []WidthRule
}

func New(meta *model.Metadata) (*Codec, error) {
	c := &Codec{numAU: meta.NumAU(), numEXPR: meta.NumEmotions()}
	if c.numAU == 0 || c.numEXPR == 0 {
		return nil, errors.New("codec needs at least one AU and one expression class")
	}
	for _, comp := range []Composition{ExprOnly, AUOnly, VAOnly, AUVA, AUExprVA} {
		width := c.Width(comp)
		for _, rule := range c.table {
			if rule.Width == width {
				return nil, errors.Wrapf(ErrAmbiguousWidths, "%s and %s both have width %d", rule.Composition, comp, width)
			}
		}
		c.table = append(c.table, WidthRule{Width: width, Composition: comp})
	}
	return c, nil
}

// Width is the label width of the composition.
func (c *Codec) Width(comp Composition) int {
	width := 0
	if comp.AU {
		width += c.numAU
	}
	if comp.EXPR {
		width++
	}
	if comp.VA {
		width += model.VADim
	}
	return width
}

// PredictionWidth is the width of a combined prediction tensor.
func (c *Codec) PredictionWidth() int {
	return c.numAU + c.numEXPR + model.VADim
}

// Classify returns the composition encoded by a label width.
func (c *Codec) Classify(width int) (Composition, error) {
	for _, rule := range c.table {
		if rule.Width == width {
			return rule.Composition, nil
		}
	}
	return Composition{}, errors.Wrapf(ErrUnknownWidth, "width %d", width)
}

// SplitLabels decodes a jointly labeled tensor into its task blocks. Only the
// AU+VA and AU+EXPR+VA compositions are supported, and y must have exactly the
// width of wants.
func (c *Codec) SplitLabels(y *mat.Dense, wants Composition) (model.TaskTensors, error) {
	if wants != AUVA && wants != AUExprVA {
		return nil, errors.Wrapf(ErrUnsupportedComposition, "cannot split labels into %s", wants)
	}
	if y == nil {
		return nil, errors.Wrap(ErrWidthMismatch, "empty label tensor")
	}
	rows, cols := y.Dims()
	if cols != c.Width(wants) {
		return nil, errors.Wrapf(ErrWidthMismatch, "%s labels need width %d, got %d", wants, c.Width(wants), cols)
	}

	result := model.TaskTensors{}
	result[model.AU] = mat.DenseCopyOf(y.Slice(0, rows, 0, c.numAU))
	offset := c.numAU
	if wants.EXPR {
		expr, err := c.classIndices(y.ColView(offset))
		if err != nil {
			return nil, err
		}
		result[model.EXPR] = expr
		offset++
	}
	result[model.VA] = mat.DenseCopyOf(y.Slice(0, rows, offset, offset+model.VADim))
	return result, nil
}

func (c *Codec) classIndices(column mat.Vector) (*mat.Dense, error) {
	n := column.Len()
	result := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		v := column.AtVec(i)
		class := math.Trunc(v)
		if class != v || class < 0 || int(class) >= c.numEXPR {
			return nil, errors.Wrapf(ErrInvalidLabel, "expression label %v at row %d is not a class index in [0,%d)", v, i, c.numEXPR)
		}
		result.Set(i, 0, class)
	}
	return result, nil
}

// SplitPredictions decodes a combined prediction tensor into AU, EXPR and VA blocks.
func (c *Codec) SplitPredictions(p *mat.Dense) (model.TaskTensors, error) {
	if p == nil {
		return nil, errors.Wrap(ErrWidthMismatch, "empty prediction tensor")
	}
	rows, cols := p.Dims()
	if cols != c.PredictionWidth() {
		return nil, errors.Wrapf(ErrWidthMismatch, "predictions need width %d, got %d", c.PredictionWidth(), cols)
	}
	return model.TaskTensors{
		model.AU:   mat.DenseCopyOf(p.Slice(0, rows, 0, c.numAU)),
		model.EXPR: mat.DenseCopyOf(p.Slice(0, rows, c.numAU, c.numAU+c.numEXPR)),
		model.VA:   mat.DenseCopyOf(p.Slice(0, rows, cols-model.VADim, cols)),
	}, nil
}

// JoinLabels is the inverse of SplitLabels: it concatenates the label blocks
// of comp in column order.
func (c *Codec) JoinLabels(blocks model.TaskTensors, comp Composition) (*mat.Dense, error) {
	tasks := comp.Tasks()
	if len(tasks) == 0 {
		return nil, errors.Wrap(ErrUnsupportedComposition, "empty composition")
	}
	rows := -1
	for _, t := range tasks {
		block, ok := blocks[t]
		if !ok || block == nil {
			return nil, errors.Wrapf(ErrWidthMismatch, "missing %s block", t)
		}
		r, cols := block.Dims()
		if cols != c.Width(Of(t)) {
			return nil, errors.Wrapf(ErrWidthMismatch, "%s block needs width %d, got %d", t, c.Width(Of(t)), cols)
		}
		if rows >= 0 && r != rows {
			return nil, errors.Wrapf(ErrWidthMismatch, "%s block has %d rows, expected %d", t, r, rows)
		}
		rows = r
	}

	result := mat.NewDense(rows, c.Width(comp), nil)
	offset := 0
	for _, t := range tasks {
		block := blocks[t]
		_, cols := block.Dims()
		result.Slice(0, rows, offset, offset+cols).(*mat.Dense).Copy(block)
		offset += cols
	}
	return result, nil
}
