package codec

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Rows returns the number of rows of m, 0 for a nil tensor.
func Rows(m *mat.Dense) int {
	if m == nil {
		return 0
	}
	r, _ := m.Dims()
	return r
}

// StackRows concatenates tensors along the batch dimension, preserving
// argument order. Nil parts are skipped; if every part is nil the result is nil.
func StackRows(parts ...*mat.Dense) (*mat.Dense, error) {
	rows, cols := 0, -1
	for i, p := range parts {
		if p == nil {
			continue
		}
		r, c := p.Dims()
		if cols >= 0 && c != cols {
			return nil, errors.Wrapf(ErrWidthMismatch, "part %d has width %d, expected %d", i, c, cols)
		}
		cols = c
		rows += r
	}
	if rows == 0 {
		return nil, nil
	}

	result := mat.NewDense(rows, cols, nil)
	offset := 0
	for _, p := range parts {
		if p == nil {
			continue
		}
		r, _ := p.Dims()
		result.Slice(offset, offset+r, 0, cols).(*mat.Dense).Copy(p)
		offset += r
	}
	return result, nil
}
