package io

import (
	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"gonum.org/v1/gonum/mat"
)

// DefaultSeed seeds the shuffling of a new DataSet.
const DefaultSeed = 42

// DataSet iterates over the rows of a Pair in batches.
type DataSet struct {
	Data         Pair
	BatchSize    int
	Rand         *rand.LockedRand
	currentOrder []int
	currentIndex int
}

type DatasetOrder int

const (
	OriginalOrder DatasetOrder = iota
	RandomOrder
)

func NewDataSet(data Pair, batchSize int) *DataSet {
	ds := &DataSet{Data: data, BatchSize: batchSize, Rand: rand.NewLockedRand(DefaultSeed)}
	ds.ResetOrder(OriginalOrder)
	return ds
}

func (d *DataSet) ResetOrder(order DatasetOrder) {
	if d.currentOrder == nil {
		d.currentOrder = make([]int, d.Size())
	}
	switch order {
	case OriginalOrder:
		for i := range d.currentOrder {
			d.currentOrder[i] = i
		}
	case RandomOrder:
		copy(d.currentOrder, d.Rand.Perm(len(d.currentOrder)))
	}
	d.currentIndex = 0
}

func (d *DataSet) Size() int {
	return d.Data.Size()
}

// Next returns the next batch, or an empty Pair once every row has been returned.
func (d *DataSet) Next() Pair {
	end := d.currentIndex + d.BatchSize
	if end > len(d.currentOrder) {
		end = len(d.currentOrder)
	}
	indices := d.currentOrder[d.currentIndex:end]
	d.currentIndex = end
	if len(indices) == 0 {
		return Pair{}
	}
	return Pair{
		Inputs: selectRows(d.Data.Inputs, indices),
		Labels: selectRows(d.Data.Labels, indices),
	}
}

// Batches returns all the remaining batches.
func (d *DataSet) Batches() []Pair {
	var result []Pair
	for batch := d.Next(); batch.Size() > 0; batch = d.Next() {
		result = append(result, batch)
	}
	return result
}

func selectRows(m *mat.Dense, indices []int) *mat.Dense {
	if m == nil {
		return nil
	}
	_, cols := m.Dims()
	result := mat.NewDense(len(indices), cols, nil)
	for i, index := range indices {
		result.SetRow(i, m.RawRowView(index))
	}
	return result
}
