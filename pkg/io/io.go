package io

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"

	"affectmtl/pkg/model"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/mat"
)

// Pair is a batch of inputs with their combined labels. In prediction dumps
// Inputs holds the combined predictions instead.
type Pair struct {
	Inputs *mat.Dense
	Labels *mat.Dense
}

func (p Pair) Size() int {
	if p.Labels == nil {
		return 0
	}
	r, _ := p.Labels.Dims()
	return r
}

// Batch is one training step worth of data.
type Batch struct {
	// Single holds one single-task labeled pair per task, indexed by model.Task
	Single [model.NumTasks]Pair

	// Multiple holds jointly labeled pairs in declared order: AU+VA, then AU+EXPR+VA
	Multiple []Pair
}

type DataError struct {
	Line  int
	Error string
}

type TableParameters struct {
	DataFile string

	// InputWidth is the number of leading columns holding inputs; the remaining columns are labels
	InputWidth int
}

// LoadTable reads a CSV file with a header line and splits its columns into inputs and labels.
// Lines with non numeric values are skipped and reported as DataError.
func LoadTable(p TableParameters) (Pair, []DataError, error) {
	inputFile, err := os.Open(p.DataFile)
	if err != nil {
		return Pair{}, nil, fmt.Errorf("error opening file: %w", err)
	}
	defer inputFile.Close()
	return ReadTable(inputFile, p.InputWidth)
}

func ReadTable(r io.Reader, inputWidth int) (Pair, []DataError, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.Float))
	if df.Err != nil {
		return Pair{}, nil, fmt.Errorf("error reading data: %w", df.Err)
	}
	rows, cols := df.Dims()
	if inputWidth < 0 || inputWidth >= cols {
		return Pair{}, nil, fmt.Errorf("input width %d leaves no label column in %d columns", inputWidth, cols)
	}

	var errors []DataError
	var inputs, labels []float64
	valid := 0
	for i := 0; i < rows; i++ {
		record := make([]float64, cols)
		badColumn := -1
		for j := range record {
			record[j] = df.Elem(i, j).Float()
			if math.IsNaN(record[j]) && badColumn < 0 {
				badColumn = j
			}
		}
		if badColumn >= 0 {
			errors = append(errors, DataError{
				Line:  i + 2,
				Error: fmt.Sprintf("non numeric value in column %s", df.Names()[badColumn]),
			})
			continue
		}
		inputs = append(inputs, record[:inputWidth]...)
		labels = append(labels, record[inputWidth:]...)
		valid++
	}

	if valid == 0 {
		return Pair{}, errors, nil
	}
	result := Pair{Labels: mat.NewDense(valid, cols-inputWidth, labels)}
	if inputWidth > 0 {
		result.Inputs = mat.NewDense(valid, inputWidth, inputs)
	}
	return result, errors, nil
}

// Report is the persisted outcome of a validation run.
type Report struct {
	RunID   string
	Keys    []string
	Metrics map[string]float64
	Total   float64
}

func SaveReport(report *Report, writer io.Writer) error {
	encoder := gob.NewEncoder(writer)
	err := encoder.Encode(report)
	if err != nil {
		return fmt.Errorf("error encoding report: %w", err)
	}
	return nil
}

func LoadReport(input io.Reader) (*Report, error) {
	decoder := gob.NewDecoder(input)
	report := Report{}
	err := decoder.Decode(&report)
	if err != nil {
		return nil, fmt.Errorf("error decoding report: %w", err)
	}
	return &report, nil
}
