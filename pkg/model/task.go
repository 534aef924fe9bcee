package model

import (
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Task identifies one of the supervised affect signals.
type Task int

const (
	// AU is multi-label Action Unit detection.
	AU Task = iota
	// EXPR is single-label expression classification.
	EXPR
	// VA is valence/arousal regression.
	VA

	NumTasks = 3
)

// VADim is the width of the VA block: valence then arousal.
const VADim = 2

// UnknownExpression is the EXPR class index reserved for "other".
const UnknownExpression = 7

// Tasks lists all tasks in canonical column order.
var Tasks = []Task{AU, EXPR, VA}

var ErrUnknownTask = errors.New("unknown task")

func (t Task) String() string {
	switch t {
	case AU:
		return "AU"
	case EXPR:
		return "EXPR"
	case VA:
		return "VA"
	}
	return "Task(?)"
}

func ParseTask(name string) (Task, error) {
	for _, t := range Tasks {
		if strings.EqualFold(t.String(), name) {
			return t, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownTask, "%q", name)
}

// TaskTensors holds one tensor block per task. Rows are samples.
type TaskTensors map[Task]*mat.Dense
