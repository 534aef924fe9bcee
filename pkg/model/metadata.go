package model

// NameMap implements a bidirectional mapping between a name and an index
type NameMap struct {
	NameToIndex map[string]int
	IndexToName map[int]string
}

func (f NameMap) Set(name string, index int) {
	f.NameToIndex[name] = index
	f.IndexToName[index] = name
}

func (f NameMap) Size() int {
	return len(f.IndexToName)
}

func (f NameMap) ContainsName(name string) (int, bool) {
	index, ok := f.NameToIndex[name]
	return index, ok
}

// Names returns the names ordered by index.
func (f NameMap) Names() []string {
	result := make([]string, f.Size())
	for i := range result {
		result[i] = f.IndexToName[i]
	}
	return result
}

func NewNameMap(names ...string) NameMap {
	m := NameMap{
		NameToIndex: map[string]int{},
		IndexToName: map[int]string{},
	}
	for i, name := range names {
		m.Set(name, i)
	}
	return m
}

// DefaultAUNames are the Action Units annotated in the deployment datasets.
var DefaultAUNames = []string{"AU1", "AU2", "AU4", "AU6", "AU7", "AU10", "AU12", "AU15", "AU23", "AU24", "AU25", "AU26"}

// DefaultEmotionNames are the expression classes; index 7 is UnknownExpression.
var DefaultEmotionNames = []string{"Neutral", "Anger", "Disgust", "Fear", "Happiness", "Sadness", "Surprise", "Other"}

type Metadata struct {
	// AUNames maps each Action Unit to its column in the AU block
	AUNames NameMap

	// EmotionNames maps each expression class to its index
	EmotionNames NameMap

	// Tasks are the tasks supervised during training, in canonical order
	Tasks []Task
}

func NewMetadata(auNames, emotionNames []string, tasks ...Task) *Metadata {
	if len(tasks) == 0 {
		tasks = Tasks
	}
	return &Metadata{
		AUNames:      NewNameMap(auNames...),
		EmotionNames: NewNameMap(emotionNames...),
		Tasks:        canonicalOrder(tasks),
	}
}

func NewDefaultMetadata() *Metadata {
	return NewMetadata(DefaultAUNames, DefaultEmotionNames)
}

func (d *Metadata) NumAU() int {
	return d.AUNames.Size()
}

func (d *Metadata) NumEmotions() int {
	return d.EmotionNames.Size()
}

// PredictionWidth is the width of a combined AU,EXPR,VA prediction tensor.
func (d *Metadata) PredictionWidth() int {
	return d.NumAU() + d.NumEmotions() + VADim
}

// OutputWidth is the number of prediction columns of a single task.
func (d *Metadata) OutputWidth(t Task) int {
	switch t {
	case AU:
		return d.NumAU()
	case EXPR:
		return d.NumEmotions()
	}
	return VADim
}

func canonicalOrder(tasks []Task) []Task {
	seen := map[Task]bool{}
	for _, t := range tasks {
		seen[t] = true
	}
	result := make([]Task, 0, len(seen))
	for _, t := range Tasks {
		if seen[t] {
			result = append(result, t)
		}
	}
	return result
}
