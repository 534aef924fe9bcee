package model

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LossConfig selects the default loss functions for each task.
type LossConfig struct {
	// VA is the VA classification loss: "mse" or "ccc"
	VA string `yaml:"va"`

	// MetricTasks lists the tasks that also get a triplet margin loss on their embeddings
	MetricTasks []string `yaml:"metric_tasks"`

	MetricMargin float64 `yaml:"metric_margin"`
}

// Config is the task configuration file.
type Config struct {
	AUNames      []string   `yaml:"au_names"`
	EmotionNames []string   `yaml:"emotion_names"`
	Tasks        []string   `yaml:"tasks"`
	Losses       LossConfig `yaml:"losses"`
}

func DefaultConfig() *Config {
	return &Config{
		AUNames:      append([]string(nil), DefaultAUNames...),
		EmotionNames: append([]string(nil), DefaultEmotionNames...),
		Tasks:        []string{AU.String(), EXPR.String(), VA.String()},
		Losses: LossConfig{
			VA:           "ccc",
			MetricMargin: 0.2,
		},
	}
}

// LoadConfig reads a YAML task configuration. Missing fields keep their defaults.
func LoadConfig(r io.Reader) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.NewDecoder(r).Decode(config); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "error decoding task configuration")
	}
	return config, nil
}

// LoadConfigFile reads the configuration at path, or returns the default one when path is empty.
func LoadConfigFile(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening task configuration %s", path)
	}
	defer f.Close()
	return LoadConfig(f)
}

func (c *Config) Metadata() (*Metadata, error) {
	if len(c.AUNames) == 0 || len(c.EmotionNames) == 0 {
		return nil, errors.New("task configuration needs AU and emotion names")
	}
	tasks, err := ParseTasks(c.Tasks)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, errors.New("task configuration enables no task")
	}
	return NewMetadata(c.AUNames, c.EmotionNames, tasks...), nil
}

func ParseTasks(names []string) ([]Task, error) {
	result := make([]Task, 0, len(names))
	for _, name := range names {
		t, err := ParseTask(name)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}
