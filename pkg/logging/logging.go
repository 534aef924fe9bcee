// Package logging provides sinks for the named scalars emitted during
// training and validation.
package logging

import (
	"github.com/rs/zerolog"
)

// Sink receives one named scalar per call.
type Sink interface {
	Log(key string, value float64)
}

// Zerolog writes every scalar as an info event.
type Zerolog struct {
	Logger zerolog.Logger
}

func (z Zerolog) Log(key string, value float64) {
	z.Logger.Info().Str("key", key).Float64("value", value).Msg("")
}

// Recorder keeps every scalar in memory, in emission order.
type Recorder struct {
	Keys   []string
	Values map[string]float64
}

func NewRecorder() *Recorder {
	return &Recorder{Values: map[string]float64{}}
}

func (r *Recorder) Log(key string, value float64) {
	if _, ok := r.Values[key]; !ok {
		r.Keys = append(r.Keys, key)
	}
	r.Values[key] = value
}

func (r *Recorder) Has(key string) bool {
	_, ok := r.Values[key]
	return ok
}

// Tee forwards each scalar to every sink.
type Tee []Sink

func (t Tee) Log(key string, value float64) {
	for _, s := range t {
		s.Log(key, value)
	}
}
