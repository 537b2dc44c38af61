package retrain

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/cierra-ai/cierra/internal/models"
	"github.com/cierra-ai/cierra/internal/tracking"
)

// Gradient descent defaults. The windows are small, so plain full-batch
// epochs with a fixed step converge fast enough.
const (
	DefaultEpochs       = 40
	DefaultLearningRate = 0.1
	DefaultL2           = 1e-3
)

// GradientTrainer refits an artifact's sparse linear weights with logistic
// regression gradient steps, warm-started from the incumbent. Each label is
// fit independently against its truth column, so the same trainer serves the
// multi-label tag models, the binary conversion model, and the action model.
type GradientTrainer struct {
	Epochs       int     // passes over the window; 0 means DefaultEpochs
	LearningRate float64 // step size; 0 means DefaultLearningRate
	L2           float64 // weight decay; negative disables, 0 means DefaultL2
}

var _ Trainer = GradientTrainer{}

// Train returns a refit copy of base. The incumbent is not modified.
func (t GradientTrainer) Train(base *models.Artifact, samples []tracking.TrainingSample) (*models.Artifact, error) {
	if base == nil || len(base.Labels) == 0 {
		return nil, errors.New("retrain: incumbent has no labels")
	}
	if len(samples) == 0 {
		return nil, errors.New("retrain: no training samples")
	}
	epochs := t.Epochs
	if epochs <= 0 {
		epochs = DefaultEpochs
	}
	lr := t.LearningRate
	if lr <= 0 {
		lr = DefaultLearningRate
	}
	l2 := t.L2
	if l2 == 0 {
		l2 = DefaultL2
	}
	decay := 1 - lr*l2
	if decay <= 0 || decay > 1 {
		decay = 1
	}

	// Dense layout over the sorted union of incumbent and window features,
	// so refits on the same window are reproducible.
	names := featureNames(base, samples)
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}

	weights := make(map[string][]float64, len(base.Labels))
	bias := make(map[string]float64, len(base.Labels))
	for _, label := range base.Labels {
		vec := make([]float64, len(names))
		for name, v := range base.Weights[label] {
			vec[index[name]] = v
		}
		weights[label] = vec
		bias[label] = base.Bias[label]
	}

	x := make([]float64, len(names))
	for epoch := 0; epoch < epochs; epoch++ {
		for _, s := range samples {
			denseInto(x, s.Features, index)
			for _, label := range base.Labels {
				vec := weights[label]
				p := sigmoid(floats.Dot(vec, x) + bias[label])
				g := p - truthValue(s.Truth[label])
				if decay != 1 {
					floats.Scale(decay, vec)
				}
				floats.AddScaled(vec, -lr*g, x)
				bias[label] -= lr * g
			}
		}
	}

	out := &models.Artifact{
		ModelID: base.ModelID,
		Labels:  append([]string(nil), base.Labels...),
		Weights: make(map[string]map[string]float64, len(base.Labels)),
		Bias:    make(map[string]float64, len(base.Labels)),
	}
	for _, label := range base.Labels {
		sparse := make(map[string]float64)
		for i, name := range names {
			if v := weights[label][i]; v != 0 {
				sparse[name] = v
			}
		}
		out.Weights[label] = sparse
		out.Bias[label] = bias[label]
	}
	return out, nil
}

// featureNames collects the union of incumbent weight features and window
// features in sorted order.
func featureNames(base *models.Artifact, samples []tracking.TrainingSample) []string {
	set := make(map[string]struct{})
	for _, per := range base.Weights {
		for name := range per {
			set[name] = struct{}{}
		}
	}
	for _, s := range samples {
		for name := range s.Features {
			set[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func denseInto(dst []float64, features map[string]float64, index map[string]int) {
	for i := range dst {
		dst[i] = 0
	}
	for name, v := range features {
		if i, ok := index[name]; ok {
			dst[i] = v
		}
	}
}

func truthValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
