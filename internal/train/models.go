package train

import (
	"math"
)

// checkpoint is called between fitting iterations; a non-nil return aborts
// the fit. It carries budget expiry and cancellation into the inner loops.
type checkpoint func() error

// fitted is a candidate model after fitting, ready for evaluation.
type fitted struct {
	id string

	// Exactly one of these is set, matching the task type.
	predictClass func(x []float64) int
	predictValue func(x []float64) float64

	// Serializable parameters for the artifact.
	params map[string]any
}

// fitMajority predicts the most frequent training class regardless of input.
func fitMajority(m *matrix) *fitted {
	counts := make([]int, len(m.classes))
	for _, l := range m.labels {
		counts[l]++
	}
	best := 0
	for c, n := range counts {
		if n > counts[best] {
			best = c
		}
	}
	return &fitted{
		id:           "majority_baseline",
		predictClass: func([]float64) int { return best },
		params:       map[string]any{"class": m.classes[best]},
	}
}

// fitMean predicts the training target mean regardless of input.
func fitMean(m *matrix) *fitted {
	var sum float64
	for _, y := range m.targets {
		sum += y
	}
	mean := sum / float64(len(m.targets))
	return &fitted{
		id:           "mean_baseline",
		predictValue: func([]float64) float64 { return mean },
		params:       map[string]any{"mean": mean},
	}
}

const (
	logisticEpochs = 200
	logisticRate   = 0.1

	linearEpochs = 400
	linearRate   = 0.05
)

// fitLogistic trains a one-vs-rest logistic regression by gradient descent.
// Features are already standardized, so a fixed learning rate behaves.
func fitLogistic(m *matrix, check checkpoint) (*fitted, error) {
	nClasses := len(m.classes)
	dim := m.featDim + 1 // bias in slot 0
	weights := make([][]float64, nClasses)
	for c := range weights {
		weights[c] = make([]float64, dim)
	}

	n := float64(len(m.features))
	for epoch := 0; epoch < logisticEpochs; epoch++ {
		if err := check(); err != nil {
			return nil, err
		}
		for c := 0; c < nClasses; c++ {
			grad := make([]float64, dim)
			for i, x := range m.features {
				y := 0.0
				if m.labels[i] == c {
					y = 1.0
				}
				p := sigmoid(dot(weights[c], x))
				diff := p - y
				grad[0] += diff
				for d, v := range x {
					grad[d+1] += diff * v
				}
			}
			for d := range grad {
				weights[c][d] -= logisticRate * grad[d] / n
			}
		}
	}

	return &fitted{
		id: "logistic_regression",
		predictClass: func(x []float64) int {
			best, bestScore := 0, math.Inf(-1)
			for c := range weights {
				if s := dot(weights[c], x); s > bestScore {
					best, bestScore = c, s
				}
			}
			return best
		},
		params: map[string]any{"weights": weights, "classes": m.classes},
	}, nil
}

// fitLinear trains an ordinary least squares fit by gradient descent.
func fitLinear(m *matrix, check checkpoint) (*fitted, error) {
	dim := m.featDim + 1
	weights := make([]float64, dim)

	n := float64(len(m.features))
	for epoch := 0; epoch < linearEpochs; epoch++ {
		if err := check(); err != nil {
			return nil, err
		}
		grad := make([]float64, dim)
		for i, x := range m.features {
			diff := dot(weights, x) - m.targets[i]
			grad[0] += diff
			for d, v := range x {
				grad[d+1] += diff * v
			}
		}
		for d := range grad {
			weights[d] -= linearRate * grad[d] / n
		}
	}

	return &fitted{
		id: "linear_regression",
		predictValue: func(x []float64) float64 {
			return dot(weights, x)
		},
		params: map[string]any{"weights": weights},
	}, nil
}

// accuracy is the classification metric, higher is better.
func accuracy(f *fitted, holdout *matrix) float64 {
	if len(holdout.features) == 0 {
		return 0
	}
	correct := 0
	for i, x := range holdout.features {
		if f.predictClass(x) == holdout.labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(holdout.features))
}

// rmse is the regression metric, lower is better.
func rmse(f *fitted, holdout *matrix) float64 {
	if len(holdout.features) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i, x := range holdout.features {
		diff := f.predictValue(x) - holdout.targets[i]
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(holdout.features)))
}

// dot computes w[0] + w[1:] . x, the bias-augmented inner product.
func dot(w, x []float64) float64 {
	s := w[0]
	for d, v := range x {
		s += w[d+1] * v
	}
	return s
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
