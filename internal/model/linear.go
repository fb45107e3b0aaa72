// Package model holds the trainable risk scorer and its lifecycle.
package model

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// priorClamp keeps the prior logit finite when one class dominates.
const priorClamp = 0.01

// amountDriven names the dimensions that grow with the transaction amount.
// Their weights are never negative, so a larger amount cannot lower the
// prediction.
var amountDriven = map[string]bool{
	"amount":       true,
	"pattern_risk": true,
}

// LinearModel is a logistic combiner over the feature dimensions.
// Fitting is closed-form: no iterative optimizer is involved.
type LinearModel struct {
	Features []string  `json:"features"`
	Weights  []float64 `json:"weights"`
	Bias     float64   `json:"bias"`
	Trained  bool      `json:"trained"`
	Samples  int       `json:"samples"`
}

// NewLinearModel returns an untrained model over the standard features.
func NewLinearModel() *LinearModel {
	return &LinearModel{
		Features: append([]string(nil), domain.FeatureNames...),
		Weights:  make([]float64, len(domain.FeatureNames)),
	}
}

// Predict returns the risk estimate for x. An untrained model answers 0.5.
func (m *LinearModel) Predict(x []float64) (float64, error) {
	if !m.Trained {
		return 0.5, nil
	}
	if len(x) != len(m.Weights) {
		return 0.5, fmt.Errorf("%w: expected %d features, got %d", domain.ErrInvalidInput, len(m.Weights), len(x))
	}

	z := m.Bias
	for i, w := range m.Weights {
		z += w * x[i]
	}
	return sigmoid(z), nil
}

// Fit builds a trained model from labeled vectors. Each weight is gain
// times the gap between the class means; the bias centres the decision
// boundary between them and shifts it by the prior log-odds. With a
// single class present the weights stay zero and the model predicts the
// clamped prior.
func Fit(xs [][]float64, ys []int, gain float64) (*LinearModel, error) {
	if len(xs) == 0 {
		return nil, fmt.Errorf("%w: no training examples", domain.ErrInsufficientData)
	}
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%w: %d vectors but %d labels", domain.ErrInvalidInput, len(xs), len(ys))
	}

	dims := len(domain.FeatureNames)
	sumPos := make([]float64, dims)
	sumNeg := make([]float64, dims)
	var nPos, nNeg int

	for i, x := range xs {
		if len(x) != dims {
			return nil, fmt.Errorf("%w: example %d has %d features, want %d", domain.ErrInvalidInput, i, len(x), dims)
		}
		var sum []float64
		switch ys[i] {
		case 1:
			sum = sumPos
			nPos++
		case 0:
			sum = sumNeg
			nNeg++
		default:
			return nil, fmt.Errorf("%w: label %d must be 0 or 1", domain.ErrInvalidInput, ys[i])
		}
		for j, v := range x {
			sum[j] += v
		}
	}

	prior := float64(nPos) / float64(len(xs))
	prior = math.Min(math.Max(prior, priorClamp), 1-priorClamp)

	m := NewLinearModel()
	m.Trained = true
	m.Samples = len(xs)
	m.Bias = math.Log(prior / (1 - prior))

	if nPos == 0 || nNeg == 0 {
		return m, nil
	}

	for j := 0; j < dims; j++ {
		meanPos := sumPos[j] / float64(nPos)
		meanNeg := sumNeg[j] / float64(nNeg)
		w := gain * (meanPos - meanNeg)
		if amountDriven[domain.FeatureNames[j]] && w < 0 {
			w = 0
		}
		m.Weights[j] = w
		m.Bias -= w * (meanPos + meanNeg) / 2
	}
	return m, nil
}

// Accuracy is the fraction of examples whose thresholded prediction
// matches the label.
func (m *LinearModel) Accuracy(xs [][]float64, ys []int) float64 {
	if len(xs) == 0 || len(xs) != len(ys) {
		return 0
	}
	var correct int
	for i, x := range xs {
		p, err := m.Predict(x)
		if err != nil {
			continue
		}
		predicted := 0
		if p >= 0.5 {
			predicted = 1
		}
		if predicted == ys[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(xs))
}

// constrain zeroes negative weights on amount-driven dimensions. It
// applies to models decoded from storage as well as fitted ones.
func (m *LinearModel) constrain() {
	for i, name := range m.Features {
		if i < len(m.Weights) && amountDriven[name] && m.Weights[i] < 0 {
			m.Weights[i] = 0
		}
	}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
