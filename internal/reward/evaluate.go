package reward

import (
	"math"

	"github.com/attunestack/attune-pipeline/internal/utils"
)

// PredictionMetrics summarises how well predicted rewards track observed ones.
type PredictionMetrics struct {
	MSE         float64 `json:"mse"`
	MAE         float64 `json:"mae"`
	Correlation float64 `json:"correlation"`
}

// EvaluatePredictions compares predicted against actual reward values using
// mean squared error, mean absolute error, and Pearson correlation.
func (m *Model) EvaluatePredictions(predictions, actual []float64) (PredictionMetrics, error) {
	const op = "reward.EvaluatePredictions"
	if len(predictions) == 0 {
		return PredictionMetrics{}, utils.ValidationError(op, "no predictions supplied")
	}
	if len(predictions) != len(actual) {
		return PredictionMetrics{}, utils.ValidationError(op, "predictions (%d) and actual (%d) lengths differ", len(predictions), len(actual))
	}

	n := float64(len(predictions))
	mse, mae := 0.0, 0.0
	for i := range predictions {
		diff := predictions[i] - actual[i]
		mse += diff * diff
		mae += math.Abs(diff)
	}
	mse /= n
	mae /= n

	return PredictionMetrics{
		MSE:         mse,
		MAE:         mae,
		Correlation: pearson(predictions, actual),
	}, nil
}

// pearson returns the Pearson correlation coefficient, or 0 when either side
// has zero variance.
func pearson(a, b []float64) float64 {
	n := float64(len(a))
	meanA, meanB := 0.0, 0.0
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	cov, varA, varB := 0.0, 0.0, 0.0
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
