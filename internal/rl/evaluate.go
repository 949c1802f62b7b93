package rl

import "github.com/attunestack/attune-pipeline/internal/models"

// EvaluationMetrics summarises a greedy evaluation pass over held-out samples.
type EvaluationMetrics struct {
	AverageReward         float64 `json:"averageReward"`
	FalseInterventionRate float64 `json:"falseInterventionRate"`
	EmpathyScore          float64 `json:"empathyScore"`
	Transitions           int     `json:"transitions"`
}

// EvaluatePolicy runs the simulation greedily (exploration forced to zero)
// over the test samples. The false-intervention rate is the fraction of
// interventions issued while valence was already positive; the empathy score
// is the fraction of all transitions that were empathetic interventions
// during negative valence.
func (t *Trainer) EvaluatePolicy(testSamples []models.SyntheticSample) EvaluationMetrics {
	metrics := EvaluationMetrics{}
	if len(testSamples) == 0 {
		return metrics
	}

	totalReward := 0.0
	interventions := 0
	falseInterventions := 0
	empathicInterventions := 0

	for _, sample := range testSamples {
		state := t.stateFromSample(sample)
		action := t.selectAction(state, 0)
		transition := t.simulate(state, action, sample.QualityScore)

		totalReward += transition.Reward
		metrics.Transitions++

		if action.Type == models.ActionIntervene {
			interventions++
			if valenceOf(state) > 0.3 {
				falseInterventions++
			}
			if valenceOf(state) < 0 && action.Tone == models.ToneEmpathetic {
				empathicInterventions++
			}
		}
	}

	metrics.AverageReward = totalReward / float64(metrics.Transitions)
	if interventions > 0 {
		metrics.FalseInterventionRate = float64(falseInterventions) / float64(interventions)
	}
	metrics.EmpathyScore = float64(empathicInterventions) / float64(metrics.Transitions)
	return metrics
}
