package reward

import (
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/attunestack/attune-pipeline/internal/models"
	"github.com/attunestack/attune-pipeline/internal/utils"
)

// Weights assigns relative importance to the five reward components. They are
// renormalised to sum to 1 on every update.
type Weights struct {
	Sentiment  float64 `json:"sentiment"`
	Engagement float64 `json:"engagement"`
	Compliance float64 `json:"compliance"`
	Empathy    float64 `json:"empathy"`
	Timing     float64 `json:"timing"`
}

// DefaultWeights are hand-tuned starting values. The constants have no
// documented derivation; they are kept verbatim as tunable defaults.
var DefaultWeights = Weights{Sentiment: 0.4, Engagement: 0.4, Compliance: 0.2}

// Model is a deterministic, hand-tuned scoring function over
// (state-before, action, state-after) observations.
type Model struct {
	logger *slog.Logger

	mu      sync.RWMutex
	weights Weights
}

// New constructs a Model with the default component weights.
func New(logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{logger: logger, weights: normalize(DefaultWeights)}
}

// Calculate scores one observation and explains the dominant components.
func (m *Model) Calculate(input models.RewardInput) models.RewardOutput {
	components := models.RewardComponents{
		Sentiment:  sentimentGain(input),
		Engagement: engagementDelta(input),
		Compliance: complianceScore(input),
		Empathy:    empathyScore(input),
		Timing:     timingScore(input),
	}

	weights := m.Weights()
	total := components.Sentiment*weights.Sentiment +
		components.Engagement*weights.Engagement +
		components.Compliance*weights.Compliance +
		components.Empathy*weights.Empathy +
		components.Timing*weights.Timing

	return models.RewardOutput{
		TotalReward: total,
		Components:  components,
		Explanation: explain(components),
	}
}

// BatchCalculate scores independent observations, preserving input order.
func (m *Model) BatchCalculate(inputs []models.RewardInput) []models.RewardOutput {
	outputs := make([]models.RewardOutput, len(inputs))

	workers := 4
	if len(inputs) < workers {
		workers = len(inputs)
	}
	if workers == 0 {
		return outputs
	}

	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outputs[i] = m.Calculate(inputs[i])
			}
		}()
	}
	for i := range inputs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outputs
}

// UpdateWeights replaces the component weights, renormalised to sum to 1.
// Negative weights are rejected.
func (m *Model) UpdateWeights(weights Weights) (Weights, error) {
	const op = "reward.UpdateWeights"
	if weights.Sentiment < 0 || weights.Engagement < 0 || weights.Compliance < 0 ||
		weights.Empathy < 0 || weights.Timing < 0 {
		return Weights{}, utils.ValidationError(op, "weights must be non-negative")
	}
	if weights.Sentiment+weights.Engagement+weights.Compliance+weights.Empathy+weights.Timing == 0 {
		return Weights{}, utils.ValidationError(op, "at least one weight must be positive")
	}

	normalized := normalize(weights)
	m.mu.Lock()
	m.weights = normalized
	m.mu.Unlock()

	m.logger.Debug("reward weights updated",
		slog.Float64("sentiment", normalized.Sentiment),
		slog.Float64("engagement", normalized.Engagement),
		slog.Float64("compliance", normalized.Compliance),
		slog.Float64("empathy", normalized.Empathy),
		slog.Float64("timing", normalized.Timing),
	)
	return normalized, nil
}

// Weights returns the current normalised weights.
func (m *Model) Weights() Weights {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.weights
}

func normalize(w Weights) Weights {
	sum := w.Sentiment + w.Engagement + w.Compliance + w.Empathy + w.Timing
	if sum == 0 {
		return DefaultWeights
	}
	return Weights{
		Sentiment:  w.Sentiment / sum,
		Engagement: w.Engagement / sum,
		Compliance: w.Compliance / sum,
		Empathy:    w.Empathy / sum,
		Timing:     w.Timing / sum,
	}
}

func sentimentGain(input models.RewardInput) float64 {
	gain := math.Tanh(input.SentimentAfter - input.SentimentBefore)
	if input.UserFeedback != nil {
		gain = 0.7*gain + 0.3*(*input.UserFeedback)
	}
	return clamp(gain, -1, 1)
}

func engagementDelta(input models.RewardInput) float64 {
	delta := math.Tanh(input.EngagementAfter - input.EngagementBefore)
	if input.EngagementAfter < 0.1 {
		delta -= 0.3
	}
	return clamp(delta, -1, 1)
}

// complianceScore grants partial credit per satisfied condition but forces the
// floor when either consent or privacy is violated.
func complianceScore(input models.RewardInput) float64 {
	if !input.ConsentGiven || !input.PrivacyRespected {
		return -1.0
	}
	score := 0.0
	if input.ConsentGiven {
		score += 0.5
	}
	if input.PrivacyRespected {
		score += 0.5
	}
	return clamp(score, -1, 1)
}

func empathyScore(input models.RewardInput) float64 {
	score := 0.5
	if input.ActionType == models.ActionIntervene && input.SentimentBefore < 0 {
		score += 0.3
	}
	if input.ActionType == models.ActionListen && input.SentimentBefore < -0.5 {
		score += 0.2
	}
	if input.ActionType == models.ActionIntervene && input.SentimentBefore > 0.3 {
		score -= 0.4
	}
	if input.ContextRelevance != nil {
		score *= *input.ContextRelevance
	}
	return clamp(score, -1, 1)
}

func timingScore(input models.RewardInput) float64 {
	score := math.Exp(-math.Abs(input.ActionTiming-2.0) / 2)
	if input.ActionType == models.ActionWait && input.ActionTiming < 1 {
		score -= 0.2
	}
	if input.ActionType == models.ActionIntervene && input.ActionTiming > 5 {
		score -= 0.3
	}
	return clamp(score, -1, 1)
}

func explain(c models.RewardComponents) string {
	var phrases []string
	add := func(value float64, positive, negative string) {
		if value > 0.3 {
			phrases = append(phrases, positive)
		} else if value < -0.3 {
			phrases = append(phrases, negative)
		}
	}
	add(c.Sentiment, "positive sentiment shift", "sentiment declined")
	add(c.Engagement, "engagement improved", "engagement dropped")
	add(c.Compliance, "compliance upheld", "compliance violated")
	add(c.Empathy, "empathetic response", "empathy mismatch")
	add(c.Timing, "well-timed action", "poorly timed action")

	if len(phrases) == 0 {
		return "Standard interaction"
	}
	return strings.Join(phrases, ", ")
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
