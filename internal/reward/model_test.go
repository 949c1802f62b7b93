package reward

import (
	"math"
	"strings"
	"testing"

	"github.com/attunestack/attune-pipeline/internal/models"
	"github.com/attunestack/attune-pipeline/internal/utils"
)

func compliantInput() models.RewardInput {
	return models.RewardInput{
		SentimentBefore:  -0.4,
		SentimentAfter:   0.3,
		EngagementBefore: 0.4,
		EngagementAfter:  0.6,
		ConsentGiven:     true,
		PrivacyRespected: true,
		ActionType:       models.ActionIntervene,
		ActionTiming:     2.0,
	}
}

func TestCalculatePositiveInteraction(t *testing.T) {
	m := New(nil)
	out := m.Calculate(compliantInput())
	if out.TotalReward <= 0 {
		t.Fatalf("expected positive reward, got %f", out.TotalReward)
	}
	if out.Components.Compliance != 1.0 {
		t.Fatalf("fully compliant interaction should score 1.0, got %f", out.Components.Compliance)
	}
	if out.Components.Timing != 1.0 {
		t.Fatalf("timing of exactly 2.0 should score 1.0, got %f", out.Components.Timing)
	}
	if out.Explanation == "" {
		t.Fatalf("expected an explanation")
	}
}

func TestComplianceViolationForcesFloor(t *testing.T) {
	input := compliantInput()
	input.PrivacyRespected = false

	m := New(nil)
	out := m.Calculate(input)
	if out.Components.Compliance != -1.0 {
		t.Fatalf("violation must force compliance to -1.0, got %f", out.Components.Compliance)
	}
	if !strings.Contains(out.Explanation, "compliance violated") {
		t.Fatalf("explanation should mention the violation: %q", out.Explanation)
	}
}

func TestSentimentGainBlendsFeedback(t *testing.T) {
	input := compliantInput()
	base := sentimentGain(input)

	feedback := 1.0
	input.UserFeedback = &feedback
	blended := sentimentGain(input)

	want := 0.7*base + 0.3*feedback
	if math.Abs(blended-want) > 1e-12 {
		t.Fatalf("expected blended gain %f, got %f", want, blended)
	}
}

func TestEngagementDropoffPenalty(t *testing.T) {
	input := compliantInput()
	input.EngagementBefore = 0.5
	input.EngagementAfter = 0.05
	delta := engagementDelta(input)
	if delta >= math.Tanh(-0.45) {
		t.Fatalf("near-zero engagement should be penalised, got %f", delta)
	}
}

func TestEmpathyScoring(t *testing.T) {
	input := compliantInput()
	input.ActionType = models.ActionIntervene
	input.SentimentBefore = -0.5
	if got := empathyScore(input); math.Abs(got-0.8) > 1e-12 {
		t.Fatalf("intervening on negative sentiment should score 0.8, got %f", got)
	}

	input.SentimentBefore = 0.5
	if got := empathyScore(input); math.Abs(got-0.1) > 1e-12 {
		t.Fatalf("intervening on positive sentiment should score 0.1, got %f", got)
	}

	relevance := 0.5
	input.SentimentBefore = -0.5
	input.ContextRelevance = &relevance
	if got := empathyScore(input); math.Abs(got-0.4) > 1e-12 {
		t.Fatalf("context relevance should scale the score, got %f", got)
	}
}

func TestTimingPenalties(t *testing.T) {
	input := compliantInput()
	input.ActionType = models.ActionWait
	input.ActionTiming = 0.5
	hasty := timingScore(input)

	input.ActionTiming = 2.0
	ideal := timingScore(input)
	if hasty >= ideal {
		t.Fatalf("hasty wait should score below ideal timing: %f vs %f", hasty, ideal)
	}

	input.ActionType = models.ActionIntervene
	input.ActionTiming = 6.0
	late := timingScore(input)
	if late >= ideal {
		t.Fatalf("late intervention should score below ideal timing: %f vs %f", late, ideal)
	}
}

func TestUpdateWeightsNormalises(t *testing.T) {
	m := New(nil)
	got, err := m.UpdateWeights(Weights{Sentiment: 2, Engagement: 1, Compliance: 1})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	sum := got.Sentiment + got.Engagement + got.Compliance + got.Empathy + got.Timing
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("weights should sum to 1, got %f", sum)
	}
	if got.Sentiment != 0.5 {
		t.Fatalf("expected sentiment weight 0.5, got %f", got.Sentiment)
	}
}

func TestUpdateWeightsRejectsInvalid(t *testing.T) {
	m := New(nil)
	if _, err := m.UpdateWeights(Weights{Sentiment: -1}); err == nil {
		t.Fatalf("negative weight should be rejected")
	} else if !utils.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := m.UpdateWeights(Weights{}); err == nil {
		t.Fatalf("all-zero weights should be rejected")
	}
}

func TestExplainFallback(t *testing.T) {
	if got := explain(models.RewardComponents{}); got != "Standard interaction" {
		t.Fatalf("expected fallback explanation, got %q", got)
	}
}

func TestBatchCalculatePreservesOrder(t *testing.T) {
	m := New(nil)
	inputs := make([]models.RewardInput, 12)
	for i := range inputs {
		inputs[i] = compliantInput()
		inputs[i].ActionTiming = float64(i)
	}
	outputs := m.BatchCalculate(inputs)
	if len(outputs) != len(inputs) {
		t.Fatalf("expected %d outputs, got %d", len(inputs), len(outputs))
	}
	for i, out := range outputs {
		want := m.Calculate(inputs[i])
		if out.TotalReward != want.TotalReward {
			t.Fatalf("output %d out of order: %f vs %f", i, out.TotalReward, want.TotalReward)
		}
	}
}

func TestEvaluatePredictions(t *testing.T) {
	m := New(nil)
	metrics, err := m.EvaluatePredictions([]float64{1, 2, 3}, []float64{1, 2, 3})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if metrics.MSE != 0 || metrics.MAE != 0 {
		t.Fatalf("perfect predictions should have zero error: %+v", metrics)
	}
	if math.Abs(metrics.Correlation-1) > 1e-12 {
		t.Fatalf("perfect predictions should correlate at 1, got %f", metrics.Correlation)
	}

	if _, err := m.EvaluatePredictions(nil, nil); err == nil {
		t.Fatalf("empty input should be rejected")
	}
	if _, err := m.EvaluatePredictions([]float64{1}, []float64{1, 2}); err == nil {
		t.Fatalf("length mismatch should be rejected")
	}
}

func TestPearsonZeroVariance(t *testing.T) {
	if got := pearson([]float64{1, 1, 1}, []float64{1, 2, 3}); got != 0 {
		t.Fatalf("zero variance should yield 0, got %f", got)
	}
}
