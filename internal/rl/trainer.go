package rl

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/attunestack/attune-pipeline/internal/models"
	"github.com/attunestack/attune-pipeline/internal/reward"
)

// Hyperparams controls the temporal-difference learning loop.
type Hyperparams struct {
	LearningRate    float64 `json:"learningRate"`
	DiscountFactor  float64 `json:"discountFactor"`
	ExplorationRate float64 `json:"explorationRate"`
	BatchSize       int     `json:"batchSize"`
}

// DefaultHyperparams are the tuned starting values for policy training.
var DefaultHyperparams = Hyperparams{
	LearningRate:    0.1,
	DiscountFactor:  0.95,
	ExplorationRate: 0.1,
	BatchSize:       32,
}

// EpochMetrics reports one epoch of training.
type EpochMetrics struct {
	Epoch         int     `json:"epoch"`
	TotalReward   float64 `json:"totalReward"`
	AverageReward float64 `json:"averageReward"`
	Loss          float64 `json:"loss"`
	PolicyEntropy float64 `json:"policyEntropy"`
	Transitions   int     `json:"transitions"`
}

// PolicySnapshot is the serialisable trained artifact: the action-value table,
// the value function, and the hyperparameters that produced them.
type PolicySnapshot struct {
	Policy      map[string][]float64 `json:"policy"`
	Values      map[string]float64   `json:"values"`
	Hyperparams Hyperparams          `json:"hyperparams"`
}

// Trainer learns a tabular policy over synthetic samples via TD(0). A trainer
// owns its policy and value tables end to end; the caller must not share one
// trainer across concurrent training runs.
type Trainer struct {
	logger      *slog.Logger
	rng         *rand.Rand
	hp          Hyperparams
	rewardModel *reward.Model

	policy map[string][]float64
	values map[string]float64
}

// NewTrainer constructs a Trainer. rewardModel may be nil, in which case the
// trainer falls back to its heuristic simulation reward. A nil rng falls back
// to a time-seeded source.
func NewTrainer(logger *slog.Logger, hp *models.Hyperparams, rewardModel *reward.Model, rng *rand.Rand) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Trainer{
		logger:      logger,
		rng:         rng,
		hp:          resolveHyperparams(hp),
		rewardModel: rewardModel,
		policy:      make(map[string][]float64),
		values:      make(map[string]float64),
	}
}

func resolveHyperparams(hp *models.Hyperparams) Hyperparams {
	resolved := DefaultHyperparams
	if hp == nil {
		return resolved
	}
	if hp.LearningRate > 0 {
		resolved.LearningRate = hp.LearningRate
	}
	if hp.DiscountFactor > 0 {
		resolved.DiscountFactor = hp.DiscountFactor
	}
	if hp.ExplorationRate > 0 {
		resolved.ExplorationRate = hp.ExplorationRate
	}
	if hp.BatchSize > 0 {
		resolved.BatchSize = hp.BatchSize
	}
	return resolved
}

// Train runs the TD loop for the given number of epochs. Each epoch samples a
// mini-batch, simulates one transition per sample, and applies one TD update
// per transition. The optional progress callback fires after every epoch; ctx
// cancellation aborts between epochs.
func (t *Trainer) Train(ctx context.Context, samples []models.SyntheticSample, epochs int, progress func(EpochMetrics)) ([]EpochMetrics, error) {
	history := make([]EpochMetrics, 0, epochs)

	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}

		metrics := t.runEpoch(epoch, samples)
		history = append(history, metrics)
		if progress != nil {
			progress(metrics)
		}

		t.logger.Debug("epoch complete",
			slog.Int("epoch", epoch),
			slog.Float64("avg_reward", metrics.AverageReward),
			slog.Float64("loss", metrics.Loss),
			slog.Float64("entropy", metrics.PolicyEntropy),
		)
	}
	return history, nil
}

func (t *Trainer) runEpoch(epoch int, samples []models.SyntheticSample) EpochMetrics {
	metrics := EpochMetrics{Epoch: epoch}
	if len(samples) == 0 {
		return metrics
	}

	batchSize := t.hp.BatchSize
	if batchSize > len(samples) {
		batchSize = len(samples)
	}

	totalAbsError := 0.0
	for i := 0; i < batchSize; i++ {
		sample := samples[t.rng.Intn(len(samples))]
		state := t.stateFromSample(sample)
		action := t.selectAction(state, t.hp.ExplorationRate)
		transition := t.simulate(state, action, sample.QualityScore)

		tdError := t.update(transition)
		totalAbsError += math.Abs(tdError)
		metrics.TotalReward += transition.Reward
		metrics.Transitions++
	}

	if metrics.Transitions > 0 {
		metrics.AverageReward = metrics.TotalReward / float64(metrics.Transitions)
		metrics.Loss = totalAbsError / float64(metrics.Transitions)
	}
	metrics.PolicyEntropy = t.policyEntropy()
	return metrics
}

// update applies one TD(0) step and keeps the policy row on the probability
// simplex.
func (t *Trainer) update(transition models.RLTransition) float64 {
	stateKey := StateKey(transition.State)
	nextKey := StateKey(transition.NextState)

	nextValue := 0.0
	if !transition.Terminal {
		nextValue = t.values[nextKey]
	}
	tdTarget := transition.Reward + t.hp.DiscountFactor*nextValue
	tdError := tdTarget - t.values[stateKey]
	t.values[stateKey] += t.hp.LearningRate * tdError

	row := t.policyRow(stateKey)
	row[actionIndex(transition.Action.Type)] += t.hp.LearningRate * tdError
	renormalize(row)

	return tdError
}

// policyRow returns the action-value vector for a state, creating a uniform
// row on first visit.
func (t *Trainer) policyRow(stateKey string) []float64 {
	row, ok := t.policy[stateKey]
	if !ok {
		row = make([]float64, len(models.ActionTypes))
		for i := range row {
			row[i] = 1.0 / float64(len(row))
		}
		t.policy[stateKey] = row
	}
	return row
}

// renormalize clips negatives and rescales the row to sum to 1.
func renormalize(row []float64) {
	sum := 0.0
	for i, w := range row {
		if w < 0 {
			row[i] = 0
			continue
		}
		sum += w
	}
	if sum == 0 {
		for i := range row {
			row[i] = 1.0 / float64(len(row))
		}
		return
	}
	for i := range row {
		row[i] /= sum
	}
}

// policyEntropy is the mean Shannon entropy across all visited states.
func (t *Trainer) policyEntropy() float64 {
	if len(t.policy) == 0 {
		return 0
	}
	total := 0.0
	for _, row := range t.policy {
		entropy := 0.0
		for _, p := range row {
			if p > 0 {
				entropy -= p * math.Log(p)
			}
		}
		total += entropy
	}
	return total / float64(len(t.policy))
}

// Snapshot exports the trained tables for registry persistence.
func (t *Trainer) Snapshot() PolicySnapshot {
	policy := make(map[string][]float64, len(t.policy))
	for key, row := range t.policy {
		policy[key] = append([]float64(nil), row...)
	}
	values := make(map[string]float64, len(t.values))
	for key, value := range t.values {
		values[key] = value
	}
	return PolicySnapshot{Policy: policy, Values: values, Hyperparams: t.hp}
}

// Restore loads a previously exported snapshot into the trainer.
func (t *Trainer) Restore(snapshot PolicySnapshot) {
	t.policy = make(map[string][]float64, len(snapshot.Policy))
	for key, row := range snapshot.Policy {
		t.policy[key] = append([]float64(nil), row...)
	}
	t.values = make(map[string]float64, len(snapshot.Values))
	for key, value := range snapshot.Values {
		t.values[key] = value
	}
	if snapshot.Hyperparams != (Hyperparams{}) {
		t.hp = snapshot.Hyperparams
	}
}

func actionIndex(actionType models.ActionType) int {
	for i, a := range models.ActionTypes {
		if a == actionType {
			return i
		}
	}
	return len(models.ActionTypes) - 1
}
