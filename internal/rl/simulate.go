package rl

import (
	"fmt"
	"math"
	"strings"

	"github.com/attunestack/attune-pipeline/internal/models"
)

const (
	maxRecentActions = 5
	maxTurns         = 10
	stepTerminalProb = 0.1
)

// StateKey discretizes a state into a policy-table key: emotion coordinates
// scaled by 10 and floored, joined with the time-of-day and turn buckets.
func StateKey(state models.RLState) string {
	var b strings.Builder
	for i, coord := range state.EmotionVector {
		if i > 0 {
			b.WriteByte('-')
		}
		fmt.Fprintf(&b, "%d", int(math.Floor(coord*10)))
	}
	fmt.Fprintf(&b, "|%d|%d", state.TimeOfDay/6, state.ConversationTurn/3)
	return b.String()
}

// stateFromSample maps a synthetic feature bag onto an RLState, zero-filling
// missing emotion coordinates.
func (t *Trainer) stateFromSample(sample models.SyntheticSample) models.RLState {
	state := models.RLState{
		EmotionVector: []float64{
			numericFeature(sample, "valence"),
			numericFeature(sample, "arousal"),
		},
		Context: models.ContextFeatures{
			Resonance: numericFeature(sample, "resonance"),
			BPM:       numericFeature(sample, "bpm"),
			Sentiment: numericFeature(sample, "sentiment"),
		},
		TimeOfDay:        int(numericFeature(sample, "timeOfDay")),
		ConversationTurn: int(numericFeature(sample, "conversationTurn")),
	}
	if dominance, ok := lookupNumeric(sample, "dominance"); ok {
		state.EmotionVector = append(state.EmotionVector, dominance)
	}
	return state
}

// selectAction is epsilon-greedy over the discretized policy row.
func (t *Trainer) selectAction(state models.RLState, epsilon float64) models.RLAction {
	var actionType models.ActionType
	if epsilon > 0 && t.rng.Float64() < epsilon {
		actionType = models.ActionTypes[t.rng.Intn(len(models.ActionTypes))]
	} else {
		row := t.policyRow(StateKey(state))
		best := 0
		for i, w := range row {
			if w > row[best] {
				best = i
			}
		}
		actionType = models.ActionTypes[best]
	}

	return models.RLAction{
		Type:   actionType,
		Tone:   toneFor(state),
		Timing: t.rng.Float64() * 4,
	}
}

func toneFor(state models.RLState) models.Tone {
	valence := 0.0
	if len(state.EmotionVector) > 0 {
		valence = state.EmotionVector[0]
	}
	switch {
	case valence < -0.3:
		return models.ToneEmpathetic
	case valence > 0.3:
		return models.ToneEncouraging
	default:
		return models.ToneNeutral
	}
}

// simulate evolves the state one step under the chosen action and scores the
// transition.
func (t *Trainer) simulate(state models.RLState, action models.RLAction, quality float64) models.RLTransition {
	next := t.evolveState(state, action)

	var r float64
	if t.rewardModel != nil {
		output := t.rewardModel.Calculate(models.RewardInput{
			SentimentBefore:  valenceOf(state),
			SentimentAfter:   valenceOf(next),
			EngagementBefore: state.Context.Resonance,
			EngagementAfter:  next.Context.Resonance,
			ConsentGiven:     true,
			PrivacyRespected: true,
			ActionType:       action.Type,
			ActionTiming:     action.Timing,
		})
		r = output.TotalReward * quality
	} else {
		r = t.heuristicReward(state, action, quality)
	}

	terminal := next.ConversationTurn >= maxTurns || t.rng.Float64() < stepTerminalProb
	return models.RLTransition{
		State:     state,
		Action:    action,
		Reward:    r,
		NextState: next,
		Terminal:  terminal,
	}
}

// heuristicReward is the trainer's stand-in when no reward model is embedded:
// empathy-style bonuses and penalties scaled by sample quality, a resonance
// bonus, and a repetition penalty.
func (t *Trainer) heuristicReward(state models.RLState, action models.RLAction, quality float64) float64 {
	valence := valenceOf(state)

	r := 0.0
	switch action.Type {
	case models.ActionIntervene:
		if valence < 0 {
			r += 0.8
		}
		if valence > 0.3 {
			r -= 0.4
		}
	case models.ActionListen:
		if valence < -0.5 {
			r += 0.6
		} else {
			r += 0.2
		}
	case models.ActionSuggest:
		if valence >= -0.3 && valence <= 0.3 {
			r += 0.5
		} else {
			r += 0.1
		}
	case models.ActionWait:
		if valence > 0.3 {
			r += 0.3
		} else {
			r -= 0.1
		}
	}

	r *= quality
	r += 0.2 * state.Context.Resonance
	if countActions(state.RecentActions, action.Type) > 3 {
		r -= 0.4
	}
	return r
}

// evolveState applies the action-dependent emotion drift plus Gaussian jitter.
func (t *Trainer) evolveState(state models.RLState, action models.RLAction) models.RLState {
	drift := 0.0
	switch action.Type {
	case models.ActionIntervene:
		if action.Tone == models.ToneEmpathetic {
			drift = 0.1
		} else {
			drift = 0.05
		}
	case models.ActionListen:
		drift = 0.02
	case models.ActionSuggest:
		drift = 0.05
	case models.ActionWait:
		drift = 0
	}

	emotion := make([]float64, len(state.EmotionVector))
	for i, coord := range state.EmotionVector {
		value := coord + t.rng.NormFloat64()*0.05
		if i == 0 {
			value += drift
		}
		emotion[i] = clamp(value, -1, 1)
	}

	recent := append(append([]models.ActionType(nil), state.RecentActions...), action.Type)
	if len(recent) > maxRecentActions {
		recent = recent[len(recent)-maxRecentActions:]
	}

	return models.RLState{
		EmotionVector:    emotion,
		Context:          state.Context,
		RecentActions:    recent,
		TimeOfDay:        state.TimeOfDay,
		ConversationTurn: state.ConversationTurn + 1,
	}
}

func valenceOf(state models.RLState) float64 {
	if len(state.EmotionVector) == 0 {
		return 0
	}
	return state.EmotionVector[0]
}

func countActions(actions []models.ActionType, actionType models.ActionType) int {
	count := 0
	for _, a := range actions {
		if a == actionType {
			count++
		}
	}
	return count
}

func numericFeature(sample models.SyntheticSample, key string) float64 {
	value, _ := lookupNumeric(sample, key)
	return value
}

func lookupNumeric(sample models.SyntheticSample, key string) (float64, bool) {
	if v, ok := sample.Features[key]; ok && v.Kind == models.FeatureNumeric {
		return v.Number, true
	}
	return 0, false
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
