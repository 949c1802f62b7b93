package models

// ActionType enumerates the actions a trained policy can choose.
type ActionType string

const (
	ActionIntervene ActionType = "intervene"
	ActionListen    ActionType = "listen"
	ActionSuggest   ActionType = "suggest"
	ActionWait      ActionType = "wait"
)

// ActionTypes lists all action types in policy-vector order.
var ActionTypes = []ActionType{ActionIntervene, ActionListen, ActionSuggest, ActionWait}

// Tone enumerates delivery tones for an action.
type Tone string

const (
	ToneEmpathetic  Tone = "empathetic"
	ToneNeutral     Tone = "neutral"
	ToneEncouraging Tone = "encouraging"
)

// ContextFeatures carries scalar conversational context for a state.
type ContextFeatures struct {
	Resonance float64 `json:"resonance"`
	BPM       float64 `json:"bpm"`
	Sentiment float64 `json:"sentiment"`
}

// RLState is the trainer's view of a conversational moment.
type RLState struct {
	EmotionVector    []float64       `json:"emotionVector"`
	Context          ContextFeatures `json:"contextFeatures"`
	RecentActions    []ActionType    `json:"recentActions"`
	TimeOfDay        int             `json:"timeOfDay"`
	ConversationTurn int             `json:"conversationTurn"`
}

// RLAction is one policy decision.
type RLAction struct {
	Type   ActionType `json:"type"`
	Tone   Tone       `json:"tone"`
	Timing float64    `json:"timing"`
}

// RLTransition is one simulated step, consumed within a single training epoch.
type RLTransition struct {
	State     RLState  `json:"state"`
	Action    RLAction `json:"action"`
	Reward    float64  `json:"reward"`
	NextState RLState  `json:"nextState"`
	Terminal  bool     `json:"terminal"`
}

// RewardInput is one (state-before, action, state-after) observation to score.
type RewardInput struct {
	SentimentBefore  float64    `json:"sentimentBefore"`
	SentimentAfter   float64    `json:"sentimentAfter"`
	EngagementBefore float64    `json:"engagementBefore"`
	EngagementAfter  float64    `json:"engagementAfter"`
	ConsentGiven     bool       `json:"consentGiven"`
	PrivacyRespected bool       `json:"privacyRespected"`
	ActionType       ActionType `json:"actionType"`
	ActionTiming     float64    `json:"actionTiming"`
	UserFeedback     *float64   `json:"userFeedback,omitempty"`
	ContextRelevance *float64   `json:"contextRelevance,omitempty"`
}

// RewardComponents breaks a reward down per scoring dimension.
type RewardComponents struct {
	Sentiment  float64 `json:"sentimentGain"`
	Engagement float64 `json:"engagementDelta"`
	Compliance float64 `json:"complianceScore"`
	Empathy    float64 `json:"empathyScore"`
	Timing     float64 `json:"timingScore"`
}

// RewardOutput is the scored observation plus a human-readable explanation.
type RewardOutput struct {
	TotalReward float64          `json:"totalReward"`
	Components  RewardComponents `json:"components"`
	Explanation string           `json:"explanation"`
}
