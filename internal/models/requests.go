package models

import "time"

// AnonymizeRequest asks for one record to be privatized.
type AnonymizeRequest struct {
	UserID    string                  `json:"userId"`
	Data      map[string]FeatureValue `json:"data"`
	Technique Technique               `json:"technique"`
	Epsilon   float64                 `json:"epsilon,omitempty"`
	K         int                     `json:"k,omitempty"`
}

// BatchAnonymizeRequest fans one anonymization config over many records.
type BatchAnonymizeRequest struct {
	Records   []BatchAnonymizeItem `json:"records"`
	Technique Technique            `json:"technique"`
	Epsilon   float64              `json:"epsilon,omitempty"`
	K         int                  `json:"k,omitempty"`
}

// BatchAnonymizeItem is one {userId, data} pair in a batch request.
type BatchAnonymizeItem struct {
	UserID string                  `json:"userId"`
	Data   map[string]FeatureValue `json:"data"`
}

// GenerateRequest asks for synthetic samples derived from anonymized records.
type GenerateRequest struct {
	Records          []AnonymizedRecord `json:"records"`
	Method           GenerationMethod   `json:"method"`
	SampleCount      int                `json:"sampleCount"`
	QualityThreshold *float64           `json:"qualityThreshold,omitempty"`
}

// Hyperparams tunes one training run. Zero values fall back to defaults.
type Hyperparams struct {
	LearningRate    float64 `json:"learningRate,omitempty"`
	DiscountFactor  float64 `json:"discountFactor,omitempty"`
	ExplorationRate float64 `json:"explorationRate,omitempty"`
	BatchSize       int     `json:"batchSize,omitempty"`
}

// TrainRequest asks the orchestrator to train a new model version.
type TrainRequest struct {
	ModelType    ModelType         `json:"modelType"`
	TrainingData []SyntheticSample `json:"trainingData"`
	Epochs       int               `json:"epochs"`
	Hyperparams  *Hyperparams      `json:"hyperparams,omitempty"`
}

// DeployRequest selects a rollout strategy for an evaluated version.
type DeployRequest struct {
	Type              DeploymentType `json:"type"`
	TrafficPercentage float64        `json:"trafficPercentage,omitempty"`
}

// RollbackRequest records why a deployed version is being pulled.
type RollbackRequest struct {
	Reason string `json:"reason"`
}

// ABTestRequest compares two versions of the same model type.
type ABTestRequest struct {
	ControlVersionID string  `json:"controlVersionId"`
	TestVersionID    string  `json:"testVersionId"`
	TrafficSplit     float64 `json:"trafficSplit,omitempty"`
	DurationHours    float64 `json:"durationHours,omitempty"`
}

// EvaluationResult reports pass/fail against the fixed deployment thresholds.
type EvaluationResult struct {
	VersionID      string        `json:"versionId"`
	Passed         bool          `json:"passed"`
	Failures       []string      `json:"failures,omitempty"`
	Recommendation string        `json:"recommendation"`
	Metrics        *ModelMetrics `json:"metrics,omitempty"`
}

// DeployResult reports the outcome of a deployment request.
type DeployResult struct {
	Success           bool           `json:"success"`
	Message           string         `json:"message"`
	VersionID         string         `json:"versionId,omitempty"`
	Type              DeploymentType `json:"type,omitempty"`
	ArchivedVersionID string         `json:"archivedVersionId,omitempty"`
}

// RollbackResult reports the outcome of a rollback request.
type RollbackResult struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	RestoredVersionID string `json:"restoredVersionId,omitempty"`
}

// ModelHealth enumerates monitoring verdicts.
type ModelHealth string

const (
	HealthHealthy  ModelHealth = "healthy"
	HealthDegraded ModelHealth = "degraded"
	HealthCritical ModelHealth = "critical"
)

// MonitorReport summarises the health of one deployed version.
type MonitorReport struct {
	VersionID       string        `json:"versionId"`
	Health          ModelHealth   `json:"health"`
	Recommendations []string      `json:"recommendations,omitempty"`
	Metrics         *ModelMetrics `json:"metrics,omitempty"`
	CheckedAt       time.Time     `json:"checkedAt"`
}

// ABTestResult reports composite scores and the winning version.
type ABTestResult struct {
	ControlVersionID string  `json:"controlVersionId"`
	TestVersionID    string  `json:"testVersionId"`
	ControlScore     float64 `json:"controlScore"`
	TestScore        float64 `json:"testScore"`
	Winner           string  `json:"winner"`
}
