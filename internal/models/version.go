package models

import (
	"encoding/json"
	"time"
)

// ModelType enumerates trainable model categories.
type ModelType string

const (
	ModelTypePolicy  ModelType = "policy"
	ModelTypeEmpathy ModelType = "empathy"
	ModelTypeTiming  ModelType = "timing"
	ModelTypeTone    ModelType = "tone"
)

// ModelStatus enumerates lifecycle states of a model version.
type ModelStatus string

const (
	StatusTraining   ModelStatus = "training"
	StatusEvaluating ModelStatus = "evaluating"
	StatusDeployed   ModelStatus = "deployed"
	StatusArchived   ModelStatus = "archived"
	StatusRollback   ModelStatus = "rollback"
)

// DeploymentType enumerates rollout strategies.
type DeploymentType string

const (
	DeployFullRollout DeploymentType = "full_rollout"
	DeployShadowTest  DeploymentType = "shadow_test"
	DeployCanary      DeploymentType = "canary"
)

// ModelMetrics holds evaluation and monitoring figures for one version.
type ModelMetrics struct {
	EmpathyScore          float64 `json:"empathyScore"`
	FalseInterventionRate float64 `json:"falseInterventionRate"`
	RewardStability       float64 `json:"rewardStability"`
	LatencyMs             float64 `json:"latencyMs"`
}

// ModelVersion is one trained artifact plus its lifecycle status. Versions are
// never deleted; archived versions stay queryable as audit and rollback targets.
type ModelVersion struct {
	VersionID  string        `json:"versionId"`
	VersionTag string        `json:"versionTag"`
	ModelType  ModelType     `json:"modelType"`
	Status     ModelStatus   `json:"status"`
	Metrics    *ModelMetrics `json:"metrics,omitempty"`
	DeployedAt *time.Time    `json:"deployedAt,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// DeploymentHistoryEntry is one append-only deployment log line.
type DeploymentHistoryEntry struct {
	VersionID         string         `json:"versionId"`
	ModelType         ModelType      `json:"modelType"`
	Type              DeploymentType `json:"type"`
	TrafficPercentage float64        `json:"trafficPercentage,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// RegistrySnapshot round-trips the full registry for persistence handoff.
type RegistrySnapshot struct {
	Versions  []ModelVersion             `json:"versions"`
	History   []DeploymentHistoryEntry   `json:"history"`
	Artifacts map[string]json.RawMessage `json:"artifacts,omitempty"`
}
