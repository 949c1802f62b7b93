package models

import "time"

// Technique enumerates supported anonymization techniques.
type Technique string

const (
	TechniquePseudonymization    Technique = "pseudonymization"
	TechniqueDifferentialPrivacy Technique = "differential_privacy"
	TechniqueKAnonymity          Technique = "k_anonymity"
	TechniqueGeneralization      Technique = "generalization"
)

// RawRecord is a per-user telemetry record as delivered by the collector.
// It never survives past the anonymization boundary.
type RawRecord struct {
	UserID    string                  `json:"userId"`
	Data      map[string]FeatureValue `json:"data"`
	Timestamp time.Time               `json:"timestamp"`
}

// AnonymizedRecord is the privatized form of a RawRecord. Immutable once produced.
type AnonymizedRecord struct {
	Features     map[string]FeatureValue `json:"features"`
	Technique    Technique               `json:"technique"`
	PrivacyLoss  float64                 `json:"privacyLoss"`
	OriginalType string                  `json:"originalType"`
	Timestamp    time.Time               `json:"timestamp"`
}

// GenerationMethod enumerates synthetic sampling strategies.
type GenerationMethod string

const (
	MethodRuleBased GenerationMethod = "rule_based"
	MethodVAE       GenerationMethod = "vae"
	MethodDiffusion GenerationMethod = "diffusion"
	MethodGAN       GenerationMethod = "gan"
)

// FeatureDistribution summarises one feature across a batch of anonymized records.
// Derived per generation request, never stored independently.
type FeatureDistribution struct {
	Kind       FeatureKind        `json:"kind"`
	Mean       float64            `json:"mean,omitempty"`
	StdDev     float64            `json:"stdDev,omitempty"`
	Min        float64            `json:"min,omitempty"`
	Max        float64            `json:"max,omitempty"`
	TrueRatio  float64            `json:"trueRatio,omitempty"`
	Categories map[string]float64 `json:"distribution,omitempty"`
}

// SyntheticSample is an artificial feature bag statistically resembling the
// anonymized source batch. Consumed only by the trainer.
type SyntheticSample struct {
	Features           map[string]FeatureValue `json:"features"`
	SourceDistribution string                  `json:"sourceDistribution"`
	QualityScore       float64                 `json:"qualityScore"`
	SyntheticID        string                  `json:"syntheticId"`
	GeneratedAt        time.Time               `json:"generatedAt"`
}
