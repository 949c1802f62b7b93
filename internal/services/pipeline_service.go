package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/attunestack/attune-pipeline/internal/anonymize"
	"github.com/attunestack/attune-pipeline/internal/metrics"
	"github.com/attunestack/attune-pipeline/internal/models"
	"github.com/attunestack/attune-pipeline/internal/orchestrator"
	"github.com/attunestack/attune-pipeline/internal/repo"
	"github.com/attunestack/attune-pipeline/internal/reward"
	"github.com/attunestack/attune-pipeline/internal/synth"
	"github.com/attunestack/attune-pipeline/internal/utils"
)

// Defaults carries the service-level fallbacks from configuration.
type Defaults struct {
	Epsilon          float64
	K                int
	SampleCount      int
	QualityThreshold float64
}

// PipelineService is the facade the transport layer calls. It composes the
// five pipeline components and owns request-level instrumentation.
type PipelineService struct {
	logger       *slog.Logger
	anonymizer   *anonymize.Anonymizer
	generator    *synth.Generator
	rewardModel  *reward.Model
	orchestrator *orchestrator.Orchestrator
	telemetry    *repo.TelemetryClient
	latencies    *utils.LatencyTracker
	decisions    *utils.LatencyTracker
	defaults     Defaults
}

// New constructs the pipeline service facade. telemetry may be nil when no
// upstream collector is configured. latencies tracks transport requests;
// decisions tracks serving-path scoring only and is the tracker the model
// monitor reads, so training durations must never reach it.
func New(
	logger *slog.Logger,
	anonymizer *anonymize.Anonymizer,
	generator *synth.Generator,
	rewardModel *reward.Model,
	orch *orchestrator.Orchestrator,
	telemetry *repo.TelemetryClient,
	latencies *utils.LatencyTracker,
	decisions *utils.LatencyTracker,
	defaults Defaults,
) *PipelineService {
	if logger == nil {
		logger = slog.Default()
	}
	if latencies == nil {
		latencies = utils.NewLatencyTracker(1024)
	}
	if decisions == nil {
		decisions = utils.NewLatencyTracker(1024)
	}
	return &PipelineService{
		logger:       logger,
		anonymizer:   anonymizer,
		generator:    generator,
		rewardModel:  rewardModel,
		orchestrator: orch,
		telemetry:    telemetry,
		latencies:    latencies,
		decisions:    decisions,
		defaults:     defaults,
	}
}

// Anonymize privatizes one record.
func (s *PipelineService) Anonymize(req models.AnonymizeRequest) (models.AnonymizedRecord, error) {
	record, err := s.anonymizer.Anonymize(req.UserID, req.Data, s.anonymizeConfig(req.Technique, req.Epsilon, req.K))
	if err != nil {
		metrics.ObserveAnonymization(string(req.Technique), metrics.OutcomeError)
		return models.AnonymizedRecord{}, err
	}
	metrics.ObserveAnonymization(string(req.Technique), metrics.OutcomeSuccess)
	return record, nil
}

// BatchAnonymize privatizes many records under one config, preserving order.
func (s *PipelineService) BatchAnonymize(req models.BatchAnonymizeRequest) ([]models.AnonymizedRecord, error) {
	records, err := s.anonymizer.BatchAnonymize(req.Records, s.anonymizeConfig(req.Technique, req.Epsilon, req.K))
	if err != nil {
		metrics.ObserveAnonymization(string(req.Technique), metrics.OutcomeError)
		return nil, err
	}
	for range records {
		metrics.ObserveAnonymization(string(req.Technique), metrics.OutcomeSuccess)
	}
	return records, nil
}

func (s *PipelineService) anonymizeConfig(technique models.Technique, epsilon float64, k int) anonymize.Config {
	if epsilon <= 0 {
		epsilon = s.defaults.Epsilon
	}
	if k <= 0 {
		k = s.defaults.K
	}
	return anonymize.Config{Technique: technique, Epsilon: epsilon, K: k}
}

// GenerateResult pairs the kept samples with their batch diversity score.
type GenerateResult struct {
	Samples        []models.SyntheticSample `json:"samples"`
	DiversityScore float64                  `json:"diversityScore"`
}

// Generate expands anonymized records into synthetic training samples.
func (s *PipelineService) Generate(req models.GenerateRequest) (GenerateResult, error) {
	opts := synth.Options{
		Method:           req.Method,
		SampleCount:      req.SampleCount,
		QualityThreshold: req.QualityThreshold,
	}
	if opts.SampleCount <= 0 {
		opts.SampleCount = s.defaults.SampleCount
	}
	if opts.QualityThreshold == nil {
		threshold := s.defaults.QualityThreshold
		opts.QualityThreshold = &threshold
	}

	samples, err := s.generator.GenerateFromAnonymized(req.Records, opts)
	if err != nil {
		return GenerateResult{}, err
	}
	metrics.ObserveSyntheticSamples(string(req.Method), len(samples))
	return GenerateResult{
		Samples:        samples,
		DiversityScore: synth.DiversityScore(samples),
	}, nil
}

// GeneratePulseSequence emits one synthetic heart-rate walk.
func (s *PipelineService) GeneratePulseSequence(records []models.AnonymizedRecord, length int) models.SyntheticSample {
	return s.generator.GeneratePulseSequence(records, length)
}

// GenerateEmotionTrajectory emits one synthetic valence/arousal walk.
func (s *PipelineService) GenerateEmotionTrajectory(records []models.AnonymizedRecord, length int) models.SyntheticSample {
	return s.generator.GenerateEmotionTrajectory(records, length)
}

// CalculateReward scores one observation.
func (s *PipelineService) CalculateReward(input models.RewardInput) models.RewardOutput {
	start := time.Now()
	output := s.rewardModel.Calculate(input)
	s.decisions.Observe(time.Since(start))
	metrics.ObserveReward()
	return output
}

// BatchCalculateRewards scores many observations, preserving order.
func (s *PipelineService) BatchCalculateRewards(inputs []models.RewardInput) []models.RewardOutput {
	start := time.Now()
	outputs := s.rewardModel.BatchCalculate(inputs)
	s.decisions.Observe(time.Since(start))
	for range inputs {
		metrics.ObserveReward()
	}
	return outputs
}

// UpdateRewardWeights replaces and renormalises the reward weights.
func (s *PipelineService) UpdateRewardWeights(weights reward.Weights) (reward.Weights, error) {
	return s.rewardModel.UpdateWeights(weights)
}

// EvaluateRewardPredictions compares predicted against observed rewards.
func (s *PipelineService) EvaluateRewardPredictions(predictions, actual []float64) (reward.PredictionMetrics, error) {
	return s.rewardModel.EvaluatePredictions(predictions, actual)
}

// TrainModel trains a new version and records run metrics.
func (s *PipelineService) TrainModel(ctx context.Context, req models.TrainRequest) (models.ModelVersion, error) {
	start := time.Now()
	version, err := s.orchestrator.TrainNewModel(ctx, req)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveTraining(string(req.ModelType), duration, metrics.OutcomeError)
		return models.ModelVersion{}, err
	}
	metrics.ObserveTraining(string(req.ModelType), duration, metrics.OutcomeSuccess)
	return version, nil
}

// EvaluateModel checks a trained version against deployment thresholds.
func (s *PipelineService) EvaluateModel(versionID string) (models.EvaluationResult, error) {
	return s.orchestrator.EvaluateModel(versionID)
}

// DeployModel rolls a version out under the requested strategy.
func (s *PipelineService) DeployModel(ctx context.Context, versionID string, req models.DeployRequest) (models.DeployResult, error) {
	result, err := s.orchestrator.DeployModel(ctx, versionID, req)
	outcome := metrics.OutcomeSuccess
	if err != nil || !result.Success {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveDeployment(string(req.Type), outcome)
	return result, err
}

// RollbackModel pulls a version and restores its predecessor.
func (s *PipelineService) RollbackModel(ctx context.Context, versionID, reason string) (models.RollbackResult, error) {
	return s.orchestrator.RollbackModel(ctx, versionID, reason)
}

// MonitorModel reports the health of a deployed version.
func (s *PipelineService) MonitorModel(versionID string) (models.MonitorReport, error) {
	return s.orchestrator.MonitorDeployedModel(versionID)
}

// RunABTest compares two versions of the same model type.
func (s *PipelineService) RunABTest(req models.ABTestRequest) (models.ABTestResult, error) {
	return s.orchestrator.RunABTest(req)
}

// DeployedModels lists currently deployed versions.
func (s *PipelineService) DeployedModels() []models.ModelVersion {
	return s.orchestrator.GetDeployedModels()
}

// ActiveModels lists versions still in the working set.
func (s *PipelineService) ActiveModels() []models.ModelVersion {
	return s.orchestrator.GetActiveModels()
}

// ExportRegistry snapshots the registry for persistence handoff.
func (s *PipelineService) ExportRegistry() models.RegistrySnapshot {
	return s.orchestrator.ExportRegistry()
}

// ImportRegistry replaces the registry from a snapshot.
func (s *PipelineService) ImportRegistry(ctx context.Context, snapshot models.RegistrySnapshot) error {
	return s.orchestrator.ImportRegistry(ctx, snapshot)
}

// Latencies exposes the transport request latency tracker. The monitor does
// not read this one; decision latency has its own tracker.
func (s *PipelineService) Latencies() *utils.LatencyTracker {
	return s.latencies
}

// TrainFromTelemetryRequest drives the end-to-end path: fetch raw records,
// privatize, synthesize, train.
type TrainFromTelemetryRequest struct {
	Cohort      string                  `json:"cohort"`
	Start       time.Time               `json:"start"`
	End         time.Time               `json:"end"`
	Technique   models.Technique        `json:"technique"`
	Epsilon     float64                 `json:"epsilon,omitempty"`
	K           int                     `json:"k,omitempty"`
	Method      models.GenerationMethod `json:"method"`
	SampleCount int                     `json:"sampleCount,omitempty"`
	ModelType   models.ModelType        `json:"modelType"`
	Epochs      int                     `json:"epochs"`
	Hyperparams *models.Hyperparams     `json:"hyperparams,omitempty"`
}

// TrainFromTelemetry runs the full pipeline against the upstream collector.
func (s *PipelineService) TrainFromTelemetry(ctx context.Context, req TrainFromTelemetryRequest) (models.ModelVersion, error) {
	const op = "services.TrainFromTelemetry"
	if s.telemetry == nil {
		return models.ModelVersion{}, utils.ValidationError(op, "no telemetry collector configured")
	}

	raw, err := s.telemetry.FetchRecords(ctx, req.Cohort, req.Start, req.End)
	if err != nil {
		return models.ModelVersion{}, fmt.Errorf("%s: %w", op, err)
	}

	items := make([]models.BatchAnonymizeItem, len(raw))
	for i, record := range raw {
		items[i] = models.BatchAnonymizeItem{UserID: record.UserID, Data: record.Data}
	}
	anonymized, err := s.BatchAnonymize(models.BatchAnonymizeRequest{
		Records:   items,
		Technique: req.Technique,
		Epsilon:   req.Epsilon,
		K:         req.K,
	})
	if err != nil {
		return models.ModelVersion{}, err
	}

	generated, err := s.Generate(models.GenerateRequest{
		Records:     anonymized,
		Method:      req.Method,
		SampleCount: req.SampleCount,
	})
	if err != nil {
		return models.ModelVersion{}, err
	}

	s.logger.Info("telemetry training data prepared",
		slog.Int("raw_records", len(raw)),
		slog.Int("synthetic_samples", len(generated.Samples)),
		slog.Float64("diversity", generated.DiversityScore),
	)

	return s.TrainModel(ctx, models.TrainRequest{
		ModelType:    req.ModelType,
		TrainingData: generated.Samples,
		Epochs:       req.Epochs,
		Hyperparams:  req.Hyperparams,
	})
}
