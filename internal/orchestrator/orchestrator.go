package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attunestack/attune-pipeline/internal/cache"
	"github.com/attunestack/attune-pipeline/internal/models"
	"github.com/attunestack/attune-pipeline/internal/reward"
	"github.com/attunestack/attune-pipeline/internal/rl"
	"github.com/attunestack/attune-pipeline/internal/utils"
)

// Evaluation thresholds a candidate must clear before deployment, and the
// monitoring bounds a deployed version must stay inside. Kept verbatim as
// tunable defaults.
const (
	EvalEmpathyMin   = 0.75
	EvalFIRMax       = 0.1
	EvalLatencyMaxMs = 200

	MonitorEmpathyMin   = 0.7
	MonitorFIRMax       = 0.15
	MonitorLatencyMaxMs = 250

	deployLockTTL = 10 * time.Second
)

// Placeholder metrics assigned to non-policy model types until their training
// loops produce real figures.
var placeholderMetrics = models.ModelMetrics{
	EmpathyScore:          0.85,
	FalseInterventionRate: 0.05,
	RewardStability:       0.9,
	LatencyMs:             120,
}

// Orchestrator coordinates training, evaluation, deployment, monitoring, and
// rollback across model versions. It owns the registry and deployment history.
type Orchestrator struct {
	logger    *slog.Logger
	store     Store
	locker    cache.Provider
	latencies *utils.LatencyTracker
	registry  *registry

	seedMu sync.Mutex
	seeds  *rand.Rand

	deployMu sync.Mutex
	typeMu   map[models.ModelType]*sync.Mutex
}

// New constructs an Orchestrator. store and locker may be nil (in-memory
// registry, no cross-process deploy lock); latencies may be nil.
func New(logger *slog.Logger, store Store, locker cache.Provider, latencies *utils.LatencyTracker, rng *rand.Rand) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = cache.NoopProvider{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Orchestrator{
		logger:    logger,
		store:     store,
		locker:    locker,
		latencies: latencies,
		registry:  newRegistry(),
		seeds:     rng,
		typeMu:    make(map[models.ModelType]*sync.Mutex),
	}
}

// Load hydrates the registry from the durable store, if one is configured.
func (o *Orchestrator) Load(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	snapshot, err := o.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load registry snapshot: %w", err)
	}
	o.registry.replace(snapshot, o.logger)
	return nil
}

// TrainNewModel creates a version in training status and runs the type's
// training loop. Any failure marks the version archived and surfaces the
// error; a silently archived but reported-success version would corrupt the
// lifecycle.
func (o *Orchestrator) TrainNewModel(ctx context.Context, req models.TrainRequest) (models.ModelVersion, error) {
	const op = "orchestrator.TrainNewModel"

	switch req.ModelType {
	case models.ModelTypePolicy, models.ModelTypeEmpathy, models.ModelTypeTiming, models.ModelTypeTone:
	default:
		return models.ModelVersion{}, utils.ValidationError(op, "unknown model type %q", req.ModelType)
	}
	if req.Epochs < 0 {
		return models.ModelVersion{}, utils.ValidationError(op, "epochs must be non-negative, got %d", req.Epochs)
	}

	// Each run mints its own version and owns it end to end, so independent
	// trainings never contend for the same policy tables.
	version := models.ModelVersion{
		VersionID:  uuid.NewString(),
		VersionTag: fmt.Sprintf("%s-%s", req.ModelType, time.Now().UTC().Format("20060102-150405")),
		ModelType:  req.ModelType,
		Status:     models.StatusTraining,
		CreatedAt:  time.Now().UTC(),
	}

	o.registry.put(version)
	o.persistVersion(ctx, version)

	metrics, artifact, err := o.runTraining(ctx, version, req)
	if err != nil {
		version.Status = models.StatusArchived
		o.registry.put(version)
		o.persistVersion(ctx, version)
		return models.ModelVersion{}, fmt.Errorf("%s: training %s: %w", op, version.VersionID, err)
	}

	version.Status = models.StatusEvaluating
	version.Metrics = &metrics
	o.registry.put(version)
	if artifact != nil {
		o.registry.putArtifact(version.VersionID, artifact)
		o.persistArtifact(ctx, version.VersionID, artifact)
	}
	o.persistVersion(ctx, version)

	o.logger.Info("model trained",
		slog.String("version_id", version.VersionID),
		slog.String("model_type", string(version.ModelType)),
		slog.Float64("empathy_score", metrics.EmpathyScore),
		slog.Float64("false_intervention_rate", metrics.FalseInterventionRate),
	)
	return version, nil
}

func (o *Orchestrator) runTraining(ctx context.Context, version models.ModelVersion, req models.TrainRequest) (models.ModelMetrics, json.RawMessage, error) {
	switch req.ModelType {
	case models.ModelTypePolicy:
		return o.trainPolicy(ctx, version, req)
	default:
		// Non-policy types instantiate a reward model and carry placeholder
		// metrics until dedicated training loops exist.
		model := reward.New(o.logger)
		artifact, err := json.Marshal(model.Weights())
		if err != nil {
			return models.ModelMetrics{}, nil, err
		}
		return placeholderMetrics, artifact, nil
	}
}

func (o *Orchestrator) trainPolicy(ctx context.Context, version models.ModelVersion, req models.TrainRequest) (models.ModelMetrics, json.RawMessage, error) {
	trainer := rl.NewTrainer(o.logger, req.Hyperparams, nil, o.childRNG())

	epochs, err := trainer.Train(ctx, req.TrainingData, req.Epochs, func(m rl.EpochMetrics) {
		o.logger.Debug("training progress",
			slog.String("version_id", version.VersionID),
			slog.Int("epoch", m.Epoch),
			slog.Float64("avg_reward", m.AverageReward),
		)
	})
	if err != nil {
		return models.ModelMetrics{}, nil, err
	}

	evalStart := time.Now()
	eval := trainer.EvaluatePolicy(req.TrainingData)
	evalDuration := time.Since(evalStart)

	latencyMs := 0.0
	if eval.Transitions > 0 {
		latencyMs = float64(evalDuration.Milliseconds()) / float64(eval.Transitions)
	}

	metrics := models.ModelMetrics{
		EmpathyScore:          eval.EmpathyScore,
		FalseInterventionRate: eval.FalseInterventionRate,
		RewardStability:       rewardStability(epochs),
		LatencyMs:             latencyMs,
	}

	artifact, err := json.Marshal(trainer.Snapshot())
	if err != nil {
		return models.ModelMetrics{}, nil, err
	}
	return metrics, artifact, nil
}

// rewardStability is max(0, 1 - mean absolute consecutive reward delta) over
// epoch rewards; fewer than two epochs defaults to perfectly stable.
func rewardStability(epochs []rl.EpochMetrics) float64 {
	if len(epochs) < 2 {
		return 1.0
	}
	totalDelta := 0.0
	for i := 1; i < len(epochs); i++ {
		totalDelta += math.Abs(epochs[i].TotalReward - epochs[i-1].TotalReward)
	}
	stability := 1 - totalDelta/float64(len(epochs)-1)
	if stability < 0 {
		return 0
	}
	return stability
}

// EvaluateModel checks a version's recorded metrics against the fixed
// deployment thresholds.
func (o *Orchestrator) EvaluateModel(versionID string) (models.EvaluationResult, error) {
	const op = "orchestrator.EvaluateModel"

	version, ok := o.registry.get(versionID)
	if !ok {
		return models.EvaluationResult{}, utils.NotFoundError(op, "version %s not found", versionID)
	}
	if version.Metrics == nil {
		return models.EvaluationResult{}, utils.ValidationError(op, "version %s has no recorded metrics", versionID)
	}

	var failures []string
	if version.Metrics.EmpathyScore < EvalEmpathyMin {
		failures = append(failures, fmt.Sprintf("empathy score %.3f below %.2f", version.Metrics.EmpathyScore, EvalEmpathyMin))
	}
	if version.Metrics.FalseInterventionRate > EvalFIRMax {
		failures = append(failures, fmt.Sprintf("false intervention rate %.3f above %.2f", version.Metrics.FalseInterventionRate, EvalFIRMax))
	}
	if version.Metrics.LatencyMs > EvalLatencyMaxMs {
		failures = append(failures, fmt.Sprintf("latency %.0fms above %dms", version.Metrics.LatencyMs, EvalLatencyMaxMs))
	}

	result := models.EvaluationResult{
		VersionID: versionID,
		Passed:    len(failures) == 0,
		Failures:  failures,
		Metrics:   version.Metrics,
	}
	if result.Passed {
		result.Recommendation = "Meets all deployment criteria"
	} else {
		result.Recommendation = "Not ready to deploy: " + joinFailures(failures)
	}
	return result, nil
}

// DeployModel rolls an evaluated version out. Full rollouts archive the
// previously deployed version of the same type atomically; canary promotes
// without archiving the predecessor, deliberately allowing two deployed
// versions of one type; shadow tests change no state.
func (o *Orchestrator) DeployModel(ctx context.Context, versionID string, req models.DeployRequest) (models.DeployResult, error) {
	const op = "orchestrator.DeployModel"

	switch req.Type {
	case models.DeployFullRollout, models.DeployShadowTest, models.DeployCanary:
	default:
		return models.DeployResult{}, utils.ValidationError(op, "unknown deployment type %q", req.Type)
	}

	version, ok := o.registry.get(versionID)
	if !ok {
		return models.DeployResult{Success: false, Message: fmt.Sprintf("version %s not found", versionID)}, nil
	}
	if version.Status != models.StatusEvaluating {
		return models.DeployResult{
			Success: false,
			Message: fmt.Sprintf("version %s is %s; only evaluating versions can be deployed", versionID, version.Status),
		}, nil
	}

	entry := models.DeploymentHistoryEntry{
		VersionID:         versionID,
		ModelType:         version.ModelType,
		Type:              req.Type,
		TrafficPercentage: req.TrafficPercentage,
		Timestamp:         time.Now().UTC(),
	}

	result := models.DeployResult{Success: true, VersionID: versionID, Type: req.Type}
	switch req.Type {
	case models.DeployShadowTest:
		o.logger.Info("shadow test started",
			slog.String("version_id", versionID),
			slog.String("model_type", string(version.ModelType)),
		)
		result.Message = "shadow test started; no traffic shifted"

	case models.DeployCanary:
		now := time.Now().UTC()
		version.Status = models.StatusDeployed
		version.DeployedAt = &now
		o.registry.put(version)
		o.persistVersion(ctx, version)
		result.Message = fmt.Sprintf("canary deployed at %.0f%% traffic", req.TrafficPercentage)

	case models.DeployFullRollout:
		mu := o.modelTypeMutex(version.ModelType)
		mu.Lock()
		unlock := o.acquireDeployLock(ctx, version.ModelType)

		now := time.Now().UTC()
		for _, current := range o.registry.deployedOfType(version.ModelType) {
			if current.VersionID == versionID {
				continue
			}
			current.Status = models.StatusArchived
			o.registry.put(current)
			o.persistVersion(ctx, current)
			result.ArchivedVersionID = current.VersionID
		}
		version.Status = models.StatusDeployed
		version.DeployedAt = &now
		o.registry.put(version)
		o.persistVersion(ctx, version)

		unlock()
		mu.Unlock()
		result.Message = "full rollout complete"
	}

	o.registry.appendHistory(entry)
	o.persistHistory(ctx, entry)

	o.logger.Info("deployment recorded",
		slog.String("version_id", versionID),
		slog.String("type", string(req.Type)),
		slog.String("model_type", string(version.ModelType)),
	)
	return result, nil
}

// RollbackModel marks the target as rolled back and restores the previous
// full rollout of the same model type, when one exists.
func (o *Orchestrator) RollbackModel(ctx context.Context, versionID, reason string) (models.RollbackResult, error) {
	version, ok := o.registry.get(versionID)
	if !ok {
		return models.RollbackResult{Success: false, Message: fmt.Sprintf("version %s not found", versionID)}, nil
	}

	version.Status = models.StatusRollback
	o.registry.put(version)
	o.persistVersion(ctx, version)

	o.logger.Warn("model rolled back",
		slog.String("version_id", versionID),
		slog.String("reason", reason),
	)

	rollouts := o.registry.fullRolloutsNewestFirst(version.ModelType)
	if len(rollouts) < 2 {
		return models.RollbackResult{
			Success: false,
			Message: "no previous full rollout to restore",
		}, nil
	}

	previous, ok := o.registry.get(rollouts[1].VersionID)
	if !ok {
		return models.RollbackResult{
			Success: false,
			Message: fmt.Sprintf("previous version %s missing from registry", rollouts[1].VersionID),
		}, nil
	}

	now := time.Now().UTC()
	previous.Status = models.StatusDeployed
	previous.DeployedAt = &now
	o.registry.put(previous)
	o.persistVersion(ctx, previous)

	return models.RollbackResult{
		Success:           true,
		Message:           fmt.Sprintf("restored %s after rollback of %s", previous.VersionID, versionID),
		RestoredVersionID: previous.VersionID,
	}, nil
}

// MonitorDeployedModel checks a deployed version's health. Findings
// accumulate per version; more than two escalates to critical.
func (o *Orchestrator) MonitorDeployedModel(versionID string) (models.MonitorReport, error) {
	const op = "orchestrator.MonitorDeployedModel"

	version, ok := o.registry.get(versionID)
	if !ok {
		return models.MonitorReport{}, utils.NotFoundError(op, "version %s not found", versionID)
	}
	if version.Status != models.StatusDeployed {
		return models.MonitorReport{}, utils.ValidationError(op, "version %s is %s, not deployed", versionID, version.Status)
	}

	metrics := models.ModelMetrics{}
	if version.Metrics != nil {
		metrics = *version.Metrics
	}
	latencyMs := metrics.LatencyMs
	if o.latencies != nil && o.latencies.Count() > 0 {
		latencyMs = o.latencies.PercentileMillis(95)
	}
	metrics.LatencyMs = latencyMs

	report := models.MonitorReport{
		VersionID: versionID,
		Health:    models.HealthHealthy,
		Metrics:   &metrics,
		CheckedAt: time.Now().UTC(),
	}

	var findings []string
	if metrics.EmpathyScore < MonitorEmpathyMin {
		findings = append(findings, "empathy score degraded; retrain with empathy-weighted samples")
	}
	if metrics.FalseInterventionRate > MonitorFIRMax {
		findings = append(findings, "false intervention rate elevated; tighten intervention threshold")
	}
	if latencyMs > MonitorLatencyMaxMs {
		findings = append(findings, "decision latency elevated; profile the serving path")
	}

	if len(findings) > 0 {
		report.Health = models.HealthDegraded
		report.Recommendations = findings
	}
	if o.registry.appendMonitorFindings(versionID, findings) > 2 {
		report.Health = models.HealthCritical
	}
	return report, nil
}

// RunABTest compares two versions on the composite of empathy score and
// intervention safety. Ties favour control.
func (o *Orchestrator) RunABTest(req models.ABTestRequest) (models.ABTestResult, error) {
	const op = "orchestrator.RunABTest"

	control, ok := o.registry.get(req.ControlVersionID)
	if !ok {
		return models.ABTestResult{}, utils.NotFoundError(op, "control version %s not found", req.ControlVersionID)
	}
	test, ok := o.registry.get(req.TestVersionID)
	if !ok {
		return models.ABTestResult{}, utils.NotFoundError(op, "test version %s not found", req.TestVersionID)
	}

	result := models.ABTestResult{
		ControlVersionID: req.ControlVersionID,
		TestVersionID:    req.TestVersionID,
		ControlScore:     compositeScore(control.Metrics),
		TestScore:        compositeScore(test.Metrics),
	}
	if result.TestScore > result.ControlScore {
		result.Winner = req.TestVersionID
	} else {
		result.Winner = req.ControlVersionID
	}
	return result, nil
}

func compositeScore(metrics *models.ModelMetrics) float64 {
	if metrics == nil {
		return 0
	}
	return metrics.EmpathyScore*0.5 + (1-metrics.FalseInterventionRate)*0.5
}

// GetDeployedModels returns every version currently holding deployed status.
func (o *Orchestrator) GetDeployedModels() []models.ModelVersion {
	return o.registry.byStatus(models.StatusDeployed)
}

// GetActiveModels returns versions still in the working set: training,
// evaluating, or deployed.
func (o *Orchestrator) GetActiveModels() []models.ModelVersion {
	return o.registry.byStatus(models.StatusTraining, models.StatusEvaluating, models.StatusDeployed)
}

// GetModel returns one version by id.
func (o *Orchestrator) GetModel(versionID string) (models.ModelVersion, bool) {
	return o.registry.get(versionID)
}

// GetArtifact returns the stored artifact blob for a version.
func (o *Orchestrator) GetArtifact(versionID string) (json.RawMessage, bool) {
	return o.registry.artifact(versionID)
}

// ExportRegistry round-trips the full registry for persistence handoff.
func (o *Orchestrator) ExportRegistry() models.RegistrySnapshot {
	return o.registry.snapshot()
}

// ImportRegistry replaces the registry contents with the supplied snapshot.
func (o *Orchestrator) ImportRegistry(ctx context.Context, snapshot models.RegistrySnapshot) error {
	o.registry.replace(snapshot, o.logger)
	if o.store == nil {
		return nil
	}
	if err := o.store.ReplaceSnapshot(ctx, snapshot); err != nil {
		// One retry around persistence only; the in-memory import already
		// succeeded and is safe to recompute.
		if err = o.store.ReplaceSnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("persist imported registry: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) modelTypeMutex(modelType models.ModelType) *sync.Mutex {
	o.deployMu.Lock()
	defer o.deployMu.Unlock()
	mu, ok := o.typeMu[modelType]
	if !ok {
		mu = &sync.Mutex{}
		o.typeMu[modelType] = mu
	}
	return mu
}

// acquireDeployLock takes a best-effort cross-process lock for a full rollout.
// The per-type mutex remains the in-process authority; lock failures only log.
func (o *Orchestrator) acquireDeployLock(ctx context.Context, modelType models.ModelType) func() {
	key := "deploy-lock:" + string(modelType)
	release, acquired, err := cache.TryLock(ctx, o.locker, key, deployLockTTL)
	if err != nil {
		o.logger.Warn("deploy lock unavailable", slog.Any("error", err))
		return func() {}
	}
	if !acquired {
		o.logger.Warn("deploy lock contended", slog.String("model_type", string(modelType)))
		return func() {}
	}
	return func() {
		if err := release(); err != nil {
			o.logger.Warn("deploy lock release failed", slog.Any("error", err))
		}
	}
}

func (o *Orchestrator) childRNG() *rand.Rand {
	o.seedMu.Lock()
	defer o.seedMu.Unlock()
	return rand.New(rand.NewSource(o.seeds.Int63()))
}

// persistVersion writes through to the durable store with a single retry.
// Statistical state is deterministic and safe to recompute; only registry
// writes warrant the retry.
func (o *Orchestrator) persistVersion(ctx context.Context, version models.ModelVersion) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveVersion(ctx, version); err != nil {
		if err = o.store.SaveVersion(ctx, version); err != nil {
			o.logger.Error("persist version failed",
				slog.String("version_id", version.VersionID),
				slog.Any("error", err),
			)
		}
	}
}

func (o *Orchestrator) persistArtifact(ctx context.Context, versionID string, artifact json.RawMessage) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveArtifact(ctx, versionID, artifact); err != nil {
		if err = o.store.SaveArtifact(ctx, versionID, artifact); err != nil {
			o.logger.Error("persist artifact failed",
				slog.String("version_id", versionID),
				slog.Any("error", err),
			)
		}
	}
}

func (o *Orchestrator) persistHistory(ctx context.Context, entry models.DeploymentHistoryEntry) {
	if o.store == nil {
		return
	}
	if err := o.store.AppendHistory(ctx, entry); err != nil {
		if err = o.store.AppendHistory(ctx, entry); err != nil {
			o.logger.Error("persist history entry failed",
				slog.String("version_id", entry.VersionID),
				slog.Any("error", err),
			)
		}
	}
}

func joinFailures(failures []string) string {
	out := ""
	for i, failure := range failures {
		if i > 0 {
			out += "; "
		}
		out += failure
	}
	return out
}
