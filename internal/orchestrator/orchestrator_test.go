package orchestrator

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/attunestack/attune-pipeline/internal/models"
	"github.com/attunestack/attune-pipeline/internal/rl"
	"github.com/attunestack/attune-pipeline/internal/utils"
)

func newTestOrchestrator() *Orchestrator {
	return New(nil, nil, nil, nil, rand.New(rand.NewSource(5)))
}

func seedVersion(o *Orchestrator, id string, modelType models.ModelType, status models.ModelStatus, metrics *models.ModelMetrics) {
	o.registry.put(models.ModelVersion{
		VersionID:  id,
		VersionTag: string(modelType) + "-" + id,
		ModelType:  modelType,
		Status:     status,
		Metrics:    metrics,
		CreatedAt:  time.Now().UTC(),
	})
}

func policySamples(n int) []models.SyntheticSample {
	rng := rand.New(rand.NewSource(9))
	samples := make([]models.SyntheticSample, n)
	for i := range samples {
		samples[i] = models.SyntheticSample{
			Features: map[string]models.FeatureValue{
				"valence":   models.Number(rng.Float64()*2 - 1),
				"arousal":   models.Number(rng.Float64()*2 - 1),
				"resonance": models.Number(rng.Float64()),
			},
			QualityScore: 0.8,
		}
	}
	return samples
}

func TestTrainNewModelPolicy(t *testing.T) {
	o := newTestOrchestrator()
	version, err := o.TrainNewModel(context.Background(), models.TrainRequest{
		ModelType:    models.ModelTypePolicy,
		TrainingData: policySamples(30),
		Epochs:       3,
	})
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if version.Status != models.StatusEvaluating {
		t.Fatalf("trained version should be evaluating, got %s", version.Status)
	}
	if version.Metrics == nil {
		t.Fatalf("trained version has no metrics")
	}
	if !strings.HasPrefix(version.VersionTag, "policy-") {
		t.Fatalf("unexpected version tag %q", version.VersionTag)
	}
	if _, ok := o.GetArtifact(version.VersionID); !ok {
		t.Fatalf("policy training should store a snapshot artifact")
	}
}

func TestTrainNewModelPlaceholderTypes(t *testing.T) {
	o := newTestOrchestrator()
	version, err := o.TrainNewModel(context.Background(), models.TrainRequest{
		ModelType: models.ModelTypeEmpathy,
		Epochs:    1,
	})
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if version.Metrics.EmpathyScore != placeholderMetrics.EmpathyScore {
		t.Fatalf("expected placeholder metrics, got %+v", version.Metrics)
	}
}

func TestTrainNewModelValidation(t *testing.T) {
	o := newTestOrchestrator()
	if _, err := o.TrainNewModel(context.Background(), models.TrainRequest{ModelType: "transformer"}); err == nil {
		t.Fatalf("unknown model type should be rejected")
	} else if !utils.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := o.TrainNewModel(context.Background(), models.TrainRequest{ModelType: models.ModelTypePolicy, Epochs: -1}); err == nil {
		t.Fatalf("negative epochs should be rejected")
	}
}

func TestTrainCancellationArchivesVersion(t *testing.T) {
	o := newTestOrchestrator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := o.TrainNewModel(ctx, models.TrainRequest{
		ModelType:    models.ModelTypePolicy,
		TrainingData: policySamples(10),
		Epochs:       5,
	}); err == nil {
		t.Fatalf("expected cancellation error")
	}

	snapshot := o.ExportRegistry()
	if len(snapshot.Versions) != 1 {
		t.Fatalf("expected one version in registry, got %d", len(snapshot.Versions))
	}
	if snapshot.Versions[0].Status != models.StatusArchived {
		t.Fatalf("failed training should archive the version, got %s", snapshot.Versions[0].Status)
	}
}

func TestEvaluateModelPasses(t *testing.T) {
	o := newTestOrchestrator()
	seedVersion(o, "v1", models.ModelTypePolicy, models.StatusEvaluating, &models.ModelMetrics{
		EmpathyScore:          0.9,
		FalseInterventionRate: 0.05,
		RewardStability:       0.9,
		LatencyMs:             100,
	})

	result, err := o.EvaluateModel("v1")
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !result.Passed {
		t.Fatalf("expected pass, failures: %v", result.Failures)
	}
	if result.Recommendation != "Meets all deployment criteria" {
		t.Fatalf("unexpected recommendation %q", result.Recommendation)
	}
}

func TestEvaluateModelFailures(t *testing.T) {
	o := newTestOrchestrator()
	seedVersion(o, "v1", models.ModelTypePolicy, models.StatusEvaluating, &models.ModelMetrics{
		EmpathyScore:          0.5,
		FalseInterventionRate: 0.2,
		LatencyMs:             300,
	})

	result, err := o.EvaluateModel("v1")
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if result.Passed {
		t.Fatalf("expected failure")
	}
	if len(result.Failures) != 3 {
		t.Fatalf("expected 3 failures, got %v", result.Failures)
	}
	if !strings.HasPrefix(result.Recommendation, "Not ready to deploy") {
		t.Fatalf("unexpected recommendation %q", result.Recommendation)
	}
}

func TestEvaluateModelNotFound(t *testing.T) {
	o := newTestOrchestrator()
	if _, err := o.EvaluateModel("missing"); err == nil {
		t.Fatalf("expected not-found error")
	} else if !utils.IsNotFound(err) {
		t.Fatalf("expected not-found kind, got %v", err)
	}
}

func TestFullRolloutArchivesPredecessor(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	good := &models.ModelMetrics{EmpathyScore: 0.9, FalseInterventionRate: 0.05, LatencyMs: 100}
	seedVersion(o, "v1", models.ModelTypePolicy, models.StatusEvaluating, good)
	seedVersion(o, "v2", models.ModelTypePolicy, models.StatusEvaluating, good)

	if res, err := o.DeployModel(ctx, "v1", models.DeployRequest{Type: models.DeployFullRollout}); err != nil || !res.Success {
		t.Fatalf("first rollout failed: %v %+v", err, res)
	}
	res, err := o.DeployModel(ctx, "v2", models.DeployRequest{Type: models.DeployFullRollout})
	if err != nil || !res.Success {
		t.Fatalf("second rollout failed: %v %+v", err, res)
	}
	if res.ArchivedVersionID != "v1" {
		t.Fatalf("expected v1 archived, got %q", res.ArchivedVersionID)
	}

	deployed := o.GetDeployedModels()
	if len(deployed) != 1 || deployed[0].VersionID != "v2" {
		t.Fatalf("expected exactly v2 deployed, got %+v", deployed)
	}
	v1, _ := o.GetModel("v1")
	if v1.Status != models.StatusArchived {
		t.Fatalf("v1 should be archived, got %s", v1.Status)
	}
}

func TestCanaryAllowsTwoDeployedVersions(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	good := &models.ModelMetrics{EmpathyScore: 0.9, FalseInterventionRate: 0.05, LatencyMs: 100}
	seedVersion(o, "v1", models.ModelTypePolicy, models.StatusEvaluating, good)
	seedVersion(o, "v2", models.ModelTypePolicy, models.StatusEvaluating, good)

	if _, err := o.DeployModel(ctx, "v1", models.DeployRequest{Type: models.DeployFullRollout}); err != nil {
		t.Fatalf("rollout failed: %v", err)
	}
	if _, err := o.DeployModel(ctx, "v2", models.DeployRequest{Type: models.DeployCanary, TrafficPercentage: 10}); err != nil {
		t.Fatalf("canary failed: %v", err)
	}

	deployed := o.GetDeployedModels()
	if len(deployed) != 2 {
		t.Fatalf("canary should leave both versions deployed, got %d", len(deployed))
	}
}

func TestShadowTestChangesNoState(t *testing.T) {
	o := newTestOrchestrator()
	seedVersion(o, "v1", models.ModelTypePolicy, models.StatusEvaluating, nil)

	res, err := o.DeployModel(context.Background(), "v1", models.DeployRequest{Type: models.DeployShadowTest})
	if err != nil || !res.Success {
		t.Fatalf("shadow test failed: %v %+v", err, res)
	}
	v1, _ := o.GetModel("v1")
	if v1.Status != models.StatusEvaluating {
		t.Fatalf("shadow test must not change status, got %s", v1.Status)
	}
	if len(o.ExportRegistry().History) != 1 {
		t.Fatalf("shadow test should still append history")
	}
}

func TestDeployRefusesNonEvaluating(t *testing.T) {
	o := newTestOrchestrator()
	seedVersion(o, "v1", models.ModelTypePolicy, models.StatusArchived, nil)

	res, err := o.DeployModel(context.Background(), "v1", models.DeployRequest{Type: models.DeployFullRollout})
	if err != nil {
		t.Fatalf("refusal should not be an error: %v", err)
	}
	if res.Success {
		t.Fatalf("archived version must not deploy")
	}
}

func TestDeployUnknownTypeRejected(t *testing.T) {
	o := newTestOrchestrator()
	if _, err := o.DeployModel(context.Background(), "v1", models.DeployRequest{Type: "blue_green"}); err == nil {
		t.Fatalf("unknown deployment type should be rejected")
	} else if !utils.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRollbackRestoresPreviousRollout(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	good := &models.ModelMetrics{EmpathyScore: 0.9, FalseInterventionRate: 0.05, LatencyMs: 100}
	seedVersion(o, "v1", models.ModelTypePolicy, models.StatusEvaluating, good)
	seedVersion(o, "v2", models.ModelTypePolicy, models.StatusEvaluating, good)

	if _, err := o.DeployModel(ctx, "v1", models.DeployRequest{Type: models.DeployFullRollout}); err != nil {
		t.Fatalf("rollout failed: %v", err)
	}
	if _, err := o.DeployModel(ctx, "v2", models.DeployRequest{Type: models.DeployFullRollout}); err != nil {
		t.Fatalf("rollout failed: %v", err)
	}

	res, err := o.RollbackModel(ctx, "v2", "elevated false interventions")
	if err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if !res.Success || res.RestoredVersionID != "v1" {
		t.Fatalf("expected v1 restored, got %+v", res)
	}

	v1, _ := o.GetModel("v1")
	if v1.Status != models.StatusDeployed {
		t.Fatalf("restored version should be deployed, got %s", v1.Status)
	}
	v2, _ := o.GetModel("v2")
	if v2.Status != models.StatusRollback {
		t.Fatalf("target should be marked rollback, got %s", v2.Status)
	}
}

func TestRollbackWithoutPredecessor(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	seedVersion(o, "v1", models.ModelTypePolicy, models.StatusEvaluating, nil)
	if _, err := o.DeployModel(ctx, "v1", models.DeployRequest{Type: models.DeployFullRollout}); err != nil {
		t.Fatalf("rollout failed: %v", err)
	}

	res, err := o.RollbackModel(ctx, "v1", "testing")
	if err != nil {
		t.Fatalf("rollback errored: %v", err)
	}
	if res.Success {
		t.Fatalf("rollback without a predecessor should not succeed")
	}
	v1, _ := o.GetModel("v1")
	if v1.Status != models.StatusRollback {
		t.Fatalf("target should still be marked rollback, got %s", v1.Status)
	}
}

func TestMonitorHealthyAndEscalation(t *testing.T) {
	o := newTestOrchestrator()
	seedVersion(o, "good", models.ModelTypePolicy, models.StatusDeployed, &models.ModelMetrics{
		EmpathyScore:          0.9,
		FalseInterventionRate: 0.05,
		LatencyMs:             100,
	})
	report, err := o.MonitorDeployedModel("good")
	if err != nil {
		t.Fatalf("monitor failed: %v", err)
	}
	if report.Health != models.HealthHealthy {
		t.Fatalf("expected healthy, got %s (%v)", report.Health, report.Recommendations)
	}

	seedVersion(o, "bad", models.ModelTypePolicy, models.StatusDeployed, &models.ModelMetrics{
		EmpathyScore:          0.5,
		FalseInterventionRate: 0.3,
		LatencyMs:             400,
	})
	report, err = o.MonitorDeployedModel("bad")
	if err != nil {
		t.Fatalf("monitor failed: %v", err)
	}
	// Three findings on the first check already pushes past the critical bar.
	if report.Health != models.HealthCritical {
		t.Fatalf("expected critical, got %s", report.Health)
	}
	if len(report.Recommendations) != 3 {
		t.Fatalf("expected 3 recommendations, got %v", report.Recommendations)
	}
}

func TestMonitorRejectsUndeployed(t *testing.T) {
	o := newTestOrchestrator()
	seedVersion(o, "v1", models.ModelTypePolicy, models.StatusEvaluating, nil)
	if _, err := o.MonitorDeployedModel("v1"); err == nil {
		t.Fatalf("monitoring an undeployed version should fail")
	} else if !utils.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestABTestTiesFavourControl(t *testing.T) {
	o := newTestOrchestrator()
	same := &models.ModelMetrics{EmpathyScore: 0.8, FalseInterventionRate: 0.1}
	seedVersion(o, "control", models.ModelTypePolicy, models.StatusDeployed, same)
	seedVersion(o, "test", models.ModelTypePolicy, models.StatusEvaluating, same)

	result, err := o.RunABTest(models.ABTestRequest{ControlVersionID: "control", TestVersionID: "test"})
	if err != nil {
		t.Fatalf("ab test failed: %v", err)
	}
	if result.Winner != "control" {
		t.Fatalf("tie should favour control, got %q", result.Winner)
	}
}

func TestABTestBetterTestWins(t *testing.T) {
	o := newTestOrchestrator()
	seedVersion(o, "control", models.ModelTypePolicy, models.StatusDeployed, &models.ModelMetrics{EmpathyScore: 0.7, FalseInterventionRate: 0.1})
	seedVersion(o, "test", models.ModelTypePolicy, models.StatusEvaluating, &models.ModelMetrics{EmpathyScore: 0.9, FalseInterventionRate: 0.05})

	result, err := o.RunABTest(models.ABTestRequest{ControlVersionID: "control", TestVersionID: "test"})
	if err != nil {
		t.Fatalf("ab test failed: %v", err)
	}
	if result.Winner != "test" {
		t.Fatalf("better test version should win, got %q", result.Winner)
	}
	if result.TestScore <= result.ControlScore {
		t.Fatalf("test score should exceed control: %f vs %f", result.TestScore, result.ControlScore)
	}
}

func TestABTestMissingVersion(t *testing.T) {
	o := newTestOrchestrator()
	if _, err := o.RunABTest(models.ABTestRequest{ControlVersionID: "a", TestVersionID: "b"}); err == nil {
		t.Fatalf("expected not-found error")
	} else if !utils.IsNotFound(err) {
		t.Fatalf("expected not-found kind, got %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	seedVersion(o, "v1", models.ModelTypePolicy, models.StatusEvaluating, &models.ModelMetrics{EmpathyScore: 0.8})
	if _, err := o.DeployModel(ctx, "v1", models.DeployRequest{Type: models.DeployFullRollout}); err != nil {
		t.Fatalf("rollout failed: %v", err)
	}
	snapshot := o.ExportRegistry()

	other := newTestOrchestrator()
	if err := other.ImportRegistry(ctx, snapshot); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	imported := other.ExportRegistry()
	if len(imported.Versions) != len(snapshot.Versions) {
		t.Fatalf("version count diverged: %d vs %d", len(imported.Versions), len(snapshot.Versions))
	}
	if len(imported.History) != len(snapshot.History) {
		t.Fatalf("history count diverged: %d vs %d", len(imported.History), len(snapshot.History))
	}
	v1, ok := other.GetModel("v1")
	if !ok || v1.Status != models.StatusDeployed {
		t.Fatalf("imported v1 lost deployed status: %+v", v1)
	}
}

func TestRewardStability(t *testing.T) {
	if got := rewardStability(nil); got != 1.0 {
		t.Fatalf("no epochs should default to 1.0, got %f", got)
	}
	if got := rewardStability([]rl.EpochMetrics{{TotalReward: 5}}); got != 1.0 {
		t.Fatalf("single epoch should default to 1.0, got %f", got)
	}
	steady := []rl.EpochMetrics{{TotalReward: 5}, {TotalReward: 5.1}, {TotalReward: 5.05}}
	if got := rewardStability(steady); got < 0.9 {
		t.Fatalf("steady rewards should be near 1, got %f", got)
	}
	wild := []rl.EpochMetrics{{TotalReward: 0}, {TotalReward: 10}, {TotalReward: -10}}
	if got := rewardStability(wild); got != 0 {
		t.Fatalf("wild swings should clamp to 0, got %f", got)
	}
}

func TestMonitorReadsObservedDecisionLatency(t *testing.T) {
	decisions := utils.NewLatencyTracker(16)
	o := New(nil, nil, nil, decisions, rand.New(rand.NewSource(5)))
	seedVersion(o, "v1", models.ModelTypePolicy, models.StatusDeployed, &models.ModelMetrics{
		EmpathyScore:          0.9,
		FalseInterventionRate: 0.05,
		RewardStability:       0.9,
		LatencyMs:             100,
	})

	for i := 0; i < 5; i++ {
		decisions.Observe(300 * time.Millisecond)
	}

	report, err := o.MonitorDeployedModel("v1")
	if err != nil {
		t.Fatalf("monitor failed: %v", err)
	}
	if report.Health != models.HealthDegraded {
		t.Fatalf("slow decisions should degrade health, got %s", report.Health)
	}
	if report.Metrics.LatencyMs < 299 || report.Metrics.LatencyMs > 301 {
		t.Fatalf("observed decision p95 not reported: %f", report.Metrics.LatencyMs)
	}
}

func TestMonitorObservedLatencyOverridesStaleMetric(t *testing.T) {
	decisions := utils.NewLatencyTracker(16)
	o := New(nil, nil, nil, decisions, rand.New(rand.NewSource(5)))
	seedVersion(o, "v1", models.ModelTypePolicy, models.StatusDeployed, &models.ModelMetrics{
		EmpathyScore:          0.9,
		FalseInterventionRate: 0.05,
		RewardStability:       0.9,
		LatencyMs:             400,
	})

	for i := 0; i < 5; i++ {
		decisions.Observe(50 * time.Millisecond)
	}

	report, err := o.MonitorDeployedModel("v1")
	if err != nil {
		t.Fatalf("monitor failed: %v", err)
	}
	if report.Health != models.HealthHealthy {
		t.Fatalf("fast observed decisions should keep health, got %s: %v", report.Health, report.Recommendations)
	}
}

func TestRollbackTargetSurvivesTimestampCollisions(t *testing.T) {
	o := newTestOrchestrator()
	now := time.Now().UTC().Truncate(time.Second)
	o.registry.appendHistory(models.DeploymentHistoryEntry{
		VersionID: "v1", ModelType: models.ModelTypePolicy,
		Type: models.DeployFullRollout, Timestamp: now,
	})
	o.registry.appendHistory(models.DeploymentHistoryEntry{
		VersionID: "v2", ModelType: models.ModelTypePolicy,
		Type: models.DeployFullRollout, Timestamp: now,
	})

	rollouts := o.registry.fullRolloutsNewestFirst(models.ModelTypePolicy)
	if len(rollouts) != 2 {
		t.Fatalf("expected 2 rollouts, got %d", len(rollouts))
	}
	if rollouts[0].VersionID != "v2" || rollouts[1].VersionID != "v1" {
		t.Fatalf("append order lost under equal timestamps: %s, %s", rollouts[0].VersionID, rollouts[1].VersionID)
	}
}

func TestConcurrentTrainingsMintDistinctVersions(t *testing.T) {
	o := newTestOrchestrator()
	results := make(chan models.ModelVersion, 2)
	errs := make(chan error, 2)

	for i := 0; i < 2; i++ {
		go func() {
			version, err := o.TrainNewModel(context.Background(), models.TrainRequest{
				ModelType: models.ModelTypeEmpathy,
				Epochs:    1,
			})
			results <- version
			errs <- err
		}()
	}

	first, second := <-results, <-results
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent training failed: %v", err)
		}
	}
	if first.VersionID == second.VersionID {
		t.Fatalf("concurrent trainings shared a version id %s", first.VersionID)
	}
}
