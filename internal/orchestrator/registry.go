package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/attunestack/attune-pipeline/internal/models"
)

// Store abstracts durable persistence for the model registry. Implementations
// must tolerate repeated writes of the same version (idempotent upsert).
type Store interface {
	SaveVersion(ctx context.Context, version models.ModelVersion) error
	SaveArtifact(ctx context.Context, versionID string, artifact json.RawMessage) error
	AppendHistory(ctx context.Context, entry models.DeploymentHistoryEntry) error
	LoadSnapshot(ctx context.Context) (models.RegistrySnapshot, error)
	ReplaceSnapshot(ctx context.Context, snapshot models.RegistrySnapshot) error
}

// registry holds the in-memory model artifacts and deployment history. All
// access goes through the orchestrator's lock.
type registry struct {
	mu        sync.RWMutex
	versions  map[string]*models.ModelVersion
	artifacts map[string]json.RawMessage
	history   []models.DeploymentHistoryEntry
	monitor   map[string][]string
}

func newRegistry() *registry {
	return &registry{
		versions:  make(map[string]*models.ModelVersion),
		artifacts: make(map[string]json.RawMessage),
		monitor:   make(map[string][]string),
	}
}

func (r *registry) get(versionID string) (models.ModelVersion, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	version, ok := r.versions[versionID]
	if !ok {
		return models.ModelVersion{}, false
	}
	return *version, true
}

func (r *registry) put(version models.ModelVersion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := version
	r.versions[version.VersionID] = &copied
}

func (r *registry) putArtifact(versionID string, artifact json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts[versionID] = artifact
}

func (r *registry) artifact(versionID string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	artifact, ok := r.artifacts[versionID]
	return artifact, ok
}

func (r *registry) appendHistory(entry models.DeploymentHistoryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, entry)
}

// fullRolloutsNewestFirst returns full-rollout entries for one model type,
// newest first, for rollback target resolution. The log is append-ordered, so
// walking it backwards is authoritative even when entry timestamps collide.
func (r *registry) fullRolloutsNewestFirst(modelType models.ModelType) []models.DeploymentHistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]models.DeploymentHistoryEntry, 0)
	for i := len(r.history) - 1; i >= 0; i-- {
		entry := r.history[i]
		if entry.Type == models.DeployFullRollout && entry.ModelType == modelType {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (r *registry) deployedOfType(modelType models.ModelType) []models.ModelVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deployed := make([]models.ModelVersion, 0, 1)
	for _, version := range r.versions {
		if version.ModelType == modelType && version.Status == models.StatusDeployed {
			deployed = append(deployed, *version)
		}
	}
	return deployed
}

func (r *registry) byStatus(statuses ...models.ModelStatus) []models.ModelVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]models.ModelVersion, 0)
	for _, version := range r.versions {
		for _, status := range statuses {
			if version.Status == status {
				matched = append(matched, *version)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched
}

func (r *registry) snapshot() models.RegistrySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := models.RegistrySnapshot{
		Versions:  make([]models.ModelVersion, 0, len(r.versions)),
		History:   append([]models.DeploymentHistoryEntry(nil), r.history...),
		Artifacts: make(map[string]json.RawMessage, len(r.artifacts)),
	}
	for _, version := range r.versions {
		snapshot.Versions = append(snapshot.Versions, *version)
	}
	sort.Slice(snapshot.Versions, func(i, j int) bool {
		return snapshot.Versions[i].CreatedAt.Before(snapshot.Versions[j].CreatedAt)
	})
	for versionID, artifact := range r.artifacts {
		snapshot.Artifacts[versionID] = artifact
	}
	return snapshot
}

func (r *registry) replace(snapshot models.RegistrySnapshot, logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.versions = make(map[string]*models.ModelVersion, len(snapshot.Versions))
	for _, version := range snapshot.Versions {
		copied := version
		r.versions[version.VersionID] = &copied
	}
	r.history = append([]models.DeploymentHistoryEntry(nil), snapshot.History...)
	r.artifacts = make(map[string]json.RawMessage, len(snapshot.Artifacts))
	for versionID, artifact := range snapshot.Artifacts {
		r.artifacts[versionID] = artifact
	}
	r.monitor = make(map[string][]string)

	logger.Info("registry replaced",
		slog.Int("versions", len(r.versions)),
		slog.Int("history_entries", len(r.history)),
	)
}

func (r *registry) appendMonitorFindings(versionID string, findings []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitor[versionID] = append(r.monitor[versionID], findings...)
	return len(r.monitor[versionID])
}
