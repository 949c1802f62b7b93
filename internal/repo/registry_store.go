package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/attunestack/attune-pipeline/internal/models"
)

const registrySchema = `
CREATE TABLE IF NOT EXISTS model_versions (
	version_id    TEXT PRIMARY KEY,
	version_tag   TEXT NOT NULL,
	model_type    TEXT NOT NULL,
	status        TEXT NOT NULL,
	metrics_json  TEXT,
	deployed_at   TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS model_artifacts (
	version_id    TEXT PRIMARY KEY,
	artifact_json TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES model_versions(version_id)
);

CREATE TABLE IF NOT EXISTS deployment_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	version_id    TEXT NOT NULL,
	model_type    TEXT NOT NULL,
	deploy_type   TEXT NOT NULL,
	traffic_pct   REAL NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);
`

// RegistryStore persists the model registry and deployment history in SQLite.
type RegistryStore struct {
	db *sql.DB
}

// NewRegistryStore opens the database at path and runs migrations.
func NewRegistryStore(path string) (*RegistryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(registrySchema); err != nil {
		return nil, fmt.Errorf("migrate registry schema: %w", err)
	}
	return &RegistryStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *RegistryStore) Close() error {
	return s.db.Close()
}

// SaveVersion upserts one model version row.
func (s *RegistryStore) SaveVersion(ctx context.Context, version models.ModelVersion) error {
	var metricsJSON sql.NullString
	if version.Metrics != nil {
		data, err := json.Marshal(version.Metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		metricsJSON = sql.NullString{String: string(data), Valid: true}
	}
	var deployedAt sql.NullString
	if version.DeployedAt != nil {
		deployedAt = sql.NullString{String: version.DeployedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_versions (version_id, version_tag, model_type, status, metrics_json, deployed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(version_id) DO UPDATE SET
			version_tag  = excluded.version_tag,
			status       = excluded.status,
			metrics_json = excluded.metrics_json,
			deployed_at  = excluded.deployed_at`,
		version.VersionID,
		version.VersionTag,
		string(version.ModelType),
		string(version.Status),
		metricsJSON,
		deployedAt,
		version.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save version %s: %w", version.VersionID, err)
	}
	return nil
}

// SaveArtifact upserts one artifact blob.
func (s *RegistryStore) SaveArtifact(ctx context.Context, versionID string, artifact json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_artifacts (version_id, artifact_json) VALUES (?, ?)
		ON CONFLICT(version_id) DO UPDATE SET artifact_json = excluded.artifact_json`,
		versionID, string(artifact),
	)
	if err != nil {
		return fmt.Errorf("save artifact %s: %w", versionID, err)
	}
	return nil
}

// AppendHistory appends one deployment log line. History is append-only;
// nothing updates or deletes rows.
func (s *RegistryStore) AppendHistory(ctx context.Context, entry models.DeploymentHistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployment_history (version_id, model_type, deploy_type, traffic_pct, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.VersionID,
		string(entry.ModelType),
		string(entry.Type),
		entry.TrafficPercentage,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append history for %s: %w", entry.VersionID, err)
	}
	return nil
}

// LoadSnapshot reads the full registry back into memory.
func (s *RegistryStore) LoadSnapshot(ctx context.Context) (models.RegistrySnapshot, error) {
	snapshot := models.RegistrySnapshot{Artifacts: make(map[string]json.RawMessage)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT version_id, version_tag, model_type, status, metrics_json, deployed_at, created_at
		FROM model_versions ORDER BY created_at`)
	if err != nil {
		return snapshot, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			version     models.ModelVersion
			modelType   string
			status      string
			metricsJSON sql.NullString
			deployedAt  sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&version.VersionID, &version.VersionTag, &modelType, &status, &metricsJSON, &deployedAt, &createdAt); err != nil {
			return snapshot, fmt.Errorf("scan version: %w", err)
		}
		version.ModelType = models.ModelType(modelType)
		version.Status = models.ModelStatus(status)
		if metricsJSON.Valid {
			var metrics models.ModelMetrics
			if err := json.Unmarshal([]byte(metricsJSON.String), &metrics); err != nil {
				return snapshot, fmt.Errorf("decode metrics for %s: %w", version.VersionID, err)
			}
			version.Metrics = &metrics
		}
		if deployedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, deployedAt.String)
			if err != nil {
				return snapshot, fmt.Errorf("parse deployed_at for %s: %w", version.VersionID, err)
			}
			version.DeployedAt = &t
		}
		created, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return snapshot, fmt.Errorf("parse created_at for %s: %w", version.VersionID, err)
		}
		version.CreatedAt = created
		snapshot.Versions = append(snapshot.Versions, version)
	}
	if err := rows.Err(); err != nil {
		return snapshot, fmt.Errorf("iterate versions: %w", err)
	}

	artifactRows, err := s.db.QueryContext(ctx, `SELECT version_id, artifact_json FROM model_artifacts`)
	if err != nil {
		return snapshot, fmt.Errorf("query artifacts: %w", err)
	}
	defer artifactRows.Close()

	for artifactRows.Next() {
		var versionID, artifact string
		if err := artifactRows.Scan(&versionID, &artifact); err != nil {
			return snapshot, fmt.Errorf("scan artifact: %w", err)
		}
		snapshot.Artifacts[versionID] = json.RawMessage(artifact)
	}
	if err := artifactRows.Err(); err != nil {
		return snapshot, fmt.Errorf("iterate artifacts: %w", err)
	}

	historyRows, err := s.db.QueryContext(ctx, `
		SELECT version_id, model_type, deploy_type, traffic_pct, created_at
		FROM deployment_history ORDER BY id`)
	if err != nil {
		return snapshot, fmt.Errorf("query history: %w", err)
	}
	defer historyRows.Close()

	for historyRows.Next() {
		var (
			entry      models.DeploymentHistoryEntry
			modelType  string
			deployType string
			createdAt  string
		)
		if err := historyRows.Scan(&entry.VersionID, &modelType, &deployType, &entry.TrafficPercentage, &createdAt); err != nil {
			return snapshot, fmt.Errorf("scan history entry: %w", err)
		}
		entry.ModelType = models.ModelType(modelType)
		entry.Type = models.DeploymentType(deployType)
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return snapshot, fmt.Errorf("parse history timestamp: %w", err)
		}
		entry.Timestamp = ts
		snapshot.History = append(snapshot.History, entry)
	}
	if err := historyRows.Err(); err != nil {
		return snapshot, fmt.Errorf("iterate history: %w", err)
	}

	return snapshot, nil
}

// ReplaceSnapshot swaps the persisted registry for the supplied snapshot in
// one transaction.
func (s *RegistryStore) ReplaceSnapshot(ctx context.Context, snapshot models.RegistrySnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"deployment_history", "model_artifacts", "model_versions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, version := range snapshot.Versions {
		var metricsJSON sql.NullString
		if version.Metrics != nil {
			data, err := json.Marshal(version.Metrics)
			if err != nil {
				return fmt.Errorf("marshal metrics: %w", err)
			}
			metricsJSON = sql.NullString{String: string(data), Valid: true}
		}
		var deployedAt sql.NullString
		if version.DeployedAt != nil {
			deployedAt = sql.NullString{String: version.DeployedAt.UTC().Format(time.RFC3339Nano), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO model_versions (version_id, version_tag, model_type, status, metrics_json, deployed_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			version.VersionID, version.VersionTag, string(version.ModelType), string(version.Status),
			metricsJSON, deployedAt, version.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert version %s: %w", version.VersionID, err)
		}
	}

	for versionID, artifact := range snapshot.Artifacts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO model_artifacts (version_id, artifact_json) VALUES (?, ?)`,
			versionID, string(artifact),
		); err != nil {
			return fmt.Errorf("insert artifact %s: %w", versionID, err)
		}
	}

	for _, entry := range snapshot.History {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO deployment_history (version_id, model_type, deploy_type, traffic_pct, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			entry.VersionID, string(entry.ModelType), string(entry.Type),
			entry.TrafficPercentage, entry.Timestamp.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert history entry: %w", err)
		}
	}

	return tx.Commit()
}
