package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// projectRowID is the only row in trf_project.
const projectRowID = 1

// ProjectRepository tracks the running ingest task.
type ProjectRepository struct {
	db *sql.DB
}

// NewProjectRepository creates a project repository over db.
func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// SensorTaskID returns the stored ingest task id. exists is false when no
// project row has been created yet.
func (r *ProjectRepository) SensorTaskID(ctx context.Context) (id string, exists bool, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT sensor_task_id FROM trf_project WHERE id = ?`, projectRowID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading sensor task id: %w", err)
	}
	return id, true, nil
}

// SetSensorTaskID stores id, creating the project row if needed.
func (r *ProjectRepository) SetSensorTaskID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trf_project (id, sensor_task_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			sensor_task_id = excluded.sensor_task_id,
			updated_at     = excluded.updated_at`,
		projectRowID, id, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storing sensor task id: %w", err)
	}
	return nil
}

// ClearSensorTaskID forgets the task id so the supervisor relaunches
// ingest on its next pass. A missing project row is left missing.
func (r *ProjectRepository) ClearSensorTaskID(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE trf_project SET sensor_task_id = '', updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), projectRowID,
	)
	if err != nil {
		return fmt.Errorf("clearing sensor task id: %w", err)
	}
	return nil
}
