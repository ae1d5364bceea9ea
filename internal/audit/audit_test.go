package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/trf-bridge/internal/infrastructure/config"
	"github.com/nerrad567/trf-bridge/internal/infrastructure/database"
	_ "github.com/nerrad567/trf-bridge/migrations"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 5})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Migrate(context.Background())
	require.NoError(t, err)
	return db.DB
}

func TestProject_NoRowYet(t *testing.T) {
	repo := NewProjectRepository(setupDB(t))

	id, exists, err := repo.SensorTaskID(context.Background())
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, id)

	// Clearing without a row must not create one.
	require.NoError(t, repo.ClearSensorTaskID(context.Background()))
	_, exists, err = repo.SensorTaskID(context.Background())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestProject_SetAndClear(t *testing.T) {
	ctx := context.Background()
	repo := NewProjectRepository(setupDB(t))

	require.NoError(t, repo.SetSensorTaskID(ctx, "task-1"))
	id, exists, err := repo.SensorTaskID(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "task-1", id)

	require.NoError(t, repo.SetSensorTaskID(ctx, "task-2"))
	id, _, _ = repo.SensorTaskID(ctx)
	assert.Equal(t, "task-2", id)

	require.NoError(t, repo.ClearSensorTaskID(ctx))
	id, exists, err = repo.SensorTaskID(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Empty(t, id)
}

func TestErrorLog_RecordTruncates(t *testing.T) {
	ctx := context.Background()
	log := NewErrorLog(setupDB(t))

	require.NoError(t, log.Record(ctx, errors.New(strings.Repeat("x", 300))))
	require.NoError(t, log.Record(ctx, nil))

	entries, err := log.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Error, 255)
	assert.False(t, entries[0].Time.IsZero())
}

func TestErrorLog_TruncatesRunes(t *testing.T) {
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "éé", truncate("ééé", 2))
	assert.Equal(t, "short", truncate("short", 255))
}

func TestErrorLog_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	log := NewErrorLog(setupDB(t))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		log.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		require.NoError(t, log.Record(ctx, fmt.Errorf("failure %d", i)))
	}

	entries, err := log.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "failure 2", entries[0].Error)
	assert.Equal(t, "failure 1", entries[1].Error)
}

func TestCommandLog_CreateAndList(t *testing.T) {
	ctx := context.Background()
	log := NewCommandLog(setupDB(t))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := []*CommandRecord{
		{DeviceID: "1", ParameterID: 12, CommandType: 5, Value: 7, Success: true, Address: 12, ReplyValue: 7, CreatedAt: base},
		{DeviceID: "2", ParameterID: 8, CommandType: 4, Value: 0, Success: false, Reason: "timeout", Address: -1, ReplyValue: -1, CreatedAt: base.Add(time.Minute)},
		{DeviceID: "1", ParameterID: 0, CommandType: 0, Success: true, Address: 1, ReplyValue: 1, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range recs {
		require.NoError(t, log.Create(ctx, r))
		assert.NotEmpty(t, r.ID)
	}

	all, err := log.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 50, all.Limit)
	require.Len(t, all.Records, 3)
	assert.Equal(t, recs[2].ID, all.Records[0].ID, "newest first")

	failed := all.Records[1]
	assert.False(t, failed.Success)
	assert.Equal(t, "timeout", failed.Reason)
	assert.Equal(t, -1, failed.Address)
	assert.Equal(t, int64(-1), failed.ReplyValue)

	hub1, err := log.List(ctx, Filter{DeviceID: "1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, hub1.Total)
	require.Len(t, hub1.Records, 1)
	assert.Equal(t, recs[0].ID, hub1.Records[0].ID)
}

func TestCommandLog_EmptyListIsNotNil(t *testing.T) {
	res, err := NewCommandLog(setupDB(t)).List(context.Background(), Filter{Limit: 1000, Offset: -3})
	require.NoError(t, err)
	assert.NotNil(t, res.Records)
	assert.Equal(t, 200, res.Limit)
	assert.Equal(t, 0, res.Offset)
}
