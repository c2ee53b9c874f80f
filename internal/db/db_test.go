package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	journal, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func TestInitSchemaIsRepeatable(t *testing.T) {
	journal := openTestDB(t)

	require.NoError(t, InitSchema(context.Background(), journal))
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	journal := openTestDB(t)

	run, err := InsertRun(ctx, journal, true)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)

	got, err := GetRun(ctx, journal, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.True(t, got.CompatibleSepolicy)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, CompleteRun(ctx, journal, run.ID, errors.New("bcr: zip entry not found")))

	got, err = GetRun(ctx, journal, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "bcr: zip entry not found", *got.Error)
	assert.NotNil(t, got.CompletedAt)
}

func TestCompleteRunSuccess(t *testing.T) {
	ctx := context.Background()
	journal := openTestDB(t)

	run, err := InsertRun(ctx, journal, false)
	require.NoError(t, err)
	require.NoError(t, CompleteRun(ctx, journal, run.ID, nil))

	got, err := GetRun(ctx, journal, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Nil(t, got.Error)
	assert.False(t, got.CompatibleSepolicy)
}

func TestUnknownRun(t *testing.T) {
	ctx := context.Background()
	journal := openTestDB(t)

	_, err := GetRun(ctx, journal, "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)

	err = CompleteRun(ctx, journal, "missing", nil)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestModuleRuns(t *testing.T) {
	ctx := context.Background()
	journal := openTestDB(t)

	run, err := InsertRun(ctx, journal, false)
	require.NoError(t, err)

	failure := "tool failed"
	zipDigest := digest.FromString("bcr zip")
	require.NoError(t, InsertModuleRun(ctx, journal, &ModuleRun{RunID: run.ID, Module: "bcr", ZipDigest: zipDigest, Status: StatusSucceeded}))
	require.NoError(t, InsertModuleRun(ctx, journal, &ModuleRun{RunID: run.ID, Module: "msd", Status: StatusFailed, Error: &failure}))

	runs, err := ListModuleRuns(ctx, journal, run.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "bcr", runs[0].Module)
	assert.Equal(t, zipDigest, runs[0].ZipDigest)
	assert.Nil(t, runs[0].Error)

	assert.Equal(t, "msd", runs[1].Module)
	assert.Empty(t, runs[1].ZipDigest)
	require.NotNil(t, runs[1].Error)
	assert.Equal(t, failure, *runs[1].Error)

	err = InsertModuleRun(ctx, journal, &ModuleRun{RunID: run.ID, Module: "bcr", Status: StatusSucceeded})
	assert.Error(t, err, "a module is journaled once per run")
}

func TestModuleRunRequiresRun(t *testing.T) {
	journal := openTestDB(t)

	err := InsertModuleRun(context.Background(), journal, &ModuleRun{RunID: "nope", Module: "bcr", Status: StatusSucceeded})
	assert.Error(t, err)
}

func TestOpenInMemory(t *testing.T) {
	journal, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer journal.Close()

	_, err = InsertRun(context.Background(), journal, false)
	require.NoError(t, err)
}
