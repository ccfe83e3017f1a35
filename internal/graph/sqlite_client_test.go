package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) Client {
	t.Helper()
	ctx := context.Background()
	client, err := NewSQLiteClient(ctx, filepath.Join(t.TempDir(), "graph", "clinic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(ctx) })
	require.NoError(t, client.EnsureSchema(ctx, []KeyConstraint{
		{Label: LabelPatient, Property: "MRN"},
		{Label: LabelProvider, Property: "id"},
	}))
	return client
}

func TestSQLiteClientWritesGraph(t *testing.T) {
	ctx := context.Background()
	client := newTestSQLite(t)

	tx, err := client.BeginTx(ctx)
	require.NoError(t, err)
	patient, err := tx.UpsertNode(ctx, LabelPatient, "MRN", map[string]any{"MRN": "M1", "name": "Ada"})
	require.NoError(t, err)
	again, err := tx.UpsertNode(ctx, LabelPatient, "MRN", map[string]any{"MRN": "M1", "name": "Other"})
	require.NoError(t, err)
	assert.Equal(t, patient, again)

	encounter, err := tx.CreateNode(ctx, LabelEncounter, map[string]any{"date": "2024-03-01", "summary": "checkup"})
	require.NoError(t, err)
	require.NoError(t, tx.CreateEdge(ctx, patient, encounter, RelHadEncounter))
	require.NoError(t, tx.Commit(ctx))

	reused := mustCommitUpsert(t, client, LabelPatient, "MRN", map[string]any{"MRN": "M1"})
	assert.Equal(t, patient, reused)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.NodeCount(LabelPatient))
	assert.EqualValues(t, 1, stats.NodeCount(LabelEncounter))
	assert.EqualValues(t, 1, stats.EdgeCount(RelHadEncounter))
}

func TestSQLiteClientRollback(t *testing.T) {
	ctx := context.Background()
	client := newTestSQLite(t)

	tx, err := client.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.CreateNode(ctx, LabelTest, map[string]any{"name": "CBC"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, tx.Rollback(ctx))

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.NodeCount(LabelTest))
}

func TestSQLiteClientEdgeToMissingNode(t *testing.T) {
	ctx := context.Background()
	client := newTestSQLite(t)

	tx, err := client.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.CreateEdge(ctx, 100, 200, RelHadTest)
	var conflict *WriteConflictError
	require.ErrorAs(t, err, &conflict)
	assert.False(t, conflict.Retryable)
}

func TestSQLiteClientClearAll(t *testing.T) {
	ctx := context.Background()
	client := newTestSQLite(t)
	mustCommitUpsert(t, client, LabelProvider, "id", map[string]any{"id": "P000000001"})

	require.NoError(t, client.ClearAll(ctx))
	require.NoError(t, client.VerifyConnectivity(ctx))

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats.Nodes)
}

func TestNewSQLiteClientRequiresPath(t *testing.T) {
	_, err := NewSQLiteClient(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingURI)
}
