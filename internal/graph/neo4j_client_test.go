package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertNodeStatementParameterizesValues(t *testing.T) {
	query, err := upsertNodeStatement(LabelPatient, "MRN")
	require.NoError(t, err)
	assert.Contains(t, query, "MERGE (n:Patient {MRN: $key})")
	assert.Contains(t, query, "ON CREATE SET n += $attrs")
	assert.Contains(t, query, "RETURN id(n) AS id")
}

func TestCreateStatements(t *testing.T) {
	query, err := createNodeStatement(LabelEncounter)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(query, "CREATE (n:Encounter)"))

	query, err = createEdgeStatement(RelPrescribedTreatment)
	require.NoError(t, err)
	assert.Contains(t, query, "CREATE (a)-[r:PRESCRIBED_TREATMENT]->(b)")
	assert.Contains(t, query, "id(a) = $from")
}

func TestStatementsRejectInjectedIdentifiers(t *testing.T) {
	_, err := upsertNodeStatement(LabelPatient, "MRN}) DETACH DELETE n //")
	var idErr *InvalidIdentifierError
	require.ErrorAs(t, err, &idErr)

	_, err = createEdgeStatement(RelType("X]->() DELETE"))
	require.ErrorAs(t, err, &idErr)
}

func TestConstraintStatementDialects(t *testing.T) {
	kc := KeyConstraint{Label: LabelProvider, Property: "id"}

	tests := []struct {
		dialect Dialect
		want    string
	}{
		{DialectNeo4j, "CREATE CONSTRAINT provider_id_unique IF NOT EXISTS FOR (n:Provider) REQUIRE n.id IS UNIQUE"},
		{"", "CREATE CONSTRAINT provider_id_unique IF NOT EXISTS FOR (n:Provider) REQUIRE n.id IS UNIQUE"},
		{DialectMemgraph, "CREATE CONSTRAINT ON (n:Provider) ASSERT n.id IS UNIQUE"},
	}
	for _, tc := range tests {
		t.Run(string(tc.dialect), func(t *testing.T) {
			got, err := constraintStatement(tc.dialect, kc)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := constraintStatement(Dialect("arangodb"), kc)
	assert.Error(t, err)
}

func TestValidIdentifier(t *testing.T) {
	for _, name := range []string{"Patient", "HAD_ENCOUNTER", "ICD10", "id"} {
		assert.True(t, ValidIdentifier(name), name)
	}
	for _, name := range []string{"", "1abc", "a b", "a-b", "n`", "x:y"} {
		assert.False(t, ValidIdentifier(name), name)
	}
}

func TestClassifyWriteErrorDeadline(t *testing.T) {
	err := classifyWriteError("create Test", fmt.Errorf("run: %w", context.DeadlineExceeded))
	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "create Test", txErr.Op)

	err = classifyWriteError("create Test", errors.New("syntax"))
	var conflict *WriteConflictError
	require.ErrorAs(t, err, &conflict)
	assert.False(t, conflict.Retryable)
}

func TestNewNeo4jClientRequiresURI(t *testing.T) {
	_, err := NewNeo4jClient(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrMissingURI)
}

func TestToInt64(t *testing.T) {
	assert.EqualValues(t, 7, toInt64(int64(7)))
	assert.EqualValues(t, 7, toInt64(7))
	assert.EqualValues(t, 7, toInt64(7.0))
	assert.EqualValues(t, 0, toInt64("7"))
}
