package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/clinigraph/internal/domain"
	"github.com/vanshika/clinigraph/internal/graph"
)

type stubIngester struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func (s *stubIngester) Ingest(_ context.Context, enc domain.Encounter) (EncounterGraphHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, enc.Patient.MRN)
	if err := s.fail[enc.Patient.MRN]; err != nil {
		return EncounterGraphHandle{}, err
	}
	return EncounterGraphHandle{Attempts: 1}, nil
}

func encountersFor(mrns ...string) []domain.Encounter {
	out := make([]domain.Encounter, 0, len(mrns))
	for _, mrn := range mrns {
		out = append(out, testEncounter(mrn, "DOC0000001"))
	}
	return out
}

func TestBulkIngestorWritesAllEncounters(t *testing.T) {
	client := graph.NewMemoryClient()
	writer := newTestWriter(client)
	ingestor := NewBulkIngestor(writer, nil, 4, FailureSkip, nil)

	report, err := ingestor.IngestEncounters(context.Background(), encountersFor("M1", "M2", "M3", "M1", "M2"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, report.RunID)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 5, report.Succeeded)
	assert.Zero(t, report.Failed)

	s := stats(t, client)
	assert.EqualValues(t, 3, s.NodeCount(graph.LabelPatient))
	assert.EqualValues(t, 1, s.NodeCount(graph.LabelProvider))
	assert.EqualValues(t, 5, s.NodeCount(graph.LabelEncounter))
	assert.EqualValues(t, 5, s.EdgeCount(graph.RelProvidedEncounter))
}

func TestBulkIngestorSkipPolicyAggregatesErrors(t *testing.T) {
	client := graph.NewMemoryClient()
	writer := newTestWriter(client)
	ingestor := NewBulkIngestor(writer, nil, 2, FailureSkip, nil)

	records := encountersFor("M1", "M2", "M3")
	records[1].Provider.ID = "short"

	report, err := ingestor.IngestEncounters(context.Background(), records)
	require.Error(t, err)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, batchErr.Failures, 1)
	assert.Equal(t, 1, batchErr.Failures[0].Index)
	assert.True(t, batchErr.OnlyValidation())
	assert.False(t, batchErr.Aborted)

	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.EqualValues(t, 2, stats(t, client).NodeCount(graph.LabelEncounter))
}

func TestBulkIngestorAbortPolicyStopsDispatch(t *testing.T) {
	stub := &stubIngester{fail: map[string]error{"M1": errors.New("boom")}}
	ingestor := NewBulkIngestor(stub, nil, 1, FailureAbort, nil)

	report, err := ingestor.IngestEncounters(context.Background(), encountersFor("M1", "M2", "M3", "M4", "M5"))
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.True(t, batchErr.Aborted)
	assert.False(t, batchErr.OnlyValidation())

	assert.Equal(t, 1, report.Failed)
	assert.LessOrEqual(t, report.Succeeded+report.Failed, 2)
	assert.Positive(t, report.Unprocessed)
}

func TestBulkIngestorConnectionErrorAbortsUnderSkip(t *testing.T) {
	connErr := &IngestionError{Stage: StageBegin, Err: &graph.ConnectionError{Err: errors.New("refused")}}
	stub := &stubIngester{fail: map[string]error{"M1": connErr}}
	ingestor := NewBulkIngestor(stub, nil, 1, FailureSkip, nil)

	report, err := ingestor.IngestEncounters(context.Background(), encountersFor("M1", "M2", "M3", "M4"))
	var target *graph.ConnectionError
	require.ErrorAs(t, err, &target)
	assert.Positive(t, report.Unprocessed)
}

func TestBulkIngestorCanceledContext(t *testing.T) {
	stub := &stubIngester{}
	ingestor := NewBulkIngestor(stub, nil, 2, FailureSkip, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := ingestor.IngestEncounters(ctx, encountersFor("M1", "M2"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, report.Total)
}

func TestBulkIngestorEmptyBatch(t *testing.T) {
	ingestor := NewBulkIngestor(&stubIngester{}, nil, 0, "", nil)
	report, err := ingestor.IngestEncounters(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Equal(t, 4, ingestor.workers)
	assert.Equal(t, FailureSkip, ingestor.policy)
}

func TestBulkIngestorHistories(t *testing.T) {
	client := graph.NewMemoryClient()
	ingestor := NewBulkIngestor(nil, newTestHistoryWriter(client), 2, FailureSkip, nil)

	report, err := ingestor.IngestHistories(context.Background(), []domain.PatientHistory{
		testHistory("H1"), testHistory("H2"),
	})
	require.NoError(t, err)
	assert.Equal(t, ModePatientHistory, report.Mode)
	assert.Equal(t, 2, report.Succeeded)
	assert.EqualValues(t, 4, stats(t, client).NodeCount(graph.LabelEncounter))

	_, err = ingestor.IngestEncounters(context.Background(), encountersFor("M1"))
	assert.Error(t, err)
}

func TestBulkIngestorConcurrentSharedKeys(t *testing.T) {
	client := graph.NewMemoryClient()
	writer := NewGraphWriter(client, nil, WriterOptions{TxTimeout: time.Second, MaxRetries: 10, RetryBackoff: time.Millisecond}, nil)
	ingestor := NewBulkIngestor(writer, nil, 8, FailureAbort, nil)

	records := make([]domain.Encounter, 0, 40)
	for i := 0; i < 40; i++ {
		enc := testEncounter("M1", "DOC0000001")
		enc.Diagnoses = []domain.Diagnosis{{Name: "Hypertension", ICD10: "I10"}}
		records = append(records, enc)
	}

	report, err := ingestor.IngestEncounters(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 40, report.Succeeded)

	s := stats(t, client)
	assert.EqualValues(t, 1, s.NodeCount(graph.LabelPatient))
	assert.EqualValues(t, 1, s.NodeCount(graph.LabelProvider))
	assert.EqualValues(t, 1, s.NodeCount(graph.LabelDiagnosis))
	assert.EqualValues(t, 40, s.NodeCount(graph.LabelEncounter))
	assert.EqualValues(t, 40, s.EdgeCount(graph.RelHasDiagnosis))
}
