package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vanshika/clinigraph/internal/domain"
	"github.com/vanshika/clinigraph/internal/graph"
	"github.com/vanshika/clinigraph/internal/metrics"
)

// HistoryWriter ingests the patient-history layout: a patient with nested
// encounters that carry a free-text diagnosis and tests, and no provider.
// Each encounter is committed in its own transaction.
type HistoryWriter struct {
	txRunner
	resolver IdentityResolver
}

// NewHistoryWriter constructs a HistoryWriter. Nil arguments fall back to
// DefaultIdentityResolver and a discarding logger.
func NewHistoryWriter(client graph.Client, resolver IdentityResolver, opts WriterOptions, logger *slog.Logger) *HistoryWriter {
	if resolver == nil {
		resolver = DefaultIdentityResolver{}
	}
	return &HistoryWriter{
		txRunner: newTxRunner(client, opts, logger, ModePatientHistory),
		resolver: resolver,
	}
}

// WithMetrics attaches a metrics recorder.
func (w *HistoryWriter) WithMetrics(m *metrics.Recorder) *HistoryWriter {
	w.metrics = m
	return w
}

type historyVisit struct {
	encounter Directive
	tests     []Directive
}

// Ingest writes one patient history. The whole history is validated first.
// Encounters already committed stay persisted if a later one fails; the
// returned handle then lists only the committed encounters.
func (w *HistoryWriter) Ingest(ctx context.Context, h domain.PatientHistory) (HistoryGraphHandle, error) {
	started := time.Now()
	patient, visits, err := w.plan(h)
	if err != nil {
		w.metrics.ObserveRecord(string(w.mode), metrics.OutcomeInvalid, time.Since(started))
		return HistoryGraphHandle{}, &IngestionError{Stage: StageResolve, Err: err}
	}

	var handle HistoryGraphHandle
	if len(visits) == 0 {
		attempts, err := w.run(ctx, func(ctx context.Context, tx graph.Tx) error {
			id, err := apply(ctx, tx, patient)
			handle.PatientID = id
			return err
		})
		handle.Attempts = attempts
		w.observe(started, err)
		return handle, err
	}

	for _, visit := range visits {
		var (
			patientID   graph.NodeID
			encounterID graph.NodeID
			testIDs     []graph.NodeID
		)
		attempts, err := w.run(ctx, func(ctx context.Context, tx graph.Tx) error {
			var err error
			if patientID, err = apply(ctx, tx, patient); err != nil {
				return err
			}
			if encounterID, err = apply(ctx, tx, visit.encounter); err != nil {
				return err
			}
			if err := tx.CreateEdge(ctx, patientID, encounterID, graph.RelHadEncounter); err != nil {
				return err
			}
			testIDs, err = attach(ctx, tx, encounterID, visit.tests, graph.RelHadTest)
			return err
		})
		handle.Attempts += attempts
		if err != nil {
			w.observe(started, err)
			return handle, err
		}
		handle.PatientID = patientID
		handle.EncounterIDs = append(handle.EncounterIDs, encounterID)
		handle.TestIDs = append(handle.TestIDs, testIDs)
	}
	w.observe(started, nil)
	return handle, nil
}

func (w *HistoryWriter) plan(h domain.PatientHistory) (Directive, []historyVisit, error) {
	if err := h.Validate(); err != nil {
		return Directive{}, nil, err
	}
	patient, err := w.resolver.ResolvePatient(h.Patient())
	if err != nil {
		return Directive{}, nil, err
	}
	visits := make([]historyVisit, 0, len(h.Encounters))
	for i, enc := range h.Encounters {
		dir, err := w.resolver.ResolveHistoryEncounter(enc)
		if err != nil {
			return Directive{}, nil, listError(err, "encounters", i)
		}
		visit := historyVisit{encounter: dir, tests: make([]Directive, 0, len(enc.Tests))}
		for j, t := range enc.Tests {
			td, err := w.resolver.ResolveTest(t)
			if err != nil {
				return Directive{}, nil, listError(err, fmt.Sprintf("encounters[%d].tests", i), j)
			}
			visit.tests = append(visit.tests, td)
		}
		visits = append(visits, visit)
	}
	return patient, visits, nil
}
