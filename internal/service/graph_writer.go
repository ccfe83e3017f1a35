package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vanshika/clinigraph/internal/domain"
	"github.com/vanshika/clinigraph/internal/graph"
	"github.com/vanshika/clinigraph/internal/metrics"
)

// GraphWriter maps one clinical encounter onto the graph inside a single
// transaction. It keeps no connection state between calls; every Ingest
// acquires its own transaction from the injected client.
type GraphWriter struct {
	txRunner
	resolver IdentityResolver
}

// NewGraphWriter constructs a GraphWriter. A nil resolver selects
// DefaultIdentityResolver and a nil logger discards output.
func NewGraphWriter(client graph.Client, resolver IdentityResolver, opts WriterOptions, logger *slog.Logger) *GraphWriter {
	if resolver == nil {
		resolver = DefaultIdentityResolver{}
	}
	return &GraphWriter{
		txRunner: newTxRunner(client, opts, logger, ModeStandard),
		resolver: resolver,
	}
}

// WithMetrics attaches a metrics recorder.
func (w *GraphWriter) WithMetrics(m *metrics.Recorder) *GraphWriter {
	w.metrics = m
	return w
}

type encounterPlan struct {
	patient    Directive
	provider   Directive
	encounter  Directive
	diagnoses  []Directive
	tests      []Directive
	treatments []Directive
}

// Ingest resolves every entity of enc and writes the encounter atomically.
// Validation failures are reported before a transaction is opened. Retryable
// write conflicts replay the whole encounter.
func (w *GraphWriter) Ingest(ctx context.Context, enc domain.Encounter) (EncounterGraphHandle, error) {
	started := time.Now()
	plan, err := w.plan(enc)
	if err != nil {
		w.metrics.ObserveRecord(string(w.mode), metrics.OutcomeInvalid, time.Since(started))
		return EncounterGraphHandle{}, &IngestionError{Stage: StageResolve, Err: err}
	}

	var handle EncounterGraphHandle
	attempts, err := w.run(ctx, func(ctx context.Context, tx graph.Tx) error {
		h, err := writeEncounter(ctx, tx, plan)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	w.observe(started, err)
	if err != nil {
		return EncounterGraphHandle{}, err
	}
	handle.Attempts = attempts
	return handle, nil
}

func (w *GraphWriter) plan(enc domain.Encounter) (encounterPlan, error) {
	var (
		p   encounterPlan
		err error
	)
	if err = enc.Validate(); err != nil {
		return p, err
	}
	if p.encounter, err = w.resolver.ResolveEncounter(enc); err != nil {
		return p, err
	}
	if p.patient, err = w.resolver.ResolvePatient(enc.Patient); err != nil {
		return p, err
	}
	if p.provider, err = w.resolver.ResolveProvider(enc.Provider); err != nil {
		return p, err
	}

	p.diagnoses = make([]Directive, 0, len(enc.Diagnoses))
	for i, d := range enc.Diagnoses {
		dir, err := w.resolver.ResolveDiagnosis(d)
		if err != nil {
			return p, listError(err, "patient_diagnoses", i)
		}
		p.diagnoses = append(p.diagnoses, dir)
	}
	p.tests = make([]Directive, 0, len(enc.Tests))
	for i, t := range enc.Tests {
		dir, err := w.resolver.ResolveTest(t)
		if err != nil {
			return p, listError(err, "patient_tests", i)
		}
		p.tests = append(p.tests, dir)
	}
	p.treatments = make([]Directive, 0, len(enc.Treatments))
	for i, t := range enc.Treatments {
		dir, err := w.resolver.ResolveTreatment(t)
		if err != nil {
			return p, listError(err, "treatment_plans", i)
		}
		p.treatments = append(p.treatments, dir)
	}
	return p, nil
}

// writeEncounter issues the writes in dependency order: both edge endpoints
// exist before the edge is created.
func writeEncounter(ctx context.Context, tx graph.Tx, p encounterPlan) (EncounterGraphHandle, error) {
	var (
		h   EncounterGraphHandle
		err error
	)
	if h.PatientID, err = apply(ctx, tx, p.patient); err != nil {
		return h, err
	}
	if h.ProviderID, err = apply(ctx, tx, p.provider); err != nil {
		return h, err
	}
	if h.EncounterID, err = apply(ctx, tx, p.encounter); err != nil {
		return h, err
	}
	if err := tx.CreateEdge(ctx, h.PatientID, h.EncounterID, graph.RelHadEncounter); err != nil {
		return h, err
	}
	if err := tx.CreateEdge(ctx, h.ProviderID, h.EncounterID, graph.RelProvidedEncounter); err != nil {
		return h, err
	}

	if h.DiagnosisIDs, err = attach(ctx, tx, h.EncounterID, p.diagnoses, graph.RelHasDiagnosis); err != nil {
		return h, err
	}
	if h.TestIDs, err = attach(ctx, tx, h.EncounterID, p.tests, graph.RelHadTest); err != nil {
		return h, err
	}
	if h.TreatmentIDs, err = attach(ctx, tx, h.EncounterID, p.treatments, graph.RelPrescribedTreatment); err != nil {
		return h, err
	}
	return h, nil
}

// attach writes each directive in order and links it from the encounter.
func attach(ctx context.Context, tx graph.Tx, encounter graph.NodeID, dirs []Directive, rel graph.RelType) ([]graph.NodeID, error) {
	ids := make([]graph.NodeID, 0, len(dirs))
	for _, dir := range dirs {
		id, err := apply(ctx, tx, dir)
		if err != nil {
			return nil, err
		}
		if err := tx.CreateEdge(ctx, encounter, id, rel); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func apply(ctx context.Context, tx graph.Tx, dir Directive) (graph.NodeID, error) {
	if dir.Mode == ModeUpsert {
		return tx.UpsertNode(ctx, dir.Label, dir.Key, dir.Attrs)
	}
	return tx.CreateNode(ctx, dir.Label, dir.Attrs)
}

func listError(err error, list string, idx int) error {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return &domain.ValidationError{
			Entity: fmt.Sprintf("%s[%d]", list, idx),
			Field:  verr.Field,
			Reason: verr.Reason,
		}
	}
	return err
}
