package service

import (
	"strings"

	"github.com/vanshika/clinigraph/internal/domain"
	"github.com/vanshika/clinigraph/internal/graph"
)

// WriteMode tells the writer how a node must be materialized.
type WriteMode int

const (
	// ModeUpsert reuses the node whose key property matches, or creates it.
	ModeUpsert WriteMode = iota
	// ModeCreate always creates a new node.
	ModeCreate
)

func (m WriteMode) String() string {
	if m == ModeUpsert {
		return "upsert"
	}
	return "create"
}

// Directive is the resolved write for one entity. Attrs holds the full
// create-time attribute set; for upserts it is only applied when the key is new.
type Directive struct {
	Label graph.Label
	Mode  WriteMode
	Key   string
	Attrs map[string]any
}

// KeyValue returns the natural key value, or nil for create directives.
func (d Directive) KeyValue() any {
	if d.Mode != ModeUpsert {
		return nil
	}
	return d.Attrs[d.Key]
}

// IdentityResolver decides, per entity type, whether a record deduplicates
// against an existing node and which attributes a new node receives.
type IdentityResolver interface {
	ResolvePatient(p domain.Patient) (Directive, error)
	ResolveProvider(p domain.Provider) (Directive, error)
	ResolveDiagnosis(d domain.Diagnosis) (Directive, error)
	ResolveTreatment(t domain.Treatment) (Directive, error)
	ResolveTest(t domain.Test) (Directive, error)
	ResolveEncounter(e domain.Encounter) (Directive, error)
	ResolveHistoryEncounter(e domain.HistoryEncounter) (Directive, error)
}

// KeyConstraints lists the uniqueness constraints the store must enforce for
// the upsert entities produced by DefaultIdentityResolver.
func KeyConstraints() []graph.KeyConstraint {
	return []graph.KeyConstraint{
		{Label: graph.LabelPatient, Property: "MRN"},
		{Label: graph.LabelProvider, Property: "id"},
		{Label: graph.LabelDiagnosis, Property: "ICD10"},
		{Label: graph.LabelTreatment, Property: "RXCUI"},
	}
}

// DefaultIdentityResolver implements IdentityResolver for the clinical schema.
type DefaultIdentityResolver struct{}

func (DefaultIdentityResolver) ResolvePatient(p domain.Patient) (Directive, error) {
	p = normalizePatient(p)
	if err := p.Validate(); err != nil {
		return Directive{}, err
	}
	return upsert(graph.LabelPatient, "MRN", map[string]any{
		"name": p.Name,
		"MRN":  p.MRN,
	}), nil
}

func (DefaultIdentityResolver) ResolveProvider(p domain.Provider) (Directive, error) {
	p = normalizeProvider(p)
	if err := p.Validate(); err != nil {
		return Directive{}, err
	}
	return upsert(graph.LabelProvider, "id", map[string]any{
		"name":      p.Name,
		"id":        p.ID,
		"type":      string(p.Type),
		"specialty": p.Specialty,
	}), nil
}

func (DefaultIdentityResolver) ResolveDiagnosis(d domain.Diagnosis) (Directive, error) {
	d = normalizeDiagnosis(d)
	if err := d.Validate(); err != nil {
		return Directive{}, err
	}
	return upsert(graph.LabelDiagnosis, "ICD10", map[string]any{
		"name":  d.Name,
		"ICD10": d.ICD10,
	}), nil
}

func (DefaultIdentityResolver) ResolveTreatment(t domain.Treatment) (Directive, error) {
	t = normalizeTreatment(t)
	if err := t.Validate(); err != nil {
		return Directive{}, err
	}
	return upsert(graph.LabelTreatment, "RXCUI", map[string]any{
		"name":   t.Name,
		"RXCUI":  t.RXCUI,
		"dosage": t.Dosage,
	}), nil
}

func (DefaultIdentityResolver) ResolveTest(t domain.Test) (Directive, error) {
	t = normalizeTest(t)
	if err := t.Validate(); err != nil {
		return Directive{}, err
	}
	return create(graph.LabelTest, map[string]any{
		"name":   t.Name,
		"result": t.Result,
	}), nil
}

// ResolveEncounter only checks the encounter's own fields; nested entities
// are resolved separately.
func (DefaultIdentityResolver) ResolveEncounter(e domain.Encounter) (Directive, error) {
	if err := e.ValidateFields(); err != nil {
		return Directive{}, err
	}
	return create(graph.LabelEncounter, map[string]any{
		"date":    e.Date.String(),
		"summary": strings.TrimSpace(e.Summary),
	}), nil
}

func (DefaultIdentityResolver) ResolveHistoryEncounter(e domain.HistoryEncounter) (Directive, error) {
	if err := e.Validate(); err != nil {
		return Directive{}, err
	}
	return create(graph.LabelEncounter, map[string]any{
		"date":      e.Date.String(),
		"diagnosis": sanitizeString(e.Diagnosis),
	}), nil
}

func upsert(label graph.Label, key string, attrs map[string]any) Directive {
	return Directive{Label: label, Mode: ModeUpsert, Key: key, Attrs: attrs}
}

func create(label graph.Label, attrs map[string]any) Directive {
	return Directive{Label: label, Mode: ModeCreate, Attrs: attrs}
}
