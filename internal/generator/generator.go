package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/vanshika/clinigraph/internal/domain"
)

// Dataset contains generated records for both ingestion modes.
type Dataset struct {
	Encounters []domain.Encounter      `json:"encounters"`
	Histories  []domain.PatientHistory `json:"patients"`
}

// Generator produces synthetic clinical records whose natural keys overlap,
// so that ingestion exercises upsert deduplication.
type Generator struct {
	cfg       Config
	rand      *rand.Rand
	fragments nameFragments
	patients  []domain.Patient
	providers []domain.Provider
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.NumEncounters < 0 {
		cfg.NumEncounters = 0
	}
	if cfg.NumPatients <= 0 {
		cfg.NumPatients = def.NumPatients
	}
	if cfg.NumProviders <= 0 {
		cfg.NumProviders = def.NumProviders
	}
	if cfg.MaxDiagnoses < 0 {
		cfg.MaxDiagnoses = 0
	}
	if cfg.MaxTests < 0 {
		cfg.MaxTests = 0
	}
	if cfg.MaxTreatments < 0 {
		cfg.MaxTreatments = 0
	}
	if cfg.NumHistories < 0 {
		cfg.NumHistories = 0
	}
	if cfg.MaxHistoryEncounters < 0 {
		cfg.MaxHistoryEncounters = 0
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	g := &Generator{
		cfg:       cfg,
		rand:      rand.New(rand.NewSource(cfg.Seed)),
		fragments: defaultNameFragments(),
	}
	g.patients = g.patientPool()
	g.providers = g.providerPool()
	return g
}

// Generate synthesises encounters and patient histories. It respects context
// cancellation.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	encounters := make([]domain.Encounter, g.cfg.NumEncounters)
	for i := range encounters {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}

		provider := g.providers[g.rand.Intn(len(g.providers))]
		if g.rand.Float64() < g.cfg.MissingProviderChance {
			provider.ID = ""
		}
		encounters[i] = domain.Encounter{
			Date:       g.randomDate(base),
			Patient:    g.patients[g.rand.Intn(len(g.patients))],
			Provider:   provider,
			Summary:    g.pick(g.fragments.summaries),
			Diagnoses:  g.diagnoses(),
			Tests:      g.tests(g.cfg.MaxTests),
			Treatments: g.treatments(),
		}
	}

	histories := make([]domain.PatientHistory, g.cfg.NumHistories)
	for i := range histories {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}

		patient := g.patients[g.rand.Intn(len(g.patients))]
		visits := make([]domain.HistoryEncounter, g.rand.Intn(g.cfg.MaxHistoryEncounters+1))
		for j := range visits {
			visits[j] = domain.HistoryEncounter{
				Date:      g.randomDate(base),
				Diagnosis: g.pick(g.fragments.complaints),
				Tests:     g.tests(g.cfg.MaxTests),
			}
		}
		histories[i] = domain.PatientHistory{
			Name:       patient.Name,
			MRN:        patient.MRN,
			Encounters: visits,
		}
	}

	return Dataset{Encounters: encounters, Histories: histories}, nil
}

func (g *Generator) patientPool() []domain.Patient {
	pool := make([]domain.Patient, g.cfg.NumPatients)
	for i := range pool {
		pool[i] = domain.Patient{
			Name: g.randomFullName(),
			MRN:  fmt.Sprintf("MRN%07d", i+1),
		}
	}
	return pool
}

func (g *Generator) providerPool() []domain.Provider {
	roles := []struct {
		kind   domain.ProviderType
		prefix string
	}{
		{domain.ProviderDoctor, "DOC"},
		{domain.ProviderNurse, "NRS"},
		{domain.ProviderPhysicianAssistant, "PAS"},
	}
	pool := make([]domain.Provider, g.cfg.NumProviders)
	for i := range pool {
		role := roles[g.rand.Intn(len(roles))]
		pool[i] = domain.Provider{
			Name:      g.randomFullName(),
			ID:        fmt.Sprintf("%s%07d", role.prefix, i+1),
			Type:      role.kind,
			Specialty: g.pick(g.fragments.specialties),
		}
	}
	return pool
}

func (g *Generator) diagnoses() []domain.Diagnosis {
	n := g.rand.Intn(g.cfg.MaxDiagnoses + 1)
	out := make([]domain.Diagnosis, 0, n)
	for i := 0; i < n; i++ {
		code := g.fragments.diagnoses[g.rand.Intn(len(g.fragments.diagnoses))]
		out = append(out, domain.Diagnosis{Name: code.name, ICD10: code.key})
	}
	return out
}

func (g *Generator) treatments() []domain.Treatment {
	n := g.rand.Intn(g.cfg.MaxTreatments + 1)
	out := make([]domain.Treatment, 0, n)
	for i := 0; i < n; i++ {
		drug := g.fragments.treatments[g.rand.Intn(len(g.fragments.treatments))]
		out = append(out, domain.Treatment{
			Name:   drug.name,
			RXCUI:  drug.key,
			Dosage: g.pick(g.fragments.dosages),
		})
	}
	return out
}

func (g *Generator) tests(limit int) []domain.Test {
	n := g.rand.Intn(limit + 1)
	out := make([]domain.Test, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Test{
			Name:   g.pick(g.fragments.tests),
			Result: g.pick(g.fragments.results),
		})
	}
	return out
}

func (g *Generator) randomDate(base time.Time) domain.Date {
	t := base.AddDate(0, 0, g.rand.Intn(365))
	return domain.NewDate(t.Year(), t.Month(), t.Day())
}

func (g *Generator) randomFullName() string {
	return fmt.Sprintf("%s %s", g.pick(g.fragments.first), g.pick(g.fragments.last))
}

func (g *Generator) pick(options []string) string {
	return options[g.rand.Intn(len(options))]
}

type codedName struct {
	key  string
	name string
}

type nameFragments struct {
	first       []string
	last        []string
	specialties []string
	summaries   []string
	complaints  []string
	tests       []string
	results     []string
	dosages     []string
	diagnoses   []codedName
	treatments  []codedName
}

func defaultNameFragments() nameFragments {
	return nameFragments{
		first:       []string{"Ada", "Grace", "Alan", "Priya", "Liu", "Maria", "Omar", "Sofia", "Noah", "Emma", "Lucas", "Mia", "Ethan", "Zara"},
		last:        []string{"Lovelace", "Hopper", "Turing", "Patel", "Chen", "Garcia", "Khan", "Kim", "Nguyen", "Silva", "Brown", "Lee"},
		specialties: []string{"Cardiology", "Family Medicine", "Endocrinology", "Pulmonology", "Pediatrics", "Dermatology", "Emergency Medicine"},
		summaries:   []string{"routine checkup", "follow-up visit", "acute complaint", "medication review", "annual physical", "post-operative review"},
		complaints:  []string{"seasonal allergies", "lower back pain", "migraine", "upper respiratory infection", "hypertension follow-up", "sprained ankle"},
		tests:       []string{"CBC", "Lipid Panel", "HbA1c", "ECG", "Chest X-Ray", "Urinalysis", "Basic Metabolic Panel"},
		results:     []string{"normal", "abnormal", "borderline", "pending"},
		dosages:     []string{"5 mg daily", "10 mg daily", "500 mg twice daily", "2 puffs as needed", "20 mg nightly"},
		diagnoses: []codedName{
			{"I10", "Essential hypertension"},
			{"E11.9", "Type 2 diabetes mellitus without complications"},
			{"J45.909", "Unspecified asthma, uncomplicated"},
			{"E78.5", "Hyperlipidemia, unspecified"},
			{"M54.5", "Low back pain"},
			{"J06.9", "Acute upper respiratory infection, unspecified"},
			{"F41.1", "Generalized anxiety disorder"},
		},
		treatments: []codedName{
			{"29046", "Lisinopril"},
			{"6809", "Metformin"},
			{"435", "Albuterol"},
			{"83367", "Atorvastatin"},
			{"5640", "Ibuprofen"},
			{"36437", "Sertraline"},
		},
	}
}
