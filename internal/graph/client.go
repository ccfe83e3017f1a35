package graph

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// Client defines the minimal contract required by the ingestion engine to
// interact with the underlying property graph store.
type Client interface {
	// BeginTx opens a write transaction. The caller must finish it with
	// exactly one Commit or Rollback.
	BeginTx(ctx context.Context) (Tx, error)
	EnsureSchema(ctx context.Context, constraints []KeyConstraint) error
	ClearAll(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

// Tx is the write capability exposed inside a single transaction. Values in
// attrs are always sent as parameters; only label and relationship names,
// which come from a closed set, appear in statement text.
type Tx interface {
	// UpsertNode returns the node whose key property equals attrs[key],
	// creating it with attrs when absent. An existing node is left untouched.
	UpsertNode(ctx context.Context, label Label, key string, attrs map[string]any) (NodeID, error)
	CreateNode(ctx context.Context, label Label, attrs map[string]any) (NodeID, error)
	CreateEdge(ctx context.Context, from, to NodeID, rel RelType) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// NodeID identifies a node within one store.
type NodeID int64

// Label is a node label.
type Label string

// RelType is a relationship type.
type RelType string

const (
	LabelPatient   Label = "Patient"
	LabelProvider  Label = "Provider"
	LabelEncounter Label = "Encounter"
	LabelDiagnosis Label = "Diagnosis"
	LabelTest      Label = "Test"
	LabelTreatment Label = "Treatment"
)

const (
	RelHadEncounter        RelType = "HAD_ENCOUNTER"
	RelProvidedEncounter   RelType = "PROVIDED_ENCOUNTER"
	RelHasDiagnosis        RelType = "HAS_DIAGNOSIS"
	RelHadTest             RelType = "HAD_TEST"
	RelPrescribedTreatment RelType = "PRESCRIBED_TREATMENT"
)

// KeyConstraint declares that Property uniquely identifies nodes labelled Label.
type KeyConstraint struct {
	Label    Label
	Property string
}

// Stats counts nodes per label and edges per relationship type.
type Stats struct {
	Nodes map[Label]int64
	Edges map[RelType]int64
}

// NodeCount returns the number of nodes with the given label.
func (s Stats) NodeCount(label Label) int64 {
	return s.Nodes[label]
}

// EdgeCount returns the number of edges with the given type.
func (s Stats) EdgeCount(rel RelType) int64 {
	return s.Edges[rel]
}

// Dialect selects the statement flavour for Bolt-compatible stores.
type Dialect string

const (
	DialectNeo4j    Dialect = "neo4j"
	DialectMemgraph Dialect = "memgraph"
)

// Options configures a graph client implementation.
type Options struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
	Dialect        Dialect
	TxTimeout      time.Duration
}

// ErrMissingURI indicates the graph URI is not provided.
var ErrMissingURI = errors.New("graph URI is required")

// ErrTxClosed is returned when a finished transaction is used again.
var ErrTxClosed = errors.New("transaction already closed")

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name can be embedded in statement text as a
// label, relationship type, or property name.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

func checkIdentifiers(names ...string) error {
	for _, name := range names {
		if !ValidIdentifier(name) {
			return &InvalidIdentifierError{Name: name}
		}
	}
	return nil
}
