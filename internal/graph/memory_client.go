package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryClient is an in-memory transactional property graph implementing the
// Client interface. It is used for unit testing the ingestion engine without a
// running graph database, and as the "memory" backend for dry runs.
//
// Transactions stage their writes privately and publish them on Commit. Keys
// created by UpsertNode are unique per label: if a concurrent transaction
// committed the same key first, Commit fails with a retryable
// WriteConflictError, mirroring a uniqueness constraint in a real store.
type MemoryClient struct {
	mu           sync.Mutex
	nextID       NodeID
	nodes        map[NodeID]*MemoryNode
	keys         map[keyRef]NodeID
	edges        []MemoryEdge
	constraints  []KeyConstraint
	operations   []ExecutedOp
	commits      int
	rollbacks    int
	err          error
	connectivity error
	commitErr    error
	failures     map[string]*injectedFailure
}

// MemoryNode is a committed node snapshot.
type MemoryNode struct {
	ID    NodeID
	Label Label
	Props map[string]any
}

// MemoryEdge is a committed relationship snapshot.
type MemoryEdge struct {
	From NodeID
	To   NodeID
	Type RelType
}

// ExecutedOp captures a capability call issued against the graph, whether or
// not its transaction was eventually committed.
type ExecutedOp struct {
	Op     string
	Target string
	Key    string
	Params map[string]any
}

type keyRef struct {
	label Label
	prop  string
	value string
}

type injectedFailure struct {
	err       error
	remaining int
}

// NewMemoryClient instantiates an empty in-memory graph.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		nodes:    make(map[NodeID]*MemoryNode),
		keys:     make(map[keyRef]NodeID),
		failures: make(map[string]*injectedFailure),
	}
}

// WithError configures the client to return the provided error from BeginTx.
func (m *MemoryClient) WithError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithConnectivityError forces VerifyConnectivity to return the supplied error.
func (m *MemoryClient) WithConnectivityError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectivity = err
	return m
}

// WithCommitError makes every Commit fail with err after discarding the staged writes.
func (m *MemoryClient) WithCommitError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErr = err
	return m
}

// FailOn makes every write touching target (a label or relationship type)
// return err.
func (m *MemoryClient) FailOn(target string, err error) *MemoryClient {
	return m.FailTimes(target, err, -1)
}

// FailTimes makes the next n writes touching target return err. A negative n
// fails forever.
func (m *MemoryClient) FailTimes(target string, err error, n int) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[target] = &injectedFailure{err: err, remaining: n}
	return m
}

func (m *MemoryClient) BeginTx(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransactionError{Op: "begin", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return &memoryTx{
		client: m,
		nodes:  make(map[NodeID]*MemoryNode),
		keys:   make(map[keyRef]NodeID),
	}, nil
}

func (m *MemoryClient) EnsureSchema(_ context.Context, constraints []KeyConstraint) error {
	for _, c := range constraints {
		if err := checkIdentifiers(string(c.Label), c.Property); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.constraints = append([]KeyConstraint(nil), constraints...)
	return nil
}

func (m *MemoryClient) ClearAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.nodes = make(map[NodeID]*MemoryNode)
	m.keys = make(map[keyRef]NodeID)
	m.edges = nil
	return nil
}

func (m *MemoryClient) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Stats{}, m.err
	}
	stats := Stats{Nodes: make(map[Label]int64), Edges: make(map[RelType]int64)}
	for _, node := range m.nodes {
		stats.Nodes[node.Label]++
	}
	for _, edge := range m.edges {
		stats.Edges[edge.Type]++
	}
	return stats, nil
}

func (m *MemoryClient) VerifyConnectivity(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectivity
}

func (m *MemoryClient) Close(context.Context) error {
	return nil
}

// Nodes returns a snapshot of committed nodes with the given label, ordered by ID.
func (m *MemoryClient) Nodes(label Label) []MemoryNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MemoryNode
	for _, node := range m.nodes {
		if node.Label == label {
			out = append(out, MemoryNode{ID: node.ID, Label: node.Label, Props: cloneMap(node.Props)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Node returns the committed node with the given ID.
func (m *MemoryClient) Node(id NodeID) (MemoryNode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[id]
	if !ok {
		return MemoryNode{}, false
	}
	return MemoryNode{ID: node.ID, Label: node.Label, Props: cloneMap(node.Props)}, true
}

// Edges returns a snapshot of committed edges of the given type.
func (m *MemoryClient) Edges(rel RelType) []MemoryEdge {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MemoryEdge
	for _, edge := range m.edges {
		if edge.Type == rel {
			out = append(out, edge)
		}
	}
	return out
}

// Operations returns a snapshot of every capability call issued so far.
func (m *MemoryClient) Operations() []ExecutedOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutedOp(nil), m.operations...)
}

// Constraints returns the constraints registered through EnsureSchema.
func (m *MemoryClient) Constraints() []KeyConstraint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]KeyConstraint(nil), m.constraints...)
}

// Commits returns how many transactions were committed.
func (m *MemoryClient) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Rollbacks returns how many transactions were rolled back.
func (m *MemoryClient) Rollbacks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollbacks
}

// record logs op and returns any injected failure for target. Callers hold m.mu.
func (m *MemoryClient) record(op ExecutedOp) error {
	m.operations = append(m.operations, op)
	f, ok := m.failures[op.Target]
	if !ok {
		return nil
	}
	if f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

type memoryTx struct {
	client *MemoryClient
	nodes  map[NodeID]*MemoryNode
	keys   map[keyRef]NodeID
	edges  []MemoryEdge
	closed bool
}

func (t *memoryTx) UpsertNode(ctx context.Context, label Label, key string, attrs map[string]any) (NodeID, error) {
	if err := t.guard(ctx, "upsert node"); err != nil {
		return 0, err
	}
	if err := checkIdentifiers(string(label), key); err != nil {
		return 0, err
	}
	value, ok := attrs[key]
	if !ok {
		return 0, fmt.Errorf("upsert %s: key property %q missing from attributes", label, key)
	}
	ref := keyRef{label: label, prop: key, value: fmt.Sprint(value)}

	m := t.client
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ExecutedOp{Op: "upsert", Target: string(label), Key: key, Params: cloneMap(attrs)}); err != nil {
		return 0, err
	}

	if id, ok := t.keys[ref]; ok {
		return id, nil
	}
	if id, ok := m.keys[ref]; ok {
		return id, nil
	}
	id := t.stage(label, attrs)
	t.keys[ref] = id
	return id, nil
}

func (t *memoryTx) CreateNode(ctx context.Context, label Label, attrs map[string]any) (NodeID, error) {
	if err := t.guard(ctx, "create node"); err != nil {
		return 0, err
	}
	if err := checkIdentifiers(string(label)); err != nil {
		return 0, err
	}
	m := t.client
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ExecutedOp{Op: "create", Target: string(label), Params: cloneMap(attrs)}); err != nil {
		return 0, err
	}
	return t.stage(label, attrs), nil
}

func (t *memoryTx) CreateEdge(ctx context.Context, from, to NodeID, rel RelType) error {
	if err := t.guard(ctx, "create edge"); err != nil {
		return err
	}
	if err := checkIdentifiers(string(rel)); err != nil {
		return err
	}
	m := t.client
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ExecutedOp{Op: "edge", Target: string(rel), Params: map[string]any{"from": from, "to": to}}); err != nil {
		return err
	}
	for _, id := range []NodeID{from, to} {
		if _, ok := t.nodes[id]; ok {
			continue
		}
		if _, ok := m.nodes[id]; ok {
			continue
		}
		return &WriteConflictError{Op: "create edge", Err: fmt.Errorf("node %d does not exist", id)}
	}
	t.edges = append(t.edges, MemoryEdge{From: from, To: to, Type: rel})
	return nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if t.closed {
		return &TransactionError{Op: "commit", Err: ErrTxClosed}
	}
	t.closed = true
	if err := ctx.Err(); err != nil {
		t.discard()
		return &TransactionError{Op: "commit", Err: err}
	}

	m := t.client
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		m.rollbacks++
		return &TransactionError{Op: "commit", Err: m.commitErr}
	}
	for ref, id := range t.keys {
		if existing, ok := m.keys[ref]; ok && existing != id {
			m.rollbacks++
			return &WriteConflictError{
				Op:        "commit",
				Retryable: true,
				Err:       fmt.Errorf("%s with %s=%q was created concurrently", ref.label, ref.prop, ref.value),
			}
		}
	}
	for id, node := range t.nodes {
		m.nodes[id] = node
	}
	for ref, id := range t.keys {
		m.keys[ref] = id
	}
	m.edges = append(m.edges, t.edges...)
	m.commits++
	return nil
}

func (t *memoryTx) Rollback(context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.discard()
	return nil
}

func (t *memoryTx) discard() {
	t.client.mu.Lock()
	t.client.rollbacks++
	t.client.mu.Unlock()
	t.nodes = nil
	t.keys = nil
	t.edges = nil
}

func (t *memoryTx) guard(ctx context.Context, op string) error {
	if t.closed {
		return &TransactionError{Op: op, Err: ErrTxClosed}
	}
	if err := ctx.Err(); err != nil {
		return deadlineError(op, err)
	}
	return nil
}

// stage allocates a node inside the transaction. Callers hold client.mu.
func (t *memoryTx) stage(label Label, attrs map[string]any) NodeID {
	t.client.nextID++
	id := t.client.nextID
	t.nodes[id] = &MemoryNode{ID: id, Label: label, Props: cloneMap(attrs)}
	return id
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
