package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Statement templates. Only identifiers checked by ValidIdentifier are
// substituted into them; every value travels as a parameter.
const (
	upsertNodeCypherTemplate = `MERGE (n:%s {%s: $key})
ON CREATE SET n += $attrs
RETURN id(n) AS id`

	createNodeCypherTemplate = `CREATE (n:%s)
SET n = $attrs
RETURN id(n) AS id`

	createEdgeCypherTemplate = `MATCH (a) WHERE id(a) = $from
MATCH (b) WHERE id(b) = $to
CREATE (a)-[r:%s]->(b)
RETURN count(r) AS created`

	neo4jConstraintCypherTemplate    = `CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE`
	memgraphConstraintCypherTemplate = `CREATE CONSTRAINT ON (n:%s) ASSERT n.%s IS UNIQUE`

	clearAllCypher = `MATCH (n) DETACH DELETE n`

	nodeStatsCypher = `MATCH (n)
UNWIND labels(n) AS label
RETURN label, count(*) AS total`

	edgeStatsCypher = `MATCH ()-[r]->()
RETURN type(r) AS type, count(r) AS total`
)

const constraintViolationCode = "Neo.ClientError.Schema.ConstraintValidationFailed"

// NewNeo4jClient establishes a Bolt connection using the official Neo4j driver.
// Memgraph speaks the same protocol, so the client serves both stores; the
// Dialect option only changes constraint DDL.
func NewNeo4jClient(ctx context.Context, opts Options) (Client, error) {
	if opts.URI == "" {
		return nil, ErrMissingURI
	}
	dialect := opts.Dialect
	if dialect == "" {
		dialect = DialectNeo4j
	}

	auth := neo4j.NoAuth()
	if opts.Username != "" {
		auth = neo4j.BasicAuth(opts.Username, opts.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI, auth, func(c *neo4j.Config) {
		if opts.MaxConnections > 0 {
			c.MaxConnectionPoolSize = opts.MaxConnections
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, &ConnectionError{Err: fmt.Errorf("verify graph connectivity: %w", err)}
	}

	return &neo4jClient{
		driver:    driver,
		database:  opts.Database,
		dialect:   dialect,
		txTimeout: opts.TxTimeout,
	}, nil
}

type neo4jClient struct {
	driver    neo4j.DriverWithContext
	database  string
	dialect   Dialect
	txTimeout time.Duration
}

func (c *neo4jClient) BeginTx(ctx context.Context) (Tx, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   neo4j.AccessModeWrite,
	})

	var configurers []func(*neo4j.TransactionConfig)
	if c.txTimeout > 0 {
		configurers = append(configurers, neo4j.WithTxTimeout(c.txTimeout))
	}

	tx, err := session.BeginTransaction(ctx, configurers...)
	if err != nil {
		_ = session.Close(ctx)
		return nil, classifyTxError("begin", err)
	}
	return &neo4jTx{session: session, tx: tx}, nil
}

func (c *neo4jClient) EnsureSchema(ctx context.Context, constraints []KeyConstraint) error {
	for _, kc := range constraints {
		query, err := constraintStatement(c.dialect, kc)
		if err != nil {
			return err
		}
		if _, err := c.run(ctx, neo4j.AccessModeWrite, query, nil); err != nil {
			return fmt.Errorf("ensure constraint %s.%s: %w", kc.Label, kc.Property, err)
		}
	}
	return nil
}

func (c *neo4jClient) ClearAll(ctx context.Context) error {
	if _, err := c.run(ctx, neo4j.AccessModeWrite, clearAllCypher, nil); err != nil {
		return fmt.Errorf("clear graph: %w", err)
	}
	return nil
}

func (c *neo4jClient) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Nodes: make(map[Label]int64), Edges: make(map[RelType]int64)}

	nodes, err := c.run(ctx, neo4j.AccessModeRead, nodeStatsCypher, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("count nodes: %w", err)
	}
	for _, rec := range nodes {
		label, _ := rec["label"].(string)
		stats.Nodes[Label(label)] = toInt64(rec["total"])
	}

	edges, err := c.run(ctx, neo4j.AccessModeRead, edgeStatsCypher, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("count edges: %w", err)
	}
	for _, rec := range edges {
		rel, _ := rec["type"].(string)
		stats.Edges[RelType(rel)] = toInt64(rec["total"])
	}
	return stats, nil
}

func (c *neo4jClient) VerifyConnectivity(ctx context.Context) error {
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return &ConnectionError{Err: err}
	}
	return nil
}

func (c *neo4jClient) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// run executes a statement in an auto-commit session and collects its records.
func (c *neo4jClient) run(ctx context.Context, mode neo4j.AccessMode, cypher string, params map[string]any) ([]map[string]any, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   mode,
	})
	defer session.Close(ctx)

	res, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, classifyWriteError("run", err)
	}
	return consumeResult(ctx, res)
}

type neo4jTx struct {
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
	closed  bool
}

func (t *neo4jTx) UpsertNode(ctx context.Context, label Label, key string, attrs map[string]any) (NodeID, error) {
	if t.closed {
		return 0, &TransactionError{Op: "upsert node", Err: ErrTxClosed}
	}
	query, err := upsertNodeStatement(label, key)
	if err != nil {
		return 0, err
	}
	value, ok := attrs[key]
	if !ok {
		return 0, fmt.Errorf("upsert %s: key property %q missing from attributes", label, key)
	}
	return t.single(ctx, "upsert "+string(label), query, map[string]any{
		"key":   value,
		"attrs": attrs,
	})
}

func (t *neo4jTx) CreateNode(ctx context.Context, label Label, attrs map[string]any) (NodeID, error) {
	if t.closed {
		return 0, &TransactionError{Op: "create node", Err: ErrTxClosed}
	}
	query, err := createNodeStatement(label)
	if err != nil {
		return 0, err
	}
	return t.single(ctx, "create "+string(label), query, map[string]any{"attrs": attrs})
}

func (t *neo4jTx) CreateEdge(ctx context.Context, from, to NodeID, rel RelType) error {
	if t.closed {
		return &TransactionError{Op: "create edge", Err: ErrTxClosed}
	}
	query, err := createEdgeStatement(rel)
	if err != nil {
		return err
	}
	res, err := t.tx.Run(ctx, query, map[string]any{"from": int64(from), "to": int64(to)})
	if err != nil {
		return classifyWriteError("create "+string(rel), err)
	}
	records, err := consumeResult(ctx, res)
	if err != nil {
		return classifyWriteError("create "+string(rel), err)
	}
	if len(records) == 0 || toInt64(records[0]["created"]) == 0 {
		return &WriteConflictError{
			Op:  "create " + string(rel),
			Err: fmt.Errorf("endpoint %d or %d does not exist", from, to),
		}
	}
	return nil
}

func (t *neo4jTx) Commit(ctx context.Context) error {
	if t.closed {
		return &TransactionError{Op: "commit", Err: ErrTxClosed}
	}
	t.closed = true
	defer t.session.Close(ctx)
	if err := t.tx.Commit(ctx); err != nil {
		return classifyTxError("commit", err)
	}
	return nil
}

func (t *neo4jTx) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	defer t.session.Close(ctx)
	if err := t.tx.Rollback(ctx); err != nil {
		return classifyTxError("rollback", err)
	}
	return nil
}

func (t *neo4jTx) single(ctx context.Context, op, query string, params map[string]any) (NodeID, error) {
	res, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return 0, classifyWriteError(op, err)
	}
	records, err := consumeResult(ctx, res)
	if err != nil {
		return 0, classifyWriteError(op, err)
	}
	if len(records) != 1 {
		return 0, &WriteConflictError{Op: op, Err: fmt.Errorf("expected one row, got %d", len(records))}
	}
	return NodeID(toInt64(records[0]["id"])), nil
}

func upsertNodeStatement(label Label, key string) (string, error) {
	if err := checkIdentifiers(string(label), key); err != nil {
		return "", err
	}
	return fmt.Sprintf(upsertNodeCypherTemplate, label, key), nil
}

func createNodeStatement(label Label) (string, error) {
	if err := checkIdentifiers(string(label)); err != nil {
		return "", err
	}
	return fmt.Sprintf(createNodeCypherTemplate, label), nil
}

func createEdgeStatement(rel RelType) (string, error) {
	if err := checkIdentifiers(string(rel)); err != nil {
		return "", err
	}
	return fmt.Sprintf(createEdgeCypherTemplate, rel), nil
}

func constraintStatement(dialect Dialect, kc KeyConstraint) (string, error) {
	if err := checkIdentifiers(string(kc.Label), kc.Property); err != nil {
		return "", err
	}
	switch dialect {
	case DialectMemgraph:
		return fmt.Sprintf(memgraphConstraintCypherTemplate, kc.Label, kc.Property), nil
	case DialectNeo4j, "":
		name := strings.ToLower(fmt.Sprintf("%s_%s_unique", kc.Label, kc.Property))
		return fmt.Sprintf(neo4jConstraintCypherTemplate, name, kc.Label, kc.Property), nil
	default:
		return "", fmt.Errorf("unsupported graph dialect %q", dialect)
	}
}

// classifyWriteError maps driver errors raised by a statement onto the
// ingestion error taxonomy.
func classifyWriteError(op string, err error) error {
	if terr := deadlineError(op, err); terr != nil {
		return terr
	}
	if neo4j.IsConnectivityError(err) {
		return &ConnectionError{Err: err}
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && neoErr.Code == constraintViolationCode {
		return &WriteConflictError{Op: op, Retryable: true, Err: err}
	}
	return &WriteConflictError{Op: op, Retryable: neo4j.IsRetryable(err), Err: err}
}

// classifyTxError maps driver errors raised while beginning or finishing a
// transaction. Transient commit failures stay retryable.
func classifyTxError(op string, err error) error {
	if terr := deadlineError(op, err); terr != nil {
		return terr
	}
	if neo4j.IsConnectivityError(err) {
		return &ConnectionError{Err: err}
	}
	if op == "commit" && neo4j.IsRetryable(err) {
		return &WriteConflictError{Op: op, Retryable: true, Err: err}
	}
	return &TransactionError{Op: op, Err: err}
}

func consumeResult(ctx context.Context, res neo4j.ResultWithContext) ([]map[string]any, error) {
	var records []map[string]any
	for res.Next(ctx) {
		rec := res.Record()
		record := make(map[string]any, len(rec.Keys))
		for _, key := range rec.Keys {
			value, _ := rec.Get(key)
			record[key] = value
		}
		records = append(records, record)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
