package neo4j

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/linkgraph/pkg/store"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const backendName = "neo4j"

// Config holds Neo4j connection configuration.
type Config struct {
	URI      string
	Username string
	Password string
	Database string

	// Schema maps every node label the store holds to its natural key field.
	// It is used to report endpoint ids for edges and adjacency rows.
	Schema map[string]string

	// Indexed lists property names per label that get a range index so
	// shared-attribute lookups stay cheap.
	Indexed map[string][]string
}

// Store implements store.GraphStore on a Neo4j database. Each call opens its
// own session and runs inside a managed transaction.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	schema   map[string]string
	indexed  map[string][]string
	observer store.QueryObserver
}

type Option func(*Store)

// WithObserver registers a callback invoked after every transaction.
func WithObserver(observer store.QueryObserver) Option {
	return func(s *Store) {
		s.observer = observer
	}
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if err := checkSchema(cfg.Schema); err != nil {
		return nil, err
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	s := &Store{
		driver:   driver,
		database: database,
		schema:   cfg.Schema,
		indexed:  cfg.Indexed,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// EnsureIndexes creates a uniqueness constraint on every natural key and a
// range index on every configured attribute.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, stmt := range indexStatements(s.schema, s.indexed) {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, stmt, nil)
			return nil, err
		})
		if err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

func (s *Store) MergeNode(ctx context.Context, label, keyField, keyValue string, attributes map[string]any) (err error) {
	defer s.observe("merge_node", time.Now(), &err)

	if err := store.CheckIdentifiers(label, keyField); err != nil {
		return err
	}
	if keyValue == "" {
		return fmt.Errorf("neo4j store: empty key for %s", label)
	}

	props := make(map[string]any, len(attributes)+1)
	for k, v := range attributes {
		if v == nil {
			continue
		}
		if err := store.CheckIdentifiers(k); err != nil {
			return err
		}
		props[k] = v
	}
	props[keyField] = keyValue

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, mergeNodeCypher(label, keyField), map[string]any{
			"id":    keyValue,
			"props": props,
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("merging %s %q: %w", label, keyValue, err)
	}
	return nil
}

func (s *Store) MergeEdge(ctx context.Context, src store.NodeRef, edgeType string, dst store.NodeRef) (err error) {
	defer s.observe("merge_edge", time.Now(), &err)

	src.KeyField = s.keyFieldFor(src)
	dst.KeyField = s.keyFieldFor(dst)
	cypher, err := mergeEdgeCypher(src, edgeType, dst)
	if err != nil {
		return err
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	merged, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"src": src.ID, "dst": dst.ID})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := record.Get("merged")
		return n, nil
	})
	if err != nil {
		return fmt.Errorf("merging %s edge: %w", edgeType, err)
	}
	if n, _ := merged.(int64); n == 0 {
		return fmt.Errorf("%w: %s %q -[%s]-> %s %q",
			store.ErrNodeNotFound, src.Label, src.ID, edgeType, dst.Label, dst.ID)
	}
	return nil
}

func (s *Store) RunPattern(ctx context.Context, pattern store.Pattern, params map[string]any) (rows []store.Row, err error) {
	if pattern == nil {
		return nil, fmt.Errorf("neo4j store: nil pattern")
	}
	defer s.observe(pattern.PatternName(), time.Now(), &err)

	q, err := cypherFor(pattern, params, s.schema)
	if err != nil {
		return nil, err
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, q.cypher, q.params)
		if err != nil {
			return nil, err
		}
		var rows []store.Row
		for result.Next(ctx) {
			rows = append(rows, store.Row(result.Record().AsMap()))
		}
		return rows, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", pattern.PatternName(), err)
	}
	rows, _ = out.([]store.Row)
	return rows, nil
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   mode,
	})
}

func (s *Store) keyFieldFor(ref store.NodeRef) string {
	if ref.KeyField != "" {
		return ref.KeyField
	}
	return s.schema[ref.Label]
}

func (s *Store) observe(op string, start time.Time, err *error) {
	if s.observer == nil {
		return
	}
	s.observer(backendName, op, time.Since(start), *err)
}

func checkSchema(schema map[string]string) error {
	for label, key := range schema {
		if err := store.CheckIdentifiers(label, key); err != nil {
			return err
		}
	}
	return nil
}

func indexStatements(schema map[string]string, indexed map[string][]string) []string {
	var stmts []string
	for _, l := range sortedSchema(schema) {
		key := schema[l]
		stmts = append(stmts, fmt.Sprintf(
			"CREATE CONSTRAINT %s_%s_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
			strings.ToLower(l), key, l, key))
		for _, attr := range indexed[l] {
			if !store.ValidIdentifier(attr) {
				continue
			}
			stmts = append(stmts, fmt.Sprintf(
				"CREATE INDEX %s_%s_index IF NOT EXISTS FOR (n:%s) ON (n.%s)",
				strings.ToLower(l), attr, l, attr))
		}
	}
	return stmts
}
