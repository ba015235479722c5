package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/linkgraph/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const backendName = "pgx"

// foreignKeyViolation is the SQLSTATE raised when an edge references a
// node row that does not exist.
const foreignKeyViolation = "23503"

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.GraphStore on two PostgreSQL tables,
// graph_nodes and graph_edges. Idempotency comes from the primary key on
// nodes and the unique constraint on edges; foreign keys reject edges whose
// endpoints are missing.
type GraphDBStorage struct {
	conn     pgxIConn
	observer store.QueryObserver
	closer   func()
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithObserver registers a callback invoked after every statement.
func WithObserver(observer store.QueryObserver) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.observer = observer
	}
}

// WithCloser sets the function Close calls, usually the pool's Close.
func WithCloser(closer func()) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.closer = closer
	}
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// connection or pool. The schema must already exist; see Migrate.
func NewGraphDBStorageWithConnection(
	ctx context.Context,
	conn pgxIConn,
	opts ...GraphDBStorageOption,
) (*GraphDBStorage, error) {
	if conn == nil {
		return nil, fmt.Errorf("pgx store: connection is nil")
	}
	s := &GraphDBStorage{conn: conn}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s, nil
}

const mergeNodeSQL = `
INSERT INTO graph_nodes (label, node_id, props)
VALUES ($1, $2, $3::jsonb)
ON CONFLICT (label, node_id)
DO UPDATE SET props = EXCLUDED.props, updated_at = now()
`

const mergeEdgeSQL = `
INSERT INTO graph_edges (src_label, src_id, edge_type, dst_label, dst_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (src_label, src_id, edge_type, dst_label, dst_id) DO NOTHING
`

func (s *GraphDBStorage) MergeNode(ctx context.Context, label, keyField, keyValue string, attributes map[string]any) (err error) {
	defer s.observe("merge_node", time.Now(), &err)

	if err := store.CheckIdentifiers(label, keyField); err != nil {
		return err
	}
	if keyValue == "" {
		return fmt.Errorf("pgx store: empty key for %s", label)
	}

	props := make(map[string]any, len(attributes)+1)
	for k, v := range attributes {
		if v != nil {
			props[k] = v
		}
	}
	props[keyField] = keyValue

	data, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to marshal %s properties: %w", label, err)
	}

	if _, err := s.conn.Exec(ctx, mergeNodeSQL, label, keyValue, string(data)); err != nil {
		return fmt.Errorf("failed to merge %s %q: %w", label, keyValue, err)
	}
	return nil
}

func (s *GraphDBStorage) MergeEdge(ctx context.Context, src store.NodeRef, edgeType string, dst store.NodeRef) (err error) {
	defer s.observe("merge_edge", time.Now(), &err)

	if err := store.CheckIdentifiers(src.Label, edgeType, dst.Label); err != nil {
		return err
	}

	_, err = s.conn.Exec(ctx, mergeEdgeSQL, src.Label, src.ID, edgeType, dst.Label, dst.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return fmt.Errorf("%w: %s %q -[%s]-> %s %q",
				store.ErrNodeNotFound, src.Label, src.ID, edgeType, dst.Label, dst.ID)
		}
		return fmt.Errorf("failed to merge %s edge: %w", edgeType, err)
	}
	return nil
}

func (s *GraphDBStorage) RunPattern(ctx context.Context, pattern store.Pattern, params map[string]any) (rows []store.Row, err error) {
	if pattern == nil {
		return nil, fmt.Errorf("pgx store: nil pattern")
	}
	defer s.observe(pattern.PatternName(), time.Now(), &err)

	q, err := buildQuery(pattern, params)
	if err != nil {
		return nil, err
	}

	res, err := s.conn.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", pattern.PatternName(), err)
	}
	defer res.Close()

	for res.Next() {
		values, err := res.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s row: %w", pattern.PatternName(), err)
		}
		row, err := q.toRow(values)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", pattern.PatternName(), err)
	}
	return rows, nil
}

func (s *GraphDBStorage) Close(ctx context.Context) error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}

func (s *GraphDBStorage) observe(op string, start time.Time, err *error) {
	if s.observer == nil {
		return
	}
	s.observer(backendName, op, time.Since(start), *err)
}
