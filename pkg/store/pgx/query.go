package pgx

import (
	"fmt"
	"sort"

	"github.com/OFFIS-RIT/linkgraph/pkg/store"
)

type sqlQuery struct {
	sql     string
	args    []any
	columns []string
}

// toRow names the positional values returned by pgx.
func (q sqlQuery) toRow(values []any) (store.Row, error) {
	if len(values) != len(q.columns) {
		return nil, fmt.Errorf("pgx store: expected %d columns, got %d", len(q.columns), len(values))
	}
	row := make(store.Row, len(values))
	for i, col := range q.columns {
		if values[i] == nil {
			if col == "other_label" {
				row[col] = ""
			}
			continue
		}
		row[col] = values[i]
	}
	return row, nil
}

// limitArg maps an unbounded limit to NULL, which PostgreSQL reads as LIMIT ALL.
func limitArg(params map[string]any) (any, error) {
	limit, err := store.ParamLimit(params, "limit")
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, nil
	}
	return int64(limit), nil
}

func buildQuery(pattern store.Pattern, params map[string]any) (sqlQuery, error) {
	switch p := pattern.(type) {
	case store.NodeLookup:
		id, err := store.ParamString(params, "id")
		if err != nil {
			return sqlQuery{}, err
		}
		return sqlQuery{
			sql: `
SELECT node_id, label, props
FROM graph_nodes
WHERE label = $1 AND node_id = $2`,
			args:    []any{p.Label, id},
			columns: []string{"id", "label", "props"},
		}, nil

	case store.NodeScan:
		limit, err := limitArg(params)
		if err != nil {
			return sqlQuery{}, err
		}
		return sqlQuery{
			sql: `
SELECT node_id, label, props
FROM graph_nodes
WHERE label = $1
ORDER BY node_id
LIMIT $2::bigint`,
			args:    []any{p.Label, limit},
			columns: []string{"id", "label", "props"},
		}, nil

	case store.AttributeMatch:
		id, err := store.ParamString(params, "id")
		if err != nil {
			return sqlQuery{}, err
		}
		query, err := attributeMatchSQL(p.Attribute)
		if err != nil {
			return sqlQuery{}, err
		}
		return sqlQuery{
			sql:     query,
			args:    []any{p.Label, id},
			columns: []string{"id"},
		}, nil

	case store.Participants:
		id, err := store.ParamString(params, "id")
		if err != nil {
			return sqlQuery{}, err
		}
		return sqlQuery{
			sql: `
SELECT DISTINCT far.dst_id
FROM graph_edges subj
JOIN graph_edges far
  ON far.src_label = subj.src_label AND far.src_id = subj.src_id
WHERE subj.dst_label = $1 AND subj.dst_id = $2
  AND subj.edge_type = $3 AND subj.src_label = $4
  AND far.edge_type = $5 AND far.dst_label = $1
ORDER BY far.dst_id`,
			args:    []any{p.Label, id, p.SubjectEdge, p.ViaLabel, p.FarEdge},
			columns: []string{"id"},
		}, nil

	case store.PairedTargets:
		id, err := store.ParamString(params, "id")
		if err != nil {
			return sqlQuery{}, err
		}
		return sqlQuery{
			sql: `
SELECT a.dst_id, b.dst_id
FROM graph_edges a
JOIN graph_edges b
  ON b.src_label = a.src_label AND b.src_id = a.src_id
WHERE a.src_label = $1 AND a.src_id = $2
  AND a.edge_type = $3 AND a.dst_label = $5
  AND b.edge_type = $4 AND b.dst_label = $5
ORDER BY 1, 2`,
			args:    []any{p.Label, id, p.FirstEdge, p.SecondEdge, p.TargetLabel},
			columns: []string{"first", "second"},
		}, nil

	case store.Adjacent:
		id, err := store.ParamString(params, "id")
		if err != nil {
			return sqlQuery{}, err
		}
		return sqlQuery{
			sql: `
SELECT e.edge_type, 'out' AS direction, e.dst_label, e.dst_id, n.props
FROM graph_edges e
LEFT JOIN graph_nodes n ON n.label = e.dst_label AND n.node_id = e.dst_id
WHERE e.src_label = $1 AND e.src_id = $2
UNION ALL
SELECT e.edge_type, 'in' AS direction, e.src_label, e.src_id, n.props
FROM graph_edges e
LEFT JOIN graph_nodes n ON n.label = e.src_label AND n.node_id = e.src_id
WHERE e.dst_label = $1 AND e.dst_id = $2
ORDER BY 1, 2 DESC, 4`,
			args:    []any{p.Label, id},
			columns: []string{"type", "direction", "other_label", "other_id", "other_props"},
		}, nil

	case store.EdgeScan:
		return edgeScanQuery(params)

	default:
		return sqlQuery{}, fmt.Errorf("pgx store: unsupported pattern %T", pattern)
	}
}

// attributeMatchSQL inlines the attribute name so the per-attribute
// expression indexes can be used. Values compare as jsonb, so a string
// never equals a number.
func attributeMatchSQL(attribute string) (string, error) {
	if err := store.CheckIdentifiers(attribute); err != nil {
		return "", err
	}
	return fmt.Sprintf(`
SELECT o.node_id
FROM graph_nodes s
JOIN graph_nodes o
  ON o.label = s.label
 AND o.node_id <> s.node_id
 AND o.props -> '%[1]s' = s.props -> '%[1]s'
WHERE s.label = $1 AND s.node_id = $2
  AND jsonb_typeof(s.props -> '%[1]s') <> 'null'
ORDER BY o.node_id`, attribute), nil
}

// edgeScanQuery keeps insertion order via the seq column. The endpoint filter
// compares "Label:id" keys; labels are identifiers and never contain ':'.
func edgeScanQuery(params map[string]any) (sqlQuery, error) {
	limit, err := limitArg(params)
	if err != nil {
		return sqlQuery{}, err
	}
	within, filtered, err := store.ParamWithin(params, "within")
	if err != nil {
		return sqlQuery{}, err
	}

	columns := []string{"source", "source_label", "type", "target", "target_label"}
	if !filtered {
		return sqlQuery{
			sql: `
SELECT src_id, src_label, edge_type, dst_id, dst_label
FROM graph_edges
ORDER BY seq
LIMIT $1::bigint`,
			args:    []any{limit},
			columns: columns,
		}, nil
	}

	return sqlQuery{
		sql: `
SELECT src_id, src_label, edge_type, dst_id, dst_label
FROM graph_edges
WHERE (src_label || ':' || src_id) = ANY($2::text[])
  AND (dst_label || ':' || dst_id) = ANY($2::text[])
ORDER BY seq
LIMIT $1::bigint`,
		args:    []any{limit, endpointKeys(within)},
		columns: columns,
	}, nil
}

func endpointKeys(within map[string][]string) []string {
	var keys []string
	for _, label := range store.SortedLabels(within) {
		ids := append([]string(nil), within[label]...)
		sort.Strings(ids)
		for _, id := range ids {
			keys = append(keys, label+":"+id)
		}
	}
	if keys == nil {
		keys = []string{}
	}
	return keys
}
