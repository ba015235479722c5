package neo4j

import (
	"fmt"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/linkgraph/pkg/store"
)

type cypherQuery struct {
	cypher string
	params map[string]any
}

func mergeNodeCypher(label, keyField string) string {
	return fmt.Sprintf("MERGE (n:%s {%s: $id}) SET n = $props", label, keyField)
}

// mergeEdgeCypher returns a statement that yields merged = 0 when either
// endpoint is missing.
func mergeEdgeCypher(src store.NodeRef, edgeType string, dst store.NodeRef) (string, error) {
	if err := store.CheckIdentifiers(src.Label, src.KeyField, edgeType, dst.Label, dst.KeyField); err != nil {
		return "", err
	}
	return fmt.Sprintf(`
MATCH (a:%s {%s: $src})
MATCH (b:%s {%s: $dst})
MERGE (a)-[:%s]->(b)
RETURN count(*) AS merged`,
		src.Label, src.KeyField, dst.Label, dst.KeyField, edgeType), nil
}

func cypherFor(pattern store.Pattern, params map[string]any, schema map[string]string) (cypherQuery, error) {
	switch p := pattern.(type) {
	case store.NodeLookup:
		id, err := store.ParamString(params, "id")
		if err != nil {
			return cypherQuery{}, err
		}
		if err := store.CheckIdentifiers(p.Label, p.KeyField); err != nil {
			return cypherQuery{}, err
		}
		return cypherQuery{
			cypher: fmt.Sprintf(`
MATCH (n:%[1]s {%[2]s: $id})
RETURN n.%[2]s AS id, '%[1]s' AS label, properties(n) AS props`, p.Label, p.KeyField),
			params: map[string]any{"id": id},
		}, nil

	case store.NodeScan:
		limit, err := store.ParamLimit(params, "limit")
		if err != nil {
			return cypherQuery{}, err
		}
		if err := store.CheckIdentifiers(p.Label, p.KeyField); err != nil {
			return cypherQuery{}, err
		}
		cypher := fmt.Sprintf(`
MATCH (n:%[1]s)
RETURN n.%[2]s AS id, '%[1]s' AS label, properties(n) AS props
ORDER BY id`, p.Label, p.KeyField)
		return withLimit(cypher, map[string]any{}, limit), nil

	case store.AttributeMatch:
		id, err := store.ParamString(params, "id")
		if err != nil {
			return cypherQuery{}, err
		}
		if err := store.CheckIdentifiers(p.Label, p.KeyField, p.Attribute); err != nil {
			return cypherQuery{}, err
		}
		return cypherQuery{
			cypher: fmt.Sprintf(`
MATCH (s:%[1]s {%[2]s: $id})
WHERE s.%[3]s IS NOT NULL
MATCH (o:%[1]s)
WHERE o.%[3]s = s.%[3]s AND o <> s
RETURN o.%[2]s AS id
ORDER BY id`, p.Label, p.KeyField, p.Attribute),
			params: map[string]any{"id": id},
		}, nil

	case store.Participants:
		id, err := store.ParamString(params, "id")
		if err != nil {
			return cypherQuery{}, err
		}
		if err := store.CheckIdentifiers(p.Label, p.KeyField, p.ViaLabel, p.SubjectEdge, p.FarEdge); err != nil {
			return cypherQuery{}, err
		}
		return cypherQuery{
			cypher: fmt.Sprintf(`
MATCH (s:%[1]s {%[2]s: $id})<-[:%[4]s]-(:%[3]s)-[:%[5]s]->(f:%[1]s)
RETURN DISTINCT f.%[2]s AS id
ORDER BY id`, p.Label, p.KeyField, p.ViaLabel, p.SubjectEdge, p.FarEdge),
			params: map[string]any{"id": id},
		}, nil

	case store.PairedTargets:
		id, err := store.ParamString(params, "id")
		if err != nil {
			return cypherQuery{}, err
		}
		if err := store.CheckIdentifiers(p.Label, p.KeyField, p.FirstEdge, p.SecondEdge, p.TargetLabel, p.TargetKeyField); err != nil {
			return cypherQuery{}, err
		}
		return cypherQuery{
			cypher: fmt.Sprintf(`
MATCH (t:%[5]s)<-[:%[3]s]-(s:%[1]s {%[2]s: $id})-[:%[4]s]->(u:%[5]s)
RETURN t.%[6]s AS first, u.%[6]s AS second
ORDER BY first, second`, p.Label, p.KeyField, p.FirstEdge, p.SecondEdge, p.TargetLabel, p.TargetKeyField),
			params: map[string]any{"id": id},
		}, nil

	case store.Adjacent:
		id, err := store.ParamString(params, "id")
		if err != nil {
			return cypherQuery{}, err
		}
		if err := store.CheckIdentifiers(p.Label, p.KeyField); err != nil {
			return cypherQuery{}, err
		}
		return cypherQuery{
			cypher: fmt.Sprintf(`
MATCH (s:%[1]s {%[2]s: $id})-[r]-(o)
WITH r, o, CASE WHEN startNode(r) = s THEN 'out' ELSE 'in' END AS direction, %[3]s AS other_label
RETURN type(r) AS type, direction, other_label, %[4]s AS other_id, properties(o) AS other_props
ORDER BY type, direction DESC, other_id`, p.Label, p.KeyField, labelCase("o", schema), idCase("o", "other_label", schema)),
			params: map[string]any{"id": id},
		}, nil

	case store.EdgeScan:
		return edgeScanCypher(params, schema)

	default:
		return cypherQuery{}, fmt.Errorf("neo4j store: unsupported pattern %T", pattern)
	}
}

// edgeScanCypher orders edges by (source, type, target) since Neo4j keeps no
// insertion order. Each filtered label gets its own list parameter.
func edgeScanCypher(params map[string]any, schema map[string]string) (cypherQuery, error) {
	limit, err := store.ParamLimit(params, "limit")
	if err != nil {
		return cypherQuery{}, err
	}
	within, filtered, err := store.ParamWithin(params, "within")
	if err != nil {
		return cypherQuery{}, err
	}

	var b strings.Builder
	b.WriteString("\nMATCH (a)-[r]->(b)\n")
	fmt.Fprintf(&b, "WITH r, a, b, %s AS source_label, %s AS target_label\n",
		labelCase("a", schema), labelCase("b", schema))
	fmt.Fprintf(&b, "WITH r, source_label, target_label, %s AS source, %s AS target\n",
		idCase("a", "source_label", schema), idCase("b", "target_label", schema))

	qp := map[string]any{}
	if filtered {
		var srcTerms, dstTerms []string
		for _, label := range store.SortedLabels(within) {
			if err := store.CheckIdentifiers(label); err != nil {
				return cypherQuery{}, err
			}
			param := "within_" + label
			qp[param] = append([]string{}, within[label]...)
			srcTerms = append(srcTerms, fmt.Sprintf("(source_label = '%s' AND source IN $%s)", label, param))
			dstTerms = append(dstTerms, fmt.Sprintf("(target_label = '%s' AND target IN $%s)", label, param))
		}
		if len(srcTerms) == 0 {
			srcTerms, dstTerms = []string{"false"}, []string{"false"}
		}
		fmt.Fprintf(&b, "WHERE (%s)\n  AND (%s)\n", strings.Join(srcTerms, " OR "), strings.Join(dstTerms, " OR "))
	}
	b.WriteString("RETURN source, source_label, type(r) AS type, target, target_label\n")
	b.WriteString("ORDER BY source, type, target")

	return withLimit(b.String(), qp, limit), nil
}

func withLimit(cypher string, params map[string]any, limit int) cypherQuery {
	if limit >= 0 {
		cypher += "\nLIMIT $limit"
		params["limit"] = int64(limit)
	}
	return cypherQuery{cypher: cypher, params: params}
}

func sortedSchema(schema map[string]string) []string {
	labels := make([]string, 0, len(schema))
	for l := range schema {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// labelCase resolves the first known label of a node, or '' for none.
func labelCase(v string, schema map[string]string) string {
	labels := sortedSchema(schema)
	if len(labels) == 0 {
		return "''"
	}
	var b strings.Builder
	b.WriteString("CASE")
	for _, l := range labels {
		fmt.Fprintf(&b, " WHEN %s:%s THEN '%s'", v, l, l)
	}
	b.WriteString(" ELSE '' END")
	return b.String()
}

// idCase reads the natural key matching the resolved label, falling back to
// the element id for nodes of unknown labels.
func idCase(v, labelVar string, schema map[string]string) string {
	labels := sortedSchema(schema)
	if len(labels) == 0 {
		return fmt.Sprintf("elementId(%s)", v)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "CASE %s", labelVar)
	for _, l := range labels {
		fmt.Fprintf(&b, " WHEN '%s' THEN %s.%s", l, v, schema[l])
	}
	fmt.Fprintf(&b, " ELSE elementId(%s) END", v)
	return b.String()
}
