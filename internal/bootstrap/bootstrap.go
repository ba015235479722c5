// Package bootstrap wires the graph store and client from the environment.
// Both the API server and the worker start through it.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/linkgraph/internal/metrics"
	"github.com/OFFIS-RIT/linkgraph/internal/util"
	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/graph"
	"github.com/OFFIS-RIT/linkgraph/pkg/logger"
	"github.com/OFFIS-RIT/linkgraph/pkg/logger/console"
	"github.com/OFFIS-RIT/linkgraph/pkg/store"
	"github.com/OFFIS-RIT/linkgraph/pkg/store/memory"
	"github.com/OFFIS-RIT/linkgraph/pkg/store/neo4j"
	pgxstore "github.com/OFFIS-RIT/linkgraph/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	AdapterPgx    = "pgx"
	AdapterNeo4j  = "neo4j"
	AdapterMemory = "memory"
)

// InitLogger installs the console logger. LOG_LEVEL wins over DEBUG.
func InitLogger(prefix string) {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Level:  util.GetEnvString("LOG_LEVEL", ""),
		Prefix: prefix,
	}))
}

// Store is an opened graph store. Pool is set only for the pgx adapter so
// callers can share it with the import lease locker.
type Store struct {
	Adapter string
	Graph   store.GraphStore
	Pool    *pgxpool.Pool
}

// OpenStore connects the adapter named by STORE_ADAPTER. Postgres is
// migrated before use; Neo4j gets its key constraints and attribute indexes.
func OpenStore(ctx context.Context) (*Store, error) {
	adapter := util.GetEnvString("STORE_ADAPTER", AdapterPgx)

	switch adapter {
	case AdapterPgx:
		dsn := util.GetEnv("DATABASE_URL")
		if err := pgxstore.Migrate(dsn); err != nil {
			return nil, err
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s, err := pgxstore.NewGraphDBStorageWithConnection(ctx, pool,
			pgxstore.WithObserver(metrics.ObserveQuery),
			pgxstore.WithCloser(pool.Close),
		)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return &Store{Adapter: adapter, Graph: s, Pool: pool}, nil

	case AdapterNeo4j:
		s, err := neo4j.New(ctx, neo4j.Config{
			URI:      util.GetEnv("NEO4J_URI"),
			Username: util.GetEnvString("NEO4J_USER", "neo4j"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnvString("NEO4J_DATABASE", "neo4j"),
			Schema:   common.Schema(),
			Indexed:  indexedAttributes(),
		}, neo4j.WithObserver(metrics.ObserveQuery))
		if err != nil {
			return nil, err
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		return &Store{Adapter: adapter, Graph: s}, nil

	case AdapterMemory:
		logger.Warn("[Bootstrap] Using in-memory store, data is lost on exit")
		return &Store{Adapter: adapter, Graph: memory.New()}, nil

	default:
		return nil, fmt.Errorf("unknown STORE_ADAPTER %q", adapter)
	}
}

func indexedAttributes() map[string][]string {
	indexed := map[string][]string{}
	for _, a := range common.ActorSharedAttributes {
		indexed[common.LabelActor] = append(indexed[common.LabelActor], a.Attribute)
	}
	for _, a := range common.EventSharedAttributes {
		indexed[common.LabelEvent] = append(indexed[common.LabelEvent], a.Attribute)
	}
	return indexed
}

// NewGraphClient builds the client from SHARED_EDGE_MODE, LIST_DEFAULT_LIMIT
// and the GRAPH_*_LIMIT variables.
func NewGraphClient(s store.GraphStore) (*graph.GraphClient, error) {
	mode, err := graph.ParseSharedEdgeMode(util.GetEnvString("SHARED_EDGE_MODE", "symmetric"))
	if err != nil {
		return nil, err
	}

	limits := graph.DefaultLimits
	limits.Actors = util.GetEnvInt("GRAPH_ACTOR_LIMIT", limits.Actors)
	limits.Events = util.GetEnvInt("GRAPH_EVENT_LIMIT", limits.Events)
	limits.Edges = util.GetEnvInt("GRAPH_EDGE_LIMIT", limits.Edges)

	return graph.NewGraphClient(graph.NewGraphClientParams{
		Store:              s,
		SharedEdges:        mode,
		DefaultListLimit:   util.GetEnvInt("LIST_DEFAULT_LIMIT", graph.DefaultListLimit),
		DefaultGraphLimits: &limits,
		Tracer:             graph.MultiTracer{graph.LoggerTracer{}, metrics.Tracer{}},
	})
}
