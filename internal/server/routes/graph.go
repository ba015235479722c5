package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/linkgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/linkgraph/internal/storage"
	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/graph"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const snapshotPrefix = "snapshots"

type entityParams struct {
	Kind string `param:"kind" validate:"required,oneof=actor event"`
	ID   string `param:"id" validate:"required,max=256"`
}

func bindEntity(c echo.Context) (common.EntityKind, string, error) {
	params := new(entityParams)
	if err := c.Bind(params); err != nil {
		return "", "", err
	}
	if err := c.Validate(params); err != nil {
		return "", "", err
	}
	kind, _ := common.ParseEntityKind(params.Kind)
	return kind, params.ID, nil
}

// graphLimits reads ?actors=&events=&edges=, falling back to the client's
// defaults for any parameter left out.
func graphLimits(c echo.Context, g *graph.GraphClient) (graph.Limits, error) {
	limits := g.DefaultGraphLimits()
	err := echo.QueryParamsBinder(c).
		Int("actors", &limits.Actors).
		Int("events", &limits.Events).
		Int("edges", &limits.Edges).
		BindError()
	return limits, err
}

func GetRelationshipsHandler(c echo.Context) error {
	kind, id, err := bindEntity(c)
	if err != nil {
		return badRequest(c, "Invalid request params")
	}

	view, err := middleware.GetApp(c).Graph.PointQuery(c.Request().Context(), id, kind)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func GetGraphHandler(c echo.Context) error {
	g := middleware.GetApp(c).Graph
	limits, err := graphLimits(c, g)
	if err != nil {
		return badRequest(c, "Invalid graph limits")
	}

	data, err := g.ExtractGraph(c.Request().Context(), limits)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, data)
}

type snapshotResponse struct {
	Key   string `json:"key"`
	Nodes int    `json:"nodes"`
	Edges int    `json:"edges"`
}

func PostGraphSnapshotHandler(c echo.Context) error {
	app := middleware.GetApp(c)
	if app.Bucket == nil {
		return unavailable(c, "snapshot storage is not configured")
	}
	limits, err := graphLimits(c, app.Graph)
	if err != nil {
		return badRequest(c, "Invalid graph limits")
	}

	ctx := c.Request().Context()
	data, err := app.Graph.ExtractGraph(ctx, limits)
	if err != nil {
		return respondError(c, err)
	}
	body, err := json.Marshal(data)
	if err != nil {
		return respondError(c, err)
	}

	id, err := gonanoid.New()
	if err != nil {
		return respondError(c, err)
	}
	key, err := app.Bucket.PutJSON(ctx, snapshotPrefix, storage.SnapshotKeyName(time.Now(), id), body)
	if err != nil {
		return respondError(c, fmt.Errorf("%w: %v", graph.ErrStoreUnavailable, err))
	}

	return c.JSON(http.StatusCreated, snapshotResponse{Key: key, Nodes: len(data.Nodes), Edges: len(data.Edges)})
}

type stepResponse struct {
	Step       string `json:"step"`
	Edges      int    `json:"edges"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type deriveResponse struct {
	Kind        common.EntityKind `json:"kind"`
	ID          string            `json:"id"`
	EdgesMerged int               `json:"edges_merged"`
	Steps       []stepResponse    `json:"steps"`
	Warnings    []ErrorDetail     `json:"warnings"`
}

func PostDeriveHandler(c echo.Context) error {
	kind, id, err := bindEntity(c)
	if err != nil {
		return badRequest(c, "Invalid request params")
	}

	report, err := middleware.GetApp(c).Graph.Derive(c.Request().Context(), kind, id)
	if report == nil {
		return respondError(c, err)
	}

	res := deriveResponse{
		Kind:        kind,
		ID:          id,
		EdgesMerged: report.EdgesMerged(),
		Steps:       make([]stepResponse, 0, len(report.Steps)),
		Warnings:    upsertWarnings(err),
	}
	for _, s := range report.Steps {
		step := stepResponse{Step: s.Step, Edges: s.Edges, DurationMs: s.Duration.Milliseconds()}
		if s.Err != nil {
			step.Error = "step failed"
		}
		res.Steps = append(res.Steps, step)
	}
	return c.JSON(http.StatusOK, res)
}
