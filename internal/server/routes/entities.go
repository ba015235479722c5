package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/linkgraph/internal/queue"
	"github.com/OFFIS-RIT/linkgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/graph"
	"github.com/OFFIS-RIT/linkgraph/pkg/logger"

	"github.com/labstack/echo/v4"
)

type listParams struct {
	Limit int `query:"limit"`
}

type upsertActorResponse struct {
	Actor    common.Actor  `json:"actor"`
	Warnings []ErrorDetail `json:"warnings"`
}

type upsertEventResponse struct {
	Event    common.Event  `json:"event"`
	Warnings []ErrorDetail `json:"warnings"`
}

func PostActorHandler(c echo.Context) error {
	actor := new(common.Actor)
	if err := c.Bind(actor); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(actor); err != nil {
		return badRequest(c, err.Error())
	}

	app := middleware.GetApp(c)
	ctx := c.Request().Context()

	saved, err := app.Graph.UpsertActor(ctx, *actor)
	if !graph.Persisted(err) {
		return respondError(c, err)
	}
	scheduleDerive(ctx, app, common.KindActor, saved.ActorID, err)

	return c.JSON(http.StatusOK, upsertActorResponse{Actor: saved, Warnings: upsertWarnings(err)})
}

func PostEventHandler(c echo.Context) error {
	event := new(common.Event)
	if err := c.Bind(event); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(event); err != nil {
		return badRequest(c, err.Error())
	}

	app := middleware.GetApp(c)
	ctx := c.Request().Context()

	saved, err := app.Graph.UpsertEvent(ctx, *event)
	if !graph.Persisted(err) {
		return respondError(c, err)
	}
	scheduleDerive(ctx, app, common.KindEvent, saved.EventID, err)

	return c.JSON(http.StatusOK, upsertEventResponse{Event: saved, Warnings: upsertWarnings(err)})
}

// scheduleDerive queues a re-derivation when the upsert reported failed
// derivation steps and a queue is available.
func scheduleDerive(ctx context.Context, app *middleware.App, kind common.EntityKind, id string, err error) {
	if app.Queue == nil || !errors.Is(err, graph.ErrPartialDerivation) {
		return
	}
	data, mErr := json.Marshal(queue.DeriveMsg{Kind: kind, ID: id})
	if mErr != nil {
		return
	}
	if pErr := app.Queue.PublishFIFO(ctx, queue.DeriveQueue, data); pErr != nil {
		logger.Error("[Server] Failed to schedule re-derivation", "kind", kind, "id", id, "err", pErr)
	}
}

func GetActorsHandler(c echo.Context) error {
	params := new(listParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid limit")
	}

	actors, err := middleware.GetApp(c).Graph.ListActors(c.Request().Context(), params.Limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, actors)
}

func GetEventsHandler(c echo.Context) error {
	params := new(listParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid limit")
	}

	events, err := middleware.GetApp(c).Graph.ListEvents(c.Request().Context(), params.Limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, events)
}
