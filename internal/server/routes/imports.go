package routes

import (
	"encoding/json"
	"net/http"

	"github.com/OFFIS-RIT/linkgraph/internal/queue"
	"github.com/OFFIS-RIT/linkgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/linkgraph/pkg/logger"

	"github.com/labstack/echo/v4"
)

const defaultDatasetPrefix = "datasets/"

type datasetParams struct {
	Prefix string `query:"prefix"`
}

// GetDatasetsHandler lists the dataset keys stored under ?prefix=.
func GetDatasetsHandler(c echo.Context) error {
	params := new(datasetParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid prefix")
	}
	if params.Prefix == "" {
		params.Prefix = defaultDatasetPrefix
	}

	app := middleware.GetApp(c)
	if app.Bucket == nil {
		return unavailable(c, "dataset storage is not configured")
	}
	keys, err := app.Bucket.ListFilesWithPrefix(c.Request().Context(), params.Prefix, "")
	if err != nil {
		logger.Error("[Server] Failed to list datasets", "prefix", params.Prefix, "err", err)
		return unavailable(c, "failed to list datasets")
	}
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, keys)
}

type importRequest struct {
	Key string `json:"key" validate:"required,max=1024"`
}

// PostImportHandler queues a dataset import for the worker.
func PostImportHandler(c echo.Context) error {
	req := new(importRequest)
	if err := c.Bind(req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return badRequest(c, "key is required")
	}

	app := middleware.GetApp(c)
	if app.Queue == nil {
		return unavailable(c, "import queue is not configured")
	}

	data, err := json.Marshal(queue.ImportMsg{Key: req.Key})
	if err != nil {
		return respondError(c, err)
	}
	if err := app.Queue.PublishFIFO(c.Request().Context(), queue.ImportQueue, data); err != nil {
		return unavailable(c, "failed to queue import")
	}
	return c.JSON(http.StatusAccepted, req)
}
