package middleware

import (
	"github.com/OFFIS-RIT/linkgraph/internal/queue"
	"github.com/OFFIS-RIT/linkgraph/internal/storage"
	"github.com/OFFIS-RIT/linkgraph/pkg/graph"

	"github.com/labstack/echo/v4"
)

// App holds the process-wide dependencies handlers need. Queue and Bucket
// are nil when RabbitMQ or S3 are not configured.
type App struct {
	Graph  *graph.GraphClient
	Queue  queue.Publisher
	Bucket *storage.Bucket
}

type AppContext struct {
	echo.Context
	App *App
}

// GetApp returns the App attached by AppContextMiddleware.
func GetApp(c echo.Context) *App {
	if cc, ok := c.(*AppContext); ok {
		return cc.App
	}
	return nil
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
