package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/linkgraph/pkg/common"

	"github.com/invopop/jsonschema"
	"github.com/labstack/echo/v4"
)

// entitySchema reflects the JSON schema of an upsert body.
func entitySchema(kind common.EntityKind) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	switch kind {
	case common.KindActor:
		return reflector.Reflect(&common.Actor{})
	case common.KindEvent:
		return reflector.Reflect(&common.Event{})
	default:
		return nil
	}
}

func GetSchemaHandler(c echo.Context) error {
	kind, ok := common.ParseEntityKind(c.Param("kind"))
	if !ok {
		return badRequest(c, "kind must be actor or event")
	}
	return c.JSON(http.StatusOK, entitySchema(kind))
}
