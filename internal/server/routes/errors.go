package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/linkgraph/pkg/graph"
	"github.com/OFFIS-RIT/linkgraph/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind        graph.ErrorKind `json:"kind"`
	Message     string          `json:"message"`
	MissingIDs  []string        `json:"missing_ids,omitempty"`
	FailedSteps []string        `json:"failed_steps,omitempty"`
}

const (
	kindBadRequest  graph.ErrorKind = "bad_request"
	kindUnavailable graph.ErrorKind = "unavailable"
)

func statusFor(kind graph.ErrorKind) int {
	switch kind {
	case graph.KindNotFound:
		return http.StatusNotFound
	case graph.KindInvalidEntity, kindBadRequest:
		return http.StatusBadRequest
	case graph.KindStoreUnavailable, kindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// detailFor turns err into a client-facing detail. Store and internal
// errors get a fixed message; the cause is only logged.
func detailFor(err error) ErrorDetail {
	kind := graph.KindOf(err)
	d := ErrorDetail{Kind: kind, Message: err.Error()}

	switch kind {
	case graph.KindStoreUnavailable:
		logger.Error("[Server] Store failure", "err", err)
		d.Message = "graph store unavailable"
	case graph.KindInternal:
		logger.Error("[Server] Internal error", "err", err)
		d.Message = "internal error"
	}

	var dangling *graph.DanglingReferenceError
	if errors.As(err, &dangling) {
		d.MissingIDs = dangling.Missing
	}
	var partial *graph.DerivationError
	if errors.As(err, &partial) {
		d.FailedSteps = partial.FailedSteps()
		d.Message = "relationship derivation partially failed"
	}
	return d
}

func respondError(c echo.Context, err error) error {
	d := detailFor(err)
	return c.JSON(statusFor(d.Kind), ErrorBody{Error: d})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorBody{Error: ErrorDetail{Kind: kindBadRequest, Message: msg}})
}

func unavailable(c echo.Context, msg string) error {
	return c.JSON(http.StatusServiceUnavailable, ErrorBody{Error: ErrorDetail{Kind: kindUnavailable, Message: msg}})
}

// upsertWarnings lists the non-fatal problems of a persisted upsert. A
// dangling event that also failed derivation yields both.
func upsertWarnings(err error) []ErrorDetail {
	warnings := []ErrorDetail{}
	if err == nil {
		return warnings
	}
	var dangling *graph.DanglingReferenceError
	if errors.As(err, &dangling) {
		warnings = append(warnings, ErrorDetail{
			Kind:       graph.KindDanglingReference,
			Message:    "participation edges skipped",
			MissingIDs: dangling.Missing,
		})
	}
	var partial *graph.DerivationError
	if errors.As(err, &partial) {
		warnings = append(warnings, ErrorDetail{
			Kind:        graph.KindPartialDerivation,
			Message:     "relationship derivation partially failed",
			FailedSteps: partial.FailedSteps(),
		})
	}
	return warnings
}
