// Package handlers implements the HTTP endpoints.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chronoquery/chronoquery"
	"github.com/chronoquery/chronoquery/pkg/server/dto"
	"github.com/chronoquery/chronoquery/pkg/types"
)

// QueryHandler answers questions through the engine.
type QueryHandler struct {
	engine chronoquery.Engine
	logger *slog.Logger
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(engine chronoquery.Engine, logger *slog.Logger) *QueryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryHandler{engine: engine, logger: logger}
}

// Query handles POST /query.
func (h *QueryHandler) Query(c *gin.Context) {
	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorBody{Error: dto.ErrorDetail{
			Kind:    string(types.KindInvalidRequest),
			Message: "invalid request body: " + err.Error(),
		}})
		return
	}

	answer, err := h.engine.Answer(c.Request.Context(), req.ToQuestion())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromAnswer(answer))
}

func (h *QueryHandler) writeError(c *gin.Context, err error) {
	detail := dto.ErrorDetail{
		Kind:    string(types.KindStoreUnavailable),
		Message: err.Error(),
	}
	var qe *types.QueryError
	if errors.As(err, &qe) {
		detail.Kind = string(qe.Kind)
		detail.Message = qe.Message
		detail.CorrelationID = qe.CorrelationID
	}

	status := statusForKind(types.ErrorKind(detail.Kind))
	if status >= http.StatusInternalServerError {
		h.logger.Error("query failed", "kind", detail.Kind, "correlation_id", detail.CorrelationID, "error", err)
	} else {
		h.logger.Info("query rejected", "kind", detail.Kind, "correlation_id", detail.CorrelationID)
	}
	c.JSON(status, dto.ErrorBody{Error: detail})
}

// statusForKind maps the error taxonomy onto HTTP statuses. Client
// mistakes are 4xx, collaborator failures are 5xx.
func statusForKind(kind types.ErrorKind) int {
	switch kind {
	case types.KindInvalidRequest, types.KindTemporalParse, types.KindUnboundedScope:
		return http.StatusBadRequest
	case types.KindEntityNotFound, types.KindSynthesisEmpty:
		return http.StatusNotFound
	case types.KindClassificationAmbiguous:
		return http.StatusUnprocessableEntity
	case types.KindQueryGenerationFailed:
		return http.StatusBadGateway
	case types.KindStoreTimeout, types.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
