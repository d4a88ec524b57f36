package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/meetflow/ai/pipeline"
)

// ProcessMeeting handles POST /api/v1/meetings/process.
func (s *APIV1Service) ProcessMeeting(c echo.Context) error {
	var req pipeline.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	if err := s.processSemaphore.Acquire(ctx, 1); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is busy")
	}
	defer s.processSemaphore.Release(1)

	result := s.Processor.Process(ctx, req)
	switch {
	case result.Succeeded():
		return c.JSON(http.StatusOK, result)
	case pipeline.IsValidationError(result.Err()):
		return c.JSON(http.StatusUnprocessableEntity, result)
	default:
		slog.WarnContext(ctx, "meeting processing failed", "run_id", result.RunID, "error", result.Err())
		return c.JSON(http.StatusBadGateway, result)
	}
}
