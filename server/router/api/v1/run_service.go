package v1

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/meetflow/store"
)

const (
	defaultRunPageSize = 20
	maxRunPageSize     = 100
)

// Run is the API view of a stored run.
type Run struct {
	UID          string          `json:"uid"`
	Title        string          `json:"title"`
	Status       string          `json:"status"`
	Mode         string          `json:"mode"`
	Summary      string          `json:"summary"`
	TotalTickets int             `json:"total_tickets"`
	TotalPages   int             `json:"total_pages"`
	CreatedAt    time.Time       `json:"created_at"`
	Result       json.RawMessage `json:"result,omitempty"`
}

func convertRunFromStore(run *store.Run, withResult bool) *Run {
	r := &Run{
		UID:          run.UID,
		Title:        run.Title,
		Status:       run.Status,
		Mode:         run.Mode,
		Summary:      run.Summary,
		TotalTickets: run.TicketCount,
		TotalPages:   run.PageCount,
		CreatedAt:    time.Unix(run.CreatedTs, 0).UTC(),
	}
	if withResult && json.Valid([]byte(run.Payload)) {
		r.Result = json.RawMessage(run.Payload)
	}
	return r
}

// ListRuns handles GET /api/v1/runs?limit=&status=.
func (s *APIV1Service) ListRuns(c echo.Context) error {
	if s.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run history is not configured")
	}

	limit := defaultRunPageSize
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxRunPageSize)
	}
	find := &store.FindRun{Limit: &limit}
	if status := c.QueryParam("status"); status != "" {
		find.Status = &status
	}

	runs, err := s.Store.ListRuns(c.Request().Context(), find)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list runs").SetInternal(err)
	}
	views := make([]*Run, 0, len(runs))
	for _, run := range runs {
		views = append(views, convertRunFromStore(run, false))
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": views})
}

// GetRun handles GET /api/v1/runs/:uid.
func (s *APIV1Service) GetRun(c echo.Context) error {
	if s.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run history is not configured")
	}

	run, err := s.Store.GetRun(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get run").SetInternal(err)
	}
	if run == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, convertRunFromStore(run, true))
}
