package v1

import (
	"context"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"

	"github.com/hrygo/meetflow/ai/pipeline"
	"github.com/hrygo/meetflow/internal/profile"
	"github.com/hrygo/meetflow/store"
)

// Processor runs the meeting pipeline.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) *pipeline.Result
	Mode() string
}

type APIV1Service struct {
	Profile   *profile.Profile
	Store     *store.Store // nil when run history is disabled
	Processor Processor

	processSemaphore *semaphore.Weighted
}

// NewAPIV1Service creates the v1 API. At most concurrency meetings are
// processed at once.
func NewAPIV1Service(profile *profile.Profile, store *store.Store, processor Processor, concurrency int) *APIV1Service {
	if concurrency < 1 {
		concurrency = 1
	}
	return &APIV1Service{
		Profile:          profile,
		Store:            store,
		Processor:        processor,
		processSemaphore: semaphore.NewWeighted(int64(concurrency)),
	}
}

// RegisterRoutes mounts the v1 API on e under /api/v1.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.POST("/meetings/process", s.ProcessMeeting)
	g.GET("/runs", s.ListRuns)
	g.GET("/runs/:uid", s.GetRun)
}
