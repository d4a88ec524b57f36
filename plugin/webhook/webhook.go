package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/meetflow/internal/version"
)

var (
	// timeout is the timeout for webhook request. Default to 30 seconds.
	timeout = 30 * time.Second
)

// ActivityRunCompleted is sent when a meeting run finishes.
const ActivityRunCompleted = "meetflow.run.completed"

type WebhookRequestPayload struct {
	URL             string   `json:"-"`
	ActivityType    string   `json:"activity_type"`
	RunID           string   `json:"run_id"`
	Status          string   `json:"status"`
	MeetingTitle    string   `json:"meeting_title"`
	TotalTickets    int      `json:"total_tickets"`
	TotalPages      int      `json:"total_pages"`
	JiraTickets     []string `json:"jira_tickets"`
	ConfluencePages []string `json:"confluence_pages"`
}

// Post posts the message to webhook endpoint.
func Post(ctx context.Context, requestPayload *WebhookRequestPayload) error {
	body, err := json.Marshal(requestPayload)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal webhook request to %s", requestPayload.URL)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestPayload.URL, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrapf(err, "failed to construct webhook request to %s", requestPayload.URL)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to post webhook to %s", requestPayload.URL)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return errors.Wrapf(err, "failed to read webhook response from %s", requestPayload.URL)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("failed to post webhook %s, status code: %d, response body: %s", requestPayload.URL, resp.StatusCode, b)
	}

	return nil
}

// PostAsync posts the message to webhook endpoint asynchronously.
// It spawns a new goroutine to handle the request and does not wait for the response.
func PostAsync(requestPayload *WebhookRequestPayload) {
	go func() {
		if err := Post(context.Background(), requestPayload); err != nil {
			logFailure(requestPayload, err)
		}
	}()
}

// Sender posts payloads in the background and tracks them so a short-lived
// process can wait for delivery before exiting.
type Sender struct {
	wg sync.WaitGroup
}

// Send posts the payload asynchronously.
func (s *Sender) Send(requestPayload *WebhookRequestPayload) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := Post(context.Background(), requestPayload); err != nil {
			logFailure(requestPayload, err)
		}
	}()
}

// Wait blocks until every payload passed to Send has been delivered or
// failed, or until ctx is done.
func (s *Sender) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func logFailure(requestPayload *WebhookRequestPayload, err error) {
	slog.Warn("Failed to dispatch webhook asynchronously",
		slog.String("url", requestPayload.URL),
		slog.String("activityType", requestPayload.ActivityType),
		slog.String("runID", requestPayload.RunID),
		slog.Any("err", err))
}
