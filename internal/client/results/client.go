// Package results submits the speaking-exam grading outcome: one POST for
// the result, one independent PUT for the assignment status. No automatic
// retry; callers keep the form contents and re-submit explicitly.
package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/odewan/examlink/internal/domain"
)

// ServerError is an HTTP >= 400 response from the backend.
type ServerError struct {
	Status int
	Op     string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
}

// StatusUpdateError means the result itself was saved but the follow-up
// assignment-status PUT failed. Partial success, not total failure; the UI
// must say so.
type StatusUpdateError struct {
	Err error
}

func (e *StatusUpdateError) Error() string {
	return fmt.Sprintf("result saved, status update failed: %v", e.Err)
}

func (e *StatusUpdateError) Unwrap() error { return e.Err }

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Submit validates client-side, POSTs the result, then PUTs the exam
// assignment to completed. Validation failures never reach the network.
func (c *Client) Submit(ctx context.Context, result domain.SpeakingResult) error {
	if err := result.Validate(); err != nil {
		return fmt.Errorf("invalid speaking result: %w", err)
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}

	if err := c.postJSON(ctx, "/speaking-results", result); err != nil {
		return err
	}
	log.Info().Str("module", "results").Str("exam_id", result.ExamID).
		Int("marks", result.Marks).Msg("speaking result saved")

	status := struct {
		Status string `json:"status"`
	}{Status: "completed"}
	path := fmt.Sprintf("/exam-assignments/%s/status", result.ExamID)
	if err := c.putJSON(ctx, path, status); err != nil {
		log.Warn().Err(err).Str("module", "results").Msg("assignment status update failed after save")
		return &StatusUpdateError{Err: err}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, v any) error {
	return c.doJSON(ctx, http.MethodPost, path, v)
}

func (c *Client) putJSON(ctx context.Context, path string, v any) error {
	return c.doJSON(ctx, http.MethodPut, path, v)
}

func (c *Client) doJSON(ctx context.Context, method, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpc := c.HTTP
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	res, err := httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return &ServerError{Status: res.StatusCode, Op: method + " " + path}
	}
	return nil
}
