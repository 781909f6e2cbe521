// Package syncclient calls the external marketplace synchronization endpoint.
// It is the body of the scheduled sync job.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"

	"github.com/marketplace/delivery-service/config"
)

var (
	// ErrUnavailable is returned while the breaker is open.
	ErrUnavailable = errors.New("syncclient: endpoint unavailable")
	// ErrRejected is returned for non-2xx answers that are not retried.
	ErrRejected = errors.New("syncclient: request rejected")
)

type syncRequest struct {
	Job         string    `json:"job"`
	TriggeredAt time.Time `json:"triggered_at"`
}

type Client struct {
	job      string
	endpoint string
	http     *retryablehttp.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *Client {
	logger = logger.With(slog.String("component", "syncclient"))

	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.RetryMax = cfg.Job.RetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = logger

	maxFailures := cfg.Job.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}

	return &Client{
		job:      cfg.Job.Name,
		endpoint: cfg.Job.Endpoint,
		http:     rc,
		logger:   logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "sync-endpoint",
			MaxRequests: 1,
			Timeout:     cfg.Job.Breaker.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("[BREAKER] state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		}),
	}
}

// Sync asks the endpoint to run one synchronization pass and waits for the answer.
func (c *Client) Sync(ctx context.Context) error {
	if c.endpoint == "" {
		c.logger.Debug("[SYNC] no endpoint configured, nothing to do")
		return nil
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func (c *Client) post(ctx context.Context) error {
	body, err := json.Marshal(syncRequest{Job: c.job, TriggeredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("syncclient: encode request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("syncclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("syncclient: post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}
