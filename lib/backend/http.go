// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/trackline/trackline/lib/codec"
	"github.com/trackline/trackline/lib/operation"
)

const contentTypeCBOR = "application/cbor"

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	// BaseURL is the service root, e.g. "https://tracking.example.com".
	BaseURL string

	// APIToken authenticates requests as a bearer token.
	APIToken string

	// RequestTimeout bounds a single Send round trip. Defaults to 30s.
	// Retrying a timed-out batch is the processor's job.
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// HTTPClient delivers batches to the tracking service over HTTP. Each
// batch is one POST of a CBOR-encoded envelope; the response carries
// one Result per operation. Retries are left entirely to the caller:
// the underlying client performs none of its own.
type HTTPClient struct {
	rest   *resty.Client
	logger *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

type batchEnvelope struct {
	RunID      string                `cbor:"run_id"`
	Operations []operation.Operation `cbor:"operations"`
}

type batchResponse struct {
	Results []Result `cbor:"results"`
}

// NewHTTPClient builds a client for the given service.
func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rest := resty.New().
		SetBaseURL(opts.BaseURL).
		SetAuthToken(opts.APIToken).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", contentTypeCBOR).
		SetHeader("Accept", contentTypeCBOR)

	return &HTTPClient{rest: rest, logger: logger}
}

// Send posts one batch and decodes the per-operation verdicts.
func (c *HTTPClient) Send(ctx context.Context, runID string, batch []operation.Operation) ([]Result, error) {
	body, err := codec.Marshal(batchEnvelope{RunID: runID, Operations: batch})
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(body).
		Post("/api/v1/runs/" + runID + "/operations")
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("posting batch: %w", err)}
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized,
		resp.StatusCode() == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status())
	case resp.StatusCode() == http.StatusTooManyRequests,
		resp.StatusCode() >= http.StatusInternalServerError:
		return nil, &TransientError{
			Err:        fmt.Errorf("service unavailable: %s", resp.Status()),
			RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After")),
		}
	case resp.StatusCode() != http.StatusOK:
		// Unexpected client errors are treated as transient too: a
		// proxy or version skew problem should not discard data.
		c.logger.Warn("unexpected batch response",
			"run_id", runID,
			"status", resp.Status())
		return nil, &TransientError{Err: fmt.Errorf("unexpected status: %s", resp.Status())}
	}

	var decoded batchResponse
	if err := codec.Unmarshal(resp.Body(), &decoded); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decoding batch response: %w", err)}
	}
	if len(decoded.Results) != len(batch) {
		return nil, &TransientError{
			Err: fmt.Errorf("response carried %d results for %d operations", len(decoded.Results), len(batch)),
		}
	}
	return decoded.Results, nil
}

// parseRetryAfter handles both forms the header allows: delta-seconds
// and an HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
