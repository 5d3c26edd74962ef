// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trackline/trackline/lib/codec"
	"github.com/trackline/trackline/lib/operation"
)

func testBatch(t *testing.T, count int) []operation.Operation {
	t.Helper()
	batch := make([]operation.Operation, 0, count)
	for i := 0; i < count; i++ {
		op, err := operation.NewAssign("run-1", operation.MustParsePath("metrics/loss"), float64(i), time.Now())
		if err != nil {
			t.Fatalf("NewAssign: %v", err)
		}
		op.Sequence = uint64(i + 1)
		batch = append(batch, op)
	}
	return batch
}

func TestHTTPClientSend(t *testing.T) {
	var gotPath string
	var gotEnvelope batchEnvelope
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("reading request body: %v", err)
		}
		if err := codec.Unmarshal(body, &gotEnvelope); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		results := make([]Result, 0, len(gotEnvelope.Operations))
		for _, op := range gotEnvelope.Operations {
			results = append(results, Result{Sequence: op.Sequence, Status: StatusAccepted})
		}
		response, err := codec.Marshal(batchResponse{Results: results})
		if err != nil {
			t.Errorf("encoding response: %v", err)
		}
		w.Header().Set("Content-Type", contentTypeCBOR)
		w.Write(response)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPOptions{BaseURL: server.URL, APIToken: "token"})
	results, err := client.Send(context.Background(), "run-1", testBatch(t, 3))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/api/v1/runs/run-1/operations" {
		t.Errorf("posted to %q", gotPath)
	}
	if gotEnvelope.RunID != "run-1" {
		t.Errorf("envelope run ID = %q, want run-1", gotEnvelope.RunID)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, result := range results {
		if result.Status != StatusAccepted {
			t.Errorf("result %d: status %q", i, result.Status)
		}
		if result.Sequence != uint64(i+1) {
			t.Errorf("result %d: sequence %d", i, result.Sequence)
		}
	}
}

func TestHTTPClientUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPOptions{BaseURL: server.URL, APIToken: "expired"})
	_, err := client.Send(context.Background(), "run-1", testBatch(t, 1))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		t.Error("credential rejection must not be marked transient")
	}
}

func TestHTTPClientRetryAfterHint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPOptions{BaseURL: server.URL, APIToken: "token"})
	_, err := client.Send(context.Background(), "run-1", testBatch(t, 1))
	if err == nil {
		t.Fatal("expected an error for 429")
	}
	if hint := RetryAfterHint(err); hint != 7*time.Second {
		t.Errorf("retry hint = %s, want 7s", hint)
	}
}

func TestHTTPClientResultCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response, err := codec.Marshal(batchResponse{Results: []Result{{Sequence: 1, Status: StatusAccepted}}})
		if err != nil {
			t.Errorf("encoding response: %v", err)
		}
		w.Write(response)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPOptions{BaseURL: server.URL, APIToken: "token"})
	_, err := client.Send(context.Background(), "run-1", testBatch(t, 2))
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("got %v, want a transient error", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"0", 0},
		{"30", 30 * time.Second},
		{"-5", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.value); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %s, want %s", tt.value, got, tt.want)
		}
	}
}
