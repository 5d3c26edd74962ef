// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trackline/trackline/cmd/trackline/cli"
	"github.com/trackline/trackline/lib/backend"
	"github.com/trackline/trackline/lib/codec"
	"github.com/trackline/trackline/lib/journal"
	"github.com/trackline/trackline/lib/operation"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// writeTestConfig writes a minimal config file pointing at root and
// url, returning its path.
func writeTestConfig(t *testing.T, root, url string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf("storage:\n  root: %s\nbackend:\n  url: %s\n  api_token: test-token\n", root, url)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// acceptingServer speaks the batch protocol and confirms every
// operation.
func acceptingServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("reading request body: %v", err)
		}
		var envelope struct {
			RunID      string                `cbor:"run_id"`
			Operations []operation.Operation `cbor:"operations"`
		}
		if err := codec.Unmarshal(body, &envelope); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		results := make([]backend.Result, 0, len(envelope.Operations))
		for _, op := range envelope.Operations {
			results = append(results, backend.Result{Sequence: op.Sequence, Status: backend.StatusAccepted})
		}
		response := struct {
			Results []backend.Result `cbor:"results"`
		}{Results: results}
		encoded, err := codec.Marshal(response)
		if err != nil {
			t.Errorf("encoding response: %v", err)
		}
		w.Write(encoded)
	}))
	t.Cleanup(server.Close)
	return server
}

// seedJournal leaves count pending operations in an attempt directory
// under root, and acks acked of them.
func seedJournal(t *testing.T, root, runID string, count int, acked uint64) {
	t.Helper()
	dir := filepath.Join(root, "runs", runID, "attempt-1-deadbeef")
	j, err := journal.Open(journal.Options{Dir: dir, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("opening seed journal: %v", err)
	}
	now := time.Now()
	for i := 0; i < count; i++ {
		op, err := operation.NewAppendPoint(runID, operation.MustParsePath("metrics/loss"),
			operation.Point{Time: now, Value: float64(i)}, now)
		if err != nil {
			t.Fatalf("NewAppendPoint: %v", err)
		}
		if _, err := j.Append(context.Background(), op); err != nil {
			t.Fatalf("seeding append: %v", err)
		}
	}
	if acked > 0 {
		if err := j.AdvanceAck(acked); err != nil {
			t.Fatalf("seeding ack: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("closing seed journal: %v", err)
	}
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var exit *cli.ExitError
	if !errors.As(err, &exit) {
		t.Fatalf("error %v carries no exit code", err)
	}
	return exit.Code
}

func TestStatusListsPendingRuns(t *testing.T) {
	root := t.TempDir()
	seedJournal(t, root, "run-a", 3, 0)
	seedJournal(t, root, "run-b", 2, 1)
	cfgPath := writeTestConfig(t, root, "")

	var out bytes.Buffer
	if err := runStatus(&out, cfgPath, discardLogger()); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "run-a") || !strings.Contains(got, "3") {
		t.Errorf("status output missing run-a with 3 pending:\n%s", got)
	}
	if !strings.Contains(got, "run-b") || !strings.Contains(got, "1") {
		t.Errorf("status output missing run-b with 1 pending:\n%s", got)
	}
}

func TestStatusWithNothingPending(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "")

	var out bytes.Buffer
	if err := runStatus(&out, cfgPath, discardLogger()); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	if !strings.Contains(out.String(), "all runs synced") {
		t.Errorf("status output = %q", out.String())
	}
}

func TestSyncAllDeliversAndExitsZero(t *testing.T) {
	root := t.TempDir()
	seedJournal(t, root, "run-a", 3, 0)
	seedJournal(t, root, "run-b", 1, 0)
	server := acceptingServer(t)
	cfgPath := writeTestConfig(t, root, server.URL)

	var out bytes.Buffer
	err := runSync(context.Background(), &out, cfgPath, true, 10*time.Second, nil, discardLogger())
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("sync --all exit code = %d (%v)", code, err)
	}
	if !strings.Contains(out.String(), "sync complete") {
		t.Errorf("sync output = %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(root, "runs", "run-a")); !os.IsNotExist(err) {
		t.Errorf("run-a journal still present after sync: %v", err)
	}
}

func TestSyncTimeoutExitsOne(t *testing.T) {
	root := t.TempDir()
	seedJournal(t, root, "run-a", 2, 0)
	// Nothing listens here; every send fails as a transport error.
	cfgPath := writeTestConfig(t, root, "http://127.0.0.1:1")

	var out bytes.Buffer
	err := runSync(context.Background(), &out, cfgPath, false, 300*time.Millisecond,
		[]string{"run-a"}, discardLogger())
	if code := exitCode(t, err); code != 1 {
		t.Fatalf("timed-out sync exit code = %d (%v)", code, err)
	}

	// The undelivered operations survive for the next attempt.
	seedDir := filepath.Join(root, "runs", "run-a", "attempt-1-deadbeef")
	count, cerr := journal.PendingCount(seedDir)
	if cerr != nil {
		t.Fatalf("PendingCount: %v", cerr)
	}
	if count != 2 {
		t.Errorf("pending after timeout = %d, want 2", count)
	}
}

func TestSyncUnknownRunExitsTwo(t *testing.T) {
	server := acceptingServer(t)
	cfgPath := writeTestConfig(t, t.TempDir(), server.URL)

	var out bytes.Buffer
	err := runSync(context.Background(), &out, cfgPath, false, 0, []string{"no-such-run"}, discardLogger())
	if code := exitCode(t, err); code != 2 {
		t.Fatalf("unknown-run sync exit code = %d (%v)", code, err)
	}
	if !strings.Contains(out.String(), "error:") {
		t.Errorf("fatal error was not reported: %q", out.String())
	}
}

func TestSyncRequiresTarget(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "")

	err := runSync(context.Background(), io.Discard, cfgPath, false, 0, nil, discardLogger())
	if err == nil {
		t.Fatal("sync without --all or run ids succeeded")
	}
	var exit *cli.ExitError
	if errors.As(err, &exit) {
		t.Errorf("usage error carries exit code %d; want a plain error", exit.Code)
	}
}

func TestSyncWithoutBackendURL(t *testing.T) {
	root := t.TempDir()
	seedJournal(t, root, "run-a", 1, 0)
	cfgPath := writeTestConfig(t, root, "")

	var out bytes.Buffer
	err := runSync(context.Background(), &out, cfgPath, true, 0, nil, discardLogger())
	if code := exitCode(t, err); code != 2 {
		t.Fatalf("sync without backend url exit code = %d (%v)", code, err)
	}
}

func TestClearRemovesDrainedJournals(t *testing.T) {
	root := t.TempDir()
	seedJournal(t, root, "run-done", 1, 1)
	seedJournal(t, root, "run-pending", 2, 0)
	cfgPath := writeTestConfig(t, root, "")

	var out bytes.Buffer
	if err := runClear(&out, cfgPath, false, discardLogger()); err != nil {
		t.Fatalf("runClear: %v", err)
	}
	if !strings.Contains(out.String(), "removed 1") {
		t.Errorf("clear output = %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(root, "runs", "run-done")); !os.IsNotExist(err) {
		t.Errorf("drained journal still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "runs", "run-pending")); err != nil {
		t.Errorf("pending journal was removed: %v", err)
	}
}

func TestClearForceDiscardsEverything(t *testing.T) {
	root := t.TempDir()
	seedJournal(t, root, "run-pending", 2, 0)
	cfgPath := writeTestConfig(t, root, "")

	var out bytes.Buffer
	if err := runClear(&out, cfgPath, true, discardLogger()); err != nil {
		t.Fatalf("runClear --force: %v", err)
	}
	if !strings.Contains(out.String(), "removed 1") {
		t.Errorf("clear output = %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(root, "runs", "run-pending")); !os.IsNotExist(err) {
		t.Errorf("forced journal still present: %v", err)
	}
}
