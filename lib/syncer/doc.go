// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncer coordinates journals and processors across runs.
//
// The Coordinator is the process-wide registry mapping run IDs to
// their journal and processor. It is an explicit object with an
// explicit lifecycle: construct it with New, register runs as they
// start, and call Shutdown at process exit to drain what it can within
// a bounded timeout and report what remains.
//
// On disk, each run owns a directory under <root>/runs/<run_id>
// holding one or more attempt directories. An attempt is one process's
// exclusive journal; its name carries the pid and a random suffix so a
// forked child never shares segment files with its parent. Register
// resumes the newest unleased attempt when one exists, which is how
// data from a crashed process gets picked up by the next one.
//
// DiscoverUnsynced and Sync operate on the storage root directly,
// independent of the in-process registry, for the maintenance path: a
// later invocation can finish delivering operations abandoned by a
// crashed or offline process.
package syncer
