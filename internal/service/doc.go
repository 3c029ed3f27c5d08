package service

// Package service implements the invocation service: it turns a request to
// run an argument vector into a Job and records what happened to it.
//
// Overview
// The Service owns nothing but references: the jobs.Table holding every Job
// and a Launcher which knows how to execute a vector as an isolated unit
// (systemd-run by default, see internal/launcher). Both are injected at
// construction, which keeps the service testable with a direct launcher.
//
// Run is synchronous. The calling request handler is occupied for the whole
// lifetime of the launched process, and the identifier returned always
// belongs to a Job in a terminal status. The bus dispatches every call on
// its own goroutine, so several Runs may be in flight at once; identifier
// allocation is serialized by the table.
//
// Data flow:
//
//   bus.Object            Service                jobs.Table          Launcher
//       |                    |                       |                   |
//   Run(argv) ------------->| Allocate(argv) ------->| id (New)          |
//       |                    | Update(Running) ----->|                   |
//       |                    | Launch(id, argv) ---------------------->| exec + Wait
//       |                    |<---------------------------- Result ------|
//       |                    | Update(Succeeded|Failed, stdout, stderr)->|
//       |<------ id ---------|                       |                   |
//   Get(id) --------------->| Get(id) -------------->| copy | ErrNotFound|
//
// Invariants:
//   - Identifiers start at 0 and strictly increase; never reused.
//   - Status only moves New -> Running -> {Succeeded, Failed}.
//   - Succeeded means the launched process ran and exited, whatever its exit
//     code. Failed means it could not be started (or waiting on it broke).
//   - A launch failure never turns into a fault of Run; it is only visible
//     through Get.
//   - No retries, no timeout, no cancellation by callers.
//
// internal/service/service_test.go is the best source about how to use the
// Service.
