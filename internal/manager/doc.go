// Package manager coordinates generation sessions for the daemon: a
// registry of engine sessions with admission control, eviction and
// lifecycle events. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: Config and package defaults.
//   - errors.go: error types and helpers (IsSessionNotFound, IsTooBusy).
//   - sessions.go: session create/destroy and LRU eviction.
//   - admission.go: per-session queueing and generation admission.
//   - ops.go: load/unload/generate/cancel entry points.
//   - status.go: Status/Version reporting.
//   - events.go: lifecycle event publishing.
//
// External packages should treat this package as the orchestration
// layer and use public methods only. Internal types are subject to
// change.
package manager
