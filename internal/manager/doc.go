// Package manager is the serving core between the HTTP layer and the
// inference engine. It is structured into small files by concern:
//
//   - manager.go: Manager type, constructor, Ready/Close.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: Request, Result and request states.
//   - errors.go: error taxonomy and predicates (IsValidation, IsModelLoad, ...).
//   - registry.go: Model Registry; loads each model path once and ref-counts handles.
//   - evict.go: LRU eviction of idle handles under the idle cap and memory budget.
//   - gate.go: per-model admission slot, owned by the handle.
//   - session.go: Inference Session Manager; per-model sessions.
//   - pool.go: Execution Worker Pool; runs the token loop under a concurrency cap.
//   - result.go: Pending, the one-shot result channel from worker to dispatcher.
//   - dispatch.go: Handle, the request dispatcher tying the pieces together.
//   - events.go, eventpub_memory.go: lifecycle events.
//   - metrics.go: Prometheus collectors.
//   - status_report.go: Status snapshot for the admin API.
//   - ops.go: operational helpers (Preload, Evict, Trim).
//   - sanity.go: engine availability check.
//
// A request moves Received → Validated → Acquiring → Queued → Executing →
// Completed | Failed. Requests for the same model path run one at a time;
// requests for different paths run in parallel up to the worker cap.
package manager
