// Package dispatch submits every audio segment of a run to the ASR engine at
// once and drives each chunk through its own state machine: Pending, then
// Dispatched, then Succeeded or Failed. Transient failures are retried with
// exponential backoff; one global deadline bounds the whole batch.
package dispatch
