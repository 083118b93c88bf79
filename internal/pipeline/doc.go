// Package pipeline runs one transcription end to end (segment, dispatch,
// merge, unify speakers, synthesize output) and manages background jobs
// for the HTTP API. All job state lives on a Manager instance.
package pipeline
