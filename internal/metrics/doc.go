// Package metrics exposes Prometheus collectors for segmentation, chunk
// dispatch, speaker unification, the speaker store, jobs and the HTTP API.
package metrics
