// Package merge reassembles per-chunk transcription results into a single
// time-ordered transcript on the global timeline, and rewrites chunk-local
// speaker labels once unification has (or has not) produced a mapping.
package merge
