// Package speaker resolves chunk-local diarization labels into stable global
// speaker identities.
//
// Each (chunk, local label) pair gets one representative embedding from an
// external extractor. Instances are clustered greedily by cosine distance, and
// clusters are matched against a persisted directory of known speakers that
// survives across runs. The directory is a JSON document rewritten atomically
// under a single-writer lock.
package speaker
