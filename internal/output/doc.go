// Package output turns a merged transcript into deliverables: filtered
// segments, plain text, SRT subtitles, counters and a per-speaker summary.
// Synthesize performs no I/O; WriteFiles is a convenience for the CLI.
package output
