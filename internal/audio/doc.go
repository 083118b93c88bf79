// Package audio probes, splits and extracts audio files for chunked
// transcription. The ffmpeg backend shells out to ffmpeg and ffprobe; the WAV
// backend decodes PCM in process and finds silence with the energy detector
// from package vad. Segmenter turns either backend's silence events into
// contiguous chunks that tile the whole recording.
package audio
