// Package vad provides energy-based voice activity detection over PCM-16
// audio. Windows whose RMS level falls below a dBFS threshold are treated as
// silence, and runs of silent windows are reported as silence events in the
// same shape ffmpeg's silencedetect filter produces.
package vad
