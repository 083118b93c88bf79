// Package transcription implements the chunk transport to the remote ASR
// engine. Each call is a single attempt: the client classifies failures as
// transient or terminal and leaves retry scheduling to the dispatcher. The
// request carries a stable request id so resubmitting the same payload is safe.
package transcription
