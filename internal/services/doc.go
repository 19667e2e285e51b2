// Package services defines shared utilities consumed by the sync and
// transcription components.
//
// Key responsibilities:
//   - Context helpers that stamp catalog entry IDs and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification consistent across adapters, the ASR client, and the
//     chunk pipeline.
//
// Use these helpers when wiring new components so operational behaviour
// (error handling, observability, retries) stays uniform.
package services
