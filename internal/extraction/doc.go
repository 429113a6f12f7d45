// Package extraction turns a vendor conversation into a thread.Analysis by
// asking a hosted language model.
//
// The model is an unreliable collaborator. Every failure mode (missing key,
// network error, rate limiting after retries, a reply that is not JSON, a
// reply that is JSON but empty) surfaces as an error or an analysis without
// a status, and callers are expected to fall back to deterministic matching.
//
// # Providers
//
//   - disabled: NoOpExtractor, always unavailable
//   - openai: Chat Completions API
//   - anthropic: Messages API
//
// Both HTTP clients share the same rate limiter defaults, retry policy and
// exponential backoff. Message content is passed through a redact.Scrubber
// before it is sent.
//
// # Coercion
//
// Coerce parses the model's reply with gjson and repairs what it can:
// code fences are stripped, confidences are clamped to [0,1], message
// indexes outside the thread fall back to the newest message, and unknown
// directions and dates are taken from the referenced message.
package extraction
