// Package channel defines the event model and the capability interfaces every
// transport implements. A channel is a named, ordered, append-only stream.
// Sinks append payloads and report the assigned position; sources deliver
// raw records to a callback on a per-subscription goroutine.
//
// Records carry an xxhash64 checksum of their payload. Decode verifies it
// and turns a record into an Event; consumers skip records that fail.
package channel
