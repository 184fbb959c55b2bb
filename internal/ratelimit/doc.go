// Package ratelimit implements fixed-window admission control over a
// shared counter store.
//
// The window identifier is floor(now / window), so all calls inside the
// same epoch-aligned bucket share one counter and counters reset exactly
// at window boundaries. This trades precision for simplicity: a caller
// can burst up to 2x the limit across a boundary, but each identifier
// needs only one counter per window and a single atomic increment per
// evaluation, which keeps the concurrency story trivial.
//
// Quota exceeded is a normal Decision, never an error. Store outages
// resolve through a configured fail-open or fail-closed policy, and a
// caller with no resolvable identity is either admitted unmetered or
// denied, again by configuration. Both policies are process-wide so every
// call site behaves the same way.
package ratelimit
