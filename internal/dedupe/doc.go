// Package dedupe remembers the response to a request carrying an
// Idempotency-Key so a client retry gets the first outcome instead of
// repeating the side effect.
package dedupe
