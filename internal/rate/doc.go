// Package rate throttles refresh attempts per token family.
//
// Two implementations share [Config]:
//   - [Local]: golang.org/x/time/rate token buckets held in process.
//   - [Limiter]: Redis fixed-window counters (INCR + EXPIRE on first hit)
//     under the rr:<family> key, for multi-instance deployments.
//
// # What this package must NOT do
//
//   - Decide what happens to a throttled refresh (the engine maps the error).
//   - Be imported outside the goRotate module.
package rate
