// Package perf hosts opt-in benchmarks for bulk structural operations.
//
// The benchmarks sit behind build tags (`perf`, `perf_large`) so they stay
// out of default test runs.
package perf
