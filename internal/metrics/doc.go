// Package metrics aggregates benchmark sample durations and pipeline
// stage timings for reporting and threshold evaluation.
package metrics
