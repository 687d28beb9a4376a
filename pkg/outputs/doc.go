// Package outputs holds the per-task output declarations and the up-to-date decision.
//
// A TaskOutputs value is created for every task while the build is being configured.
// Callers declare output paths and register predicates; the runner later asks
// IsUpToDate to decide whether the task can be skipped. Declarations made after the
// task has started executing are still applied, but they are reported through the
// logger unless strict mode is enabled.
package outputs
