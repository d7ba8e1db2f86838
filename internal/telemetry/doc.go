// Package telemetry holds the live progress and preview state of the job
// the worker is running.
//
// Both structures keep their own mutex, separate from the job store lock, so
// engine callbacks firing many times per second never contend with job
// administration. Every callback updates the in-memory value; broadcasts to
// the event sink are throttled independently for progress and previews.
package telemetry
