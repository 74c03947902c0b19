// Package memory provides an in-process queue backend for tests and local
// development. It supports the full backend contract, including random access
// (GetJob, GetJobs, RemoveJob), delayed-job promotion, and priority ordering,
// and needs no external services. State lives in process memory and is lost
// on restart.
package memory
