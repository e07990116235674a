// Package api serves the generation job service over HTTP: enqueueing jobs,
// reading a job's status and listing jobs. Handlers translate requests into
// task.JobService calls and map service errors onto status codes without
// exposing internal error text.
package api
