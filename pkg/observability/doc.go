/*
Package observability provides Prometheus instrumentation for the query cache.

A nil *Metrics is valid and records nothing, so components take an optional
metrics handle without branching at every call site.
*/
package observability
