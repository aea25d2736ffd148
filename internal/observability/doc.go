// Package observability provides structured logging and Prometheus metrics
// for the document store.
//
// Logging is fire-and-forget: loggers are passed by value into constructors
// and never allowed to alter control flow. Metrics are registered once at
// startup and shared by the service layer and the HTTP boundary.
package observability
