// Package errors provides the structured error model used across stagepipe.
// Every failure the pipeline reports to a caller is an *AppError carrying a
// machine-readable code, an HTTP status for the API surface and an optional
// cause, so callers can branch on the code while logs keep the full chain.
package errors
