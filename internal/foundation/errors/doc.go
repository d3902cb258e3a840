// Package errors provides foundational, type-safe error primitives used across bootstrapd.
//
// This package contains classified error types and helpers for robust error handling,
// including a fluent builder API for constructing ClassifiedError values with context.
//
// Key features:
//   - ErrorCategory: Broad error classification (config, sidecar, resource, migration, etc.)
//   - ErrorSeverity: Impact level (fatal, error, warning, info)
//   - RetryStrategy: Retry behavior (never, immediate, backoff, user action)
//   - ClassifiedError: Structured error with category, severity, and context
//   - ErrorBuilder: Fluent API for creating classified errors
//   - HTTP and CLI adapters for error presentation
//
// Example usage:
//
//	err := errors.NewError(errors.CategorySidecar, "health check failed").
//		WithRetry(errors.RetryBackoff).
//		WithContext("port", port).
//		WithCause(originalErr).
//		Build()
package errors
