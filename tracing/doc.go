// Package tracing wraps OpenTelemetry so kernel operations can open spans
// without importing the SDK. Until Init installs a provider every span is a
// no-op.
package tracing
