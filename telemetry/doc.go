// Package telemetry reports stage progress and process memory usage.
package telemetry
