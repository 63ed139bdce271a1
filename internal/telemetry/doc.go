// Package telemetry wires OpenTelemetry trace export for the protocol client.
package telemetry
