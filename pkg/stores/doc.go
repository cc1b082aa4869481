// Package stores persists provisioning run history in SQLite: one row per
// run, one row per stage result and the run's event timeline. The schema is
// applied with embedded golang-migrate migrations.
//
// Recorder adapts a Store to engine.RunRecorder for the driver, and EventSink
// adapts it to the telemetry event publisher.
package stores
