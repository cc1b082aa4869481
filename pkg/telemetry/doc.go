// Package telemetry provides observability instrumentation for siteprov.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and run event publishing.
//
// # Usage
//
// Initialize telemetry at command startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	driver := engine.NewDriver(tel.DriverConfig())
//
// The Metrics type implements engine.StageMetrics and EventPublisher
// implements engine.EventPublisher, so a Driver built from DriverConfig
// reports every stage without further wiring.
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("provision")
//	logger.WithRunID(run.ID).Info("Provisioning run finished")
//
// Log output goes to stderr by default so command output on stdout stays
// machine readable.
//
// # Metrics
//
// Key metrics exposed:
//
//   - siteprov_runs_started_total
//   - siteprov_runs_completed_total{status}
//   - siteprov_run_duration_seconds{status}
//   - siteprov_stages_executed_total{stage,outcome}
//   - siteprov_stage_duration_seconds{stage}
//   - siteprov_errors_by_class_total{class}
//   - siteprov_errors_by_code_total{code}
//   - siteprov_devproxy_requests_total{route,code}
//   - siteprov_devproxy_request_duration_seconds{route}
//   - siteprov_devproxy_config_reloads_total{result}
//
// The dev proxy serves them at /metrics; StartMetricsServer exposes them on
// a dedicated listener.
//
// # Events
//
//	tel.Events.Subscribe(func(e engine.Event) {
//	    fmt.Println(e.Stage, e.Type)
//	}, telemetry.FilterByLevel(engine.EventLevelWarn))
package telemetry
