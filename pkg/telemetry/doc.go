// Package telemetry provides observability for the froyovm machine.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and invocation events.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Pass it to the machine, which instruments every invocation:
//
//	m, err := machine.New(ctx, store, machine.Config{Telemetry: tel})
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("machine")
//	logger = logger.WithInvocationID(id).WithModule("counter.wasm", "run")
//	logger.WithFault("syscall", 17).Warn("invocation failed")
//
// # Metrics
//
// Metrics are exposed under the configured namespace:
//
//   - invocations_total{exit_code}
//   - invocation_duration_seconds{outcome}
//   - active_invocations
//   - execution_errors_total{kind}
//   - trap_recoveries_total{outcome}
//   - syscalls_total{module,function}, syscall_errors_total{module,function}
//   - invocation_blocks
//
// The HTTP endpoint is only served when MetricsConfig.ListenAddress is set.
//
// # Tracing
//
// Each invocation gets a "machine.invoke" span. Recovered engine failures are
// recorded as "trap.recovered" span events carrying the outcome, the fault
// kind and the exit code. Exporters: stdout, otlp (gRPC) or none.
//
// # Events
//
// When enabled, the EventPublisher emits invocation.started,
// invocation.completed, invocation.failed and trap.degraded events to
// subscribers, in publication order.
package telemetry
