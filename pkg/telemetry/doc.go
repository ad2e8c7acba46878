// Package telemetry provides observability instrumentation for rekindle.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), and Prometheus metrics behind one configuration
// surface. Transition-level change notification is deliberately not
// part of this package: that is the status register's job.
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "rekindle"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Loggers propagate through context:
//
//	ctx = tel.Logger.WithContext(ctx)
//	telemetry.FromContext(ctx).Info("starting")
package telemetry
