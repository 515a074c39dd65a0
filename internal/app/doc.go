// Package app wires the license service together: telemetry, the license
// store, the licensing services, the event hub and the HTTP router.
//
// # Initialization Flow
//
//	1. Initialize OpenTelemetry (metrics and tracing)
//	2. Open the configured store (memory, redis or postgres)
//	3. Build classifier, ingestor, activation coordinator and entitlement service
//	4. Set up the router and its middleware chain
//	5. Create the HTTP server
//
// # Usage
//
//	a, err := app.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer a.Close(context.Background())
//	return a.Run(ctx)
//
// Run blocks until ctx is cancelled, then drains in-flight requests within
// Server.ShutdownTimeout before stopping the event hub.
package app
