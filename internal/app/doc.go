// Package app provides application initialization and lifecycle management
// for the validation service. It wires configuration, logging,
// observability, the validation engine and the HTTP server, and owns
// graceful shutdown.
//
// # Initialization Flow
//
// The typical initialization sequence:
//
//	1. Load configuration from file and environment
//	2. Initialize logging and OpenTelemetry
//	3. Create the source and store clients and the local result cache
//	4. Resolve the rule registry and build the validator and orchestrator
//	5. Set up HTTP handlers and middleware
//	6. Configure and start the HTTP server
//
// # Usage
//
// The main entry point is typically:
//
//	application, err := app.NewApplication(configPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := application.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Graceful Shutdown
//
// SIGINT and SIGTERM drain active requests within the configured shutdown
// timeout, stop the metrics collector and flush OpenTelemetry providers.
// Initialization errors are returned to the caller; the package never
// calls os.Exit directly.
package app
