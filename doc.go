// Package clearcutbridge delivers serialized telemetry events to the
// platform logging service ("Clearcut") through a managed runtime.
//
// # Architecture Overview
//
// The module is organized into several packages with distinct responsibilities:
//
//	clearcutbridge/      Module documentation
//	├── bridge/          Init, capability probe and concurrent Process
//	├── contract/        Remote type, method and field names the bridge resolves
//	├── managed/         Managed runtime interfaces (VM, Env, refs, thread identity)
//	├── memvm/           In-memory runtime with classes written in Go
//	├── wasmvm/          Runtime whose classes are exports of a wazero guest module
//	├── sink/            The logging service, hosted by either runtime
//	├── config/          YAML configuration loading
//	├── errors/          Structured error types for diagnostics
//	└── cmd/tfbridge/    Harness that sends payloads through a bridge
//
// # Quick Start
//
// Initialize once from an attached thread, then process from anywhere:
//
//	b, err := bridge.New(bridge.DefaultConfig(), bridge.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	if !b.Init(env, activity) {
//		log.Warn("clearcut unavailable")
//	}
//	ok := b.Process(ctx, payload)
//
// Process never returns an error: failures are logged, counted and reported
// as false.
package clearcutbridge
