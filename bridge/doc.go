// Package bridge forwards serialized telemetry events to the platform
// logging service ("Clearcut") through a managed runtime.
//
// A Bridge is initialized once from a thread that is already attached to the
// runtime:
//
//	b, err := bridge.New(bridge.DefaultConfig(), bridge.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	if !b.Init(env, activity) {
//		// the service is unavailable; events are dropped
//	}
//
// After that, Process may be called from any goroutine. Each call attaches
// its OS thread when needed, hands a copy of the payload to the remote logger
// and reports success as a bool. Failures never escape as errors or panics;
// they are logged, counted in Metrics and recorded on the trace span.
package bridge
