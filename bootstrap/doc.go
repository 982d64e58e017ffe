// Package bootstrap wires the Argus components together: configuration,
// logging, storage, the event recorder, the rule evaluator and the HTTP API.
//
// Typical lifecycle:
//
//	app, err := bootstrap.NewApp(ctx)
//	if err != nil { ... }
//	app.Start(ctx)
//	app.WaitForShutdown()
//	app.Shutdown()
package bootstrap
