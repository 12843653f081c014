// Package bootstrap runs a stagepipe process: typed configuration, ordered
// component start and stop, lifecycle hooks and a startup summary.
//
// Long-running services use Run, which blocks until SIGINT/SIGTERM or
// context cancellation. One-shot commands use RunTask, which gets the same
// startup and shutdown around a finite function.
//
//	app, err := bootstrap.NewApp(&cfg)
//	_ = app.RegisterComponent(exec)
//	_ = app.RegisterComponent(server.NewComponent(srv))
//	return app.Run(ctx)
package bootstrap
