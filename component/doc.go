// Package component defines the lifecycle contract shared by the long-lived
// parts of stagepipe: the pipeline executor and the HTTP server.
//
// Components are registered with a Registry, started in registration order
// and stopped in reverse. Health reports from every component are rolled up
// into a ServiceHealth for the /health endpoint.
//
// # Interfaces
//
//   - Component: core lifecycle interface (Start/Stop/Health)
//   - Describable: startup summary descriptions
//   - RouteProvider: registered HTTP routes for the startup summary
package component
