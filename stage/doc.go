// Package stage wraps opaque compiled modules as pipeline stages.
//
// A Module is any execution backend exposing named input and output ports
// plus Run and LoadParameters. A Stage owns one Module, fixes its port schema
// at construction and serializes every call to it behind a mutex, so two
// runs, or a run and a parameter load, never overlap on the same module.
//
// Modules are built either directly by the caller or from on-disk artifacts
// through a Backend:
//
//	artifacts, err := stage.LoadManifestFile("deploy/manifest.json")
//	modules, err := stage.LoadArtifacts(ctx, backend, artifacts)
package stage
