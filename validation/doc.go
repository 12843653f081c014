// Package validation checks stagepipe configuration structs.
//
// Struct tag validation (go-playground/validator) covers the service config
// and artifact manifests; the programmatic Validator collects structural
// problems found while building a pipeline so all of them are reported at
// once. Both produce CONFIG_ERROR app errors with per-field details.
//
// # Struct Tag Validation
//
//	type SchedulerConfig struct {
//	    Mode    string `validate:"oneof=pool per-stage cooperative"`
//	    Workers int    `validate:"gte=0"`
//	}
//	err := validation.Validate(cfg)
//
// # Programmatic Validation
//
//	v := validation.New()
//	v.Custom(idx < n, "input_map.x", "references unknown stage 5")
//	err := v.Validate()
package validation
