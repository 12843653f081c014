package validation

import (
	"strings"
	"testing"

	"github.com/kbukum/stagepipe/errors"
)

func TestValidatorRequired(t *testing.T) {
	v := New()
	v.Required("name", "John")
	if v.HasErrors() {
		t.Error("expected no errors for non-empty value")
	}

	v2 := New()
	v2.Required("name", "   ")
	if !v2.HasErrors() {
		t.Error("expected error for whitespace-only value")
	}
	if v2.Errors()[0].Field != "name" {
		t.Errorf("expected field 'name', got %q", v2.Errors()[0].Field)
	}
}

func TestValidatorRange(t *testing.T) {
	tests := []struct {
		name    string
		value   int
		wantErr bool
	}{
		{"inside", 5, false},
		{"lower bound", 1, false},
		{"upper bound", 10, false},
		{"below", 0, true},
		{"above", 11, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := New().Range("workers", tc.value, 1, 10)
			if v.HasErrors() != tc.wantErr {
				t.Errorf("Range(%d) errors = %v, wantErr %v", tc.value, v.Errors(), tc.wantErr)
			}
		})
	}
}

func TestValidatorMin(t *testing.T) {
	if New().Min("max_in_flight", 0, 0).HasErrors() {
		t.Error("expected no error at minimum")
	}
	if !New().Min("max_in_flight", -1, 0).HasErrors() {
		t.Error("expected error below minimum")
	}
}

func TestValidatorOneOf(t *testing.T) {
	modes := []string{"pool", "per-stage", "cooperative"}

	if New().OneOf("mode", "pool", modes).HasErrors() {
		t.Error("expected no error for allowed value")
	}
	if New().OneOf("mode", "", modes).HasErrors() {
		t.Error("expected empty value to be skipped")
	}
	v := New().OneOf("mode", "threads", modes)
	if !v.HasErrors() {
		t.Fatal("expected error for disallowed value")
	}
	if !strings.Contains(v.Errors()[0].Message, "per-stage") {
		t.Errorf("expected allowed values in message, got %q", v.Errors()[0].Message)
	}
}

func TestValidatorCustom(t *testing.T) {
	v := New()
	v.Custom(true, "input_map.x", "unused")
	if v.HasErrors() {
		t.Error("expected no error when condition holds")
	}

	v2 := New()
	v2.Custom(false, "input_map.x", "references unknown stage 5")
	if !v2.HasErrors() {
		t.Fatal("expected error when condition fails")
	}
	if v2.Errors()[0].Message != "references unknown stage 5" {
		t.Errorf("unexpected message %q", v2.Errors()[0].Message)
	}
}

func TestValidatorAddErrorf(t *testing.T) {
	v := New()
	v.AddErrorf("connections[0]", "stage %d has no output %q", 1, "y")
	if got := v.Errors()[0].Message; got != `stage 1 has no output "y"` {
		t.Errorf("unexpected message %q", got)
	}
}

func TestValidatorValidate(t *testing.T) {
	if appErr := New().Required("name", "John").Validate(); appErr != nil {
		t.Errorf("expected nil for valid input, got %v", appErr)
	}

	v := New()
	v.Required("name", "")
	v.Min("workers", -2, 0)
	appErr := v.Validate()
	if appErr == nil {
		t.Fatal("expected error")
	}
	if appErr.Code != errors.ErrCodeConfig {
		t.Errorf("expected CONFIG_ERROR, got %s", appErr.Code)
	}
	if !strings.Contains(appErr.Message, "name") || !strings.Contains(appErr.Message, "workers") {
		t.Errorf("expected both fields in message, got %q", appErr.Message)
	}
	fields, ok := appErr.Details["fields"].([]FieldError)
	if !ok || len(fields) != 2 {
		t.Errorf("expected two field errors in details, got %v", appErr.Details["fields"])
	}
}

func TestValidatorChaining(t *testing.T) {
	v := New()
	result := v.Required("name", "John").Min("workers", 4, 0).OneOf("mode", "pool", []string{"pool"})
	if result != v {
		t.Error("expected chaining to return same validator")
	}
	if v.HasErrors() {
		t.Error("expected no errors for valid chained validation")
	}
}

type schedulerSection struct {
	Mode        string `mapstructure:"mode" validate:"oneof=pool per-stage cooperative"`
	Workers     int    `mapstructure:"workers" validate:"gte=0"`
	MaxInFlight int    `mapstructure:"max_in_flight" validate:"gte=0"`
}

type appSection struct {
	Name      string           `mapstructure:"name" validate:"required"`
	Scheduler schedulerSection `mapstructure:"scheduler"`
}

func TestStructValidateValid(t *testing.T) {
	err := Validate(appSection{Name: "stagepipe", Scheduler: schedulerSection{Mode: "pool", Workers: 2}})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestStructValidateInvalid(t *testing.T) {
	err := Validate(appSection{Scheduler: schedulerSection{Mode: "threads", Workers: -1}})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.IsConfigError(err) {
		t.Errorf("expected a config error, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"name: is required", "scheduler.mode: must be one of", "scheduler.workers: must be greater than or equal to 0"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestStructValidateFieldNameFallback(t *testing.T) {
	type untagged struct {
		StageCount int `validate:"min=1"`
	}
	err := Validate(untagged{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "stage_count: must be at least 1") {
		t.Errorf("expected snake_case field name, got %q", err.Error())
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Name":        "name",
		"MaxInFlight": "max_in_flight",
		"workers":     "workers",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
