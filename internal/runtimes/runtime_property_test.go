package runtimes

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// **Property: Unknown runtimes resolve to the default adapter**
// For any identifier that names no supported runtime, Resolve returns the
// default adapter and never fails.

func genUnknownIdentifier() gopter.Gen {
	return gen.AlphaString().SuchThat(func(s string) bool {
		lower := strings.ToLower(s)
		for _, r := range All() {
			if strings.Contains(lower, string(r)) {
				return false
			}
		}
		return true
	})
}

func genKnownIdentifier() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf(RuntimeNode, RuntimePython, RuntimeSwift, RuntimePHP, RuntimeGo),
		gen.OneConstOf("", ":20", ":3.11", ":1.22", ":default", "-latest"),
		gen.Bool(),
	).Map(func(vals []interface{}) string {
		id := string(vals[0].(Runtime)) + vals[1].(string)
		if vals[2].(bool) {
			id = strings.ToUpper(id)
		}
		return id
	})
}

func TestUnknownRuntimeFallsBackToDefault(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("unknown identifiers resolve to the default adapter", prop.ForAll(
		func(identifier string) bool {
			rt, adapter := registry.Resolve(identifier)
			if rt != RuntimeDefault || adapter == nil {
				return false
			}
			return adapter.MainFile == "index.js" && adapter.NeedsWrapper
		},
		genUnknownIdentifier(),
	))

	properties.Property("known identifiers resolve regardless of case and version", prop.ForAll(
		func(identifier string) bool {
			rt, adapter := registry.Resolve(identifier)
			return adapter != nil &&
				adapter.Runtime == rt &&
				strings.Contains(strings.ToLower(identifier), string(rt))
		},
		genKnownIdentifier(),
	))

	properties.TestingRun(t)
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Runtime
	}{
		{"nodejs:20", RuntimeNode},
		{"NodeJS:18", RuntimeNode},
		{"python:3.11", RuntimePython},
		{"go:1.22", RuntimeGo},
		{"swift:5.7", RuntimeSwift},
		{"php:8.2", RuntimePHP},
		{"", RuntimeDefault},
		{"ruby:3", RuntimeDefault},
		{"   ", RuntimeDefault},
	}
	for _, tt := range tests {
		if got := Parse(tt.in); got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
