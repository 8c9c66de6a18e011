// Package runtimes maps runtime identifiers to the packaging strategy used to
// turn user code into a deployable action.
package runtimes

import "strings"

// Runtime is the closed set of runtimes the packager knows how to build.
type Runtime string

const (
	RuntimeNode   Runtime = "nodejs"
	RuntimePython Runtime = "python"
	RuntimeGo     Runtime = "go"
	RuntimeSwift  Runtime = "swift"
	RuntimePHP    Runtime = "php"

	// RuntimeDefault is what unrecognized identifiers resolve to. It packages
	// like RuntimeNode so that ad-hoc execution stays permissive.
	RuntimeDefault Runtime = "default"
)

// detectionOrder is the order identifiers are matched in. "go" is last
// because it is a substring of unrelated names.
var detectionOrder = []Runtime{
	RuntimeNode,
	RuntimePython,
	RuntimeSwift,
	RuntimePHP,
	RuntimeGo,
}

// All returns every explicitly supported runtime.
func All() []Runtime {
	out := make([]Runtime, len(detectionOrder))
	copy(out, detectionOrder)
	return out
}

// Parse resolves a platform runtime identifier such as "nodejs:20" or
// "python:3.11" to a Runtime. Matching is a case-insensitive substring test.
// Identifiers that match nothing return RuntimeDefault.
func Parse(identifier string) Runtime {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if id == "" {
		return RuntimeDefault
	}
	for _, r := range detectionOrder {
		if strings.Contains(id, string(r)) {
			return r
		}
	}
	return RuntimeDefault
}

// String returns the runtime name.
func (r Runtime) String() string {
	return string(r)
}
