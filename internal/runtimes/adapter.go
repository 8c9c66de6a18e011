package runtimes

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// SetupHook rearranges a populated working directory into the layout a
// runtime requires. It runs after the entry point and manifest are written.
type SetupHook func(workDir string, a *Adapter) error

// Adapter describes how code for one runtime becomes a deployable archive.
type Adapter struct {
	Runtime Runtime
	// DefaultKind is the platform kind used when the identifier names no version.
	DefaultKind string

	// Extension is the source file extension, including the dot.
	Extension string
	// MainFile is the entry-point file name written at the archive root.
	MainFile string
	// ManifestFile is the package descriptor file name, empty for none.
	ManifestFile string
	// ManifestTemplate is rendered with ManifestData to produce the manifest.
	ManifestTemplate string
	// DependencyDir names a shared dependency folder copied from the host
	// cache when present, e.g. node_modules.
	DependencyDir string
	// Setup is an optional runtime-specific layout hook.
	Setup SetupHook
	// NeedsWrapper reports whether raw code must be embedded in a generated
	// entry point. Runtimes that take a complete program skip wrapping.
	NeedsWrapper bool
}

// ManifestData is passed to an adapter's manifest template.
type ManifestData struct {
	ActionName string
	MainFile   string
}

// RenderManifest returns the manifest contents for the given action.
// It returns nil when the adapter declares no manifest.
func (a *Adapter) RenderManifest(actionName string) ([]byte, error) {
	if a.ManifestFile == "" {
		return nil, nil
	}
	tmpl, err := template.New(a.ManifestFile).Parse(a.ManifestTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest template for %s: %w", a.Runtime, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ManifestData{ActionName: actionName, MainFile: a.MainFile}); err != nil {
		return nil, fmt.Errorf("rendering manifest for %s: %w", a.Runtime, err)
	}
	return buf.Bytes(), nil
}

// Registry is the lookup table from runtime to adapter.
type Registry struct {
	adapters map[Runtime]*Adapter
	wrapper  *Wrapper
}

// NewRegistry returns a registry holding the built-in adapters.
func NewRegistry() (*Registry, error) {
	w, err := NewWrapper()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		adapters: make(map[Runtime]*Adapter),
		wrapper:  w,
	}
	for _, a := range builtinAdapters() {
		r.adapters[a.Runtime] = a
	}
	// The default variant packages exactly like node but keeps its own name
	// so the fallback is visible in logs and metadata.
	def := *r.adapters[RuntimeNode]
	def.Runtime = RuntimeDefault
	r.adapters[RuntimeDefault] = &def
	return r, nil
}

// Resolve returns the runtime and adapter for a platform identifier.
// Unknown identifiers resolve to the default adapter and never fail.
func (r *Registry) Resolve(identifier string) (Runtime, *Adapter) {
	rt := Parse(identifier)
	a, ok := r.adapters[rt]
	if !ok {
		return RuntimeDefault, r.adapters[RuntimeDefault]
	}
	return rt, a
}

// Register replaces or adds the adapter for a runtime.
func (r *Registry) Register(a *Adapter) {
	r.adapters[a.Runtime] = a
}

// Kind returns the platform kind for an identifier. Identifiers that carry a
// version, such as "python:3.11", are passed through. Otherwise, and for
// unknown runtimes, the adapter's default kind is used.
func (r *Registry) Kind(identifier string) string {
	rt, a := r.Resolve(identifier)
	id := strings.ToLower(strings.TrimSpace(identifier))
	if rt != RuntimeDefault && strings.Contains(id, ":") {
		return id
	}
	return a.DefaultKind
}

// EntryPoint returns the entry-point source for code under adapter a:
// the wrapped program when the adapter needs wrapping, otherwise code verbatim.
func (r *Registry) EntryPoint(a *Adapter, code string) (string, error) {
	if !a.NeedsWrapper {
		return code, nil
	}
	return r.wrapper.Wrap(a.Runtime, code)
}

func builtinAdapters() []*Adapter {
	return []*Adapter{
		{
			Runtime:      RuntimeNode,
			DefaultKind:  "nodejs:20",
			Extension:    ".js",
			MainFile:     "index.js",
			ManifestFile: "package.json",
			ManifestTemplate: `{
  "name": "{{.ActionName}}",
  "version": "1.0.0",
  "main": "{{.MainFile}}"
}
`,
			DependencyDir: "node_modules",
			NeedsWrapper:  true,
		},
		{
			Runtime:          RuntimePython,
			DefaultKind:      "python:3",
			Extension:        ".py",
			MainFile:         "__main__.py",
			ManifestFile:     "requirements.txt",
			ManifestTemplate: "",
			DependencyDir:    "virtualenv",
			NeedsWrapper:     true,
		},
		{
			Runtime:      RuntimeGo,
			DefaultKind:  "go:1.22",
			Extension:    ".go",
			MainFile:     "main.go",
			ManifestFile: "go.mod",
			ManifestTemplate: `module action

go 1.22
`,
			NeedsWrapper: false,
		},
		{
			Runtime:      RuntimeSwift,
			DefaultKind:  "swift:5.7",
			Extension:    ".swift",
			MainFile:     "main.swift",
			ManifestFile: "Package.swift",
			ManifestTemplate: `// swift-tools-version:5.7
import PackageDescription

let package = Package(
    name: "Action",
    products: [
        .executable(name: "Action", targets: ["Action"])
    ],
    targets: [
        .executableTarget(name: "Action", path: "Sources/Action")
    ]
)
`,
			Setup:        swiftLayout,
			NeedsWrapper: true,
		},
		{
			Runtime:      RuntimePHP,
			DefaultKind:  "php:8.2",
			Extension:    ".php",
			MainFile:     "index.php",
			ManifestFile: "composer.json",
			ManifestTemplate: `{
  "name": "functions/{{.ActionName}}",
  "require": {}
}
`,
			DependencyDir: "vendor",
			NeedsWrapper:  true,
		},
	}
}

// swiftLayout moves the entry point under Sources/Action as SwiftPM expects.
func swiftLayout(workDir string, a *Adapter) error {
	target := filepath.Join(workDir, "Sources", "Action")
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("creating swift sources dir: %w", err)
	}
	if err := os.Rename(filepath.Join(workDir, a.MainFile), filepath.Join(target, a.MainFile)); err != nil {
		return fmt.Errorf("moving swift entry point: %w", err)
	}
	return nil
}
