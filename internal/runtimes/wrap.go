package runtimes

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// ErrNoWrapper is returned when a runtime has no entry-point template.
var ErrNoWrapper = errors.New("no wrapper template for runtime")

// Wrapper renders user code into language-appropriate entry points. Every
// generated entry point calls the user code with the incoming parameters and
// returns {statusCode: 200, body: result} on success or
// {statusCode: 500, body: {error, detail}} when the user code raises.
type Wrapper struct {
	templates map[Runtime]*template.Template
}

// WrapperData is passed to the entry-point templates.
type WrapperData struct {
	Code string
}

// NewWrapper parses the embedded entry-point templates.
func NewWrapper() (*Wrapper, error) {
	w := &Wrapper{templates: make(map[Runtime]*template.Template)}

	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("reading wrapper templates: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tmpl") {
			continue
		}
		content, err := templateFS.ReadFile("templates/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", entry.Name(), err)
		}
		tmpl, err := template.New(entry.Name()).Funcs(wrapperFuncs()).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", entry.Name(), err)
		}
		w.templates[Runtime(strings.TrimSuffix(entry.Name(), ".tmpl"))] = tmpl
	}

	return w, nil
}

func wrapperFuncs() template.FuncMap {
	return template.FuncMap{
		// pyString renders s as a Python string literal. JSON string escapes
		// are a subset of Python's.
		"pyString": func(s string) (string, error) {
			b, err := json.Marshal(s)
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
		// phpCode strips open/close tags so a pasted file embeds as an expression.
		"phpCode": func(s string) string {
			s = strings.TrimSpace(s)
			s = strings.TrimPrefix(s, "<?php")
			s = strings.TrimSuffix(s, "?>")
			s = strings.TrimSpace(s)
			return strings.TrimSuffix(s, ";")
		},
	}
}

// Wrap renders the entry point for runtime r around code.
func (w *Wrapper) Wrap(r Runtime, code string) (string, error) {
	if r == RuntimeDefault {
		r = RuntimeNode
	}
	tmpl, ok := w.templates[r]
	if !ok {
		return "", fmt.Errorf("%w %s", ErrNoWrapper, r)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, WrapperData{Code: code}); err != nil {
		return "", fmt.Errorf("rendering %s entry point: %w", r, err)
	}
	return sb.String(), nil
}
