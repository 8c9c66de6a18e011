package packager

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Archiver compresses a working directory into archive bytes.
type Archiver interface {
	Archive(ctx context.Context, dir string) ([]byte, error)
}

// ArchiverFunc adapts a function to the Archiver interface.
type ArchiverFunc func(ctx context.Context, dir string) ([]byte, error)

// Archive calls f.
func (f ArchiverFunc) Archive(ctx context.Context, dir string) ([]byte, error) {
	return f(ctx, dir)
}

// CommandArchiver shells out to a zip-compatible binary. The archive is
// written next to the directory and removed once read.
type CommandArchiver struct {
	Command string
}

// NewCommandArchiver returns an archiver that runs command, "zip" if empty.
func NewCommandArchiver(command string) *CommandArchiver {
	if command == "" {
		command = "zip"
	}
	return &CommandArchiver{Command: command}
}

// Archive zips the contents of dir recursively.
func (a *CommandArchiver) Archive(ctx context.Context, dir string) ([]byte, error) {
	out := strings.TrimSuffix(dir, string(os.PathSeparator)) + ".zip"
	defer os.Remove(out)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.Command, "-q", "-r", "-y", out, ".")
	cmd.Dir = dir
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("running %s: %w: %s", a.Command, err, msg)
		}
		return nil, fmt.Errorf("running %s: %w", a.Command, err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	return data, nil
}
