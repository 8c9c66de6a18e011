// Package packager turns raw code into a deployable archive inside an
// isolated working directory.
package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/narvanalabs/functions/internal/runtimes"
)

// ErrEmptyArchive is returned when the archiver produced no bytes.
var ErrEmptyArchive = errors.New("archiver produced an empty archive")

// Artifact is the packaged form of one invocation's code. The caller owns
// WorkDir and must call Cleanup once it no longer needs to inspect it.
type Artifact struct {
	ActionName string
	Runtime    runtimes.Runtime
	WorkDir    string
	Archive    []byte
}

// Cleanup removes the working directory.
func (a *Artifact) Cleanup() error {
	if a == nil || a.WorkDir == "" {
		return nil
	}
	return os.RemoveAll(a.WorkDir)
}

// Config holds packager configuration.
type Config struct {
	// WorkDir is the parent of per-invocation working directories.
	WorkDir string
	// DependencyCacheDir holds pre-populated dependency folders laid out as
	// <cache>/<runtime>/<dependency dir>. Optional.
	DependencyCacheDir string
}

// Builder produces archives from code using the runtime adapter registry.
type Builder struct {
	registry *runtimes.Registry
	archiver Archiver
	config   Config
	logger   *slog.Logger
}

// NewBuilder creates a new package builder.
func NewBuilder(registry *runtimes.Registry, archiver Archiver, cfg Config, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "fn-packages")
	}
	return &Builder{
		registry: registry,
		archiver: archiver,
		config:   cfg,
		logger:   logger,
	}
}

// Build packages code for the given runtime identifier. On success the
// working directory is left in place for the caller. On failure it has
// already been removed.
func (b *Builder) Build(ctx context.Context, code, actionName, runtimeID string) (art *Artifact, err error) {
	rt, adapter := b.registry.Resolve(runtimeID)

	if err := os.MkdirAll(b.config.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work root: %w", err)
	}
	dir, err := os.MkdirTemp(b.config.WorkDir, actionName+"-")
	if err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}

	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				b.logger.Warn("failed to remove working directory", "dir", dir, "error", rmErr)
			}
			art = nil
		}
	}()
	art = &Artifact{ActionName: actionName, Runtime: rt, WorkDir: dir}

	entry, err := b.registry.EntryPoint(adapter, code)
	if err != nil {
		return nil, fmt.Errorf("generating entry point: %w", err)
	}

	if adapter.DependencyDir != "" && b.config.DependencyCacheDir != "" {
		src := filepath.Join(b.config.DependencyCacheDir, string(adapter.Runtime), adapter.DependencyDir)
		if rt == runtimes.RuntimeDefault {
			src = filepath.Join(b.config.DependencyCacheDir, string(runtimes.RuntimeNode), adapter.DependencyDir)
		}
		if info, statErr := os.Stat(src); statErr == nil && info.IsDir() {
			if err := copyTree(src, filepath.Join(dir, adapter.DependencyDir)); err != nil {
				return nil, fmt.Errorf("copying %s: %w", adapter.DependencyDir, err)
			}
			b.logger.Debug("copied dependency cache", "runtime", rt, "source", src)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, adapter.MainFile), []byte(entry), 0o644); err != nil {
		return nil, fmt.Errorf("writing entry point: %w", err)
	}

	manifest, err := adapter.RenderManifest(actionName)
	if err != nil {
		return nil, err
	}
	if adapter.ManifestFile != "" {
		if err := os.WriteFile(filepath.Join(dir, adapter.ManifestFile), manifest, 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", adapter.ManifestFile, err)
		}
	}

	if adapter.Setup != nil {
		if err := adapter.Setup(dir, adapter); err != nil {
			return nil, fmt.Errorf("runtime setup: %w", err)
		}
	}

	data, err := b.archiver.Archive(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("archiving: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyArchive
	}
	art.Archive = data

	b.logger.Info("packaged action",
		"action", actionName,
		"runtime", rt,
		"bytes", len(data),
	)
	return art, nil
}

// copyTree copies src into dst. src is only read, so concurrent builds can
// share one dependency cache.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target)
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
