package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	tserrors "github.com/input-output-hk/tarsync/errors"
	"github.com/input-output-hk/tarsync/internal/localfs"
	"github.com/input-output-hk/tarsync/internal/pool"
)

// OutputPath returns where Merge writes the merged archive.
func (e *Engine) OutputPath() string {
	return filepath.Join(e.scratch(), OutputPrefix+e.outputName)
}

func (e *Engine) scratch() string {
	if e.scratchDir != "" {
		return e.scratchDir
	}
	return os.TempDir()
}

// Merge writes a new archive holding the members of existingPath plus the
// file at newMemberPath, stored under its base name. A member that already
// uses that top-level name is dropped, recursively for a directory. An
// empty existingPath starts from an empty archive.
//
// The merged archive path is returned; the caller owns and removes it. The
// extraction directory is always removed before Merge returns.
func (e *Engine) Merge(ctx context.Context, existingPath, newMemberPath string) (string, error) {
	memberName := filepath.Base(newMemberPath)
	newInfo, err := e.fs.Stat(newMemberPath)
	if err != nil {
		return "", tserrors.Merge("merge", err).WithRef(newMemberPath)
	}
	if !newInfo.Mode().IsRegular() {
		return "", tserrors.Merge("merge", fmt.Errorf("%q is not a regular file", newMemberPath)).
			WithRef(newMemberPath)
	}

	scratch := e.scratch()
	if err := e.fs.MkdirAll(scratch, 0o755); err != nil {
		return "", tserrors.Merge("merge", err).WithRef(scratch)
	}
	out := e.OutputPath()

	var sources []source
	if existingPath == "" {
		sources = []source{{path: newMemberPath, name: memberName, info: newInfo}}
	} else {
		dir, err := localfs.TempDir(e.fs, scratch, "extract-")
		if err != nil {
			return "", tserrors.Merge("extract", err).WithRef(existingPath)
		}
		defer func() {
			if err := localfs.RemoveAll(e.fs, dir); err != nil {
				e.logger.WarnContext(ctx, "failed to remove extraction directory", "path", dir, "error", err)
			}
		}()

		if sources, err = e.prepare(ctx, existingPath, newMemberPath, memberName, dir); err != nil {
			return "", err
		}
	}

	if err := e.pack(out, sources); err != nil {
		if rmErr := localfs.RemoveAll(e.fs, out); rmErr != nil {
			e.logger.WarnContext(ctx, "failed to remove partial archive", "path", out, "error", rmErr)
		}
		return "", tserrors.Merge("pack", err).WithRef(out)
	}

	e.logger.InfoContext(ctx, "merged archive",
		"member", memberName, "members", len(sources), "path", out, "format", e.format.String())
	return out, nil
}

// prepare extracts existingPath into dir, replaces memberName with the new
// file, and returns the entries to pack.
func (e *Engine) prepare(ctx context.Context, existingPath, newMemberPath, memberName, dir string) ([]source, error) {
	x, err := e.extract(ctx, existingPath, dir)
	if err != nil {
		return nil, tserrors.Merge("extract", err).WithRef(existingPath)
	}

	target := filepath.Join(dir, memberName)
	replaced, err := localfs.Exists(e.fs, target)
	if err != nil {
		return nil, tserrors.Merge("replace", err).WithRef(target)
	}
	if replaced {
		if err := localfs.RemoveAll(e.fs, target); err != nil {
			return nil, tserrors.Merge("replace", err).WithRef(target)
		}
		e.logger.DebugContext(ctx, "replacing existing member", "member", memberName)
	}
	delete(x.headers, memberName)
	for name := range x.links {
		if topLevel(name) == memberName {
			delete(x.links, name)
			e.logger.DebugContext(ctx, "replacing existing link member", "member", name)
		}
	}

	if err := e.copyFile(newMemberPath, target); err != nil {
		return nil, tserrors.Merge("copy", err).WithRef(newMemberPath)
	}

	sources, err := collect(e.fs, dir, x.headers)
	if err != nil {
		return nil, tserrors.Merge("collect", err).WithRef(dir)
	}
	if info, err := e.fs.Stat(newMemberPath); err == nil {
		for i := range sources {
			if sources[i].name == memberName {
				sources[i].modTime = info.ModTime()
			}
		}
	}

	sources, dropped := withLinks(sources, x.links)
	for _, name := range dropped {
		e.logger.WarnContext(ctx, "dropping hard link whose target is no longer archived", "member", name)
	}
	return sources, nil
}

// topLevel returns the first segment of a member path.
func topLevel(name string) string {
	first, _, _ := strings.Cut(name, "/")
	return first
}

func (e *Engine) copyFile(src, dst string) error {
	in, err := e.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := e.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	buf := pool.GetCopyBuffer()
	defer pool.PutCopyBuffer(buf)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (e *Engine) pack(out string, sources []source) error {
	w, err := createTar(e.fs, out, e.format)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if err := w.add(e.fs, src); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}
