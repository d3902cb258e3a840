package resources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
)

// stagingDir is the sibling folder archives are unpacked into before the
// result is renamed over the destination.
const stagingDir = ".staging"

// pathMarker tags the line InjectPath appends so it is only added once.
const pathMarker = "# added by bootstrapd"

// Installer performs the filesystem and process work behind an update.
type Installer interface {
	// Extract unpacks archive into dest, replacing it only once extraction succeeded.
	Extract(ctx context.Context, archive, dest string) error
	// CopyDir replaces dst with a recursive copy of src.
	CopyDir(ctx context.Context, src, dst string) error
	Remove(path string) error
	// MakeExecutable sets the executable bits on root-relative paths.
	MakeExecutable(root string, rel []string) error
	// InjectPath appends dir to PATH in the first existing rc file and
	// returns that file, or "" when none of the candidates exist.
	InjectPath(dir string) (string, error)
	// InstallCli creates a virtual environment in venv and runs the
	// install script shipped in src inside it.
	InstallCli(ctx context.Context, src, venv string) error
}

// OSInstaller implements Installer against the local filesystem.
type OSInstaller struct {
	Python        string
	InstallScript string
	RCFiles       []string
	// Home expands a leading "~" in RCFiles; defaults to os.UserHomeDir.
	Home string
	// Output receives the output of child processes; nil discards it.
	Output io.Writer
}

func (i *OSInstaller) Extract(ctx context.Context, archive, dest string) error {
	staging := filepath.Join(filepath.Dir(dest), stagingDir)
	if err := os.RemoveAll(staging); err != nil {
		return err
	}
	if err := extractArchive(ctx, archive, staging); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	return os.Rename(staging, dest)
}

func (i *OSInstaller) CopyDir(ctx context.Context, src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
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
			in, err := os.Open(path)
			if err != nil {
				return err
			}
			defer in.Close()
			return writeFile(target, in, info.Mode().Perm())
		}
	})
}

func (i *OSInstaller) Remove(path string) error {
	return os.RemoveAll(path)
}

func (i *OSInstaller) MakeExecutable(root string, rel []string) error {
	for _, r := range rel {
		p := filepath.Join(root, r)
		fi, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("executable %s: %w", r, err)
		}
		if err := os.Chmod(p, fi.Mode().Perm()|0o111); err != nil {
			return err
		}
	}
	return nil
}

func (i *OSInstaller) InjectPath(dir string) (string, error) {
	home := i.Home
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		home = h
	}
	line := fmt.Sprintf("export PATH=%q:$PATH %s", dir, pathMarker)
	for _, candidate := range i.RCFiles {
		rc := candidate
		if strings.HasPrefix(rc, "~/") {
			rc = filepath.Join(home, rc[2:])
		}
		existing, err := os.ReadFile(rc)
		if err != nil {
			continue
		}
		if bytes.Contains(existing, []byte(line)) {
			return rc, nil
		}
		f, err := os.OpenFile(rc, os.O_APPEND|os.O_WRONLY, 0)
		if err != nil {
			return "", err
		}
		prefix := ""
		if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
			prefix = "\n"
		}
		_, werr := fmt.Fprintf(f, "%s%s\n", prefix, line)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		return rc, werr
	}
	return "", nil
}

func (i *OSInstaller) InstallCli(ctx context.Context, src, venv string) error {
	if err := os.RemoveAll(venv); err != nil {
		return err
	}
	if err := i.run(ctx, "", nil, i.Python, "-m", "venv", venv); err != nil {
		return fmt.Errorf("create virtual environment: %w", err)
	}
	bin := filepath.Join(venv, "bin")
	env := append(os.Environ(),
		"VIRTUAL_ENV="+venv,
		"PATH="+bin+string(os.PathListSeparator)+os.Getenv("PATH"),
	)
	script := filepath.Join(src, i.InstallScript)
	if err := i.run(ctx, src, env, "/bin/sh", script); err != nil {
		return fmt.Errorf("install script: %w", err)
	}
	return nil
}

func (i *OSInstaller) run(ctx context.Context, dir string, env []string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	out := i.Output
	if out == nil {
		out = io.Discard
	}
	cmd.Stdout = out
	cmd.Stderr = out
	slog.Debug("Running installer command", slog.String("command", name), logfields.Path(dir))
	return cmd.Run()
}
