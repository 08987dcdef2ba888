package ops

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hpungsan/quarry/internal/config"
	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

// backupMode says which side of a source backup a path is checked for.
type backupMode int

const (
	backupExport backupMode = iota
	backupImport
)

const (
	backupExt    = ".jsonl"
	backupInfix  = "-sources-"
	backupLayout = "2006-01-02T150405"
)

// exportsDir returns ~/.quarry/exports, where backups go by default.
func exportsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to get home directory: %w", err))
	}
	return filepath.Join(homeDir, ".quarry", "exports"), nil
}

// backupName is the file name of a project's backup taken at now:
// <slug>-sources-<timestamp>.jsonl.
func backupName(p *project.Project, now time.Time) string {
	slug := p.Slug
	if slug == "" {
		slug = "project"
	}
	return slug + backupInfix + now.Format(backupLayout) + backupExt
}

// resolveBackupPath returns the absolute path of a project's source backup.
//
// An empty export path means a fresh file in the exports directory. A given
// path must end in .jsonl, contain no ".." and sit directly in the exports
// directory or an allowed_paths entry; allow_unsafe_paths lifts only the
// directory rule. Inside the exports directory, exports are named after the
// project and imports must be source backups of some project. Neither the
// file nor its directory may be a symlink, and an import must exist.
func resolveBackupPath(p *project.Project, path string, mode backupMode, cfg *config.Config, now time.Time) (string, error) {
	defaultDir, err := exportsDir()
	if err != nil {
		return "", err
	}
	if path == "" {
		if mode == backupImport {
			return "", errors.NewInvalidRequest("path is required")
		}
		path = filepath.Join(defaultDir, backupName(p, now))
	}

	if hasDotDot(path) {
		return "", errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}
	if filepath.Ext(abs) != backupExt {
		return "", errors.NewInvalidRequest("source backups must have a .jsonl extension")
	}

	dir, name := filepath.Split(abs)
	dir = filepath.Clean(dir)
	if dir == filepath.Clean(defaultDir) {
		switch {
		case mode == backupExport && !strings.HasPrefix(name, p.Slug+backupInfix):
			return "", errors.NewInvalidRequest(fmt.Sprintf(
				"backups in %s must be named %s<timestamp>%s", defaultDir, p.Slug+backupInfix, backupExt))
		case mode == backupImport && !strings.Contains(name, backupInfix):
			return "", errors.NewInvalidRequest(fmt.Sprintf(
				"%s is not a source backup (expected <slug>%s<timestamp>%s)", name, backupInfix, backupExt))
		}
	}

	if cfg == nil || !cfg.AllowUnsafePaths {
		allowed, err := backupDirs(defaultDir, cfg)
		if err != nil {
			return "", err
		}
		if !containsDir(allowed, dir) {
			return "", errors.NewInvalidRequest(fmt.Sprintf(
				"source backups must be directly in one of %v", allowed))
		}
		if isSymlink(dir) {
			return "", errors.NewInvalidRequest("backup directory must not be a symlink")
		}
	}

	if mode == backupImport {
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			return "", errors.NewFileNotFound(path)
		}
	}
	if isSymlink(abs) {
		return "", errors.NewInvalidRequest("source backup must not be a symlink")
	}
	return abs, nil
}

// backupDirs lists the directories backups may be read from or written to.
// A symlinked allowed_paths entry stands for its target.
func backupDirs(defaultDir string, cfg *config.Config) ([]string, error) {
	dirs := []string{filepath.Clean(defaultDir)}
	if cfg == nil {
		return dirs, nil
	}
	for _, p := range cfg.AllowedPaths {
		if !filepath.IsAbs(p) {
			continue
		}
		d := filepath.Clean(p)
		if isSymlink(d) {
			resolved, err := filepath.EvalSymlinks(d)
			if err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in allowed path: %v", err))
			}
			d = resolved
		}
		dirs = append(dirs, d)
	}
	return dirs, nil
}

func containsDir(dirs []string, dir string) bool {
	for _, d := range dirs {
		if d == dir {
			return true
		}
	}
	return false
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// hasDotDot reports a ".." component under either separator.
func hasDotDot(path string) bool {
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return true
		}
	}
	return false
}

// writeBackup writes a backup through a temp file renamed over path, so an
// earlier backup at path survives a failed export.
func writeBackup(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create backup directory: %w", err))
	}

	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(suffix) + ".tmp"
	file, err := openBackup(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return errors.NewInternal(fmt.Errorf("failed to create backup file: %w", err))
	}

	done := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !done {
			os.Remove(tempPath)
		}
	}()

	if err := write(file); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close backup file: %w", err))
	}
	file = nil

	// os.Rename follows a symlinked destination.
	if isSymlink(path) {
		return errors.NewInvalidRequest("source backup must not be a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		// Windows cannot rename over an existing file.
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("backup already exists; choose a new path or delete the existing file")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize backup: %w", err))
	}
	done = true
	return nil
}
