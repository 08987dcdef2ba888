package extract

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

// ReadDir collects the files under root as uploaded files, keeping
// includeExtensions and dropping paths matched by patterns or by root's
// .gitignore. Files above maxChars are rejected with PAYLOAD_TOO_LARGE.
func ReadDir(root string, includeExtensions, patterns []string, maxChars int) ([]project.UploadedFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(root)
		}
		return nil, errors.NewInternal(err)
	}
	if !info.IsDir() {
		return nil, errors.NewInvalidRequest("not a directory: " + root)
	}

	exts := make(map[string]bool, len(includeExtensions))
	for _, e := range includeExtensions {
		exts[strings.ToLower(e)] = true
	}

	lines := append([]string{".git/"}, patterns...)
	if content, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		lines = append(lines, strings.Split(string(content), "\n")...)
	}
	matcher := ignore.CompileIgnoreLines(lines...)

	var files []project.UploadedFile
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if matcher.MatchesPath(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !exts[strings.ToLower(path.Ext(rel))] || matcher.MatchesPath(rel) {
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if n := project.CountChars(string(content)); maxChars > 0 && n > maxChars {
			return errors.NewPayloadTooLarge(rel, maxChars, n)
		}
		files = append(files, project.UploadedFile{Path: rel, Content: string(content)})
		return nil
	})
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(err)
	}
	if len(files) == 0 {
		return nil, errors.NewInvalidRequest("no matching files in " + root)
	}
	return files, nil
}
