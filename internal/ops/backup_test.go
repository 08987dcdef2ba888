package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/hpungsan/quarry/internal/config"
	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

func backupConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AllowedPaths = []string{dir}
	return cfg, dir
}

func TestExportSources(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	cfg, dir := backupConfig(t)
	p := createTestProject(t, database)
	addGitHubSource(t, database, p.ID, "https://github.com/acme/one")
	addGitHubSource(t, database, p.ID, "https://github.com/acme/two")

	path := filepath.Join(dir, "backup.jsonl")
	out, err := ExportSources(ctx, database, cfg, ExportSourcesInput{ProjectID: p.ID, Path: path})
	if err != nil {
		t.Fatalf("ExportSources() error = %v", err)
	}
	if out.Count != 2 || out.Path != path {
		t.Errorf("out = %+v", out)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3 (header + 2)", len(lines))
	}
	var header ExportHeader
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatal(err)
	}
	if !header.QuarryExport || header.ProjectID != p.ID || header.ProjectName != p.Name {
		t.Errorf("header = %+v", header)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestExportSources_RejectsPathOutsideAllowedDirs(t *testing.T) {
	database := setupTestDB(t)
	cfg, _ := backupConfig(t)
	p := createTestProject(t, database)

	other := filepath.Join(t.TempDir(), "backup.jsonl")
	_, err := ExportSources(context.Background(), database, cfg, ExportSourcesInput{ProjectID: p.ID, Path: other})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("error = %v, want INVALID_REQUEST", err)
	}
}

func TestImportSources_RoundTrip(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	cfg, dir := backupConfig(t)
	src := createTestProject(t, database)
	dst := createTestProject(t, database)
	original := addGitHubSource(t, database, src.ID, "https://github.com/acme/docs")
	_, err := AddSource(ctx, database, cfg, AddSourceInput{
		ProjectID: src.ID,
		Type:      "file-upload",
		Data:      rawJSON(t, project.FileUploadData{Files: []project.UploadedFile{{Path: "a.md", Content: "# A"}}}),
	})
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "backup.jsonl")
	if _, err := ExportSources(ctx, database, cfg, ExportSourcesInput{ProjectID: src.ID, Path: path}); err != nil {
		t.Fatalf("ExportSources() error = %v", err)
	}

	out, err := ImportSources(ctx, database, cfg, ImportSourcesInput{ProjectID: dst.ID, Path: path})
	if err != nil {
		t.Fatalf("ImportSources() error = %v", err)
	}
	if out.Imported != 2 || out.Skipped != 0 || len(out.Errors) != 0 {
		t.Fatalf("out = %+v, want 2 imported", out)
	}

	list, _ := ListSources(ctx, database, dst.ID)
	if len(list.Items) != 2 {
		t.Fatalf("dst sources = %d, want 2", len(list.Items))
	}
	for _, item := range list.Items {
		if item.ID == original.ID {
			t.Errorf("imported source kept its original ID %s", item.ID)
		}
	}

	// Importing again finds only duplicates.
	out, err = ImportSources(ctx, database, cfg, ImportSourcesInput{ProjectID: dst.ID, Path: path, Mode: ImportModeSkip})
	if err != nil {
		t.Fatalf("ImportSources() error = %v", err)
	}
	if out.Imported != 0 || out.Skipped != 2 {
		t.Errorf("out = %+v, want 2 skipped", out)
	}
	for _, e := range out.Errors {
		if e.Code != "DUPLICATE_SOURCE" {
			t.Errorf("error code = %q, want DUPLICATE_SOURCE", e.Code)
		}
	}
}

func TestImportSources_Modes(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	cfg, dir := backupConfig(t)
	p := createTestProject(t, database)

	path := filepath.Join(dir, "mixed.jsonl")
	body := strings.Join([]string{
		`{"_quarry_export":true,"schema_version":"1.0"}`,
		`{"id":"a","type":"github","data":{"url":"github.com/acme/docs"}}`,
		`{not json}`,
		`{"id":"b","type":"notion","data":{}}`,
		`{"id":"c","type":"website","data":{"url":"https://acme.com"}}`,
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := ImportSources(ctx, database, cfg, ImportSourcesInput{ProjectID: p.ID, Path: path})
	if err != nil {
		t.Fatalf("ImportSources() error = %v", err)
	}
	if out.Imported != 0 || len(out.Errors) != 2 {
		t.Fatalf("error mode out = %+v, want nothing imported and 2 errors", out)
	}
	list, _ := ListSources(ctx, database, p.ID)
	if len(list.Items) != 0 {
		t.Fatalf("error mode imported %d sources", len(list.Items))
	}

	out, err = ImportSources(ctx, database, cfg, ImportSourcesInput{ProjectID: p.ID, Path: path, Mode: ImportModeSkip})
	if err != nil {
		t.Fatalf("ImportSources() error = %v", err)
	}
	if out.Imported != 2 || out.Skipped != 2 {
		t.Fatalf("skip mode out = %+v, want 2 imported, 2 skipped", out)
	}
	codes := map[string]int{}
	for _, e := range out.Errors {
		codes[e.Code] = e.Line
	}
	if codes["PARSE_ERROR"] != 3 || codes[string(errors.ErrUnsupportedSource)] != 4 {
		t.Errorf("errors = %+v", out.Errors)
	}
}

func TestImportSources_InvalidInput(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	cfg, dir := backupConfig(t)
	p := createTestProject(t, database)

	_, err := ImportSources(ctx, database, cfg, ImportSourcesInput{ProjectID: p.ID, Path: filepath.Join(dir, "x.jsonl"), Mode: "merge"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("bad mode error = %v, want INVALID_REQUEST", err)
	}

	_, err = ImportSources(ctx, database, cfg, ImportSourcesInput{ProjectID: p.ID, Path: filepath.Join(dir, "missing.jsonl")})
	if !errors.Is(err, errors.ErrFileNotFound) {
		t.Errorf("missing file error = %v, want FILE_NOT_FOUND", err)
	}
}

func TestExportSources_DefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	database := setupTestDB(t)
	p := createTestProject(t, database)
	addGitHubSource(t, database, p.ID, "https://github.com/acme/docs")

	out, err := ExportSources(context.Background(), database, config.DefaultConfig(), ExportSourcesInput{ProjectID: p.ID})
	if err != nil {
		t.Fatalf("ExportSources() error = %v", err)
	}
	dir, name := filepath.Split(out.Path)
	if filepath.Clean(dir) != filepath.Join(home, ".quarry", "exports") {
		t.Errorf("dir = %q, want the exports directory", dir)
	}
	if !strings.HasPrefix(name, "acme-docs-sources-") || !strings.HasSuffix(name, ".jsonl") {
		t.Errorf("name = %q, want acme-docs-sources-<timestamp>.jsonl", name)
	}
	if _, err := os.Stat(out.Path); err != nil {
		t.Errorf("backup not written: %v", err)
	}
}

func TestBackups_ExportsDirNaming(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	exports := filepath.Join(home, ".quarry", "exports")
	if err := os.MkdirAll(exports, 0700); err != nil {
		t.Fatal(err)
	}

	database := setupTestDB(t)
	ctx := context.Background()
	cfg := config.DefaultConfig()
	acme := createTestProject(t, database)
	addGitHubSource(t, database, acme.ID, "https://github.com/acme/docs")
	other, err := CreateProject(ctx, database, CreateProjectInput{Name: "Other Guides"})
	if err != nil {
		t.Fatal(err)
	}

	// Exports into the shared directory carry the project's slug.
	_, err = ExportSources(ctx, database, cfg, ExportSourcesInput{
		ProjectID: acme.ID,
		Path:      filepath.Join(exports, "other-guides-sources-manual.jsonl"),
	})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("export under another slug error = %v, want INVALID_REQUEST", err)
	}
	own := filepath.Join(exports, "acme-docs-sources-manual.jsonl")
	if _, err := ExportSources(ctx, database, cfg, ExportSourcesInput{ProjectID: acme.ID, Path: own}); err != nil {
		t.Fatalf("export under own slug error = %v", err)
	}

	// Any project's backup restores into another project.
	out, err := ImportSources(ctx, database, cfg, ImportSourcesInput{ProjectID: other.ID, Path: own})
	if err != nil {
		t.Fatalf("ImportSources() error = %v", err)
	}
	if out.Imported != 1 {
		t.Errorf("imported = %d, want 1", out.Imported)
	}

	notes := filepath.Join(exports, "notes.jsonl")
	if err := os.WriteFile(notes, []byte("{}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err = ImportSources(ctx, database, cfg, ImportSourcesInput{ProjectID: other.ID, Path: notes})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("import of non-backup error = %v, want INVALID_REQUEST", err)
	}
}

func TestBackups_RejectedPaths(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	cfg, dir := backupConfig(t)
	p := createTestProject(t, database)

	nested := filepath.Join(dir, "nested")
	if err := os.MkdirAll(nested, 0700); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"traversal", strings.Join([]string{dir, "..", filepath.Base(dir), "backup.jsonl"}, string(filepath.Separator))},
		{"slash traversal", dir + "/../backup.jsonl"},
		{"wrong extension", filepath.Join(dir, "backup.json")},
		{"no extension", filepath.Join(dir, "backup")},
		{"subdirectory", filepath.Join(nested, "backup.jsonl")},
		{"outside allowed dirs", filepath.Join(t.TempDir(), "backup.jsonl")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ExportSources(ctx, database, cfg, ExportSourcesInput{ProjectID: p.ID, Path: tc.path})
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("export error = %v, want INVALID_REQUEST", err)
			}
			_, err = ImportSources(ctx, database, cfg, ImportSourcesInput{ProjectID: p.ID, Path: tc.path})
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("import error = %v, want INVALID_REQUEST", err)
			}
		})
	}

	_, err := ImportSources(ctx, database, cfg, ImportSourcesInput{ProjectID: p.ID})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("import without path error = %v, want INVALID_REQUEST", err)
	}
}

func TestBackups_AllowUnsafePaths(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true
	p := createTestProject(t, database)
	addGitHubSource(t, database, p.ID, "https://github.com/acme/docs")

	path := filepath.Join(t.TempDir(), "anywhere.jsonl")
	if _, err := ExportSources(ctx, database, cfg, ExportSourcesInput{ProjectID: p.ID, Path: path}); err != nil {
		t.Fatalf("ExportSources() error = %v", err)
	}

	// Only the directory rule is lifted.
	_, err := ExportSources(ctx, database, cfg, ExportSourcesInput{ProjectID: p.ID, Path: filepath.Join(t.TempDir(), "anywhere.txt")})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("wrong extension error = %v, want INVALID_REQUEST", err)
	}
	_, err = ImportSources(ctx, database, cfg, ImportSourcesInput{ProjectID: p.ID, Path: filepath.Join(t.TempDir(), "missing.jsonl")})
	if !errors.Is(err, errors.ErrFileNotFound) {
		t.Errorf("missing file error = %v, want FILE_NOT_FOUND", err)
	}
}

func TestBackups_SymlinksRejected(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need extra privileges on Windows")
	}
	database := setupTestDB(t)
	ctx := context.Background()
	cfg, dir := backupConfig(t)
	p := createTestProject(t, database)
	addGitHubSource(t, database, p.ID, "https://github.com/acme/docs")

	target := filepath.Join(t.TempDir(), "target.jsonl")
	if err := os.WriteFile(target, []byte(`{"_quarry_export":true}`+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link.jsonl")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	for _, unsafe := range []bool{false, true} {
		cfg.AllowUnsafePaths = unsafe
		if _, err := ExportSources(ctx, database, cfg, ExportSourcesInput{ProjectID: p.ID, Path: link}); !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("export through symlink (unsafe=%v) error = %v, want INVALID_REQUEST", unsafe, err)
		}
		if _, err := ImportSources(ctx, database, cfg, ImportSourcesInput{ProjectID: p.ID, Path: link}); !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("import through symlink (unsafe=%v) error = %v, want INVALID_REQUEST", unsafe, err)
		}
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"_quarry_export":true}`+"\n" {
		t.Errorf("symlink target was overwritten: %q", got)
	}

	linkedDir := filepath.Join(t.TempDir(), "linked")
	if err := os.Symlink(dir, linkedDir); err != nil {
		t.Fatal(err)
	}
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	cfg.AllowUnsafePaths = false
	cfg.AllowedPaths = []string{linkedDir}
	out, err := ExportSources(ctx, database, cfg, ExportSourcesInput{ProjectID: p.ID, Path: filepath.Join(realDir, "real.jsonl")})
	if err != nil {
		t.Fatalf("export into the target of a symlinked allowed path: %v", err)
	}
	if out.Count != 1 {
		t.Errorf("count = %d, want 1", out.Count)
	}
}

func TestExportSources_ReplacesExistingBackup(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	cfg, dir := backupConfig(t)
	p := createTestProject(t, database)

	path := filepath.Join(dir, "backup.jsonl")
	if err := os.WriteFile(path, []byte("stale\n"), 0600); err != nil {
		t.Fatal(err)
	}
	addGitHubSource(t, database, p.ID, "https://github.com/acme/docs")

	if _, err := ExportSources(ctx, database, cfg, ExportSourcesInput{ProjectID: p.ID, Path: path}); err != nil {
		t.Fatalf("ExportSources() error = %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(got), "stale") || !strings.Contains(string(got), "acme/docs") {
		t.Errorf("backup = %q, want the fresh export", got)
	}
}

func TestHasDotDot(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/a/b/c.jsonl", false},
		{"/a/../c.jsonl", true},
		{"..", true},
		{`a\..\c.jsonl`, true},
		{"/a/..b/c.jsonl", false},
		{"/a/b../c.jsonl", false},
	}
	for _, tc := range tests {
		if got := hasDotDot(tc.path); got != tc.want {
			t.Errorf("hasDotDot(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
