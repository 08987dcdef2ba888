package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.MaxFileChars != def.MaxFileChars {
		t.Fatalf("MaxFileChars = %d, want %d", cfg.MaxFileChars, def.MaxFileChars)
	}
	if cfg.TrainConcurrency != 4 {
		t.Fatalf("TrainConcurrency = %d, want 4", cfg.TrainConcurrency)
	}
	if cfg.AutoTrainOnAdd {
		t.Fatalf("AutoTrainOnAdd = true, want false by default")
	}
	if cfg.SampleRepoURL != def.SampleRepoURL {
		t.Fatalf("SampleRepoURL = %q, want %q", cfg.SampleRepoURL, def.SampleRepoURL)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	body := `{"max_file_chars": 500, "auto_train_on_add": true, "playground": {"placeholder": "Ask the docs"}}`
	if err := os.WriteFile(configPath, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxFileChars != 500 {
		t.Fatalf("MaxFileChars = %d, want %d", cfg.MaxFileChars, 500)
	}
	if !cfg.AutoTrainOnAdd {
		t.Fatalf("AutoTrainOnAdd = false, want true")
	}
	if cfg.Playground.Placeholder != "Ask the docs" {
		t.Fatalf("Placeholder = %q", cfg.Playground.Placeholder)
	}
	// Unset playground fields keep defaults
	if cfg.Playground.LoadingHeading != DefaultConfig().Playground.LoadingHeading {
		t.Fatalf("LoadingHeading = %q", cfg.Playground.LoadingHeading)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoadWithRepo_RepoWins(t *testing.T) {
	globalDir := t.TempDir()
	repoDir := t.TempDir()
	nested := filepath.Join(repoDir, "docs", "guides")
	if err := os.MkdirAll(nested, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(repoDir, ".quarry"), 0700); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(globalDir, "config.json"),
		[]byte(`{"train_concurrency": 2, "ignore_patterns": ["node_modules/"]}`), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repoDir, ".quarry", "config.json"),
		[]byte(`{"train_concurrency": 8, "ignore_patterns": ["drafts/", "node_modules/"]}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWithRepo(globalDir, nested)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.TrainConcurrency != 8 {
		t.Errorf("TrainConcurrency = %d, want 8", cfg.TrainConcurrency)
	}
	want := []string{"node_modules/", "drafts/"}
	if len(cfg.IgnorePatterns) != len(want) {
		t.Fatalf("IgnorePatterns = %v, want %v", cfg.IgnorePatterns, want)
	}
	for i := range want {
		if cfg.IgnorePatterns[i] != want[i] {
			t.Errorf("IgnorePatterns[%d] = %q, want %q", i, cfg.IgnorePatterns[i], want[i])
		}
	}
}

func TestFindRepoConfig_NotFound(t *testing.T) {
	if got := FindRepoConfig(t.TempDir()); got != "" {
		t.Errorf("FindRepoConfig() = %q, want empty", got)
	}
}

func TestMerge_Scalars(t *testing.T) {
	base := &Config{MaxFileChars: 100, MotifBaseURL: "https://a", AllowUnsafePaths: true}
	overlay := &Config{MotifBaseURL: "https://b", HTTPTimeoutSeconds: 5}

	got := Merge(base, overlay)
	if got.MaxFileChars != 100 {
		t.Errorf("MaxFileChars = %d, want 100", got.MaxFileChars)
	}
	if got.MotifBaseURL != "https://b" {
		t.Errorf("MotifBaseURL = %q, want https://b", got.MotifBaseURL)
	}
	if got.HTTPTimeout() != 5*time.Second {
		t.Errorf("HTTPTimeout() = %v, want 5s", got.HTTPTimeout())
	}
	if !got.AllowUnsafePaths {
		t.Errorf("AllowUnsafePaths = false, want true")
	}
}

func TestMergeStringSlice(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want []string
	}{
		{name: "both empty", want: nil},
		{name: "dedupe and trim", a: []string{" x ", "y"}, b: []string{"y", "z", ""}, want: []string{"x", "y", "z"}},
		{name: "only blanks", a: []string{" "}, b: []string{""}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeStringSlice(tt.a, tt.b)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
