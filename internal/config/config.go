package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// MaxFileChars is the maximum character count for a single ingested file.
	// Larger files are rejected on upload and skipped during training.
	MaxFileChars int `json:"max_file_chars"`

	// TrainConcurrency bounds how many sources are processed at once.
	TrainConcurrency int `json:"train_concurrency"`

	// HTTPTimeoutSeconds is the per-request timeout for remote sources.
	HTTPTimeoutSeconds int `json:"http_timeout_seconds"`

	// WebsiteMaxPages caps the same-origin pages crawled for a website source.
	WebsiteMaxPages int `json:"website_max_pages"`

	// GitHubArchiveBaseURL serves zip archives as {base}/{owner}/{repo}/zip/{ref}.
	GitHubArchiveBaseURL string `json:"github_archive_base_url"`

	// MotifBaseURL is the Motif API root used by motif sources.
	MotifBaseURL string `json:"motif_base_url"`

	// SampleRepoURL is the GitHub repo offered as a sample data source.
	SampleRepoURL string `json:"sample_repo_url"`

	// AutoTrainOnAdd starts processing right after `source add` on the CLI
	// and MCP surfaces. Web connect dialogs always process what they add.
	AutoTrainOnAdd bool `json:"auto_train_on_add,omitempty"`

	// IncludeExtensions lists file extensions kept from archives and uploads.
	IncludeExtensions []string `json:"include_extensions,omitempty"`

	// IgnorePatterns are gitignore-style patterns excluded from archives and uploads.
	IgnorePatterns []string `json:"ignore_patterns,omitempty"`

	// AllowedPaths is an allowlist of directories for source export/import.
	// Paths outside ~/.quarry/exports require either being in this list or AllowUnsafePaths=true.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export/import.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names whose tools are all excluded.
	// Known types: "project", "source", "file", "reference".
	DisabledTypes []string `json:"disabled_types,omitempty"`

	// LogLevel is the minimum zap level: debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// Playground configures the embedded chat playground.
	Playground PlaygroundConfig `json:"playground"`
}

// PlaygroundConfig is the theming handed to the chat playground embed.
type PlaygroundConfig struct {
	Theme             string `json:"theme,omitempty"`
	IsDark            bool   `json:"is_dark,omitempty"`
	Placeholder       string `json:"placeholder,omitempty"`
	IDontKnowMessage  string `json:"i_dont_know_message,omitempty"`
	ReferencesHeading string `json:"references_heading,omitempty"`
	LoadingHeading    string `json:"loading_heading,omitempty"`
	IncludeBranding   bool   `json:"include_branding,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxFileChars:         200000,
		TrainConcurrency:     4,
		HTTPTimeoutSeconds:   30,
		WebsiteMaxPages:      20,
		GitHubArchiveBaseURL: "https://codeload.github.com",
		MotifBaseURL:         "https://api.motif.land",
		SampleRepoURL:        "https://github.com/motifland/markprompt-sample-docs",
		IncludeExtensions:    []string{".md", ".mdx", ".mdoc", ".markdoc", ".txt", ".html", ".htm"},
		LogLevel:             "info",
		Playground: PlaygroundConfig{
			Theme:             "default",
			IsDark:            true,
			Placeholder:       "Ask me anything…",
			IDontKnowMessage:  "Sorry, I am not sure how to answer that.",
			ReferencesHeading: "Answer generated from the following pages:",
			LoadingHeading:    "Fetching relevant pages…",
			IncludeBranding:   true,
		},
	}
}

// HTTPTimeout returns HTTPTimeoutSeconds as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.quarry.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.quarry) and repo (.quarry) directories.
// Repo config is found by walking upward from startDir to find the nearest .quarry/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .quarry/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".quarry", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.MaxFileChars = pickInt(overlay.MaxFileChars, base.MaxFileChars)
	result.TrainConcurrency = pickInt(overlay.TrainConcurrency, base.TrainConcurrency)
	result.HTTPTimeoutSeconds = pickInt(overlay.HTTPTimeoutSeconds, base.HTTPTimeoutSeconds)
	result.WebsiteMaxPages = pickInt(overlay.WebsiteMaxPages, base.WebsiteMaxPages)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)
	result.GitHubArchiveBaseURL = pickString(overlay.GitHubArchiveBaseURL, base.GitHubArchiveBaseURL)
	result.MotifBaseURL = pickString(overlay.MotifBaseURL, base.MotifBaseURL)
	result.SampleRepoURL = pickString(overlay.SampleRepoURL, base.SampleRepoURL)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)

	// Booleans: overlay wins if true, else base
	result.AutoTrainOnAdd = base.AutoTrainOnAdd || overlay.AutoTrainOnAdd
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.IncludeExtensions = mergeStringSlice(base.IncludeExtensions, overlay.IncludeExtensions)
	result.IgnorePatterns = mergeStringSlice(base.IgnorePatterns, overlay.IgnorePatterns)
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	result.Playground = mergePlayground(base.Playground, overlay.Playground)

	return result
}

func mergePlayground(base, overlay PlaygroundConfig) PlaygroundConfig {
	return PlaygroundConfig{
		Theme:             pickString(overlay.Theme, base.Theme),
		IsDark:            base.IsDark || overlay.IsDark,
		Placeholder:       pickString(overlay.Placeholder, base.Placeholder),
		IDontKnowMessage:  pickString(overlay.IDontKnowMessage, base.IDontKnowMessage),
		ReferencesHeading: pickString(overlay.ReferencesHeading, base.ReferencesHeading),
		LoadingHeading:    pickString(overlay.LoadingHeading, base.LoadingHeading),
		IncludeBranding:   base.IncludeBranding || overlay.IncludeBranding,
	}
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
