package project

import (
	"path"
	"strings"
)

// File is a document produced by training a source. Read-only outside training.
type File struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	SourceID   string `json:"source_id"`
	Path       string `json:"path"`
	Meta       Meta   `json:"meta"`
	Checksum   string `json:"checksum"`
	Content    string `json:"content,omitempty"`
	TokenCount int    `json:"token_count"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Meta is the metadata extracted alongside a file's content.
type Meta struct {
	Title string `json:"title,omitempty"`
}

// ReferenceInfo is how the chat playground displays a cited file.
type ReferenceInfo struct {
	Name string `json:"name"`
	Href string `json:"href"`
}

// ResolveReference maps a cited path to its display name and link.
// The name is the file's meta title, or its basename without extension.
// Returns false when no file has the given path.
func ResolveReference(files []File, p string) (ReferenceInfo, bool) {
	for _, f := range files {
		if f.Path != p {
			continue
		}
		name := f.Meta.Title
		if name == "" {
			name = RemoveFileExtension(path.Base(p))
		}
		return ReferenceInfo{Name: name, Href: p}, true
	}
	return ReferenceInfo{}, false
}

// RemoveFileExtension strips the last extension from a file name.
// Dotfiles keep their name.
func RemoveFileExtension(name string) string {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return name
	}
	return name[:i]
}
