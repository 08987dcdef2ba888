// Package project holds the domain types of a quarry project: the project
// itself, its connected sources, and the files produced by training them.
package project

// Project owns a set of sources and the files trained from them.
type Project struct {
	// ID is a ULID that uniquely identifies this project
	ID string `json:"id"`

	// Name is the display name as provided by the user
	Name string `json:"name"`

	// Slug is the normalized, URL-safe form of Name
	Slug string `json:"slug"`

	// PrivateDevAPIKey scopes the dashboard chat playground
	PrivateDevAPIKey string `json:"private_dev_api_key"`

	// PublicAPIKey is the key handed to embedded prompts on public sites
	PublicAPIKey string `json:"public_api_key"`

	// OnboardedAt is set once the first-run flow has been completed (nullable)
	OnboardedAt *int64 `json:"onboarded_at,omitempty"`

	// CreatedAt is the Unix timestamp when the project was created
	CreatedAt int64 `json:"created_at"`
}

// Onboarded reports whether the first-run flow was finished.
func (p *Project) Onboarded() bool {
	return p.OnboardedAt != nil
}
