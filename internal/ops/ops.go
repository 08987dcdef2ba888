// Package ops implements the operations shared by the CLI, the MCP server
// and the web dashboard. Each operation takes an Input struct and returns an
// Output struct or a typed error from internal/errors.
package ops

import (
	"strings"

	"github.com/hpungsan/quarry/internal/errors"
)

// Limits
const (
	MaxProjectNameLen = 100
	MaxUploadFiles    = 1000
)

// requireID trims id and rejects it when empty.
func requireID(field, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.NewInvalidRequest(field + " is required")
	}
	return id, nil
}
