package mcp

import (
	"database/sql"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/quarry/internal/config"
	"github.com/hpungsan/quarry/internal/logging"
	"github.com/hpungsan/quarry/internal/training"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"project", "source", "file", "reference"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"project_create": {
		def:     projectCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProjectCreate },
	},
	"project_list": {
		def:     projectListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProjectList },
	},
	"project_status": {
		def:     projectStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProjectStatus },
	},
	"project_train": {
		def:     projectTrainToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProjectTrain },
	},
	"source_add": {
		def:     sourceAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSourceAdd },
	},
	"source_delete": {
		def:     sourceDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSourceDelete },
	},
	"source_list": {
		def:     sourceListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSourceList },
	},
	"source_export": {
		def:     sourceExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSourceExport },
	},
	"source_import": {
		def:     sourceImportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSourceImport },
	},
	"file_list": {
		def:     fileListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFileList },
	},
	"reference_resolve": {
		def:     referenceResolveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReferenceResolve },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "source_add" → "source").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates an MCP server with the quarry tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(db *sql.DB, cfg *config.Config, controller *training.Controller, version string, logger *zap.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"quarry",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg, controller, logger)

	// Expand types first, then add individual tools
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	registered := 0
	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
		registered++
	}
	logging.OrNop(logger).Debug("mcp tools registered", zap.Int("tools", registered))

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, controller *training.Controller, version string, logger *zap.Logger) error {
	s := NewServer(db, cfg, controller, version, logger)
	return server.ServeStdio(s)
}
