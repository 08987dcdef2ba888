package mcp

import "github.com/mark3labs/mcp-go/mcp"

var projectCreateToolDef = mcp.NewTool("project_create",
	mcp.WithDescription("Create a project. Returns its id, slug and API keys."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Display name, at most 100 characters")),
)

var projectListToolDef = mcp.NewTool("project_list",
	mcp.WithDescription("List all projects, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var projectStatusToolDef = mcp.NewTool("project_status",
	mcp.WithDescription("Report source and file counts, the live training state and the latest training run of a project."),
	mcp.WithString("project", mcp.Required(), mcp.Description("Project id, private dev key or public key")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var projectTrainToolDef = mcp.NewTool("project_train",
	mcp.WithDescription("Process every source of a project and wait for the run to finish. Fails with TRAINING_IN_PROGRESS while another run is in flight."),
	mcp.WithString("project", mcp.Required(), mcp.Description("Project id, private dev key or public key")),
)

var sourceAddToolDef = mcp.NewTool("source_add",
	mcp.WithDescription("Connect a source to a project. Payloads: github {url, branch?}, website {url}, motif {projectDomain}, file-upload {files: [{path, content}]}. With auto_train_on_add set, the project is trained before the call returns."),
	mcp.WithString("project", mcp.Required(), mcp.Description("Project id, private dev key or public key")),
	mcp.WithString("type", mcp.Required(), mcp.Enum("github", "website", "motif", "file-upload")),
	mcp.WithObject("data", mcp.Required(), mcp.Description("Type-specific payload")),
)

var sourceDeleteToolDef = mcp.NewTool("source_delete",
	mcp.WithDescription("Disconnect a source. Files trained from it are removed."),
	mcp.WithString("project", mcp.Required(), mcp.Description("Project id, private dev key or public key")),
	mcp.WithString("source_id", mcp.Required()),
	mcp.WithDestructiveHintAnnotation(true),
)

var sourceListToolDef = mcp.NewTool("source_list",
	mcp.WithDescription("List the sources of a project with their display labels."),
	mcp.WithString("project", mcp.Required(), mcp.Description("Project id, private dev key or public key")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var sourceExportToolDef = mcp.NewTool("source_export",
	mcp.WithDescription("Write the sources of a project to a JSONL backup file."),
	mcp.WithString("project", mcp.Required(), mcp.Description("Project id, private dev key or public key")),
	mcp.WithString("path", mcp.Description("Output .jsonl path; defaults to ~/.quarry/exports")),
)

var sourceImportToolDef = mcp.NewTool("source_import",
	mcp.WithDescription("Connect the sources of a JSONL backup file to a project."),
	mcp.WithString("project", mcp.Required(), mcp.Description("Project id, private dev key or public key")),
	mcp.WithString("path", mcp.Required(), mcp.Description("Backup .jsonl path")),
	mcp.WithString("mode", mcp.Enum("error", "skip"), mcp.Description("error imports nothing on the first bad record; skip imports the rest")),
)

var fileListToolDef = mcp.NewTool("file_list",
	mcp.WithDescription("List the files produced by training a project, without content."),
	mcp.WithString("project", mcp.Required(), mcp.Description("Project id, private dev key or public key")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var referenceResolveToolDef = mcp.NewTool("reference_resolve",
	mcp.WithDescription("Resolve a file path cited in an answer to its display name."),
	mcp.WithString("project", mcp.Required(), mcp.Description("Project id, private dev key or public key")),
	mcp.WithString("path", mcp.Required()),
	mcp.WithReadOnlyHintAnnotation(true),
)
