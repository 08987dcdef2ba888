package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/quarry/internal/config"
	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/logging"
	"github.com/hpungsan/quarry/internal/ops"
	"github.com/hpungsan/quarry/internal/training"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db         *sql.DB
	cfg        *config.Config
	controller *training.Controller
	logger     *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config, controller *training.Controller, logger *zap.Logger) *Handlers {
	return &Handlers{db: db, cfg: cfg, controller: controller, logger: logging.OrNop(logger)}
}

// Request types for each tool

// ProjectCreateRequest represents the arguments for project_create.
type ProjectCreateRequest struct {
	Name string `json:"name"`
}

// ProjectRef names a project by id or API key.
type ProjectRef struct {
	Project string `json:"project"`
}

// SourceAddRequest represents the arguments for source_add.
type SourceAddRequest struct {
	Project string          `json:"project"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

// SourceDeleteRequest represents the arguments for source_delete.
type SourceDeleteRequest struct {
	Project  string `json:"project"`
	SourceID string `json:"source_id"`
}

// SourceExportRequest represents the arguments for source_export.
type SourceExportRequest struct {
	Project string `json:"project"`
	Path    string `json:"path,omitempty"`
}

// SourceImportRequest represents the arguments for source_import.
type SourceImportRequest struct {
	Project string `json:"project"`
	Path    string `json:"path"`
	Mode    string `json:"mode,omitempty"`
}

// ReferenceResolveRequest represents the arguments for reference_resolve.
type ReferenceResolveRequest struct {
	Project string `json:"project"`
	Path    string `json:"path"`
}

// StatusResult is the project_status payload: stored counts plus the live
// training state.
type StatusResult struct {
	*ops.StatusOutput
	Training training.State `json:"training"`
}

// TrainResult is the project_train payload.
type TrainResult struct {
	*training.Summary
	Errors []string `json:"errors"`
}

// SourceAddResult is the source_add payload. With auto_train_on_add the
// project is trained right after the add and the run is reported too.
type SourceAddResult struct {
	ops.SourceItem
	Training      *TrainResult `json:"training,omitempty"`
	TrainingError string       `json:"training_error,omitempty"`
}

// Handler implementations

// HandleProjectCreate handles the project_create tool call.
func (h *Handlers) HandleProjectCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProjectCreateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.CreateProject(ctx, h.db, ops.CreateProjectInput{Name: input.Name})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleProjectList handles the project_list tool call.
func (h *Handlers) HandleProjectList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.ListProjects(ctx, h.db)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleProjectStatus handles the project_status tool call.
func (h *Handlers) HandleProjectStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProjectRef](req)
	if err != nil {
		return errorResult(err), nil
	}

	status, err := ops.Status(ctx, h.db, input.Project)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(StatusResult{
		StatusOutput: status,
		Training:     h.controller.State(status.Project.ID),
	})
}

// HandleProjectTrain handles the project_train tool call. It blocks until
// the run ends; per-source failures are listed in the result.
func (h *Handlers) HandleProjectTrain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProjectRef](req)
	if err != nil {
		return errorResult(err), nil
	}
	p, err := ops.GetProject(ctx, h.db, input.Project)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.train(ctx, p.ID)
	if err != nil {
		h.logger.Warn("mcp training failed", zap.String("project_id", p.ID), zap.Error(err))
		return errorResult(err), nil
	}
	return successResult(result)
}

// train runs training for a project and collects per-source failures.
func (h *Handlers) train(ctx context.Context, projectID string) (*TrainResult, error) {
	var mu sync.Mutex
	failures := make([]string, 0)
	summary, err := h.controller.TrainAllSources(ctx, projectID, nil, func(msg string) {
		mu.Lock()
		failures = append(failures, msg)
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	return &TrainResult{Summary: summary, Errors: failures}, nil
}

// HandleSourceAdd handles the source_add tool call.
func (h *Handlers) HandleSourceAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SourceAddRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	p, err := ops.GetProject(ctx, h.db, input.Project)
	if err != nil {
		return errorResult(err), nil
	}

	src, err := ops.AddSource(ctx, h.db, h.cfg, ops.AddSourceInput{
		ProjectID: p.ID,
		Type:      input.Type,
		Data:      input.Data,
	})
	if err != nil {
		return errorResult(err), nil
	}

	result := SourceAddResult{SourceItem: ops.NewSourceItem(*src)}
	if h.cfg.AutoTrainOnAdd {
		run, err := h.train(ctx, p.ID)
		if err != nil {
			h.logger.Warn("training after add failed", zap.String("project_id", p.ID), zap.Error(err))
			result.TrainingError = errors.Message(err)
		}
		result.Training = run
	}
	return successResult(result)
}

// HandleSourceDelete handles the source_delete tool call.
func (h *Handlers) HandleSourceDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SourceDeleteRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	p, err := ops.GetProject(ctx, h.db, input.Project)
	if err != nil {
		return errorResult(err), nil
	}

	if err := ops.DeleteSource(ctx, h.db, p.ID, input.SourceID); err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"deleted": true, "id": input.SourceID})
}

// HandleSourceList handles the source_list tool call.
func (h *Handlers) HandleSourceList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProjectRef](req)
	if err != nil {
		return errorResult(err), nil
	}
	p, err := ops.GetProject(ctx, h.db, input.Project)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.ListSources(ctx, h.db, p.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSourceExport handles the source_export tool call.
func (h *Handlers) HandleSourceExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SourceExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	p, err := ops.GetProject(ctx, h.db, input.Project)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.ExportSources(ctx, h.db, h.cfg, ops.ExportSourcesInput{
		ProjectID: p.ID,
		Path:      input.Path,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSourceImport handles the source_import tool call.
func (h *Handlers) HandleSourceImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SourceImportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	p, err := ops.GetProject(ctx, h.db, input.Project)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.ImportSources(ctx, h.db, h.cfg, ops.ImportSourcesInput{
		ProjectID: p.ID,
		Path:      input.Path,
		Mode:      ops.ImportMode(input.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFileList handles the file_list tool call.
func (h *Handlers) HandleFileList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProjectRef](req)
	if err != nil {
		return errorResult(err), nil
	}
	p, err := ops.GetProject(ctx, h.db, input.Project)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.ListFiles(ctx, h.db, p.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleReferenceResolve handles the reference_resolve tool call.
func (h *Handlers) HandleReferenceResolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReferenceResolveRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	p, err := ops.GetProject(ctx, h.db, input.Project)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.ResolveReference(ctx, h.db, p.ID, input.Path)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if qErr, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":    qErr.Code,
			"message": wrappedMessage(err, qErr),
			"status":  qErr.Status,
		}
		if qErr.Code != errors.ErrInternal && qErr.Details != nil {
			errorObj["details"] = qErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// wrappedMessage keeps the context added by fmt.Errorf wrappers around a
// QuarryError. Internal errors only ever show a generic message.
func wrappedMessage(err error, qErr *errors.QuarryError) string {
	switch {
	case qErr.Code == errors.ErrInternal:
		return "an internal error occurred"
	case err == error(qErr):
		return qErr.Message
	}
	return err.Error()
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
