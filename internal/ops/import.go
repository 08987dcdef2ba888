package ops

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hpungsan/quarry/internal/config"
	"github.com/hpungsan/quarry/internal/db"
	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

// ImportMode controls how invalid and duplicate records are handled.
type ImportMode string

const (
	ImportModeError ImportMode = "error" // abort on the first problem, import nothing
	ImportModeSkip  ImportMode = "skip"  // import what is valid, report the rest
)

// maxImportLine bounds one JSONL line (uploads carry their content inline).
const maxImportLine = 64 << 20

// ImportSourcesInput contains parameters for the ImportSources operation.
type ImportSourcesInput struct {
	ProjectID string     // required, the project receiving the sources
	Path      string     // required
	Mode      ImportMode // default: error
}

// ImportSourcesOutput contains the result of the ImportSources operation.
type ImportSourcesOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError describes a record that was not imported.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ImportSources connects the sources of a backup file to a project.
// Imported sources get new IDs. A source whose type and payload equal an
// existing source of the project is a duplicate.
func ImportSources(ctx context.Context, database *sql.DB, cfg *config.Config, input ImportSourcesInput) (*ImportSourcesOutput, error) {
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	if input.Mode != ImportModeError && input.Mode != ImportModeSkip {
		return nil, errors.NewInvalidRequest("mode must be one of: error, skip")
	}
	p, err := GetProject(ctx, database, input.ProjectID)
	if err != nil {
		return nil, err
	}
	path, err := resolveBackupPath(p, input.Path, backupImport, cfg, time.Now())
	if err != nil {
		return nil, err
	}

	file, err := openBackup(path, os.O_RDONLY)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	existing, err := db.ListSources(ctx, database, p.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[sourceKey(s.Type, s.Data)] = true
	}

	out := &ImportSourcesOutput{Errors: []ImportError{}}
	var toInsert []*project.Source
	now := time.Now().Unix()

	records, parseErrors := parseExportFile(file)
	out.Errors = append(out.Errors, parseErrors...)

	for _, rec := range records {
		s, importErr := validateRecord(cfg, p.ID, rec)
		if importErr == nil {
			key := sourceKey(s.Type, s.Data)
			if seen[key] {
				importErr = &ImportError{Line: rec.line, ID: rec.ID, Code: "DUPLICATE_SOURCE", Message: "an identical source is already connected"}
			}
			seen[key] = true
		}
		if importErr != nil {
			out.Errors = append(out.Errors, *importErr)
			continue
		}

		id, err := project.NewID()
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		s.ID = id
		if s.CreatedAt == 0 {
			s.CreatedAt = now
		}
		toInsert = append(toInsert, s)
	}

	if input.Mode == ImportModeError && len(out.Errors) > 0 {
		out.Skipped = len(records) + len(parseErrors)
		return out, nil
	}

	if len(toInsert) > 0 {
		if err := db.InsertSources(ctx, database, toInsert); err != nil {
			return nil, err
		}
	}
	out.Imported = len(toInsert)
	out.Skipped = len(out.Errors)
	return out, nil
}

type lineRecord struct {
	ExportRecord
	line int
}

// parseExportFile reads the records of a backup file, skipping its header.
func parseExportFile(r io.Reader) ([]lineRecord, []ImportError) {
	var records []lineRecord
	var parseErrors []ImportError

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var header ExportHeader
		if err := json.Unmarshal(line, &header); err == nil && header.QuarryExport {
			continue
		}

		var rec ExportRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}
		records = append(records, lineRecord{ExportRecord: rec, line: lineNum})
	}

	if err := scanner.Err(); err != nil {
		parseErrors = append(parseErrors, ImportError{
			Line:    lineNum,
			Code:    "READ_ERROR",
			Message: fmt.Sprintf("failed to read file: %v", err),
		})
	}
	return records, parseErrors
}

// validateRecord checks a record like AddSource would.
func validateRecord(cfg *config.Config, projectID string, rec lineRecord) (*project.Source, *ImportError) {
	fail := func(err error) *ImportError {
		code := string(errors.ErrInvalidRequest)
		if qErr, ok := errors.As(err); ok {
			code = string(qErr.Code)
		}
		return &ImportError{Line: rec.line, ID: rec.ID, Code: code, Message: errors.Message(err)}
	}

	sourceType, err := project.ParseSourceType(rec.Type)
	if err != nil {
		return nil, fail(err)
	}
	payload, err := project.DecodePayload(sourceType, rec.Data)
	if err != nil {
		return nil, fail(err)
	}
	if uploads, ok := payload.(*project.FileUploadData); ok {
		for _, f := range uploads.Files {
			if n := project.CountChars(f.Content); cfg.MaxFileChars > 0 && n > cfg.MaxFileChars {
				return nil, fail(errors.NewPayloadTooLarge(f.Path, cfg.MaxFileChars, n))
			}
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fail(err)
	}
	return &project.Source{ProjectID: projectID, Type: sourceType, Data: data, CreatedAt: rec.CreatedAt}, nil
}

// sourceKey identifies a source by type and compacted payload.
func sourceKey(t project.SourceType, data json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return string(t) + "\x00" + string(data)
	}
	return string(t) + "\x00" + buf.String()
}
