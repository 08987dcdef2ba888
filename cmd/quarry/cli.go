package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/quarry/internal/config"
	"github.com/hpungsan/quarry/internal/db"
	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/events"
	"github.com/hpungsan/quarry/internal/extract"
	"github.com/hpungsan/quarry/internal/logging"
	"github.com/hpungsan/quarry/internal/ops"
	"github.com/hpungsan/quarry/internal/project"
	"github.com/hpungsan/quarry/internal/training"
	"github.com/hpungsan/quarry/internal/web"
)

// maxStdinBytes bounds payloads piped to `source add`.
const maxStdinBytes = 64 << 20

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config, logger *zap.Logger) *cli.App {
	logger = logging.OrNop(logger)
	app := &cli.App{
		Name:    "quarry",
		Usage:   "Connect documentation sources and train them into a file store",
		Version: Version,
		Commands: []*cli.Command{
			projectCmd(db),
			sourceCmd(db, cfg, logger),
			trainCmd(db, cfg, logger),
			statusCmd(db),
			filesCmd(db),
			referenceCmd(db),
			serveCmd(db, cfg, logger),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// projectFlag selects a project by ID or API key.
func projectFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "project",
		Aliases:  []string{"p"},
		Usage:    "Project ID or API key",
		EnvVars:  []string{"QUARRY_PROJECT"},
		Required: true,
	}
}

// resolveProject looks up the project named by the --project flag.
func resolveProject(c *cli.Context, db *sql.DB) (*project.Project, error) {
	return ops.GetProject(c.Context, db, c.String("project"))
}

// projectCmd groups the project subcommands.
func projectCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "project",
		Usage: "Create and list projects",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a project with fresh API keys",
				ArgsUsage: "<name>",
				Action: func(c *cli.Context) error {
					output, err := ops.CreateProject(c.Context, db, ops.CreateProjectInput{
						Name: strings.Join(c.Args().Slice(), " "),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "list",
				Usage: "List projects, newest first",
				Action: func(c *cli.Context) error {
					output, err := ops.ListProjects(c.Context, db)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "finish-onboarding",
				Usage: "Mark a project's first-run flow as complete",
				Flags: []cli.Flag{projectFlag()},
				Action: func(c *cli.Context) error {
					p, err := resolveProject(c, db)
					if err != nil {
						return outputError(err)
					}
					output, err := ops.FinishOnboarding(c.Context, db, p.ID)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// sourceCmd groups the source subcommands.
func sourceCmd(db *sql.DB, cfg *config.Config, logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "source",
		Usage: "Connect, disconnect and back up data sources",
		Subcommands: []*cli.Command{
			sourceAddCmd(db, cfg, logger),
			{
				Name:      "delete",
				Usage:     "Disconnect a source and remove its trained files",
				ArgsUsage: "<source-id>",
				Flags:     []cli.Flag{projectFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return outputError(errors.NewInvalidRequest("source id is required"))
					}
					p, err := resolveProject(c, db)
					if err != nil {
						return outputError(err)
					}
					id := c.Args().First()
					if err := ops.DeleteSource(c.Context, db, p.ID, id); err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"deleted": true, "id": id})
				},
			},
			{
				Name:  "list",
				Usage: "List a project's sources",
				Flags: []cli.Flag{projectFlag()},
				Action: func(c *cli.Context) error {
					p, err := resolveProject(c, db)
					if err != nil {
						return outputError(err)
					}
					output, err := ops.ListSources(c.Context, db, p.ID)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "export",
				Usage: "Export source definitions to a JSONL file",
				Flags: []cli.Flag{
					projectFlag(),
					&cli.StringFlag{Name: "path", Usage: "Output path (default: ~/.quarry/exports/<slug>-sources-<timestamp>.jsonl)"},
				},
				Action: func(c *cli.Context) error {
					p, err := resolveProject(c, db)
					if err != nil {
						return outputError(err)
					}
					output, err := ops.ExportSources(c.Context, db, cfg, ops.ExportSourcesInput{
						ProjectID: p.ID,
						Path:      c.String("path"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "import",
				Usage: "Import source definitions from a JSONL file",
				Flags: []cli.Flag{
					projectFlag(),
					&cli.StringFlag{Name: "path", Usage: "Input path", Required: true},
					&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Import mode: error|skip"},
				},
				Action: func(c *cli.Context) error {
					p, err := resolveProject(c, db)
					if err != nil {
						return outputError(err)
					}
					output, err := ops.ImportSources(c.Context, db, cfg, ops.ImportSourcesInput{
						ProjectID: p.ID,
						Path:      c.String("path"),
						Mode:      ops.ImportMode(c.String("mode")),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// sourceAddOutput is the result of `source add`. Training is set when
// auto_train_on_add processed the project after the add.
type sourceAddOutput struct {
	ops.SourceItem
	Training      *trainOutput `json:"training,omitempty"`
	TrainingError string       `json:"training_error,omitempty"`
}

// sourceAddCmd creates the source add command.
func sourceAddCmd(db *sql.DB, cfg *config.Config, logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Connect a source (payload from flags, --data, or stdin)",
		ArgsUsage: "<github|website|motif|file-upload>",
		Flags: []cli.Flag{
			projectFlag(),
			&cli.StringFlag{Name: "url", Usage: "Repository or website URL"},
			&cli.StringFlag{Name: "branch", Usage: "GitHub branch (default: repository default)"},
			&cli.StringFlag{Name: "domain", Usage: "Motif project domain"},
			&cli.StringFlag{Name: "dir", Usage: "Local directory to upload (file-upload)"},
			&cli.StringFlag{Name: "data", Usage: "Raw JSON payload"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("source type is required"))
			}
			sourceType := c.Args().First()

			p, err := resolveProject(c, db)
			if err != nil {
				return outputError(err)
			}
			data, err := sourcePayload(c, cfg, sourceType)
			if err != nil {
				return outputError(err)
			}

			src, err := ops.AddSource(c.Context, db, cfg, ops.AddSourceInput{
				ProjectID: p.ID,
				Type:      sourceType,
				Data:      data,
			})
			if err != nil {
				return outputError(err)
			}

			output := sourceAddOutput{SourceItem: ops.NewSourceItem(*src)}
			if cfg.AutoTrainOnAdd {
				run, err := trainProject(c, db, cfg, logger, p.ID)
				if err != nil {
					output.TrainingError = errors.Message(err)
				}
				output.Training = run
			}
			return outputJSON(output)
		},
	}
}

// sourcePayload builds the raw payload of `source add` from --data, the
// per-type flags, or stdin, in that order.
func sourcePayload(c *cli.Context, cfg *config.Config, sourceType string) (json.RawMessage, error) {
	if data := c.String("data"); data != "" {
		return json.RawMessage(data), nil
	}

	var payload any
	switch project.SourceType(sourceType) {
	case project.SourceGitHub:
		if c.IsSet("url") {
			payload = project.GitHubData{URL: c.String("url"), Branch: c.String("branch")}
		}
	case project.SourceWebsite:
		if c.IsSet("url") {
			payload = project.WebsiteData{URL: c.String("url")}
		}
	case project.SourceMotif:
		if c.IsSet("domain") {
			payload = project.MotifData{ProjectDomain: c.String("domain")}
		}
	case project.SourceFileUpload:
		if dir := c.String("dir"); dir != "" {
			files, err := extract.ReadDir(dir, cfg.IncludeExtensions, cfg.IgnorePatterns, cfg.MaxFileChars)
			if err != nil {
				return nil, err
			}
			payload = project.FileUploadData{Files: files}
		}
	}

	if payload == nil {
		if !stdinHasData() {
			return nil, errors.NewInvalidRequest("payload is required: pass --url, --domain, --dir, --data or pipe JSON on stdin")
		}
		return readPayload()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return data, nil
}

// trainOutput is the result of the train command.
type trainOutput struct {
	*training.Summary
	Errors []string `json:"errors"`
}

// trainCmd creates the train command.
func trainCmd(db *sql.DB, cfg *config.Config, logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "Process every source of a project (Ctrl-C cancels)",
		Flags: []cli.Flag{projectFlag()},
		Action: func(c *cli.Context) error {
			p, err := resolveProject(c, db)
			if err != nil {
				return outputError(err)
			}
			output, err := trainProject(c, db, cfg, logger, p.ID)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// trainProject trains every source of a project until done or Ctrl-C.
// Per-source failures are printed to stderr as they happen.
func trainProject(c *cli.Context, db *sql.DB, cfg *config.Config, logger *zap.Logger, projectID string) (*trainOutput, error) {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	controller := newController(db, cfg, events.NewBus(), logger)
	var mu sync.Mutex
	failures := make([]string, 0)
	summary, err := controller.TrainAllSources(ctx, projectID, nil, func(msg string) {
		mu.Lock()
		failures = append(failures, msg)
		mu.Unlock()
		fmt.Fprintf(os.Stderr, "warning: %s\n", msg)
	})
	if err != nil {
		return nil, err
	}
	return &trainOutput{Summary: summary, Errors: failures}, nil
}

// statusCmd creates the status command.
func statusCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show a project's sources, files and last training run",
		Flags: []cli.Flag{
			projectFlag(),
			&cli.BoolFlag{Name: "json", Usage: "Print JSON instead of the styled view"},
		},
		Action: func(c *cli.Context) error {
			status, err := ops.Status(c.Context, db, c.String("project"))
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(status)
			}
			sources, err := ops.ListSources(c.Context, db, status.Project.ID)
			if err != nil {
				return outputError(err)
			}
			_, err = fmt.Fprintln(os.Stdout, renderStatus(status, sources.Items))
			return err
		},
	}
}

// filesCmd creates the files command.
func filesCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "files",
		Usage: "List a project's trained files",
		Flags: []cli.Flag{projectFlag()},
		Action: func(c *cli.Context) error {
			p, err := resolveProject(c, db)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.ListFiles(c.Context, db, p.ID)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// referenceCmd creates the reference command.
func referenceCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "reference",
		Usage:     "Resolve a file path to its display name and link",
		ArgsUsage: "<path>",
		Flags:     []cli.Flag{projectFlag()},
		Action: func(c *cli.Context) error {
			p, err := resolveProject(c, db)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.ResolveReference(c.Context, db, p.ID, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(db *sql.DB, cfg *config.Config, logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the web dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8787, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			bus := events.NewBus()
			srv, err := web.NewServer(web.Options{
				DB:         db,
				Config:     cfg,
				Controller: newController(db, cfg, bus, logger),
				Bus:        bus,
				Logger:     logger,
				Version:    Version,
			}, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return web.Run(srv, logger)
		},
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Faint(true).Width(10)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// renderStatus formats a project's status for the terminal.
func renderStatus(status *ops.StatusOutput, sources []ops.SourceItem) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}

	trained := warnStyle.Render("not trained")
	if status.Trained {
		trained = okStyle.Render("trained")
	}

	lines := []string{
		titleStyle.Render(status.Project.Name),
		row("id", status.Project.ID),
		row("state", trained),
		row("sources", fmt.Sprintf("%d", status.Sources)),
		row("files", fmt.Sprintf("%d", status.Files)),
	}

	if run := status.LatestRun; run != nil {
		style := warnStyle
		switch run.Status {
		case db.RunSucceeded:
			style = okStyle
		case db.RunPartial:
			style = errStyle
		}
		lines = append(lines, row("last run", fmt.Sprintf("%s  %d processed, %d updated, %d deleted, %d errors",
			style.Render(run.Status), run.FilesProcessed, run.FilesUpdated, run.FilesDeleted, run.ErrorCount)))
	}

	if len(sources) > 0 {
		lines = append(lines, "", titleStyle.Render("Sources"))
		for _, s := range sources {
			lines = append(lines, row(string(s.Type), s.Label))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// readPayload reads a JSON payload from stdin.
func readPayload() (json.RawMessage, error) {
	text, err := readStdin(maxStdinBytes)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, errors.NewInvalidRequest("payload is required")
	}
	return json.RawMessage(text), nil
}

// outputJSON writes JSON output to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if qErr, ok := errors.As(err); ok {
		if qErr.Code == errors.ErrInternal {
			return cli.Exit(fmt.Sprintf("[%s] %s", qErr.Code, err.Error()), 1)
		}
		return cli.Exit(fmt.Sprintf("[%s] %s", qErr.Code, qErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", limit))
	}
	return strings.TrimSpace(string(data)), nil
}
