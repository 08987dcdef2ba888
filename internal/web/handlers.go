package web

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/quarry/internal/config"
	"github.com/hpungsan/quarry/internal/dashboard"
	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/events"
	"github.com/hpungsan/quarry/internal/ops"
	"github.com/hpungsan/quarry/internal/project"
	"github.com/hpungsan/quarry/internal/training"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	db         *sql.DB
	cfg        *config.Config
	controller *training.Controller
	sessions   *dashboard.Manager
	toasts     *events.Toasts
	bus        *events.Bus
	chat       *chatRequests
	renderer   *Renderer
	logger     *zap.Logger
}

// statusResponse is the JSON form of a dashboard page.
type statusResponse struct {
	dashboard.Snapshot
	Toasts []events.Notification `json:"toasts"`
}

// HandleProjects handles GET /projects: list projects.
func (h *Handlers) HandleProjects(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ListProjects(r.Context(), h.db)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, r, "projects", ProjectsPageData{
		PageData: PageData{
			Title:   "Projects",
			Version: h.renderer.version,
			Nav:     "projects",
		},
		Items: result.Items,
	})
}

// HandleCreateProject handles POST /projects: create a project and start onboarding.
func (h *Handlers) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	var input ops.CreateProjectInput
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid JSON body"))
			return
		}
		input.Name = body.Name
	} else {
		if err := r.ParseForm(); err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
			return
		}
		input.Name = r.FormValue("name")
	}

	p, err := ops.CreateProject(r.Context(), h.db, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.redirect(w, r, http.StatusCreated, "/projects/"+p.ID+"/onboarding", p)
}

// HandleDashboard handles GET /projects/{id}: the project dashboard.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	h.renderDashboard(w, r, dashboard.VariantDashboard)
}

// HandleOnboarding handles GET /projects/{id}/onboarding: the first-run flow.
func (h *Handlers) HandleOnboarding(w http.ResponseWriter, r *http.Request) {
	h.renderDashboard(w, r, dashboard.VariantOnboarding)
}

func (h *Handlers) renderDashboard(w http.ResponseWriter, r *http.Request, variant dashboard.Variant) {
	// A full page load picks up changes made outside this process.
	if !isPartial(r) && !wantsJSON(r) {
		h.sessions.Invalidate(r.PathValue("id"))
	}
	p, s, ok := h.session(w, r, variant)
	if !ok {
		return
	}
	data := h.dashboardData(p, s)

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, statusResponse{Snapshot: data.Snapshot, Toasts: data.Toasts})
		return
	}
	h.renderer.renderPage(w, r, "dashboard", data)
}

// HandleFinishOnboarding handles POST /projects/{id}/onboarding/finish.
func (h *Handlers) HandleFinishOnboarding(w http.ResponseWriter, r *http.Request) {
	p, err := ops.FinishOnboarding(r.Context(), h.db, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.redirect(w, r, http.StatusOK, "/projects/"+p.ID, p)
}

// HandleAddSource handles POST /projects/{id}/sources: connect a source and
// start processing it.
func (h *Handlers) HandleAddSource(w http.ResponseWriter, r *http.Request) {
	p, s, ok := h.session(w, r, variantOf(r))
	if !ok {
		return
	}
	sourceType, data, err := parseSourceRequest(w, r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	src, err := s.AddSource(r.Context(), sourceType, data)
	if err != nil {
		h.respondWorkflowError(w, r, p, s, err)
		return
	}
	// A connect dialog processes what it connected. auto_train_on_add may
	// already have started the run.
	if !s.Training() {
		if err := s.TrainInBackground(r.Context()); err != nil {
			h.logger.Info("training not started after connect", zap.String("project_id", p.ID), zap.Error(err))
		}
	}
	h.respondWorkflow(w, r, p, s, http.StatusCreated, createdSource(src))
}

// HandleAddSampleSource handles POST /projects/{id}/sources/sample: connect the sample repo.
func (h *Handlers) HandleAddSampleSource(w http.ResponseWriter, r *http.Request) {
	p, s, ok := h.session(w, r, variantOf(r))
	if !ok {
		return
	}
	src, err := s.AddSampleSource(r.Context())
	if err != nil {
		h.respondWorkflowError(w, r, p, s, err)
		return
	}
	h.respondWorkflow(w, r, p, s, http.StatusCreated, createdSource(src))
}

// HandleDeleteSource handles DELETE /projects/{id}/sources/{sourceID}: disconnect a source.
func (h *Handlers) HandleDeleteSource(w http.ResponseWriter, r *http.Request) {
	p, s, ok := h.session(w, r, variantOf(r))
	if !ok {
		return
	}
	sourceID := r.PathValue("sourceID")
	if err := s.DeleteSource(r.Context(), sourceID); err != nil {
		h.respondWorkflowError(w, r, p, s, err)
		return
	}
	h.respondWorkflow(w, r, p, s, http.StatusOK, map[string]any{
		"deleted": true,
		"id":      sourceID,
	})
}

// HandleTrain handles POST /projects/{id}/train: start processing sources in the background.
func (h *Handlers) HandleTrain(w http.ResponseWriter, r *http.Request) {
	p, s, ok := h.session(w, r, variantOf(r))
	if !ok {
		return
	}
	if h.controller.State(p.ID).Active() {
		h.renderer.renderError(w, r, errors.NewTrainingInProgress(p.ID))
		return
	}
	if err := s.TrainInBackground(r.Context()); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.respondWorkflow(w, r, p, s, http.StatusAccepted, map[string]any{
		"started":    true,
		"project_id": p.ID,
	})
}

// HandleCancelTraining handles POST /projects/{id}/train/cancel: stop the in-flight run.
func (h *Handlers) HandleCancelTraining(w http.ResponseWriter, r *http.Request) {
	p, s, ok := h.session(w, r, variantOf(r))
	if !ok {
		return
	}
	cancelled := h.controller.Cancel(p.ID)
	h.respondWorkflow(w, r, p, s, http.StatusOK, map[string]any{
		"cancelled":  cancelled,
		"project_id": p.ID,
	})
}

// HandleOpenChat handles POST /projects/{id}/chat: "Missing a source? Let us know".
func (h *Handlers) HandleOpenChat(w http.ResponseWriter, r *http.Request) {
	p, s, ok := h.session(w, r, variantOf(r))
	if !ok {
		return
	}
	h.bus.Publish(events.OpenChat{ProjectID: p.ID})
	h.respondWorkflow(w, r, p, s, http.StatusOK, map[string]any{
		"chat_open":  true,
		"project_id": p.ID,
	})
}

// HandleStatus handles GET /projects/{id}/status: current view plus pending toasts.
// The page polls it while a run is in flight.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	p, s, ok := h.session(w, r, variantOf(r))
	if !ok {
		return
	}
	data := h.dashboardData(p, s)
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, statusResponse{Snapshot: data.Snapshot, Toasts: data.Toasts})
		return
	}
	h.renderer.renderBlock(w, http.StatusOK, "dashboard", "workflow", data)
}

// HandleConnector handles GET /projects/{id}/connector?w=&h=: the overlay
// connector line for the measured overlay column.
func (h *Handlers) HandleConnector(w http.ResponseWriter, r *http.Request) {
	_, s, ok := h.session(w, r, variantOf(r))
	if !ok {
		return
	}
	view := s.Snapshot().View
	data := ConnectorData{Duration: dashboard.ConnectorDuration}
	if view.Connector.Visible {
		width := parseFloatParam(r, "w", 0)
		height := parseFloatParam(r, "h", 0)
		data.Connector = dashboard.NewConnector(view.Connector, width, height)
		data.TopLeft = view.Connector.TopLeft
	}
	h.renderer.renderBlock(w, http.StatusOK, "connector", "connector", data)
}

// HandleFile handles GET /projects/{id}/files/{fileID}: preview a trained file.
func (h *Handlers) HandleFile(w http.ResponseWriter, r *http.Request) {
	p, err := ops.GetProject(r.Context(), h.db, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	f, err := ops.GetFile(r.Context(), h.db, p.ID, r.PathValue("fileID"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, f)
		return
	}

	title := f.Meta.Title
	if title == "" {
		title = f.Path
	}
	h.renderer.renderPage(w, r, "file", FilePageData{
		PageData: PageData{
			Title:   title,
			Version: h.renderer.version,
			Nav:     "dashboard",
		},
		Project:      p,
		File:         f,
		RenderedHTML: renderFileContent(f),
	})
}

// HandleReference handles GET /projects/{id}/references?path=: resolve a
// path cited by the chat playground.
func (h *Handlers) HandleReference(w http.ResponseWriter, r *http.Request) {
	p, err := ops.GetProject(r.Context(), h.db, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	ref, err := ops.ResolveReference(r.Context(), h.db, p.ID, r.URL.Query().Get("path"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, ref)
}

// session loads the project named in the path and its dashboard session.
// On failure the error is rendered and ok is false.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request, variant dashboard.Variant) (*project.Project, *dashboard.Session, bool) {
	p, err := ops.GetProject(r.Context(), h.db, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return nil, nil, false
	}
	s, err := h.sessions.Session(r.Context(), p.ID, variant)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return nil, nil, false
	}
	return p, s, true
}

func (h *Handlers) dashboardData(p *project.Project, s *dashboard.Session) DashboardPageData {
	snap := s.Snapshot()
	onboarding := snap.Variant == dashboard.VariantOnboarding.String()
	title := p.Name
	nav := "dashboard"
	if onboarding {
		title = "Get started"
		nav = "onboarding"
	}
	return DashboardPageData{
		PageData: PageData{
			Title:   title,
			Version: h.renderer.version,
			Nav:     nav,
		},
		Project:    p,
		Onboarding: onboarding,
		Snapshot:   snap,
		Toasts:     h.toasts.Drain(p.ID),
		ChatOpen:   h.chat.take(p.ID),
		Connect:    connectOptions,
		Playground: h.cfg.Playground,
	}
}

// respondWorkflow answers a dashboard mutation: partial requests get the
// re-rendered workflow, JSON clients get body, browsers are redirected back.
func (h *Handlers) respondWorkflow(w http.ResponseWriter, r *http.Request, p *project.Project, s *dashboard.Session, status int, body any) {
	switch {
	case isPartial(r):
		h.renderer.renderBlock(w, status, "dashboard", "workflow", h.dashboardData(p, s))
	case wantsJSON(r):
		renderJSON(w, status, body)
	default:
		http.Redirect(w, r, dashboardURL(p.ID, s.Snapshot().Variant), http.StatusSeeOther)
	}
}

// respondWorkflowError answers a failed mutation. The session already queued
// the error toast, so partial requests get the workflow carrying it.
func (h *Handlers) respondWorkflowError(w http.ResponseWriter, r *http.Request, p *project.Project, s *dashboard.Session, err error) {
	if !isPartial(r) {
		// The toast is reported through the response instead.
		h.toasts.Drain(p.ID)
		h.renderer.renderError(w, r, err)
		return
	}
	status := http.StatusInternalServerError
	if qErr, ok := errors.As(err); ok {
		status = qErr.Status
	}
	h.renderer.renderBlock(w, status, "dashboard", "workflow", h.dashboardData(p, s))
}

// redirect sends the client to location: HX-Redirect for partial requests,
// body as JSON for API clients, 303 otherwise.
func (h *Handlers) redirect(w http.ResponseWriter, r *http.Request, jsonStatus int, location string, body any) {
	switch {
	case isPartial(r):
		w.Header().Set("HX-Redirect", location)
		w.WriteHeader(http.StatusOK)
	case wantsJSON(r):
		renderJSON(w, jsonStatus, body)
	default:
		http.Redirect(w, r, location, http.StatusSeeOther)
	}
}

func dashboardURL(projectID, variant string) string {
	if variant == dashboard.VariantOnboarding.String() {
		return "/projects/" + projectID + "/onboarding"
	}
	return "/projects/" + projectID
}

// renderFileContent renders markdown files as HTML and everything else as
// preformatted text.
func renderFileContent(f *project.File) template.HTML {
	switch strings.ToLower(path.Ext(f.Path)) {
	case ".md", ".mdx", ".mdoc", ".markdoc", ".markdown":
		return renderMarkdown(f.Content)
	}
	return template.HTML(fmt.Sprintf("<pre>%s</pre>", template.HTMLEscapeString(f.Content)))
}
