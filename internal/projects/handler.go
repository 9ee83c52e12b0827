package projects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vigil-sec/vigil/internal/shared"
	"github.com/vigil-sec/vigil/internal/view"
)

// AuditStarter queues a new audit for a project and returns its id.
type AuditStarter interface {
	StartAudit(ctx context.Context, userID, projectID int64) (int64, error)
}

// Handler serves the project pages.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	audits    AuditStarter
	templates *view.Engine
	csrf      *shared.CSRFManager
	auditCost int
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, audits AuditStarter, templates *view.Engine, csrf *shared.CSRFManager, auditCost int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, audits: audits, templates: templates, csrf: csrf, auditCost: auditCost}
}

// MountRoutes registers project routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/new", h.showNew)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Get("/edit", h.showEdit)
		r.Post("/", h.update)
		r.Post("/delete", h.delete)
		r.Post("/files", h.upload)
		r.Post("/files/{fileID}/delete", h.removeFile)
		r.Post("/audits", h.startAudit)
	})
}

type listPage struct {
	Projects []Project
	Pager    view.Pager
}

type formPage struct {
	ProjectID int64
	Input     Input
	Errors    map[string]string
	Action    string
}

type detailPage struct {
	Detail       Detail
	AuditCost    int
	MaxUploadMiB int
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	result, err := h.service.List(r.Context(), p.UserID, page, shared.DefaultPageSize)
	if err != nil {
		h.logger.Error("list projects", slog.Any("error", err))
		http.Error(w, "Failed to load projects", http.StatusInternalServerError)
		return
	}
	h.render(w, r, http.StatusOK, "pages/projects_list.html", "Projects", listPage{
		Projects: result.Projects,
		Pager:    view.NewPager(r, result.Pagination),
	})
}

func (h *Handler) showNew(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	h.render(w, r, http.StatusOK, "pages/project_form.html", "New project", formPage{Action: "/projects", Errors: map[string]string{}})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	in, ok := h.parseInput(w, r)
	if !ok {
		return
	}
	in = normalizeInput(in)
	if errs := h.service.Validate(in); len(errs) > 0 {
		h.render(w, r, http.StatusBadRequest, "pages/project_form.html", "New project", formPage{Action: "/projects", Input: in, Errors: errs})
		return
	}
	project, err := h.service.Create(r.Context(), p.UserID, in)
	if err != nil {
		h.logger.Error("create project", slog.Any("error", err))
		http.Error(w, "Failed to create project", http.StatusInternalServerError)
		return
	}
	view.RedirectWithFlash(w, r, projectURL(project.ID), shared.FlashSuccess, "Project created")
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), p.UserID, id)
	if err != nil {
		h.fail(w, "load project", err)
		return
	}
	h.render(w, r, http.StatusOK, "pages/project_detail.html", detail.Project.Name, detailPage{
		Detail:       detail,
		AuditCost:    h.auditCost,
		MaxUploadMiB: MaxFileSize >> 20,
	})
}

func (h *Handler) showEdit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), p.UserID, id)
	if err != nil {
		h.fail(w, "load project", err)
		return
	}
	h.render(w, r, http.StatusOK, "pages/project_form.html", "Edit project", formPage{
		ProjectID: id,
		Action:    projectURL(id),
		Input:     Input{Name: detail.Project.Name, Description: detail.Project.Description},
		Errors:    map[string]string{},
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	in, ok := h.parseInput(w, r)
	if !ok {
		return
	}
	in = normalizeInput(in)
	if errs := h.service.Validate(in); len(errs) > 0 {
		h.render(w, r, http.StatusBadRequest, "pages/project_form.html", "Edit project", formPage{ProjectID: id, Action: projectURL(id), Input: in, Errors: errs})
		return
	}
	if _, err := h.service.Update(r.Context(), p.UserID, id, in); err != nil {
		h.fail(w, "update project", err)
		return
	}
	view.RedirectWithFlash(w, r, projectURL(id), shared.FlashSuccess, "Project updated")
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), p.UserID, id); err != nil {
		h.fail(w, "delete project", err)
		return
	}
	view.RedirectWithFlash(w, r, "/projects", shared.FlashSuccess, "Project deleted")
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		view.RedirectWithFlash(w, r, projectURL(id), shared.FlashError, fmt.Sprintf("Upload a single file of at most %d MiB", MaxFileSize>>20))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		view.RedirectWithFlash(w, r, projectURL(id), shared.FlashError, "Choose a file to upload")
		return
	}
	defer file.Close()

	saved, err := h.service.AddFile(r.Context(), p.UserID, id, Upload{
		Name:        header.Filename,
		Path:        r.FormValue("path"),
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	var ue *shared.UserError
	switch {
	case err == nil:
		view.RedirectWithFlash(w, r, projectURL(id), shared.FlashSuccess, "Uploaded "+saved.Name)
	case errors.As(err, &ue):
		view.RedirectWithFlash(w, r, projectURL(id), shared.FlashError, ue.Message)
	default:
		h.fail(w, "upload file", err)
	}
}

func (h *Handler) removeFile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	fileID, ok := pathID(w, r, "fileID")
	if !ok {
		return
	}
	if err := h.service.RemoveFile(r.Context(), p.UserID, id, fileID); err != nil {
		h.fail(w, "remove file", err)
		return
	}
	view.RedirectWithFlash(w, r, projectURL(id), shared.FlashSuccess, "File removed")
}

func (h *Handler) startAudit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	auditID, err := h.audits.StartAudit(r.Context(), p.UserID, id)
	var ue *shared.UserError
	switch {
	case err == nil:
		view.RedirectWithFlash(w, r, fmt.Sprintf("/audits/%d", auditID), shared.FlashSuccess, "Audit queued")
	case errors.As(err, &ue):
		view.RedirectWithFlash(w, r, projectURL(id), shared.FlashError, ue.Message)
	default:
		h.fail(w, "start audit", err)
	}
}

func (h *Handler) parseInput(w http.ResponseWriter, r *http.Request) (Input, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return Input{}, false
	}
	return Input{Name: r.PostFormValue("name"), Description: r.PostFormValue("description")}, true
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (shared.Principal, bool) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
	}
	return p, ok
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		http.Error(w, "Project not found", http.StatusNotFound)
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	http.Error(w, "Something went wrong, please try again", http.StatusInternalServerError)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	if err := h.templates.RenderStatus(w, status, name, view.Page(r, h.csrf, title, data)); err != nil {
		h.logger.Error("render projects page", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return 0, false
	}
	return id, true
}

func projectURL(id int64) string {
	return fmt.Sprintf("/projects/%d", id)
}
