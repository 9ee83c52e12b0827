// Package audithttp serves the audit history, detail and export pages.
package audithttp

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/vigil-sec/vigil/internal/audits"
	"github.com/vigil-sec/vigil/internal/audits/export"
	"github.com/vigil-sec/vigil/internal/platform/httpx"
	"github.com/vigil-sec/vigil/internal/shared"
	"github.com/vigil-sec/vigil/internal/view"
)

const dateLayout = "2006-01-02"

// ExportObserver is notified of generated exports.
type ExportObserver interface {
	ExportGenerated(format string)
}

// Options configures a Handler.
type Options struct {
	Logger    *slog.Logger
	Service   *audits.Service
	PDF       *export.PDFExporter
	Templates *view.Engine
	CSRF      *shared.CSRFManager
	Observer  ExportObserver
	// ExportsPerMinute limits export downloads per client IP. Zero disables
	// the limit.
	ExportsPerMinute int
}

// Handler serves audit routes.
type Handler struct {
	logger      *slog.Logger
	service     *audits.Service
	pdf         *export.PDFExporter
	templates   *view.Engine
	csrf        *shared.CSRFManager
	observer    ExportObserver
	exportLimit int
}

// NewHandler constructs a Handler.
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		logger:      opts.Logger,
		service:     opts.Service,
		pdf:         opts.PDF,
		templates:   opts.Templates,
		csrf:        opts.CSRF,
		observer:    opts.Observer,
		exportLimit: opts.ExportsPerMinute,
	}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.history)
	r.Get("/{id}", h.detail)
	r.Post("/{id}/delete", h.delete)
	r.Post("/{id}/rerun", h.rerun)

	r.Group(func(r chi.Router) {
		if h.exportLimit > 0 {
			r.Use(httprate.LimitByIP(h.exportLimit, time.Minute))
		}
		r.Get("/export.csv", h.exportHistory)
		r.Get("/{id}/findings.csv", h.exportFindings)
		r.Get("/{id}/report.pdf", h.exportPDF)
	})
}

type filterForm struct {
	Start      string
	End        string
	Timeframe  string
	Statuses   []string
	Severities []string
}

type historyPage struct {
	Audits     []audits.Audit
	Total      int
	From       *time.Time
	To         *time.Time
	Pager      view.Pager
	Form       filterForm
	Statuses   []audits.Status
	Severities []audits.Severity
	Timeframes []audits.Timeframe
	ExportURL  string
	Error      string
}

type detailPage struct {
	Detail     audits.Detail
	CanDelete  bool
	CanRerun   bool
	PDFEnabled bool
}

// parseQuery reads the history filters from the URL. Unparseable dates are
// reported as a user error.
func parseQuery(r *http.Request, userID int64) (audits.HistoryQuery, filterForm, error) {
	values := r.URL.Query()
	form := filterForm{
		Start:      strings.TrimSpace(values.Get("start")),
		End:        strings.TrimSpace(values.Get("end")),
		Timeframe:  strings.TrimSpace(values.Get("timeframe")),
		Statuses:   values["status"],
		Severities: values["severity"],
	}
	page, _ := strconv.Atoi(values.Get("page"))
	q := audits.HistoryQuery{
		UserID:     userID,
		Page:       page,
		PageSize:   shared.DefaultPageSize,
		Timeframe:  form.Timeframe,
		Statuses:   form.Statuses,
		Severities: form.Severities,
	}
	if form.Start != "" {
		start, err := time.ParseInLocation(dateLayout, form.Start, time.UTC)
		if err != nil {
			return q, form, shared.NewUserError("Start date must look like 2024-01-31", shared.ErrValidation)
		}
		q.StartDate = &start
	}
	if form.End != "" {
		end, err := time.ParseInLocation(dateLayout, form.End, time.UTC)
		if err != nil {
			return q, form, shared.NewUserError("End date must look like 2024-01-31", shared.ErrValidation)
		}
		// The end date is inclusive.
		end = end.Add(24*time.Hour - time.Nanosecond)
		q.EndDate = &end
	}
	return q, form, nil
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	data := historyPage{
		Statuses:   audits.Statuses,
		Severities: audits.Severities,
		Timeframes: audits.Timeframes,
	}
	q, form, err := parseQuery(r, p.UserID)
	data.Form = form
	data.ExportURL = "/audits/export.csv"
	if raw := r.URL.Query(); len(raw) > 0 {
		raw.Del("page")
		if enc := raw.Encode(); enc != "" {
			data.ExportURL += "?" + enc
		}
	}
	if err == nil {
		var page audits.HistoryPage
		page, _, err = h.service.History(r.Context(), q)
		if err == nil {
			data.Audits = page.Audits
			data.Total = page.Pagination.Total
			data.From, data.To = page.From, page.To
			data.Pager = view.NewPager(r, page.Pagination)
			h.render(w, r, http.StatusOK, "pages/audits_history.html", "Audit history", data)
			return
		}
	}

	var ue *shared.UserError
	switch {
	case errors.As(err, &ue):
		data.Error = ue.Message
	case errors.Is(err, audits.ErrInvalidDateRange):
		data.Error = "The start date must not be after the end date"
	default:
		h.logger.Error("audit history", slog.Any("error", err))
		data.Error = "Failed to fetch audit history"
		h.render(w, r, http.StatusInternalServerError, "pages/audits_history.html", "Audit history", data)
		return
	}
	h.render(w, r, http.StatusBadRequest, "pages/audits_history.html", "Audit history", data)
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.service.Detail(r.Context(), p.UserID, id)
	if err != nil {
		h.fail(w, "audit detail", err)
		return
	}
	h.render(w, r, http.StatusOK, "pages/audit_detail.html", fmt.Sprintf("Audit #%d", d.Audit.ID), detailPage{
		Detail:     d,
		CanDelete:  d.Audit.Deletable(),
		CanRerun:   d.Audit.Rerunnable(),
		PDFEnabled: h.pdf.Enabled(),
	})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	err := h.service.Delete(r.Context(), p.UserID, id)
	switch {
	case err == nil:
		view.RedirectWithFlash(w, r, "/audits", shared.FlashSuccess, fmt.Sprintf("Audit #%d deleted", id))
	case errors.Is(err, audits.ErrNotDeletable):
		view.RedirectWithFlash(w, r, auditURL(id), shared.FlashError, "Only queued audits can be deleted")
	default:
		h.fail(w, "delete audit", err)
	}
}

func (h *Handler) rerun(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	_, err := h.service.Rerun(r.Context(), p.UserID, id)
	var ue *shared.UserError
	switch {
	case err == nil:
		view.RedirectWithFlash(w, r, auditURL(id), shared.FlashSuccess, "Audit queued again")
	case errors.Is(err, audits.ErrNotRerunnable):
		view.RedirectWithFlash(w, r, auditURL(id), shared.FlashError, "Only completed or failed audits can be rerun")
	case errors.As(err, &ue):
		view.RedirectWithFlash(w, r, auditURL(id), shared.FlashError, ue.Message)
	default:
		h.fail(w, "rerun audit", err)
	}
}

func (h *Handler) exportHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	q, _, err := parseQuery(r, p.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.Export(r.Context(), q)
	if errors.Is(err, audits.ErrInvalidDateRange) {
		httpx.Problem(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), "The start date must not be after the end date")
		return
	}
	if err != nil {
		h.logger.Error("export audit history", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteHistoryCSV(&buf, items); err != nil {
		h.logger.Error("write history csv", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.sendAttachment(w, "csv", "text/csv; charset=utf-8", fmt.Sprintf("audit-history-%s.csv", time.Now().UTC().Format("20060102")), buf.Bytes())
}

func (h *Handler) exportFindings(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.service.Detail(r.Context(), p.UserID, id)
	if err != nil {
		h.fail(w, "export findings", err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteFindingsCSV(&buf, d.Findings); err != nil {
		h.fail(w, "write findings csv", err)
		return
	}
	h.sendAttachment(w, "csv", "text/csv; charset=utf-8", fmt.Sprintf("audit-%d-findings.csv", id), buf.Bytes())
}

func (h *Handler) exportPDF(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.service.Detail(r.Context(), p.UserID, id)
	if err != nil {
		h.fail(w, "export pdf", err)
		return
	}
	pdf, err := h.pdf.RenderAudit(r.Context(), d)
	if errors.Is(err, export.ErrPDFUnavailable) {
		h.logger.Warn("pdf export unavailable", slog.Any("error", err))
		http.Error(w, "PDF export is currently unavailable", http.StatusNotImplemented)
		return
	}
	if err != nil {
		h.logger.Error("render audit pdf", slog.Int64("audit_id", id), slog.Any("error", err))
		http.Error(w, "Failed to render the PDF report", http.StatusBadGateway)
		return
	}
	h.sendAttachment(w, "pdf", "application/pdf", fmt.Sprintf("audit-%d.pdf", id), pdf)
}

func (h *Handler) sendAttachment(w http.ResponseWriter, format, contentType, filename string, body []byte) {
	if err := httpx.Attachment(w, contentType, filename, body); err != nil {
		h.logger.Warn("write export", slog.String("format", format), slog.Any("error", err))
		return
	}
	if h.observer != nil {
		h.observer.ExportGenerated(format)
	}
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
		http.Error(w, "Audit not found", http.StatusNotFound)
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	http.Error(w, "Something went wrong, please try again", http.StatusInternalServerError)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	if err := h.templates.RenderStatus(w, status, name, view.Page(r, h.csrf, title, data)); err != nil {
		h.logger.Error("render audits page", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return 0, false
	}
	return id, true
}

func auditURL(id int64) string {
	return fmt.Sprintf("/audits/%d", id)
}
