package credits

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vigil-sec/vigil/internal/shared"
	"github.com/vigil-sec/vigil/internal/view"
)

// Handler serves the credit balance pages.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf}
}

// MountRoutes registers credit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.show)
	r.Post("/topup", h.topUp)
}

type pageData struct {
	Account Account
	Min     int
	Max     int
	Error   string
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	acct, err := h.service.Balance(r.Context(), p.UserID)
	if err != nil {
		h.logger.Error("load credits", slog.Any("error", err))
		http.Error(w, "Failed to load credits", http.StatusInternalServerError)
		return
	}
	h.render(w, r, http.StatusOK, pageData{Account: acct, Min: MinTopUp, Max: MaxTopUp})
}

func (h *Handler) topUp(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	amount, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("amount")))
	if err == nil {
		var acct Account
		acct, err = h.service.TopUp(r.Context(), p.UserID, amount)
		if err == nil {
			view.RedirectWithFlash(w, r, "/credits", shared.FlashSuccess, fmt.Sprintf("Added %d credits. New balance: %d", amount, acct.Balance))
			return
		}
	}
	if err != nil && !errors.Is(err, ErrInvalidAmount) && !errors.Is(err, strconv.ErrSyntax) && !errors.Is(err, strconv.ErrRange) {
		h.logger.Error("top up credits", slog.Any("error", err))
		http.Error(w, "Failed to top up credits", http.StatusInternalServerError)
		return
	}
	acct, loadErr := h.service.Balance(r.Context(), p.UserID)
	if loadErr != nil {
		h.logger.Error("load credits", slog.Any("error", loadErr))
	}
	h.render(w, r, http.StatusBadRequest, pageData{
		Account: acct,
		Min:     MinTopUp,
		Max:     MaxTopUp,
		Error:   fmt.Sprintf("Enter a whole number between %d and %d", MinTopUp, MaxTopUp),
	})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	if err := h.templates.RenderStatus(w, status, "pages/credits.html", view.Page(r, h.csrf, "Credits", data)); err != nil {
		h.logger.Error("render credits", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
