package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"time"

	"modbot/internal/analytics"
	"modbot/internal/apperr"
	"modbot/internal/lockfile"
	"modbot/internal/preset"
	"modbot/internal/punishment"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Pinger reports whether the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	PresetsDir  string
	Commands    []string
	Locker      *lockfile.Locker
	Punishments *punishment.Handler
	Analytics   *analytics.Service
	// Database is optional; without it /health only reports the process.
	Database Pinger
}

type handler struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

// New serves the read-only status API next to the health check.
func New(deps Deps, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	h := &handler{deps: deps, logger: logger.Named("http"), now: time.Now}

	r.Get("/health", h.health)
	r.Get("/presets/{command}", h.listPresets)
	r.Get("/guilds/{guildID}/cases/{case}", h.getCase)
	r.Get("/guilds/{guildID}/users/{userID}/punishments", h.userPunishments)
	r.Get("/guilds/{guildID}/activity", h.activity)
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Database.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// listPresets lists uuid and name of every preset of a command. Soft
// deleted entries are hidden unless with_olds is set.
func (h *handler) listPresets(w http.ResponseWriter, r *http.Request) {
	command := chi.URLParam(r, "command")
	if !slices.Contains(h.deps.Commands, command) {
		h.fail(w, r, apperr.Userf(apperr.NotFound, "The command %s has no presets!", command))
		return
	}
	entries, err := preset.NewHandler(h.deps.PresetsDir, command, h.deps.Locker, h.logger).List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if withOlds, _ := strconv.ParseBool(r.URL.Query().Get("with_olds")); !withOlds {
		entries = preset.FilterActive(entries)
	}
	if entries == nil {
		entries = []preset.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) getCase(w http.ResponseWriter, r *http.Request) {
	caseNumber, err := punishment.ParseCase(chi.URLParam(r, "case"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.deps.Punishments.Get(r.Context(), chi.URLParam(r, "guildID"), caseNumber)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) userPunishments(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Analytics.UserReport(r.Context(), chi.URLParam(r, "guildID"), chi.URLParam(r, "userID"), h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if report.Cases == nil {
		report.Cases = []punishment.Punishment{}
	}
	writeJSON(w, http.StatusOK, report)
}

// activity reports the audit trail of the last `days` days, seven by default.
func (h *handler) activity(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.fail(w, r, apperr.Userf(apperr.InvalidValue, "days must be a positive number"))
			return
		}
		days = parsed
	}
	since := h.now().Add(-time.Duration(days) * 24 * time.Hour)
	report, err := h.deps.Analytics.Report(r.Context(), chi.URLParam(r, "guildID"), since)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]string{
		"kind":  string(apperr.KindOf(err)),
		"error": apperr.Message(err),
	})
}

// StatusOf maps an error to the HTTP status it is answered with.
func StatusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		if apperr.IsUser(err) {
			return http.StatusNotFound
		}
	case apperr.InvalidValue, apperr.TypeError, apperr.MissingParam, apperr.EmptyValue:
		if apperr.IsUser(err) {
			return http.StatusBadRequest
		}
	case apperr.TimeOut:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
