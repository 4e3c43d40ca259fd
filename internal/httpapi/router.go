// Package httpapi is the HTTP surface: health and status, the device schedule
// feed, the listener websocket and the authenticated authoring API.
package httpapi

import (
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"

	"schoolbell/internal/auth"
	"schoolbell/internal/authoring"
	"schoolbell/internal/dispatch"
	"schoolbell/internal/relay"
	"schoolbell/internal/schedule"
	"schoolbell/internal/storage"
	"schoolbell/internal/tick"
	"schoolbell/internal/transport/ws"
	logx "schoolbell/pkg/logx"
)

// Deps are the services handlers call. Relay and WS may be nil.
type Deps struct {
	Store      storage.Store
	Authoring  *authoring.Service
	Tick       *tick.Service
	Dispatcher *dispatch.Dispatcher
	Relay      *relay.Service
	WS         *ws.Handler
	Signer     *auth.Signer
	Clock      schedule.Clock
	Log        logx.Logger
}

type Handler struct {
	Deps
	resolver *schedule.Resolver
	started  time.Time
}

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(cfg Config, d Deps) *chi.Mux {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	d.Log = d.Log.With(logx.String("comp", "http"))
	if d.Clock == nil {
		d.Clock = schedule.SystemClock{}
	}
	h := &Handler{
		Deps:     d,
		resolver: schedule.NewResolver(d.Store, d.Log),
		started:  d.Clock.Now(),
	}

	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLog(d.Log))

	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-Id"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// --- Routes ---
	r.Get("/healthz", h.Health)
	if d.WS != nil {
		r.Handle("/ws", d.WS)
	}
	if cfg.Pprof.Enabled {
		r.Route("/debug/pprof", func(r chi.Router) {
			r.Use(staticToken(cfg.Pprof.Token))
			r.HandleFunc("/", pprof.Index)
			r.HandleFunc("/cmdline", pprof.Cmdline)
			r.HandleFunc("/profile", pprof.Profile)
			r.HandleFunc("/symbol", pprof.Symbol)
			r.HandleFunc("/trace", pprof.Trace)
			r.HandleFunc("/{profile}", pprof.Index)
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/device/schedule", h.DeviceSchedule)

		r.Group(func(r chi.Router) {
			r.Use(requireSession(d.Signer))

			r.Get("/me", h.Me)
			r.With(requireRole(auth.RoleAdmin, auth.RoleSuperAdmin)).Put("/school", h.RenameSchool)

			// Schedules
			r.Get("/schedules", h.ListSchedules)
			r.Post("/schedules", h.CreateSchedule)
			r.Put("/schedules/active", h.SetActiveSchedule)
			r.Get("/schedules/{scheduleID}", h.GetSchedule)
			r.Patch("/schedules/{scheduleID}", h.RenameSchedule)
			r.Delete("/schedules/{scheduleID}", h.DeleteSchedule)
			r.Post("/schedules/{scheduleID}/bells", h.AddBell)
			r.Post("/schedules/{scheduleID}/generate", h.GenerateDay)
			r.Get("/schedules/{scheduleID}/export", h.ExportSchedule)

			// Bells
			r.Patch("/bells/{bellID}", h.UpdateBell)
			r.Delete("/bells/{bellID}", h.DeleteBell)

			// Calendar
			r.Get("/special-days", h.ListSpecialDays)
			r.Put("/special-days/{date}", h.SetSpecialDay)
			r.Delete("/special-days/{date}", h.DeleteSpecialDay)

			// Alarm
			r.Post("/alarm", h.ActivateAlarm)
			r.Delete("/alarm", h.DeactivateAlarm)

			r.Get("/activity", h.Activity)

			// School administration
			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(auth.RoleSuperAdmin))
				r.Get("/schools", h.ListSchools)
				r.Post("/schools", h.CreateSchool)
				r.Delete("/schools/{schoolID}", h.DeleteSchool)
			})
		})
	})

	return r
}

// staticToken guards debug routes with a fixed bearer or ?token= value. An
// empty token leaves them open; the listener is expected to be loopback then.
func staticToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.TokenFromRequest(r) != token {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
