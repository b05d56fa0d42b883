package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahutchings/warden/internal/admission"
	"github.com/ahutchings/warden/internal/agent"
	"github.com/ahutchings/warden/internal/audit"
	"github.com/ahutchings/warden/internal/inflight"
	"github.com/ahutchings/warden/internal/killswitch"
	"github.com/ahutchings/warden/internal/metrics"
	"github.com/ahutchings/warden/internal/trust"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Controller    *admission.Controller
	Registry      *agent.Registry
	Engine        *trust.Engine
	Authenticator *trust.Authenticator
	Issuer        *trust.Issuer
	KillSwitch    *killswitch.Switch
	Tracker       *inflight.Tracker
	Audit         audit.Sink
	Metrics       *metrics.Metrics
	DefaultBudget agent.Budget
	AdminKey      string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	admissionH := newAdmissionHandler(deps.Controller)
	agentsH := newAgentsHandler(deps.Registry, deps.Engine, deps.Audit, deps.DefaultBudget)
	trustH := newTrustHandler(deps.Engine, deps.Registry)
	authH := newAuthHandler(deps.Authenticator, deps.Metrics)
	credsH := newCredentialsHandler(deps.Issuer, deps.Metrics)
	killH := newKillSwitchHandler(deps.KillSwitch, deps.Tracker, deps.Metrics)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(ar chi.Router) {
		// Admission hot path.
		ar.Post("/admission/check", admissionH.CheckAction)
		ar.Post("/admission/outcome", admissionH.ReportOutcome)

		// Agent registration and inspection.
		ar.Post("/agents", agentsH.RegisterAgent)
		ar.Get("/agents", agentsH.ListAgents)
		ar.Get("/agents/{id}", agentsH.GetAgent)

		// Trust scores and endorsements.
		ar.Get("/trust/{id}/score", trustH.GetScore)
		ar.Get("/trust/{id}/events", trustH.GetEvents)
		ar.Post("/trust/{id}/endorse", trustH.Endorse)

		// Mutual authentication.
		ar.Post("/auth/challenge", authH.CreateChallenge)
		ar.Post("/auth/complete", authH.Complete)
		ar.Post("/auth/verify", authH.VerifySession)

		// Credentials.
		ar.Post("/credentials/verify", credsH.Verify)
		ar.Get("/credentials/public-key", credsH.PublicKey)
		ar.Post("/credentials/{id}", credsH.Issue)

		// Kill switch state is public; flipping it is admin-only.
		ar.Get("/killswitch", killH.Status)
	})

	r.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Use(adminAuthMiddleware(deps.AdminKey))

		ar.Post("/agents/{id}/suspend", agentsH.SuspendAgent)
		ar.Post("/agents/{id}/reactivate", agentsH.ReactivateAgent)
		ar.Post("/agents/{id}/terminate", agentsH.TerminateAgent)

		ar.Post("/killswitch/activate", killH.Activate)
		ar.Post("/killswitch/deactivate", killH.Deactivate)

		if deps.Metrics != nil {
			ar.Get("/metrics/summary", deps.Metrics.Handler())
		}
	})

	return r
}
