package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerd/ledgerd/internal/periods"
	"github.com/ledgerd/ledgerd/internal/platform/httpx"
	"github.com/ledgerd/ledgerd/internal/sales"
	"github.com/ledgerd/ledgerd/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	PeriodsHandler *periods.Handler
	SalesHandler   *sales.Handler
	JobHandler     *jobs.Handler
}

// NewRouter constructs the chi.Router for the ledger API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.PeriodsHandler != nil {
		r.Route("/accounting", params.PeriodsHandler.MountRoutes)
	}
	if params.SalesHandler != nil {
		r.Route("/sales", params.SalesHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
