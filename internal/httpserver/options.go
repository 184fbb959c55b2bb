package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coursekit/admission/internal/health"
	"github.com/coursekit/admission/internal/httpmw"
	"github.com/coursekit/admission/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Probe
	Readiness    health.Probe

	// APIRoutes registers the guarded API surface. Routes attach their
	// own admission middleware; transport-level concerns are already
	// applied by the time requests reach the router.
	APIRoutes func(chi.Router)
}
