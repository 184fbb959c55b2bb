package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HealthzHandler: 200 OK when probe passes, 503 otherwise (with reason)
func HealthzHandler(p Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error()+"\n", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}
}

// ReadyzHandler: 200 OK when probe passes, 503 otherwise (with reason)
func ReadyzHandler(p Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error()+"\n", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}

// API exposes liveness and readiness over HTTP on the public router.
type API struct {
	Live  Probe
	Ready Probe
}

func NewAPI(live, ready Probe) *API {
	return &API{Live: live, Ready: ready}
}

// RegisterRoutes attaches /-/ping, /-/healthy, /-/ready to a chi router.
func (api *API) RegisterRoutes(r chi.Router) {
	// super-dumb liveness: "is the process up and answering?"
	r.Method(http.MethodGet, "/-/ping",
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("pong\n"))
		}),
	)

	r.Method(http.MethodGet, "/-/healthy", HealthzHandler(api.Live))
	r.Method(http.MethodGet, "/-/ready", ReadyzHandler(api.Ready))
}
