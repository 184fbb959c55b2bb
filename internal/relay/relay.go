// Package relay forwards webhook payloads to a configured downstream
// URL. Admission guards how often each org may use it; the outbound
// pacer additionally smooths what we send downstream regardless of how
// many orgs are within quota at once.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/coursekit/admission/internal/log"
	"github.com/coursekit/admission/internal/xerrors"
)

// Metrics is the delivery counter surface. Nil disables reporting.
type Metrics interface {
	IncRelayDelivery(result string)
}

const maxPayloadBytes = 256 << 10

// Forwarder delivers webhook payloads to one downstream target.
type Forwarder struct {
	targetURL string
	client    *http.Client
	pacer     *rate.Limiter
	logger    log.Logger
	metrics   Metrics
}

type Option func(*Forwarder)

// WithPacer bounds the outbound delivery rate. Defaults to 10/s with a
// burst of 20.
func WithPacer(p *rate.Limiter) Option {
	return func(f *Forwarder) { f.pacer = p }
}

func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) { f.client = c }
}

func WithLogger(l log.Logger) Option {
	return func(f *Forwarder) { f.logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(f *Forwarder) { f.metrics = m }
}

func New(targetURL string, timeout time.Duration, opts ...Option) *Forwarder {
	f := &Forwarder{
		targetURL: targetURL,
		client:    &http.Client{Timeout: timeout},
		pacer:     rate.NewLimiter(rate.Limit(10), 20),
		logger:    log.Nop(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Deliver posts payload to the target, honoring the outbound pacer.
func (f *Forwarder) Deliver(ctx context.Context, payload []byte) error {
	if err := f.pacer.Wait(ctx); err != nil {
		return xerrors.Wrap(err, "wait for outbound slot")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.targetURL, bytes.NewReader(payload))
	if err != nil {
		return xerrors.Wrap(err, "build relay request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.countDelivery("failed")
		return xerrors.Wrapf(err, "deliver to %s", f.targetURL)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.countDelivery("failed")
		return xerrors.Newf("downstream returned %d", resp.StatusCode)
	}

	f.countDelivery("delivered")
	return nil
}

func (f *Forwarder) countDelivery(result string) {
	if f.metrics != nil {
		f.metrics.IncRelayDelivery(result)
	}
}

// Handler accepts POSTed JSON and forwards it. Mounted behind the
// org-scoped admission guard; by the time a request lands here its
// quota has already been spent.
func (f *Forwarder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.Method != http.MethodPost {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
		if err != nil {
			http.Error(w, "read payload", http.StatusBadRequest)
			return
		}
		if int64(len(payload)) > maxPayloadBytes {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		if !json.Valid(payload) {
			http.Error(w, "payload must be JSON", http.StatusBadRequest)
			return
		}

		if err := f.Deliver(ctx, payload); err != nil {
			log.FromContext(ctx).Error(ctx, err, "relay delivery failed")
			http.Error(w, "delivery failed", http.StatusBadGateway)
			return
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "delivered"})
	})
}
