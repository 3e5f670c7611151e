package app

import (
	"context"
	"net/http"
	"time"

	"messenger/cmd/internal/attachment"
	"messenger/cmd/internal/messaging/httpapi"
	"messenger/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type readyCheck struct {
	name string
	fn   func(context.Context) error
}

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	checks []readyCheck,
	registry *prometheus.Registry,
	ws *realtime.WSGateway,
	api *httpapi.Handler,
	uploads http.Handler,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && cfg.DatabaseURL == "" {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, c := range checks {
			if err := c.fn(ctx); err != nil {
				http.Error(w, c.name+" not ready", http.StatusServiceUnavailable)
				log.Info("readyz.not_ready", "dependency", c.name, "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}

	if api != nil {
		api.Register(mux)
	}
	if uploads != nil {
		mux.Handle("GET "+attachment.URLPrefix, uploads)
	}

	mux.Handle("GET /ws", ws)
	mux.Handle("GET /socket", ws)
}

// Handler builds the full middleware chain around the routes.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.readyChecks(), a.registry, a.ws, a.api, a.uploads)

	var h http.Handler = WithRequestLogging(mux, a.log, a.httpMetrics)
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRecover(h, a.log)
	return otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			switch r.URL.Path {
			case "/healthz", "/readyz", "/metrics":
				return false
			}
			return true
		}),
	)
}

func (a *App) readyChecks() []readyCheck {
	var checks []readyCheck
	if a.pool != nil {
		checks = append(checks, readyCheck{name: "db", fn: func(ctx context.Context) error {
			return PingDB(ctx, a.pool, 2*time.Second)
		}})
	}
	if a.redis != nil {
		checks = append(checks, readyCheck{name: "redis", fn: func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}})
	}
	return checks
}
