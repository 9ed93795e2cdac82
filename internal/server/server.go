package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/discovery"
	"github.com/jonwraymond/toolgate/gate"
	"github.com/jonwraymond/toolgate/health"
)

// MetricsPath serves Prometheus metrics when that exporter is selected.
const MetricsPath = "/metrics"

// SubjectHeader tells the upstream who the gate authorized. Any value the
// client sent is replaced.
const SubjectHeader = "X-Toolgate-Subject"

// Server serves discovery, health and metrics endpoints and proxies every
// other request to the upstream once the gate allows it.
type Server struct {
	components *Components
	logger     zerolog.Logger
	upstream   *url.URL
	metrics    http.Handler
}

// New builds a Server. A missing upstream is allowed; proxied requests are
// then answered with 502 after authorization.
func New(c *Components, logger zerolog.Logger) (*Server, error) {
	s := &Server{components: c, logger: logger}

	if raw := c.Config.Server.Upstream; raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: upstream %q: %v", auth.ErrConfiguration, raw, err)
		}
		s.upstream = u
	}

	if m := c.Config.Telemetry.Metrics; m.Enabled && m.Exporter == "prometheus" {
		s.metrics = promhttp.Handler()
	}
	return s, nil
}

// Routes returns the complete handler chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	discovery.RegisterHandlers(mux, s.components.Discovery)
	health.RegisterHandlers(mux, s.components.Health)
	if s.metrics != nil {
		mux.Handle(MetricsPath, s.metrics)
	}

	cfg := s.components.Config
	mw := gate.MiddlewareConfig{
		Realm:     cfg.Realm,
		Operation: gate.JSONRPCOperation(cfg.Server.MaxBodyBytes),
	}
	if s.components.Discovery.HasResource() {
		mw.ResourceMetadata = s.components.Discovery.ResourceMetadataURL()
	}
	mux.Handle("/", gate.Middleware(s.components.Gate, mw)(s.proxy()))

	return CorrelationIDMiddleware(
		LoggingMiddleware(s.logger)(
			RecoverMiddleware(
				mux)))
}

func (s *Server) proxy() http.Handler {
	if s.upstream == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadGateway, gate.ErrorResponse{
				Error:            "bad_gateway",
				ErrorDescription: "no upstream is configured",
			})
		})
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(s.upstream)
			pr.SetXForwarded()
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del(SubjectHeader)
			if sub := auth.SubjectFromContext(pr.In.Context()); sub != "" {
				pr.Out.Header.Set(SubjectHeader, sub)
			}
			if id := CorrelationID(pr.In.Context()); id != "" {
				pr.Out.Header.Set(CorrelationIDHeader, id)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("upstream.failed")
			writeJSON(w, http.StatusBadGateway, gate.ErrorResponse{
				Error:            "bad_gateway",
				ErrorDescription: "upstream request failed",
			})
		},
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
// within shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("addr", ln.Addr().String()).
			Strs("health_checks", s.components.Health.Names()).
			Msg("Starting server...")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info().Msg("Server exited")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
