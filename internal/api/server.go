// Package api serves the status API of a running registry over huma.
package api

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/camhw/internal/api/models"
	"github.com/smazurov/camhw/internal/arena"
	"github.com/smazurov/camhw/internal/events"
	"github.com/smazurov/camhw/internal/hwdev"
	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/lifecycle"
	"github.com/smazurov/camhw/internal/logging"
	"github.com/smazurov/camhw/internal/registry"
	"github.com/smazurov/camhw/internal/version"
)

const authRealm = `Basic realm="camhw"`

// Registry is the part of *registry.Instance the API reads.
type Registry interface {
	State() lifecycle.State
	Devices() []hwdev.Info
	Device(index arena.Handle) (hwdev.Info, error)
	SensorSlots() []registry.SensorSlotInfo
	Sessions() []registry.SessionInfo
	Session(h arena.Handle) (registry.SessionInfo, error)
	Enumerate(ctx context.Context) (registry.EnumerateResult, error)
}

// Options configures the server.
type Options struct {
	AuthUsername      string
	AuthPassword      string
	Registry          Registry
	Events            *events.Bus
	PrometheusHandler http.Handler // served at /metrics without auth when set
}

// Server is the status API.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	registry   Registry
	eventBus   *events.Bus
	logger     *slog.Logger
}

// NewServer builds the API and registers every route.
func NewServer(opts Options) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("camhw API", version.String())
	config.Info.Description = "Status and diagnostics for the camera hardware registry"
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {Type: "http", Scheme: "basic"},
	}

	s := &Server{
		api:      humago.New(mux, config),
		mux:      mux,
		registry: opts.Registry,
		eventBus: opts.Events,
		logger:   logging.GetLogger("api"),
	}

	s.api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		s.api.UseMiddleware(s.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	s.registerRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// API returns the huma API, used to dump the OpenAPI document.
func (s *Server) API() huma.API {
	return s.api
}

// Start serves on addr until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}
	s.logger.Info("Starting API server", "addr", addr, "docs", "http://"+addr+"/docs")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// ends. SSE streams end when their request context is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping API server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Registry state and entity counts",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
		Errors:      []int{503},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		state := s.registry.State()
		if state != lifecycle.StateValid {
			return nil, huma.Error503ServiceUnavailable("registry is " + string(state))
		}
		return &models.HealthResponse{Body: models.HealthData{
			Status:   "ok",
			Registry: string(state),
			Devices:  len(s.registry.Devices()),
			Sessions: len(s.registry.Sessions()),
		}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		v := version.Get()
		return &models.VersionResponse{Body: models.VersionData{
			Version:   v.Version,
			GitCommit: v.GitCommit,
			BuildDate: v.BuildDate,
			GoVersion: v.GoVersion,
			Platform:  v.Platform,
		}}, nil
	})

	s.registerDeviceRoutes()
	s.registerSessionRoutes()
	s.registerLogRoutes()
	s.registerSSERoutes()
}

// withAuth returns the security requirement for basic auth.
func withAuth() []map[string][]string {
	return []map[string][]string{{"basicAuth": {}}}
}

// toHTTPError maps registry error codes onto HTTP statuses.
func toHTTPError(err error) error {
	msg := err.Error()
	switch hwerr.CodeOf(err) {
	case hwerr.NotFound:
		return huma.Error404NotFound(msg)
	case hwerr.InvalidArgument, hwerr.OutOfBounds, hwerr.SizeMismatch:
		return huma.Error400BadRequest(msg)
	case hwerr.Busy, hwerr.InvalidState:
		return huma.Error409Conflict(msg)
	case hwerr.Unsupported:
		return huma.Error501NotImplemented(msg)
	case hwerr.Timeout:
		return huma.Error504GatewayTimeout(msg)
	default:
		return huma.Error500InternalServerError(msg)
	}
}

func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if op := ctx.Operation(); op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		// EventSource cannot set headers, so SSE clients may pass ?auth=.
		encoded := ctx.Query("auth")
		if header := ctx.Header("Authorization"); header != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(header, prefix) {
				s.unauthorized(ctx, "Invalid authentication type")
				return
			}
			encoded = header[len(prefix):]
		}
		if encoded == "" {
			s.unauthorized(ctx, "Authentication required")
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			s.unauthorized(ctx, "Invalid credentials format")
			return
		}
		user, pass, ok := strings.Cut(string(decoded), ":")
		if !ok || user != username || pass != password {
			s.unauthorized(ctx, "Invalid credentials")
			return
		}
		next(ctx)
	}
}

func (s *Server) unauthorized(ctx huma.Context, msg string) {
	ctx.SetHeader("WWW-Authenticate", authRealm)
	_ = huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg)
}
