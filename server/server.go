// Package server exposes the coverbridge operations over HTTP and MCP.
//
// Every request reads the caller's table credentials fresh from the store and
// builds its own feishu.Client, so a config change applies to the next call.
//
// Usage:
//
//	srv, err := server.New(ctx, server.Config{Store: st, SessionSecret: secret})
//	http.ListenAndServe(":8080", srv.Handler())
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/coverbridge/auth"
	"github.com/hazyhaar/coverbridge/feishu"
	"github.com/hazyhaar/coverbridge/gaoding"
	"github.com/hazyhaar/coverbridge/horosafe"
	"github.com/hazyhaar/coverbridge/imagezip"
	"github.com/hazyhaar/coverbridge/observability"
	"github.com/hazyhaar/coverbridge/shield"
	"github.com/hazyhaar/coverbridge/store"
)

// DefaultMaxBody bounds request bodies. Archives arrive base64-encoded, so it
// leaves room above the default archive limit.
const DefaultMaxBody = 300 << 20

// Version is reported to MCP clients.
var Version = "dev"

// Config configures a Server.
type Config struct {
	Store   *store.Store
	Events  *observability.EventLogger // optional
	Limiter *shield.RateLimiter        // optional; caller runs Limiter.Run

	SessionSecret []byte
	GuestMode     bool
	SecureCookies bool
	MaxBody       int64

	FeishuBaseURL       string
	FeishuTimeout       time.Duration
	FeishuUploadTimeout time.Duration
	HTTPClient          *http.Client

	// BatchSize is the import batch size. Default: reconcile.BatchSize.
	BatchSize int
	Archive   imagezip.Config

	// MCPEnabled mounts the MCP tools at /mcp (streamable HTTP, session
	// required). MCPUserID is the identity tool calls act as. Default: the
	// guest user.
	MCPEnabled bool
	MCPUserID  string

	// Now stamps export file names and workbooks. Default: time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Server serves the HTTP API and the MCP tools.
type Server struct {
	cfg    Config
	logger *slog.Logger
	parser *imagezip.Parser
	guest  *auth.SessionClaims
}

// New validates cfg and, in guest mode, seeds the guest account.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store required")
	}
	if err := horosafe.ValidateSecret(cfg.SessionSecret); err != nil {
		return nil, fmt.Errorf("server: session secret: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = DefaultMaxBody
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MCPUserID == "" {
		cfg.MCPUserID = store.GuestUserID
	}
	if cfg.Archive.Logger == nil {
		cfg.Archive.Logger = cfg.Logger
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		parser: imagezip.NewParser(cfg.Archive),
	}
	if cfg.GuestMode || cfg.MCPUserID == store.GuestUserID {
		u, err := cfg.Store.EnsureGuest(ctx)
		if err != nil {
			return nil, err
		}
		s.guest = claimsFor(u)
	}
	return s, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(s.cfg.Limiter, s.cfg.MaxBody) {
		r.Use(mw)
	}
	r.Use(auth.Middleware(s.cfg.SessionSecret))
	if s.cfg.GuestMode {
		r.Use(auth.Fallback(func(*http.Request) *auth.SessionClaims { return s.guest }))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/logout", s.handleLogout)
	r.Get("/api/auth/me", s.handleMe)

	r.Group(func(r chi.Router) {
		r.Use(auth.Require)

		r.Get("/api/feishu-config", s.handleGetConfig)
		r.Put("/api/feishu-config", s.handlePutConfig)
		r.Delete("/api/feishu-config", s.handleDeleteConfig)
		r.Post("/api/feishu-config/test", s.handleTestConfig)

		r.Get("/api/feishu/records", s.handleRecords)
		r.Post("/api/feishu/upload-images", s.handleUploadImages)
		r.Get("/api/export", s.handleExport)
		r.Post("/api/zip/parse", s.handleParseZip)
		r.Post("/api/import", s.handleImport)

		r.Get("/api/tasks", s.handleListTasks)
		r.Post("/api/tasks", s.handleCreateTask)
		r.Get("/api/tasks/{id}", s.handleGetTask)
		r.Put("/api/tasks/{id}/status", s.handleUpdateTask)

		r.Get("/api/events", s.handleEvents)

		if s.cfg.MCPEnabled {
			r.Handle("/mcp", s.mcpHandler())
		}
	})
	return r
}

// client builds a table client for one request.
func (s *Server) client(fc *store.FeishuConfig) (*feishu.Client, error) {
	opts := []feishu.Option{feishu.WithLogger(s.logger)}
	if s.cfg.FeishuBaseURL != "" {
		opts = append(opts, feishu.WithBaseURL(s.cfg.FeishuBaseURL))
	}
	if s.cfg.FeishuTimeout > 0 {
		opts = append(opts, feishu.WithTimeout(s.cfg.FeishuTimeout))
	}
	if s.cfg.FeishuUploadTimeout > 0 {
		opts = append(opts, feishu.WithUploadTimeout(s.cfg.FeishuUploadTimeout))
	}
	if s.cfg.HTTPClient != nil {
		opts = append(opts, feishu.WithHTTPClient(s.cfg.HTTPClient))
	}
	return feishu.New(fc.Credentials(), opts...)
}

// mcpHandler serves one MCP server carrying every tool over streamable HTTP.
func (s *Server) mcpHandler() http.Handler {
	srv := mcp.NewServer(&mcp.Implementation{Name: observability.ServiceName, Version: Version}, nil)
	s.RegisterMCP(srv)
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

func (s *Server) codec() *gaoding.Codec {
	return gaoding.New(gaoding.Config{Now: s.cfg.Now, Logger: s.logger})
}

func (s *Server) logEvent(ctx context.Context, ev observability.BusinessEvent) {
	s.cfg.Events.LogEvent(ctx, ev)
}

func claimsFor(u *store.User) *auth.SessionClaims {
	return &auth.SessionClaims{
		UserID:      u.ID,
		Username:    u.Username,
		Role:        u.Role,
		DisplayName: u.DisplayName,
		LoginMethod: u.LoginMethod,
	}
}
