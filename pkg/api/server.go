// Package api exposes the memory service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mnemora/mnemora/pkg/config"
	"github.com/mnemora/mnemora/pkg/database"
	"github.com/mnemora/mnemora/pkg/prompt"
	"github.com/mnemora/mnemora/pkg/services"
)

// apiPrefix is the base path of every route.
const apiPrefix = "/api/memory/v1"

// Server holds the HTTP surface and the services behind it.
type Server struct {
	cfg       *config.Config
	db        database.Conn
	companies *services.CompanyService
	memory    *services.MemoryService
	prompts   *prompt.Service

	engine *gin.Engine
	http   *http.Server
}

// NewServer creates the API server and registers its routes.
func NewServer(
	cfg *config.Config,
	db database.Conn,
	companies *services.CompanyService,
	memory *services.MemoryService,
	prompts *prompt.Service,
) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		db:        db,
		companies: companies,
		memory:    memory,
		prompts:   prompts,
		engine:    gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger(), securityHeaders(), corsMiddleware(cfg.CORSOrigins))
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group(apiPrefix)

	v1.GET("/health", s.healthHandler)

	v1.GET("/company", s.listCompaniesHandler)
	v1.POST("/company", s.createCompanyHandler)
	v1.GET("/company/:company_id/metadata", s.companyMetadataHandler)
	v1.GET("/company/:company_id/abstract", s.companyAbstractHandler)

	v1.POST("/ingest", s.ingestHandler)
	v1.POST("/retrieve", s.retrieveHandler)
	v1.POST("/retrieve/search", s.searchHandler)
	v1.GET("/jobs/:job_id", s.jobStatusHandler)

	v1.POST("/prompts/reload", s.reloadPromptsHandler)
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves HTTP on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
