package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mnemora/mnemora/pkg/services"
	"github.com/mnemora/mnemora/pkg/version"
)

// healthCheckTimeout bounds the DB ping inside the health handler.
const healthCheckTimeout = 5 * time.Second

// healthHandler handles GET /health. It checks only the service's own
// database so external dependency outages do not restart the process.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unreachable",
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "connected",
		"version":  version.Full(),
	})
}

// listCompaniesHandler handles GET /company.
func (s *Server) listCompaniesHandler(c *gin.Context) {
	companies, err := s.companies.List(c.Request.Context())
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, companies)
}

// createCompanyHandler handles POST /company. A duplicate company_id is a
// conflict unless override is set.
func (s *Server) createCompanyHandler(c *gin.Context) {
	var req CreateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("validation_error", err.Error()))
		return
	}

	company, err := s.companies.Create(c.Request.Context(), services.CreateCompanyInput{
		CompanyID:     req.CompanyID,
		Name:          req.Name,
		SensorTypes:   req.SensorTypes,
		EntityTypes:   req.EntityTypes,
		RelationTypes: req.RelationTypes,
		Data:          req.Data,
		Override:      req.Override,
	})
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, company)
}

// companyMetadataHandler handles GET /company/:company_id/metadata.
func (s *Server) companyMetadataHandler(c *gin.Context) {
	company, err := s.companies.Get(c.Request.Context(), c.Param("company_id"))
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, company)
}

// companyAbstractHandler handles GET /company/:company_id/abstract with a
// coarse resolution level 0-3.
func (s *Server) companyAbstractHandler(c *gin.Context) {
	level, err := strconv.Atoi(c.DefaultQuery("resolution", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("validation_error", "resolution must be an integer"))
		return
	}

	resp, err := s.memory.Abstract(c.Request.Context(), c.Param("company_id"), level)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ingestHandler handles POST /ingest.
func (s *Server) ingestHandler(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("validation_error", err.Error()))
		return
	}
	if req.SensorName == "" {
		c.JSON(http.StatusBadRequest, errorBody("validation_error", "sensor_name is required"))
		return
	}

	result, err := s.memory.Ingest(c.Request.Context(), services.IngestInput{
		TenantID:  req.TenantID,
		CompanyID: req.CompanyID,
		Request:   req.Request,
	})
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// retrieveHandler handles POST /retrieve.
func (s *Server) retrieveHandler(c *gin.Context) {
	var req RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("validation_error", err.Error()))
		return
	}

	resp, err := s.memory.Retrieve(c.Request.Context(), services.RetrieveInput{
		TenantID:  req.TenantID,
		CompanyID: req.CompanyID,
		Request:   toRetrieveRequest(req),
	})
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// searchHandler handles POST /retrieve/search, the hybrid retriever path.
func (s *Server) searchHandler(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("validation_error", err.Error()))
		return
	}

	result, err := s.memory.Search(c.Request.Context(), services.SearchInput{
		TenantID:      req.TenantID,
		CompanyID:     req.CompanyID,
		Question:      req.Question,
		EntityIDs:     req.EntityIDs,
		Filters:       req.Filters,
		RelationType:  req.RelationType,
		Limit:         req.Limit,
		UseExactMatch: req.UseExactMatch,
		UseVector:     req.UseVector,
	})
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// jobStatusHandler handles GET /jobs/:job_id.
func (s *Server) jobStatusHandler(c *gin.Context) {
	job, err := s.memory.JobStatus(c.Request.Context(), c.Param("job_id"))
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorBody("job_not_found", "Job not found"))
		return
	}
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobResponse(job))
}

// reloadPromptsHandler handles POST /prompts/reload.
func (s *Server) reloadPromptsHandler(c *gin.Context) {
	s.prompts.Reload()
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}
