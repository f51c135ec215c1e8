package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	tenantdomain "github.com/smallbiznis/schoolledger/internal/tenant/domain"
)

func (s *Server) CreateSchool(c *gin.Context) {
	if err := requireSuperAdmin(c); err != nil {
		AbortWithError(c, err)
		return
	}

	var req tenantdomain.CreateSchoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	school, err := s.tenantSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": school})
}

func (s *Server) ListSchools(c *gin.Context) {
	if err := requireSuperAdmin(c); err != nil {
		AbortWithError(c, err)
		return
	}

	schools, err := s.tenantSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": schools})
}

func (s *Server) GetSchool(c *gin.Context) {
	school, err := s.tenantSvc.Get(c.Request.Context(), schoolIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": school})
}

func (s *Server) UpdateSchoolSettings(c *gin.Context) {
	var req tenantdomain.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	school, err := s.tenantSvc.UpdateSettings(c.Request.Context(), schoolIDFromContext(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": school})
}
