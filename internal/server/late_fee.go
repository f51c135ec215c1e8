package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

type accrueLateFeesRequest struct {
	AsOf string `json:"as_of"`
}

// AccrueLateFees runs the late fee sweep for the current school. as_of
// defaults to now and accepts RFC3339 or a plain date.
func (s *Server) AccrueLateFees(c *gin.Context) {
	var req accrueLateFeesRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		AbortWithError(c, invalidRequestError())
		return
	}

	asOf := s.clock.Now()
	parsed, err := parseOptionalTime(req.AsOf, true)
	if err != nil {
		AbortWithError(c, newValidationError("as_of", "invalid_as_of", "invalid as_of"))
		return
	}
	if parsed != nil {
		asOf = *parsed
	}

	result, err := s.lateFeeSvc.Accrue(c.Request.Context(), schoolIDFromContext(c), asOf)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
