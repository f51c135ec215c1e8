package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	cashsessiondomain "github.com/smallbiznis/schoolledger/internal/cashsession/domain"
)

func (s *Server) ListCashRegisters(c *gin.Context) {
	registers, err := s.cashSessionSvc.ListRegisters(c.Request.Context(), schoolIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": registers})
}

func (s *Server) UpsertCashRegister(c *gin.Context) {
	var req cashsessiondomain.UpsertRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	register, err := s.cashSessionSvc.UpsertRegister(c.Request.Context(), schoolIDFromContext(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(upsertStatus(req.ID == 0), gin.H{"data": register})
}

func (s *Server) OpenCashSession(c *gin.Context) {
	registerID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	session, err := s.cashSessionSvc.Open(c.Request.Context(), schoolIDFromContext(c), registerID, principal.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": session})
}

func (s *Server) CloseCashSession(c *gin.Context) {
	sessionID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	session, err := s.cashSessionSvc.Close(c.Request.Context(), schoolIDFromContext(c), sessionID, principal.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) GetCashSession(c *gin.Context) {
	sessionID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	session, err := s.cashSessionSvc.GetSession(c.Request.Context(), schoolIDFromContext(c), sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) ListCashSessions(c *gin.Context) {
	registerID, err := queryID(c, "cash_register_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	openOnly, err := parseOptionalBool(c.Query("open_only"))
	if err != nil {
		AbortWithError(c, newValidationError("open_only", "invalid_open_only", "invalid open_only"))
		return
	}
	limit, err := parseOptionalInt64(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	req := cashsessiondomain.ListSessionsRequest{RegisterID: registerID}
	if openOnly != nil {
		req.OpenOnly = *openOnly
	}
	if limit != nil {
		req.Limit = int(*limit)
	}

	sessions, err := s.cashSessionSvc.ListSessions(c.Request.Context(), schoolIDFromContext(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sessions})
}

func (s *Server) GetXReport(c *gin.Context) {
	sessionID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.cashSessionSvc.XReport(c.Request.Context(), schoolIDFromContext(c), sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) GetZReport(c *gin.Context) {
	sessionID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.cashSessionSvc.ZReport(c.Request.Context(), schoolIDFromContext(c), sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) DownloadZReportPDF(c *gin.Context) {
	sessionID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.cashSessionSvc.RenderZReportPDF(c.Request.Context(), schoolIDFromContext(c), sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	writePDF(c, fmt.Sprintf("z-report-%s.pdf", sessionID), doc)
}
