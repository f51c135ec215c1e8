package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/schoolledger/internal/audit/domain"
	"github.com/smallbiznis/schoolledger/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size"`
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
}

// ListAuditLogs pages through the current school's audit trail, newest
// first. from/to are accepted as aliases of start_at/end_at.
func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, err := queryTime(c, false, "start_at", "from")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	endAt, err := queryTime(c, true, "end_at", "to")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), schoolIDFromContext(c), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: query.PageToken, PageSize: query.PageSize},
		Action:     query.Action,
		TargetType: query.TargetType,
		TargetID:   query.TargetID,
		StartAt:    startAt,
		EndAt:      endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
