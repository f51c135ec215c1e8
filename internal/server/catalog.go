package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/schoolledger/internal/catalog/domain"
	"github.com/smallbiznis/schoolledger/pkg/period"
)

func (s *Server) ListChargeConcepts(c *gin.Context) {
	concepts, err := s.catalogSvc.ListChargeConcepts(c.Request.Context(), schoolIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": concepts})
}

func (s *Server) UpsertChargeConcept(c *gin.Context) {
	var req catalogdomain.UpsertChargeConceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	concept, err := s.catalogSvc.UpsertChargeConcept(c.Request.Context(), schoolIDFromContext(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(upsertStatus(req.ID == 0), gin.H{"data": concept})
}

func (s *Server) ListPlans(c *gin.Context) {
	activeOnly, err := parseOptionalBool(c.Query("active_only"))
	if err != nil {
		AbortWithError(c, newValidationError("active_only", "invalid_active_only", "invalid active_only"))
		return
	}
	conceptID, err := queryID(c, "charge_concept_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req := catalogdomain.ListPlansRequest{ChargeConceptID: conceptID}
	if activeOnly != nil {
		req.ActiveOnly = *activeOnly
	}

	plans, err := s.catalogSvc.ListPlans(c.Request.Context(), schoolIDFromContext(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}

// UpsertPlan serves both POST /plans and PUT /plans/:id.
func (s *Server) UpsertPlan(c *gin.Context) {
	var req catalogdomain.UpsertPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if c.Param("id") != "" {
		id, err := pathID(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		req.ID = id
	}

	plan, err := s.catalogSvc.UpsertPlan(c.Request.Context(), schoolIDFromContext(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(upsertStatus(req.ID == 0), gin.H{"data": plan})
}

func (s *Server) GetPlan(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	plan, err := s.catalogSvc.GetPlan(c.Request.Context(), schoolIDFromContext(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

func (s *Server) DeactivatePlan(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	plan, err := s.catalogSvc.DeactivatePlan(c.Request.Context(), schoolIDFromContext(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

func (s *Server) ListPlanItems(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.catalogSvc.ListPlanItems(c.Request.Context(), schoolIDFromContext(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) UpsertPlanItem(c *gin.Context) {
	planID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req catalogdomain.UpsertPlanItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.PlanID = planID

	item, err := s.catalogSvc.UpsertPlanItem(c.Request.Context(), schoolIDFromContext(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(upsertStatus(req.ID == 0), gin.H{"data": item})
}

func (s *Server) DeletePlanItem(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.catalogSvc.DeletePlanItem(c.Request.Context(), schoolIDFromContext(c), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ListAssignments(c *gin.Context) {
	studentID, err := queryID(c, "student_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	planID, err := queryID(c, "plan_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	assignments, err := s.catalogSvc.ListAssignments(c.Request.Context(), schoolIDFromContext(c), catalogdomain.ListAssignmentsRequest{
		StudentID: studentID,
		PlanID:    planID,
		Status:    catalogdomain.AssignmentStatus(strings.TrimSpace(c.Query("status"))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": assignments})
}

// UpsertAssignment answers 200 with the stored row when the assignment
// already exists.
func (s *Server) UpsertAssignment(c *gin.Context) {
	var req catalogdomain.UpsertAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	assignment, err := s.catalogSvc.UpsertAssignment(c.Request.Context(), schoolIDFromContext(c), req)
	if errors.Is(err, catalogdomain.ErrAssignmentExists) && assignment != nil {
		c.JSON(http.StatusOK, gin.H{"data": assignment, "existing": true})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(upsertStatus(req.ID == 0), gin.H{"data": assignment})
}

type setAssignmentStatusRequest struct {
	Status catalogdomain.AssignmentStatus `json:"status"`
}

func (s *Server) SetAssignmentStatus(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req setAssignmentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	assignment, err := s.catalogSvc.SetAssignmentStatus(c.Request.Context(), schoolIDFromContext(c), id, req.Status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": assignment})
}

func (s *Server) ListBillableAssignments(c *gin.Context) {
	from, err := period.Parse(c.Query("from"))
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "from must be YYYY-MM"))
		return
	}
	to, err := period.Parse(c.Query("to"))
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "to must be YYYY-MM"))
		return
	}

	billable, err := s.catalogSvc.ListBillableAssignments(c.Request.Context(), schoolIDFromContext(c), from, to)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": billable})
}

func upsertStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}
