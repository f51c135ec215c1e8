package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/schoolledger/internal/payment/domain"
)

func (s *Server) ListPaymentMethods(c *gin.Context) {
	activeOnly, err := parseOptionalBool(c.Query("active_only"))
	if err != nil {
		AbortWithError(c, newValidationError("active_only", "invalid_active_only", "invalid active_only"))
		return
	}

	methods, err := s.paymentSvc.ListMethods(c.Request.Context(), schoolIDFromContext(c), activeOnly != nil && *activeOnly)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": methods})
}

func (s *Server) UpsertPaymentMethod(c *gin.Context) {
	var req paymentdomain.UpsertMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	method, err := s.paymentSvc.UpsertMethod(c.Request.Context(), schoolIDFromContext(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(upsertStatus(req.ID == 0), gin.H{"data": method})
}

// ApplyPayment records a payment by the calling cashier. The idempotency key
// may come from the body or the Idempotency-Key header. Replays answer 200.
func (s *Server) ApplyPayment(c *gin.Context) {
	var req paymentdomain.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	req.SchoolID = schoolIDFromContext(c)
	req.CashierUserID = principal.UserID
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		req.IdempotencyKey = strings.TrimSpace(c.GetHeader(HeaderIdempotency))
	}

	result, err := s.paymentSvc.Apply(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) ListPayments(c *gin.Context) {
	invoiceID, err := queryID(c, "invoice_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	sessionID, err := queryID(c, "session_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	studentID, err := queryID(c, "student_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payments, err := s.paymentSvc.ListPayments(c.Request.Context(), schoolIDFromContext(c), paymentdomain.ListPaymentsRequest{
		InvoiceID: invoiceID,
		SessionID: sessionID,
		StudentID: studentID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payments})
}
