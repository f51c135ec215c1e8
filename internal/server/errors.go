package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/schoolledger/internal/audit/domain"
	"github.com/smallbiznis/schoolledger/internal/authorization"
	cashsessiondomain "github.com/smallbiznis/schoolledger/internal/cashsession/domain"
	catalogdomain "github.com/smallbiznis/schoolledger/internal/catalog/domain"
	invoicedomain "github.com/smallbiznis/schoolledger/internal/invoice/domain"
	latefeedomain "github.com/smallbiznis/schoolledger/internal/latefee/domain"
	paymentdomain "github.com/smallbiznis/schoolledger/internal/payment/domain"
	"github.com/smallbiznis/schoolledger/internal/proration"
	"github.com/smallbiznis/schoolledger/internal/ratelimit"
	tenantdomain "github.com/smallbiznis/schoolledger/internal/tenant/domain"
	"github.com/smallbiznis/schoolledger/pkg/period"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

var validationSentinels = []error{
	ErrInvalidRequest,
	period.ErrInvalidMonth,
	tenantdomain.ErrInvalidSchool,
	tenantdomain.ErrInvalidName,
	tenantdomain.ErrInvalidCurrency,
	tenantdomain.ErrInvalidTimezone,
	tenantdomain.ErrInvalidDueDay,
	tenantdomain.ErrInvalidPerDiem,
	catalogdomain.ErrInvalidStatus,
	invoicedomain.ErrInvalidPeriod,
	invoicedomain.ErrInvalidRange,
	invoicedomain.ErrInvalidStatus,
	invoicedomain.ErrInvalidPageToken,
	latefeedomain.ErrInvalidAsOf,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidTarget,
	paymentdomain.ErrInvalidCashier,
	paymentdomain.ErrInvalidMethodCode,
	cashsessiondomain.ErrInvalidName,
	cashsessiondomain.ErrInvalidActor,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
	proration.ErrInvalidAmount,
}

var notFoundSentinels = []error{
	ErrNotFound,
	tenantdomain.ErrSchoolNotFound,
	catalogdomain.ErrConceptNotFound,
	catalogdomain.ErrPlanNotFound,
	catalogdomain.ErrPlanItemNotFound,
	catalogdomain.ErrAssignmentNotFound,
	invoicedomain.ErrInvoiceNotFound,
	paymentdomain.ErrMethodNotFound,
	paymentdomain.ErrSessionNotFound,
	paymentdomain.ErrInvoiceNotFound,
	cashsessiondomain.ErrRegisterNotFound,
	cashsessiondomain.ErrSessionNotFound,
	gorm.ErrRecordNotFound,
}

var conflictSentinels = []error{
	ErrConflict,
	catalogdomain.ErrConceptCodeTaken,
	catalogdomain.ErrAssignmentExists,
	catalogdomain.ErrPlanInactive,
	invoicedomain.ErrInvoiceVoid,
	invoicedomain.ErrInvoiceHasPayments,
	paymentdomain.ErrMethodCodeTaken,
	paymentdomain.ErrMethodInactive,
	paymentdomain.ErrSessionClosed,
	paymentdomain.ErrInvoiceVoid,
	paymentdomain.ErrIdempotencyKeyUsed,
	cashsessiondomain.ErrRegisterInactive,
	cashsessiondomain.ErrSessionOpen,
	ratelimit.ErrPaymentInProgress,
}

var unavailableSentinels = []error{
	ErrServiceUnavailable,
	invoicedomain.ErrStampingUnavailable,
	cashsessiondomain.ErrRendererMissing,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var tenantErr *tenantdomain.TenantError
	if errors.As(err, &tenantErr) {
		status := http.StatusBadRequest
		if tenantErr.Kind == tenantdomain.TenantMismatch {
			status = http.StatusForbidden
		}
		return status, errorPayload{
			Type:    string(tenantErr.Kind),
			Message: strings.ReplaceAll(string(tenantErr.Kind), "_", " "),
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var catalogErrs catalogdomain.ValidationErrors
	if errors.As(err, &catalogErrs) {
		items := make([]ValidationError, 0, len(catalogErrs))
		for _, item := range catalogErrs {
			items = append(items, ValidationError{Field: item.Field, Code: item.Code, Message: item.Message})
		}
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  items,
		}
	}

	if sentinel := matchSentinel(err, validationSentinels); sentinel != nil {
		code := sentinel.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var overpayment *paymentdomain.OverpaymentError
	if errors.As(err, &overpayment) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "overpayment",
			Message: "amount exceeds the outstanding balance",
			Details: map[string]any{
				"amount":      overpayment.Amount,
				"outstanding": overpayment.Outstanding,
			},
		}
	}

	var sessionConflict *cashsessiondomain.SessionConflictError
	if errors.As(err, &sessionConflict) {
		return http.StatusConflict, errorPayload{
			Type:    "session_conflict",
			Message: "register already has an open session",
			Details: map[string]any{"cash_register_id": sessionConflict.RegisterID.String()},
		}
	}

	var alreadyClosed *cashsessiondomain.AlreadyClosedError
	if errors.As(err, &alreadyClosed) {
		return http.StatusConflict, errorPayload{
			Type:    "session_already_closed",
			Message: "session is already closed",
			Details: map[string]any{"session_id": alreadyClosed.SessionID.String()},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, paymentdomain.ErrNothingOutstanding):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "nothing_outstanding",
			Message: "nothing outstanding",
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case matchSentinel(err, conflictSentinels) != nil:
		return http.StatusConflict, errorPayload{
			Type:    matchSentinel(err, conflictSentinels).Error(),
			Message: "conflict",
		}
	case matchSentinel(err, notFoundSentinels) != nil:
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case matchSentinel(err, unavailableSentinels) != nil:
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger with the same taxonomy the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	switch {
	case status >= http.StatusInternalServerError:
		return "server", code
	default:
		return "client", code
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func matchSentinel(err error, sentinels []error) error {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
