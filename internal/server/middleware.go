package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/schoolledger/internal/authorization"
	obscontext "github.com/smallbiznis/schoolledger/internal/observability/context"
	tenantdomain "github.com/smallbiznis/schoolledger/internal/tenant/domain"
)

// Identity headers are set by the trusted gateway in front of the ledger.
const (
	HeaderUserID       = "X-User-ID"
	HeaderUserRoles    = "X-User-Roles"
	HeaderHomeSchoolID = "X-Home-School-ID"
	HeaderActiveSchool = "X-Active-School-ID"
	HeaderIdempotency  = "Idempotency-Key"

	contextPrincipalKey = "principal"
	contextSchoolIDKey  = "school_id"
)

// PrincipalRequired reads the caller identity. The system role is reserved
// for background jobs and is never accepted from a request.
func (s *Server) PrincipalRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		roles := parseRoles(c.GetHeader(HeaderUserRoles))
		if len(roles) == 0 {
			AbortWithError(c, ErrForbidden)
			return
		}

		home, err := tenantdomain.ParseSchoolID(c.GetHeader(HeaderHomeSchoolID))
		if err != nil {
			AbortWithError(c, newValidationError("home_school_id", "invalid_home_school_id", "invalid home school id"))
			return
		}

		principal := tenantdomain.Principal{UserID: userID, Roles: roles, HomeSchoolID: home}
		c.Set(contextPrincipalKey, principal)

		ctx := obscontext.WithActor(c.Request.Context(), string(authorization.ActorUser), userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// SchoolContext resolves the school the request acts on and stores it for the
// handlers. Services always receive the id as an argument.
func (s *Server) SchoolContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		requested, err := tenantdomain.ParseSchoolID(c.GetHeader(HeaderActiveSchool))
		if err != nil {
			AbortWithError(c, newValidationError("active_school_id", "invalid_active_school_id", "invalid active school id"))
			return
		}

		schoolID, err := tenantdomain.Resolve(principal, requested)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextSchoolIDKey, schoolID)
		ctx := obscontext.WithSchoolID(c.Request.Context(), schoolID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func principalFromContext(c *gin.Context) (tenantdomain.Principal, bool) {
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return tenantdomain.Principal{}, false
	}
	principal, ok := value.(tenantdomain.Principal)
	return principal, ok
}

func schoolIDFromContext(c *gin.Context) snowflake.ID {
	value, ok := c.Get(contextSchoolIDKey)
	if !ok {
		return 0
	}
	id, _ := value.(snowflake.ID)
	return id
}

func parseRoles(raw string) []string {
	var roles []string
	for _, part := range strings.Split(raw, ",") {
		role := strings.ToLower(strings.TrimSpace(part))
		if role == "" || role == authorization.RoleSystem {
			continue
		}
		roles = append(roles, role)
	}
	return roles
}
