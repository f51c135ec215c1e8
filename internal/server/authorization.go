package server

import (
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/schoolledger/internal/authorization"
)

func (s *Server) authorizeSchoolAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeSchoolActionWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeSchoolActionWithContext(c *gin.Context, object string, action string) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return ErrUnauthorized
	}
	schoolID := schoolIDFromContext(c)
	if schoolID == 0 {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), actor, schoolID, object, action)
}

func actorFromContext(c *gin.Context) (authorization.Actor, bool) {
	principal, ok := principalFromContext(c)
	if !ok {
		return authorization.Actor{}, false
	}
	return authorization.Actor{
		Type:  authorization.ActorUser,
		ID:    principal.UserID,
		Roles: principal.Roles,
	}, true
}

// requireSuperAdmin guards platform operations that are not scoped to a
// school.
func requireSuperAdmin(c *gin.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return ErrUnauthorized
	}
	if !principal.IsSuperAdmin() {
		return ErrForbidden
	}
	return nil
}
