package authorization

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleSuperAdmin  = "super_admin"
	RoleSchoolAdmin = "school_admin"
	RoleCashier     = "cashier"
	RoleSystem      = "system"
)

type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// Actor is the caller as seen by the enforcer. Users carry the roles
// supplied by the identity headers; the scheduler acts as system.
type Actor struct {
	Type  ActorType
	ID    string
	Roles []string
}

// SystemActor is used by background jobs.
func SystemActor() Actor {
	return Actor{Type: ActorSystem, ID: "system", Roles: []string{RoleSystem}}
}

type Service interface {
	Authorize(ctx context.Context, actor Actor, schoolID snowflake.ID, object string, action string) error
}
