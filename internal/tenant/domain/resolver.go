package domain

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolledger/internal/authorization"
)

// Principal is the verified caller supplied by the identity layer.
type Principal struct {
	UserID       string
	Roles        []string
	HomeSchoolID *snowflake.ID
}

func (p Principal) HasRole(role string) bool {
	return slices.ContainsFunc(p.Roles, func(r string) bool {
		return strings.EqualFold(strings.TrimSpace(r), role)
	})
}

func (p Principal) IsSuperAdmin() bool {
	return p.HasRole(authorization.RoleSuperAdmin)
}

type TenantErrorKind string

const (
	NoTenantSelected TenantErrorKind = "tenant_not_selected"
	TenantMismatch   TenantErrorKind = "tenant_mismatch"
)

// TenantError is a permanent resolution failure; callers must not retry.
type TenantError struct {
	Kind TenantErrorKind
}

func (e *TenantError) Error() string {
	return string(e.Kind)
}

// Is matches any TenantError of the same kind.
func (e *TenantError) Is(target error) bool {
	t, ok := target.(*TenantError)
	return ok && t.Kind == e.Kind
}

var (
	ErrNoTenantSelected = &TenantError{Kind: NoTenantSelected}
	ErrTenantMismatch   = &TenantError{Kind: TenantMismatch}
)

// Resolve returns the school a request acts on. Super admins must name the
// school explicitly; everyone else is pinned to their home school.
func Resolve(principal Principal, requested *snowflake.ID) (snowflake.ID, error) {
	if requested != nil && *requested == 0 {
		requested = nil
	}

	if principal.IsSuperAdmin() {
		if requested == nil {
			return 0, &TenantError{Kind: NoTenantSelected}
		}
		return *requested, nil
	}

	if principal.HomeSchoolID == nil || *principal.HomeSchoolID == 0 {
		return 0, &TenantError{Kind: NoTenantSelected}
	}
	home := *principal.HomeSchoolID
	if requested != nil && *requested != home {
		return 0, &TenantError{Kind: TenantMismatch}
	}
	return home, nil
}

// ParseSchoolID parses an optional school id header value.
func ParseSchoolID(raw string) (*snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchool, raw)
	}
	return &id, nil
}
