package domain

import (
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idPtr(v int64) *snowflake.ID {
	id := snowflake.ID(v)
	return &id
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		principal Principal
		requested *snowflake.ID
		want      snowflake.ID
		wantKind  TenantErrorKind
	}{
		{
			name:      "super admin with selection",
			principal: Principal{UserID: "1", Roles: []string{"super_admin"}},
			requested: idPtr(5),
			want:      5,
		},
		{
			name:      "super admin without selection",
			principal: Principal{UserID: "1", Roles: []string{"super_admin"}},
			wantKind:  NoTenantSelected,
		},
		{
			name:      "cashier pinned to home",
			principal: Principal{UserID: "2", Roles: []string{"cashier"}, HomeSchoolID: idPtr(3)},
			want:      3,
		},
		{
			name:      "cashier requesting home explicitly",
			principal: Principal{UserID: "2", Roles: []string{"cashier"}, HomeSchoolID: idPtr(3)},
			requested: idPtr(3),
			want:      3,
		},
		{
			name:      "cashier requesting another school",
			principal: Principal{UserID: "2", Roles: []string{"cashier"}, HomeSchoolID: idPtr(3)},
			requested: idPtr(4),
			wantKind:  TenantMismatch,
		},
		{
			name:      "admin without home school",
			principal: Principal{UserID: "3", Roles: []string{"school_admin"}},
			requested: idPtr(4),
			wantKind:  NoTenantSelected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.principal, tt.requested)
			if tt.wantKind != "" {
				var tenantErr *TenantError
				require.True(t, errors.As(err, &tenantErr))
				assert.Equal(t, tt.wantKind, tenantErr.Kind)
				assert.Zero(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTenantErrorIs(t *testing.T) {
	_, err := Resolve(Principal{Roles: []string{"cashier"}}, nil)
	assert.ErrorIs(t, err, ErrNoTenantSelected)
	assert.NotErrorIs(t, err, ErrTenantMismatch)
}

func TestParseSchoolID(t *testing.T) {
	id, err := ParseSchoolID(" ")
	require.NoError(t, err)
	assert.Nil(t, id)

	id, err = ParseSchoolID("42")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(42), *id)

	_, err = ParseSchoolID("abc")
	assert.ErrorIs(t, err, ErrInvalidSchool)
}
