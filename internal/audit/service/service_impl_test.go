package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/schoolledger/internal/audit/domain"
	"github.com/smallbiznis/schoolledger/internal/audit/repository"
	obscontext "github.com/smallbiznis/schoolledger/internal/observability/context"
	"github.com/smallbiznis/schoolledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) auditdomain.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{DB: db, Log: zap.NewNop(), GenID: node, Repo: repository.Provide()})
}

func TestRecord_FillsActorAndRequestFromContext(t *testing.T) {
	svc := newTestService(t)

	ctx := obscontext.WithActor(context.Background(), "user", "42")
	ctx = obscontext.WithRequestID(ctx, "req-1")
	ctx = obscontext.WithClient(ctx, "10.0.0.1", "curl/8")

	err := svc.Record(ctx, auditdomain.Entry{
		SchoolID:   1,
		Action:     "invoice.void",
		TargetType: "invoice",
		TargetID:   "99",
		Metadata:   map[string]any{"reason": "duplicate"},
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), 1, auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	row := resp.AuditLogs[0]
	assert.Equal(t, "user", row.ActorType)
	require.NotNil(t, row.ActorID)
	assert.Equal(t, "42", *row.ActorID)
	require.NotNil(t, row.IPAddress)
	assert.Equal(t, "10.0.0.1", *row.IPAddress)
	assert.Equal(t, "req-1", row.Metadata["request_id"])
	assert.Equal(t, "duplicate", row.Metadata["reason"])
}

func TestRecord_RejectsMissingActionOrSchool(t *testing.T) {
	svc := newTestService(t)

	assert.ErrorIs(t, svc.Record(context.Background(), auditdomain.Entry{SchoolID: 1}), auditdomain.ErrInvalidAction)
	assert.ErrorIs(t, svc.Record(context.Background(), auditdomain.Entry{Action: "x"}), auditdomain.ErrInvalidSchool)
}

func TestList_ScopedBySchoolAndPaged(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Record(ctx, auditdomain.Entry{SchoolID: 1, Action: "payment.apply"}))
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, svc.Record(ctx, auditdomain.Entry{SchoolID: 2, Action: "payment.apply"}))

	first, err := svc.List(ctx, 1, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	require.True(t, first.HasMore)

	second, err := svc.List(ctx, 1, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
	for _, row := range append(first.AuditLogs, second.AuditLogs...) {
		assert.Equal(t, snowflake.ID(1), row.SchoolID)
	}

	_, err = svc.List(ctx, 1, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
