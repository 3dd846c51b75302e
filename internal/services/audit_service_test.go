package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eWorkbench/eWorkbench-sub000/internal/auditctx"
	"github.com/eWorkbench/eWorkbench-sub000/internal/database/testutil"
	"github.com/eWorkbench/eWorkbench-sub000/internal/models"
)

func TestAuditService_LogAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)
	ctx := context.Background()

	userID := "user-1"
	require.NoError(t, svc.Log(ctx, AuditEntry{
		UserID:   &userID,
		Action:   "project.create",
		Resource: "proj-1",
		Result:   "success",
		Metadata: map[string]any{"name": "Research"},
	}))
	require.NoError(t, svc.Log(ctx, AuditEntry{
		Action:   "task.trash",
		Resource: "task-1",
		Result:   "failure",
	}))

	logs, total, err := svc.List(ctx, AuditListOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, logs, 2)

	logs, total, err = svc.List(ctx, AuditListOptions{Filters: AuditFilters{Result: "failure"}})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "task.trash", logs[0].Action)

	logs, _, err = svc.List(ctx, AuditListOptions{Filters: AuditFilters{UserID: userID}})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Contains(t, string(logs[0].Metadata), "Research")
}

func TestAuditService_LogRequiresActionAndResult(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	require.Error(t, svc.Log(context.Background(), AuditEntry{Result: "success"}))
	require.Error(t, svc.Log(context.Background(), AuditEntry{Action: "x"}))
}

func TestAuditService_ActorFromContext(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := auditctx.WithActor(context.Background(), auditctx.Actor{UserID: "actor-1", Username: "alice"})
	require.NoError(t, svc.Log(ctx, AuditEntry{Action: "privilege.upsert", Result: "success"}))

	var stored models.AuditLog
	require.NoError(t, db.First(&stored).Error)
	require.NotNil(t, stored.UserID)
	require.Equal(t, "actor-1", *stored.UserID)
}
