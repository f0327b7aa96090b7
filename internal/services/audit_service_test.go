package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/teamshot/internal/auditctx"
	"github.com/charlesng35/teamshot/internal/database/testutil"
	"github.com/charlesng35/teamshot/internal/models"
)

func TestAuditServiceLogAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := auditctx.WithOrigin(context.Background(), auditctx.Origin{IPAddress: "203.0.113.7", UserAgent: "teamshot-test"})
	require.NoError(t, svc.Log(ctx, AuditEntry{
		ActorID:  "actor-1",
		TeamID:   "team-1",
		Action:   "team.member.remove",
		Resource: "member-1",
		Result:   auditResultSuccess,
		Metadata: map[string]any{"email": "bo@example.com"},
	}))
	require.NoError(t, svc.Log(ctx, AuditEntry{
		TeamID: "team-2",
		Action: "team.create",
		Result: auditResultSuccess,
	}))

	logs, total, err := svc.List(ctx, AuditListOptions{Filters: AuditFilters{TeamID: "team-1"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, logs, 1)
	require.Equal(t, "team.member.remove", logs[0].Action)
	require.NotNil(t, logs[0].UserID)
	require.Equal(t, "actor-1", *logs[0].UserID)
	require.Equal(t, "203.0.113.7", logs[0].IPAddress)
	require.Equal(t, "teamshot-test", logs[0].UserAgent)

	var metadata map[string]any
	require.NoError(t, json.Unmarshal(logs[0].Metadata, &metadata))
	require.Equal(t, "bo@example.com", metadata["email"])
}

func TestAuditServiceRequiresActionAndResult(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	require.Error(t, svc.Log(context.Background(), AuditEntry{Result: auditResultSuccess}))
	require.Error(t, svc.Log(context.Background(), AuditEntry{Action: "x"}))
}

func TestAuditServiceCleanupOlderThan(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	oldLog := models.AuditLog{
		Action:    "old.action",
		Result:    auditResultSuccess,
		CreatedAt: time.Now().AddDate(0, 0, -10),
	}
	require.NoError(t, db.Create(&oldLog).Error)
	recent := models.AuditLog{Action: "new.action", Result: auditResultSuccess}
	require.NoError(t, db.Create(&recent).Error)

	rows, err := svc.CleanupOlderThan(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	_, err = svc.CleanupOlderThan(context.Background(), 0)
	require.Error(t, err)
}
