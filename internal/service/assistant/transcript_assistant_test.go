package assistant

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policycopilot/internal/config"
	"policycopilot/internal/models"
	"policycopilot/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	return db
}

func startConversation(t *testing.T, svc *Service, id, ws string, at time.Time) {
	t.Helper()
	require.NoError(t, svc.StartConversation(context.Background(), models.Conversation{
		ID: id, WorkspaceID: ws, Title: "India Exchange", CreatedAt: at, UpdatedAt: at,
	}))
}

func TestTranscriptRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewService(openTestDB(t), nil)
	now := time.Now().UTC().Truncate(time.Second)
	startConversation(t, svc, "c1", "in", now)

	require.NoError(t, svc.AppendMessage(ctx, models.Message{
		ConversationID: "c1", Role: models.RoleAssistant, Content: "Hello Arjun.",
		Suggestions: []string{"FAME II Incentives Cap"}, CreatedAt: now,
	}))
	require.NoError(t, svc.AppendMessage(ctx, models.Message{
		ConversationID: "c1", Role: models.RoleUser, Content: "payment", CreatedAt: now,
	}))
	require.NoError(t, svc.AppendMessage(ctx, models.Message{
		ConversationID: "c1", Role: models.RoleAssistant, Content: "revolving fund",
		Citations: []models.Citation{{ID: "c-payment", DocumentName: "CESL Tender", Page: 12}},
		CreatedAt: now,
	}))
	require.NoError(t, svc.RetitleConversation(ctx, "c1", "payment"))

	conv, msgs, err := svc.GetConversationWithMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "payment", conv.Title)
	require.Len(t, msgs, 3)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.Equal(t, []string{"FAME II Incentives Cap"}, msgs[0].Suggestions)
	assert.Nil(t, msgs[1].Citations)
	assert.Equal(t, "CESL Tender", msgs[2].Citations[0].DocumentName)
	assert.Equal(t, 12, msgs[2].Citations[0].Page)
}

func TestListAndDeleteConversations(t *testing.T) {
	ctx := context.Background()
	svc := NewService(openTestDB(t), nil)
	now := time.Now().UTC()
	startConversation(t, svc, "a", "in", now.Add(-time.Minute))
	startConversation(t, svc, "b", "vn", now)
	startConversation(t, svc, "c", "in", now)

	all, err := svc.ListConversations(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	india, err := svc.ListConversations(ctx, "in")
	require.NoError(t, err)
	require.Len(t, india, 2)
	assert.Equal(t, "c", india[0].ID)

	require.NoError(t, svc.DeleteConversation(ctx, "a"))
	assert.ErrorIs(t, svc.DeleteConversation(ctx, "a"), sql.ErrNoRows)
	_, _, err = svc.GetConversationWithMessages(ctx, "a")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.ErrorIs(t, svc.RetitleConversation(ctx, "a", "x"), sql.ErrNoRows)
	assert.Error(t, svc.RetitleConversation(ctx, "b", "  "))
}

func TestPruneTranscripts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewService(db, nil)
	now := time.Now().UTC()
	startConversation(t, svc, "old", "in", now.Add(-48*time.Hour))
	require.NoError(t, svc.AppendMessage(ctx, models.Message{
		ConversationID: "old", Role: models.RoleUser, Content: "x", CreatedAt: now.Add(-48 * time.Hour),
	}))
	startConversation(t, svc, "fresh", "in", now)

	n, err := svc.PruneTranscripts(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	convs, err := svc.ListConversations(ctx, "")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "fresh", convs[0].ID)

	var msgs int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&msgs))
	assert.Zero(t, msgs)
}

func TestRunJanitorStopsWithContext(t *testing.T) {
	svc := NewService(openTestDB(t), nil)
	startConversation(t, svc, "old", "in", time.Now().UTC().Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunJanitor(ctx, time.Minute, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		convs, err := svc.ListConversations(context.Background(), "")
		return err == nil && len(convs) == 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
